// Package stream provides the small set of reactive primitives the pipeline is
// built from: observable values with a readable current state, a leading-edge
// throttle and a channel merge.
//
// Values notify subscribers synchronously on the goroutine that calls Set.
// Subscribers must not block; long work belongs in a goroutine started by the
// subscriber.
package stream

import "sync"

// Value holds the latest value of a mutable input (a label field, a toggle, a
// model status) and notifies subscribers on every Set.
type Value[T any] struct {
	mu      sync.RWMutex
	current T
	isSet   bool
	subs    map[int]func(T)
	nextID  int
	version uint64
}

// NewValue creates a Value holding initial. A Value created this way counts as
// set, so Latest reports ok=true.
func NewValue[T any](initial T) *Value[T] {
	return &Value[T]{current: initial, isSet: true, subs: make(map[int]func(T))}
}

// NewEmpty creates a Value with no current value. Get returns the zero value
// until the first Set.
func NewEmpty[T any]() *Value[T] {
	return &Value[T]{subs: make(map[int]func(T))}
}

// Get returns the current value ("last value wins").
func (v *Value[T]) Get() T {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.current
}

// Latest returns the current value and whether one was ever set.
func (v *Value[T]) Latest() (T, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.current, v.isSet
}

// Version increments on every Set.
func (v *Value[T]) Version() uint64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.version
}

// Set stores x and notifies every subscriber with it.
func (v *Value[T]) Set(x T) {
	v.mu.Lock()
	v.current = x
	v.isSet = true
	v.version++
	subs := make([]func(T), 0, len(v.subs))
	for _, fn := range v.subs {
		subs = append(subs, fn)
	}
	v.mu.Unlock()

	for _, fn := range subs {
		fn(x)
	}
}

// Subscribe registers fn for future Sets and returns a function removing it.
// fn is not called with the current value.
func (v *Value[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	v.mu.Lock()
	id := v.nextID
	v.nextID++
	v.subs[id] = fn
	v.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			v.mu.Lock()
			delete(v.subs, id)
			v.mu.Unlock()
		})
	}
}

// Subscribers returns the number of registered subscribers.
func (v *Value[T]) Subscribers() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.subs)
}
