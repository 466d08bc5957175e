package stream

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Throttle forwards the first event and then drops everything arriving within
// interval of the last forwarded one. Nothing is queued.
type Throttle struct {
	mu       sync.Mutex
	limiter  *rate.Limiter
	interval time.Duration
	now      func() time.Time
}

// NewThrottle creates a throttle with the given minimum interval. A zero or
// negative interval disables throttling.
func NewThrottle(interval time.Duration) *Throttle {
	return newThrottleWithClock(interval, time.Now)
}

func newThrottleWithClock(interval time.Duration, now func() time.Time) *Throttle {
	t := &Throttle{interval: interval, now: now}
	if interval > 0 {
		t.limiter = rate.NewLimiter(rate.Every(interval), 1)
	}
	return t
}

// Interval returns the configured minimum interval.
func (t *Throttle) Interval() time.Duration {
	return t.interval
}

// Allow reports whether an event arriving now may be forwarded.
func (t *Throttle) Allow() bool {
	if t.limiter == nil {
		return true
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.limiter.AllowN(t.now(), 1)
}

// ThrottleChan forwards values from in to the returned channel subject to t.
// The output channel closes when in closes or ctx is done.
func ThrottleChan[T any](ctx context.Context, in <-chan T, t *Throttle) <-chan T {
	out := make(chan T)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case v, ok := <-in:
				if !ok {
					return
				}
				if !t.Allow() {
					continue
				}
				select {
				case out <- v:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
