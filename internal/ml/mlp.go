package ml

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"sync"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// MLPConfig holds the topology and optimiser settings of an MLPClassifier.
type MLPConfig struct {
	Hidden       []int
	Epochs       int
	LearningRate float64
	BatchSize    int
	Seed         int64
}

// MLPClassifier is a fully connected ReLU network with a softmax output,
// trained with mini-batch SGD on cross-entropy.
type MLPClassifier struct {
	lifecycle
	name string

	mu     sync.RWMutex
	cfg    MLPConfig // topology of net
	next   MLPConfig // applied by the next Train
	net    *network
	labels []string
}

type network struct {
	weights []*mat.Dense // layer l maps sizes[l] -> sizes[l+1]
	biases  []*mat.VecDense
}

// NewMLPClassifier creates an untrained classifier.
func NewMLPClassifier(name string, cfg MLPConfig) *MLPClassifier {
	if cfg.Epochs <= 0 {
		cfg.Epochs = 20
	}
	if cfg.LearningRate <= 0 {
		cfg.LearningRate = 0.05
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 16
	}
	next := cfg
	next.Hidden = append([]int(nil), cfg.Hidden...)
	return &MLPClassifier{lifecycle: newLifecycle(), name: name, cfg: cfg, next: next}
}

// Params returns the settings of the next training run.
func (m *MLPClassifier) Params() Params {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Params{
		Epochs:       m.next.Epochs,
		HiddenLayers: append([]int(nil), m.next.Hidden...),
		LearningRate: m.next.LearningRate,
		BatchSize:    m.next.BatchSize,
	}
}

// SetParams changes epochs, hidden layers, learning rate and batch size for
// the next training run. An empty HiddenLayers trains a softmax regression.
func (m *MLPClassifier) SetParams(p Params) error {
	if p.Epochs <= 0 {
		return invalidParams("epochs must be positive, got %d", p.Epochs)
	}
	if p.LearningRate <= 0 || p.LearningRate > 10 {
		return invalidParams("learning rate must be in (0, 10], got %g", p.LearningRate)
	}
	for i, n := range p.HiddenLayers {
		if n <= 0 {
			return invalidParams("hidden layer %d must have a positive size, got %d", i+1, n)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.next.Epochs = p.Epochs
	m.next.Hidden = append([]int(nil), p.HiddenLayers...)
	m.next.LearningRate = p.LearningRate
	if p.BatchSize > 0 {
		m.next.BatchSize = p.BatchSize
	}
	return nil
}

func (m *MLPClassifier) nextConfig() MLPConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg := m.next
	cfg.Hidden = append([]int(nil), m.next.Hidden...)
	return cfg
}

func (m *MLPClassifier) Name() string { return m.name }
func (m *MLPClassifier) Kind() string { return "mlp" }
func (m *MLPClassifier) Task() Task   { return Classification }

func (m *MLPClassifier) Labels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.labels...)
}

// Layers returns "input" followed by one name per hidden layer.
func (m *MLPClassifier) Layers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	layers := []string{"input"}
	for i := range m.cfg.Hidden {
		layers = append(layers, "hidden_"+strconv.Itoa(i+1))
	}
	return layers
}

func (m *MLPClassifier) Train(ctx context.Context, set TrainingSet) error {
	cfg := m.nextConfig()
	m.publish(TrainingStatus{Status: StatusTraining, Epochs: cfg.Epochs})

	items, err := set.Items(ctx)
	if err != nil {
		return m.fail(fmt.Errorf("load training set: %w", err))
	}
	x, y, labels, err := classData(items)
	if err != nil {
		return m.fail(err)
	}

	sizes := append([]int{len(x[0])}, cfg.Hidden...)
	sizes = append(sizes, len(labels))
	rng := rand.New(rand.NewSource(cfg.Seed))
	net := newNetwork(sizes, rng)

	order := make([]int, len(x))
	for i := range order {
		order[i] = i
	}

	for epoch := 1; epoch <= cfg.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return m.fail(err)
		}
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

		var loss float64
		var correct int
		for start := 0; start < len(order); start += cfg.BatchSize {
			end := min(start+cfg.BatchSize, len(order))
			l, c := net.step(x, y, order[start:end], cfg.LearningRate)
			loss += l
			correct += c
		}
		loss /= float64(len(x))
		if math.IsNaN(loss) || math.IsInf(loss, 0) {
			return m.fail(fmt.Errorf("training diverged at epoch %d", epoch))
		}

		m.publish(TrainingStatus{
			Status:   StatusTraining,
			Epoch:    epoch,
			Epochs:   cfg.Epochs,
			Loss:     loss,
			Accuracy: float64(correct) / float64(len(x)),
		})
	}

	m.mu.Lock()
	m.cfg = cfg
	m.net = net
	m.labels = labels
	m.mu.Unlock()

	last := m.Status().Get()
	log.Info().
		Str("model", m.name).
		Int("samples", len(x)).
		Strs("labels", labels).
		Float64("loss", last.Loss).
		Float64("accuracy", last.Accuracy).
		Msg("MLP training completed")

	m.publish(TrainingStatus{Status: StatusTrained, Epochs: cfg.Epochs, Loss: last.Loss, Accuracy: last.Accuracy})
	return nil
}

func (m *MLPClassifier) Predict(ctx context.Context, x []float64) (Prediction, error) {
	if err := ctx.Err(); err != nil {
		return Prediction{}, err
	}
	m.mu.RLock()
	net, labels := m.net, m.labels
	m.mu.RUnlock()
	if net == nil {
		return Prediction{}, ErrNotTrained
	}
	if len(x) != net.inputs() {
		return Prediction{}, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(x), net.inputs())
	}

	acts, _ := net.forward(mat.NewVecDense(len(x), append([]float64(nil), x...)))
	probs := softmax(acts[len(acts)-1].RawVector().Data)

	pred := Prediction{Task: Classification, Confidences: make([]Confidence, len(labels))}
	best := floats.MaxIdx(probs)
	for i, l := range labels {
		pred.Confidences[i] = Confidence{Label: l, Score: probs[i]}
	}
	pred.Label = labels[best]
	return pred, nil
}

// Attribution is the positive part of activation times the gradient of the
// class logit, taken at layer.
func (m *MLPClassifier) Attribution(layer string, x []float64, class int) ([]float64, error) {
	m.mu.RLock()
	net, labels := m.net, m.labels
	m.mu.RUnlock()
	if net == nil {
		return nil, ErrNotTrained
	}
	if class < 0 || class >= len(labels) {
		return nil, fmt.Errorf("class index %d out of range [0,%d)", class, len(labels))
	}
	if len(x) != net.inputs() {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(x), net.inputs())
	}
	target := -1
	for i, name := range m.Layers() {
		if name == layer {
			target = i
		}
	}
	if target < 0 {
		return nil, fmt.Errorf("unknown layer %q", layer)
	}

	acts, zs := net.forward(mat.NewVecDense(len(x), append([]float64(nil), x...)))

	// gradient of logit[class] w.r.t. the output pre-activation
	grad := mat.NewVecDense(len(labels), nil)
	grad.SetVec(class, 1)
	for l := len(net.weights) - 1; l >= target; l-- {
		var g mat.VecDense
		g.MulVec(net.weights[l].T(), grad)
		if l > target {
			reluGrad(&g, zs[l-1])
		}
		grad = &g
	}

	a := acts[target].RawVector().Data
	g := grad.RawVector().Data
	out := make([]float64, len(a))
	for i := range a {
		out[i] = math.Max(0, a[i]*g[i])
	}
	return out, nil
}

type mlpSnapshot struct {
	Sizes   []int       `json:"sizes"`
	Labels  []string    `json:"labels"`
	Weights [][]float64 `json:"weights"`
	Biases  [][]float64 `json:"biases"`
}

func (m *MLPClassifier) Snapshot() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.net == nil {
		return nil, ErrNotTrained
	}
	snap := mlpSnapshot{Sizes: m.net.sizes(), Labels: m.labels}
	for l, w := range m.net.weights {
		snap.Weights = append(snap.Weights, append([]float64(nil), w.RawMatrix().Data...))
		snap.Biases = append(snap.Biases, append([]float64(nil), m.net.biases[l].RawVector().Data...))
	}
	return json.Marshal(snap)
}

func (m *MLPClassifier) Restore(data []byte) error {
	var snap mlpSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("decode mlp snapshot: %w", err)
	}
	if len(snap.Sizes) < 2 || len(snap.Weights) != len(snap.Sizes)-1 || len(snap.Biases) != len(snap.Weights) {
		return fmt.Errorf("malformed mlp snapshot")
	}
	if snap.Sizes[len(snap.Sizes)-1] != len(snap.Labels) {
		return fmt.Errorf("snapshot has %d outputs for %d labels", snap.Sizes[len(snap.Sizes)-1], len(snap.Labels))
	}
	net := &network{}
	for l := 0; l < len(snap.Sizes)-1; l++ {
		in, out := snap.Sizes[l], snap.Sizes[l+1]
		if len(snap.Weights[l]) != in*out || len(snap.Biases[l]) != out {
			return fmt.Errorf("snapshot layer %d has wrong shape", l)
		}
		net.weights = append(net.weights, mat.NewDense(out, in, snap.Weights[l]))
		net.biases = append(net.biases, mat.NewVecDense(out, snap.Biases[l]))
	}

	m.mu.Lock()
	m.net = net
	m.labels = snap.Labels
	m.cfg.Hidden = append([]int(nil), snap.Sizes[1:len(snap.Sizes)-1]...)
	m.next.Hidden = append([]int(nil), m.cfg.Hidden...)
	m.mu.Unlock()

	m.publish(TrainingStatus{Status: StatusLoaded})
	return nil
}

func newNetwork(sizes []int, rng *rand.Rand) *network {
	net := &network{}
	for l := 0; l < len(sizes)-1; l++ {
		in, out := sizes[l], sizes[l+1]
		scale := math.Sqrt(2 / float64(in))
		data := make([]float64, in*out)
		for i := range data {
			data[i] = rng.NormFloat64() * scale
		}
		net.weights = append(net.weights, mat.NewDense(out, in, data))
		net.biases = append(net.biases, mat.NewVecDense(out, nil))
	}
	return net
}

func (n *network) inputs() int {
	_, c := n.weights[0].Dims()
	return c
}

func (n *network) sizes() []int {
	sizes := []int{n.inputs()}
	for _, w := range n.weights {
		r, _ := w.Dims()
		sizes = append(sizes, r)
	}
	return sizes
}

// forward returns the activations a[0..L] (a[L] are the raw logits) and the
// hidden pre-activations z[0..L-2].
func (n *network) forward(x *mat.VecDense) (acts []*mat.VecDense, zs []*mat.VecDense) {
	acts = []*mat.VecDense{x}
	a := x
	for l, w := range n.weights {
		var z mat.VecDense
		z.MulVec(w, a)
		z.AddVec(&z, n.biases[l])
		if l == len(n.weights)-1 {
			acts = append(acts, &z)
			break
		}
		zs = append(zs, &z)
		next := mat.NewVecDense(z.Len(), nil)
		for i := 0; i < z.Len(); i++ {
			next.SetVec(i, math.Max(0, z.AtVec(i)))
		}
		acts = append(acts, next)
		a = next
	}
	return acts, zs
}

// step runs one SGD update over the batch and returns the summed loss and
// number of correct predictions before the update.
func (n *network) step(x [][]float64, y []int, batch []int, lr float64) (float64, int) {
	gradW := make([]*mat.Dense, len(n.weights))
	gradB := make([]*mat.VecDense, len(n.biases))
	for l, w := range n.weights {
		r, c := w.Dims()
		gradW[l] = mat.NewDense(r, c, nil)
		gradB[l] = mat.NewVecDense(r, nil)
	}

	var loss float64
	var correct int
	for _, idx := range batch {
		acts, zs := n.forward(mat.NewVecDense(len(x[idx]), x[idx]))
		probs := softmax(acts[len(acts)-1].RawVector().Data)
		loss -= math.Log(math.Max(probs[y[idx]], 1e-12))
		if floats.MaxIdx(probs) == y[idx] {
			correct++
		}

		probs[y[idx]] -= 1
		delta := mat.NewVecDense(len(probs), probs)
		for l := len(n.weights) - 1; l >= 0; l-- {
			gradW[l].RankOne(gradW[l], 1, delta, acts[l])
			gradB[l].AddVec(gradB[l], delta)
			if l == 0 {
				break
			}
			var prev mat.VecDense
			prev.MulVec(n.weights[l].T(), delta)
			reluGrad(&prev, zs[l-1])
			delta = &prev
		}
	}

	scale := -lr / float64(len(batch))
	for l := range n.weights {
		gradW[l].Scale(scale, gradW[l])
		n.weights[l].Add(n.weights[l], gradW[l])
		n.biases[l].AddScaledVec(n.biases[l], scale, gradB[l])
	}
	return loss, correct
}

func reluGrad(g *mat.VecDense, z *mat.VecDense) {
	for i := 0; i < g.Len(); i++ {
		if z.AtVec(i) <= 0 {
			g.SetVec(i, 0)
		}
	}
}

func softmax(logits []float64) []float64 {
	out := make([]float64, len(logits))
	maxLogit := floats.Max(logits)
	for i, v := range logits {
		out[i] = math.Exp(v - maxLogit)
	}
	floats.Scale(1/floats.Sum(out), out)
	return out
}
