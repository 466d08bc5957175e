package pipeline

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"imlab/internal/explain"
	"imlab/internal/features"
	"imlab/internal/ml"
	"imlab/internal/stream"

	"github.com/rs/zerolog/log"
)

// Explainer is the explanation engine as seen by the pipeline.
// *explain.Engine satisfies it.
type Explainer interface {
	SetModel(model ml.Model)
	SelectLayer(names ...string) error
	Explain(ctx context.Context, x []float64, classIndex int) (explain.Explanation, error)
}

// PredictionResult is a published prediction with the instance it belongs to.
type PredictionResult struct {
	Generation uint64        `json:"generation"`
	Instance   Instance      `json:"instance"`
	Prediction ml.Prediction `json:"prediction"`
	LatencyMs  float64       `json:"latency_ms"`
}

// ExplanationResult is a published explanation with the instance it belongs
// to.
type ExplanationResult struct {
	Generation uint64   `json:"generation"`
	Instance   Instance `json:"instance"`
	explain.Explanation
}

// PredictorConfig configures a Predictor.
type PredictorConfig struct {
	// DiscardStale drops results older than the one already on display.
	// When false, results are published in completion order.
	DiscardStale bool
}

// Predictor runs the model and the explainer on every instance under
// inspection.
//
// Each instance gets a generation number when it arrives and each explanation
// request gets one when it is issued. With DiscardStale a result is only
// published if no newer result reached the same output first, so a slow
// result never replaces a fresher one but a continuous stream still updates.
type Predictor struct {
	model     ml.Model
	extractor features.Extractor
	explainer Explainer
	metrics   MetricsInterface
	cfg       PredictorConfig

	current      *stream.Value[Instance]
	class        *stream.Value[string]
	predictions  *stream.Value[PredictionResult]
	explanations *stream.Value[ExplanationResult]

	instanceGen atomic.Uint64
	explainGen  atomic.Uint64

	// last published generation per output, guarded by publishMu
	publishMu       sync.Mutex
	lastCurrent     uint64
	lastPrediction  uint64
	lastExplanation uint64

	ctx      context.Context
	cancel   context.CancelFunc
	mu       sync.Mutex
	idle     *sync.Cond
	inflight int
	stopped  bool

	unsubscribe []func()
}

func NewPredictor(model ml.Model, extractor features.Extractor, explainer Explainer, metrics MetricsInterface, cfg PredictorConfig) *Predictor {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Predictor{
		model:        model,
		extractor:    extractor,
		explainer:    explainer,
		metrics:      metrics,
		cfg:          cfg,
		current:      stream.NewEmpty[Instance](),
		class:        stream.NewEmpty[string](),
		predictions:  stream.NewEmpty[PredictionResult](),
		explanations: stream.NewEmpty[ExplanationResult](),
		ctx:          ctx,
		cancel:       cancel,
	}
	p.idle = sync.NewCond(&p.mu)

	p.unsubscribe = append(p.unsubscribe,
		// the predicted label becomes the class of interest; this does not
		// trigger another prediction
		p.predictions.Subscribe(func(r PredictionResult) {
			if r.Prediction.Task == ml.Classification && r.Prediction.Label != "" {
				p.class.Set(r.Prediction.Label)
			}
		}),
		p.class.Subscribe(func(string) { p.requestExplanation() }),
		p.current.Subscribe(func(Instance) { p.requestExplanation() }),
	)
	return p
}

// Current holds the latest instance under inspection, with its vector.
func (p *Predictor) Current() *stream.Value[Instance] { return p.current }

// Class is the class of interest explanations are computed for.
func (p *Predictor) Class() *stream.Value[string] { return p.class }

func (p *Predictor) Predictions() *stream.Value[PredictionResult] { return p.predictions }

func (p *Predictor) Explanations() *stream.Value[ExplanationResult] { return p.explanations }

// Run handles instances until the channel closes or ctx is done. Every
// instance is processed asynchronously; Run never waits for a prediction.
func (p *Predictor) Run(ctx context.Context, instances <-chan Instance) {
	for {
		select {
		case <-ctx.Done():
			return
		case inst, ok := <-instances:
			if !ok {
				return
			}
			p.Submit(inst)
		}
	}
}

// Submit starts prediction for one instance and returns its generation, or 0
// once the predictor is stopped.
func (p *Predictor) Submit(inst Instance) uint64 {
	gen := p.instanceGen.Add(1)
	if !p.spawn(func() { p.predict(gen, inst) }) {
		return 0
	}
	return gen
}

// Wait blocks until in-flight predictions and explanations finish. Work
// started while waiting is waited for too.
func (p *Predictor) Wait() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.inflight > 0 {
		p.idle.Wait()
	}
}

// Stop cancels in-flight work, waits for it and detaches subscriptions.
func (p *Predictor) Stop() {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()

	p.cancel()
	p.Wait()
	for _, unsub := range p.unsubscribe {
		unsub()
	}
}

func (p *Predictor) spawn(fn func()) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return false
	}
	p.inflight++
	go func() {
		defer p.done()
		fn()
	}()
	return true
}

func (p *Predictor) done() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inflight--
	if p.inflight == 0 {
		p.idle.Broadcast()
	}
}

// publish runs set unless an output already shows a newer generation than
// gen. The check and the set are atomic with respect to other publishes, so
// an older result can never overwrite a newer one.
func (p *Predictor) publish(gen uint64, last *uint64, set func()) bool {
	p.publishMu.Lock()
	defer p.publishMu.Unlock()
	if p.cfg.DiscardStale && gen < *last {
		p.metrics.StaleResultInc()
		return false
	}
	*last = max(*last, gen)
	set()
	return true
}

func (p *Predictor) predict(gen uint64, inst Instance) {
	start := time.Now()

	if inst.Vector == nil {
		if inst.Frame == nil {
			p.metrics.PredictionFailureInc()
			log.Warn().Str("source", string(inst.Source)).Msg("Instance has neither vector nor frame")
			return
		}
		x, err := p.extractor.Process(p.ctx, inst.Frame)
		if err != nil {
			p.metrics.ExtractionFailureInc()
			p.metrics.PredictionFailureInc()
			log.Warn().Err(err).Uint64("seq", inst.Frame.Seq).Msg("Feature extraction failed for selected instance")
			return
		}
		inst.Vector = x
	}

	p.publish(gen, &p.lastCurrent, func() { p.current.Set(inst) })

	pred, err := p.model.Predict(p.ctx, inst.Vector)
	if err != nil {
		p.metrics.PredictionFailureInc()
		evt := log.Warn()
		if errors.Is(err, ml.ErrNotTrained) {
			evt = log.Debug()
		}
		evt.Err(err).Str("model", p.model.Name()).Str("source", string(inst.Source)).Msg("Prediction failed")
		return
	}
	latency := time.Since(start)
	p.metrics.PredictionLatencyObserve(latency.Seconds())

	p.publish(gen, &p.lastPrediction, func() {
		p.metrics.PredictionInc()
		p.predictions.Set(PredictionResult{
			Generation: gen,
			Instance:   inst,
			Prediction: pred,
			LatencyMs:  float64(latency.Microseconds()) / 1000,
		})
	})
}

// requestExplanation combines the latest instance with the latest class of
// interest. Nothing happens until both have a value.
func (p *Predictor) requestExplanation() {
	inst, ok := p.current.Latest()
	if !ok {
		return
	}
	class, ok := p.class.Latest()
	if !ok {
		return
	}

	gen := p.explainGen.Add(1)
	p.spawn(func() {
		exp, err := p.explain(inst, class)
		if err != nil {
			p.metrics.ExplanationFailureInc()
			evt := log.Warn()
			if errors.Is(err, explain.ErrNotReady) {
				evt = log.Debug()
			}
			evt.Err(err).Str("class", class).Msg("Explanation failed")
			return
		}
		p.publish(gen, &p.lastExplanation, func() {
			p.metrics.ExplanationInc()
			p.explanations.Set(ExplanationResult{Generation: gen, Instance: inst, Explanation: exp})
		})
	})
}

func (p *Predictor) explain(inst Instance, class string) (explain.Explanation, error) {
	index := 0
	if p.model.Task() == ml.Classification {
		index = slices.Index(p.model.Labels(), class)
		if index < 0 {
			return explain.Explanation{}, fmt.Errorf("class %q: %w", class, explain.ErrClassOutOfRange)
		}
	}
	return p.explainer.Explain(p.ctx, inst.Vector, index)
}
