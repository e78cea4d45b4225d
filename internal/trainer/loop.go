package trainer

import (
	"context"
	"log"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"gradbench/internal/autodiff"
	"gradbench/internal/metrics"
	"gradbench/internal/model"
	"gradbench/internal/optim"
	"gradbench/internal/tensor"
)

// Defaults of the reference benchmark.
const (
	DefaultIterations   = 100000
	DefaultSeed         = 1
	DefaultLearningRate = 5e-5
	DefaultLogEvery     = 10000
)

// Variant names the execution mode of a run.
type Variant string

const (
	Inference      Variant = "inference"
	Differentiable Variant = "differentiable"
)

// RunConfig captures the knobs required by the training loop.
type RunConfig struct {
	RunID         string
	Iterations    int
	Seed          uint64
	LearningRate  float64
	Differentiate bool
	LogEvery      int
	// CheckFinite reads the loss every iteration and aborts on NaN or Inf.
	// The reported final loss is always checked.
	CheckFinite bool
	// Backend executes tensor ops; nil means tensor.CPU. The differentiable
	// variant wraps it with autodiff.
	Backend tensor.Backend
}

func (c RunConfig) variant() Variant {
	if c.Differentiate {
		return Differentiable
	}
	return Inference
}

// Result summarizes a finished run.
type Result struct {
	RunID      string
	Variant    Variant
	Backend    string
	Iterations int
	Elapsed    time.Duration
	// Reported is set by the differentiable variant, which evaluates the
	// trained model once more after the loop. InitialLoss, FinalLoss and
	// Output are only meaningful when it is set.
	Reported    bool
	InitialLoss float64
	FinalLoss   float64
	Output      []float64
	Model       *model.Model
	// OptimizerState lists the parameters Adam holds moments for.
	OptimizerState []model.ParamID
}

// Differentiator is a backend that can differentiate a loss it recorded
// during the current forward pass.
type Differentiator interface {
	tensor.Backend
	Backward(loss *tensor.Tensor) (autodiff.Gradients, error)
}

// loopState is threaded through every iteration.
type loopState struct {
	model *model.Model
	opt   *optim.Adam
}

type loop struct {
	cfg    RunConfig
	exec   tensor.Backend
	diff   Differentiator
	input  *tensor.Tensor
	target *tensor.Tensor
}

// Run executes the benchmark loop.
func Run(ctx context.Context, cfg RunConfig) (*Result, error) {
	if cfg.Iterations < 0 {
		return nil, errors.Errorf("trainer: iterations must be >= 0 (got %d)", cfg.Iterations)
	}
	if cfg.Differentiate && cfg.LearningRate <= 0 {
		return nil, errors.Errorf("trainer: learning rate must be > 0 (got %v)", cfg.LearningRate)
	}
	if cfg.LogEvery <= 0 {
		cfg.LogEvery = DefaultLogEvery
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}
	inner := cfg.Backend
	if inner == nil {
		inner = tensor.CPU{}
	}

	fx, err := newFixture(cfg.Seed)
	if err != nil {
		return nil, errors.Wrap(err, "trainer: setup")
	}

	res := &Result{
		RunID:      cfg.RunID,
		Variant:    cfg.variant(),
		Iterations: cfg.Iterations,
	}
	l := &loop{cfg: cfg, exec: inner, input: fx.input, target: fx.target}
	state := loopState{model: fx.model.Valid()}

	if cfg.Differentiate {
		ad := autodiff.New(inner)
		l.exec, l.diff = ad, ad
		opt, err := optim.NewAdam(optim.DefaultAdamConfig())
		if err != nil {
			return nil, err
		}
		state = loopState{model: fx.model, opt: opt}
		if res.InitialLoss, _, err = evaluate(inner, state.model, fx); err != nil {
			return nil, errors.Wrap(err, "trainer: initial evaluation")
		}
	}
	res.Backend = l.exec.Name()

	var window metrics.Window
	start := time.Now()
	for i := 1; i <= cfg.Iterations; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		iterStart := time.Now()
		var loss float64
		state, loss, err = l.step(state)
		if err != nil {
			return nil, errors.Wrapf(err, "trainer: iteration %d", i)
		}
		window.Record(time.Since(iterStart), loss, !math.IsNaN(loss))

		if i%cfg.LogEvery == 0 {
			logProgress(cfg.RunID, res.Variant, i, window.Snapshot())
		}
	}
	res.Elapsed = time.Since(start)

	res.Model = state.model.Valid()
	if state.opt != nil {
		res.OptimizerState = state.opt.StateIDs()
	}
	if !cfg.Differentiate {
		return res, nil
	}

	res.FinalLoss, res.Output, err = evaluate(inner, state.model, fx)
	if err != nil {
		return nil, errors.Wrap(err, "trainer: final evaluation")
	}
	res.Reported = true
	return res, nil
}

// step runs one iteration: forward, loss and, when differentiating,
// backward, gradient extraction and the optimizer update. The returned
// loss is NaN unless it was read for the finiteness check.
func (l *loop) step(s loopState) (loopState, float64, error) {
	output, err := s.model.Forward(l.exec, l.input)
	if err != nil {
		return s, 0, errors.Wrap(err, "forward")
	}
	loss, err := model.MSE(l.exec, output, l.target)
	if err != nil {
		return s, 0, errors.Wrap(err, "loss")
	}

	value := math.NaN()
	if l.cfg.CheckFinite {
		if err := loss.CheckFinite(); err != nil {
			return s, 0, errors.Wrap(err, "loss")
		}
		value, _ = loss.Item()
	}
	if !l.cfg.Differentiate {
		return s, value, nil
	}

	raw, err := l.diff.Backward(loss)
	if err != nil {
		return s, 0, errors.Wrap(err, "backward")
	}
	grads, err := optim.FromGrads(raw, s.model)
	if err != nil {
		return s, 0, err
	}
	next, err := s.opt.Step(l.cfg.LearningRate, s.model, grads)
	if err != nil {
		return s, 0, errors.Wrap(err, "optimizer step")
	}
	return loopState{model: next, opt: s.opt}, value, nil
}

// evaluate runs a frozen copy of m on the plain backend with untracked
// data and returns the loss and the output.
func evaluate(b tensor.Backend, m *model.Model, fx *fixture) (float64, []float64, error) {
	frozen := m.Valid()
	output, err := frozen.Forward(b, fx.input.Detach())
	if err != nil {
		return 0, nil, err
	}
	loss, err := model.MSE(b, output, fx.target.Detach())
	if err != nil {
		return 0, nil, err
	}
	if err := loss.CheckFinite(); err != nil {
		return 0, nil, err
	}
	v, err := loss.Item()
	if err != nil {
		return 0, nil, err
	}
	return v, output.Data(), nil
}

func logProgress(runID string, v Variant, iter int, snap metrics.Snapshot) {
	if snap.HasLoss {
		log.Printf("run=%s variant=%s iter=%d iters_per_sec=%.1f avg_us=%.2f loss=%.6g",
			runID, v, iter, snap.ItersPerSec, snap.AvgIterUS, snap.LastLoss)
		return
	}
	log.Printf("run=%s variant=%s iter=%d iters_per_sec=%.1f avg_us=%.2f",
		runID, v, iter, snap.ItersPerSec, snap.AvgIterUS)
}
