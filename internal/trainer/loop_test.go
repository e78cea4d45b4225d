package trainer

import (
	"context"
	"errors"
	"math"
	"reflect"
	"strings"
	"testing"

	"gonum.org/v1/gonum/floats"

	"gradbench/internal/autodiff"
	"gradbench/internal/model"
	"gradbench/internal/optim"
	"gradbench/internal/tensor"
)

var _ Differentiator = (*autodiff.Backend)(nil)

func testConfig(iters int, differentiate bool) RunConfig {
	return RunConfig{
		Iterations:    iters,
		Seed:          DefaultSeed,
		LearningRate:  1e-3,
		Differentiate: differentiate,
		LogEvery:      50,
		CheckFinite:   true,
	}
}

func TestZeroIterationsMatchesFreshModel(t *testing.T) {
	res, err := Run(context.Background(), testConfig(0, true))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	fx, err := newFixture(DefaultSeed)
	if err != nil {
		t.Fatalf("fixture: %v", err)
	}
	for i, p := range fx.model.Params() {
		got := res.Model.Params()[i]
		if !floats.Equal(got.Tensor.Raw(), p.Tensor.Raw()) {
			t.Fatalf("%s changed without any iteration", p.ID)
		}
	}
	out, err := fx.model.Forward(tensor.CPU{}, fx.input)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	if !res.Reported || !floats.Equal(res.Output, out.Raw()) {
		t.Fatalf("output %v, want fresh forward %v", res.Output, out.Raw())
	}
	if res.FinalLoss != res.InitialLoss {
		t.Fatalf("final loss %v differs from initial %v", res.FinalLoss, res.InitialLoss)
	}
	if len(res.OptimizerState) != 0 {
		t.Fatalf("optimizer state populated without steps: %v", res.OptimizerState)
	}
}

func TestDifferentiableReducesLoss(t *testing.T) {
	res, err := Run(context.Background(), testConfig(300, true))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.Reported {
		t.Fatalf("differentiable run did not report a loss")
	}
	if math.IsNaN(res.FinalLoss) || math.IsInf(res.FinalLoss, 0) || res.FinalLoss < 0 {
		t.Fatalf("final loss %v is not a finite non-negative value", res.FinalLoss)
	}
	if res.FinalLoss > res.InitialLoss {
		t.Fatalf("loss increased: initial=%v final=%v", res.InitialLoss, res.FinalLoss)
	}
	want := []model.ParamID{"l1.bias", "l1.weight", "l2.bias", "l2.weight"}
	if !reflect.DeepEqual(res.OptimizerState, want) {
		t.Fatalf("optimizer state %v, want %v", res.OptimizerState, want)
	}
	if !strings.HasPrefix(res.Backend, "autodiff(") {
		t.Fatalf("unexpected backend %q", res.Backend)
	}
}

func TestRunDeterministic(t *testing.T) {
	a, err := Run(context.Background(), testConfig(20, true))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	b, err := Run(context.Background(), testConfig(20, true))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if a.FinalLoss != b.FinalLoss {
		t.Fatalf("same seed gave different losses: %v vs %v", a.FinalLoss, b.FinalLoss)
	}
	if a.RunID == b.RunID {
		t.Fatalf("runs share id %s", a.RunID)
	}
}

func TestInferenceLeavesModelUntouched(t *testing.T) {
	res, err := Run(context.Background(), testConfig(25, false))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Reported {
		t.Fatalf("inference run reported a loss")
	}
	if res.Variant != Inference || res.Backend != "cpu" {
		t.Fatalf("unexpected variant/backend %s/%s", res.Variant, res.Backend)
	}
	fx, _ := newFixture(DefaultSeed)
	for i, p := range fx.model.Params() {
		if !floats.Equal(res.Model.Params()[i].Tensor.Raw(), p.Tensor.Raw()) {
			t.Fatalf("%s changed during inference", p.ID)
		}
	}
}

func TestRunRejectsBadConfig(t *testing.T) {
	if _, err := Run(context.Background(), testConfig(-1, false)); err == nil {
		t.Fatalf("expected error for negative iterations")
	}
	cfg := testConfig(1, true)
	cfg.LearningRate = 0
	if _, err := Run(context.Background(), cfg); err == nil {
		t.Fatalf("expected error for zero learning rate")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Run(ctx, testConfig(10, true)); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

// nanBackend poisons every reduction.
type nanBackend struct {
	tensor.CPU
}

func (nanBackend) Mean(x *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.Scalar(math.NaN()), nil
}

func TestNonFiniteLossAborts(t *testing.T) {
	cfg := testConfig(5, false)
	cfg.Backend = nanBackend{}
	if _, err := Run(context.Background(), cfg); !errors.Is(err, tensor.ErrNonFinite) {
		t.Fatalf("expected ErrNonFinite, got %v", err)
	}

	// Without per-iteration checks the fault still surfaces at the report.
	cfg = testConfig(0, true)
	cfg.CheckFinite = false
	cfg.Backend = nanBackend{}
	if _, err := Run(context.Background(), cfg); !errors.Is(err, tensor.ErrNonFinite) {
		t.Fatalf("expected ErrNonFinite from final evaluation, got %v", err)
	}
}

func TestStepBuildsFreshGraphEachIteration(t *testing.T) {
	fx, err := newFixture(DefaultSeed)
	if err != nil {
		t.Fatalf("fixture: %v", err)
	}
	ad := autodiff.New(tensor.CPU{})
	opt, _ := optim.NewAdam(optim.DefaultAdamConfig())
	l := &loop{cfg: testConfig(3, true), exec: ad, diff: ad, input: fx.input, target: fx.target}
	state := loopState{model: fx.model, opt: opt}
	first := fx.model.L2.Bias.Data()
	for i := 0; i < 3; i++ {
		next, loss, err := l.step(state)
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if n := ad.Tape().Len(); n != 0 {
			t.Fatalf("step %d left %d recorded ops", i, n)
		}
		if math.IsNaN(loss) {
			t.Fatalf("step %d did not report its loss", i)
		}
		if next.opt != state.opt {
			t.Fatalf("optimizer state not threaded through step %d", i)
		}
		state = next
	}
	if opt.Steps("l2.bias") != 3 {
		t.Fatalf("expected 3 optimizer steps, got %d", opt.Steps("l2.bias"))
	}
	if floats.Equal(first, state.model.L2.Bias.Raw()) {
		t.Fatalf("parameters did not move")
	}
}

// failingDiff records nothing and refuses to differentiate.
type failingDiff struct {
	tensor.CPU
}

func (failingDiff) Backward(*tensor.Tensor) (autodiff.Gradients, error) {
	return nil, autodiff.ErrNotRecorded
}

func TestStepUsesDifferentiator(t *testing.T) {
	fx, err := newFixture(DefaultSeed)
	if err != nil {
		t.Fatalf("fixture: %v", err)
	}
	opt, _ := optim.NewAdam(optim.DefaultAdamConfig())
	var d Differentiator = failingDiff{}
	l := &loop{cfg: testConfig(1, true), exec: d, diff: d, input: fx.input, target: fx.target}
	before := fx.model.L2.Bias.Data()
	next, _, err := l.step(loopState{model: fx.model, opt: opt})
	if !errors.Is(err, autodiff.ErrNotRecorded) {
		t.Fatalf("expected ErrNotRecorded from backward, got %v", err)
	}
	if !floats.Equal(before, next.model.L2.Bias.Raw()) {
		t.Fatalf("parameters moved after a failed backward")
	}
}

func TestRunDefaultsLogEvery(t *testing.T) {
	cfg := testConfig(3, true)
	cfg.LogEvery = 0
	res, err := Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("run with log_every unset: %v", err)
	}
	if !res.Reported {
		t.Fatalf("differentiable run did not report a loss")
	}
}

func TestCompare(t *testing.T) {
	cfg := testConfig(10, false)
	cfg.RunID = "bench"
	cmp, err := Compare(context.Background(), cfg)
	if err != nil {
		t.Fatalf("compare: %v", err)
	}
	if cmp.Inference.Reported || !cmp.Differentiable.Reported {
		t.Fatalf("unexpected report flags")
	}
	if cmp.Inference.RunID != "bench-inference" || cmp.Differentiable.RunID != "bench-differentiable" {
		t.Fatalf("unexpected run ids %s, %s", cmp.Inference.RunID, cmp.Differentiable.RunID)
	}
	if cmp.Overhead <= 0 {
		t.Fatalf("expected positive overhead, got %v", cmp.Overhead)
	}
}

func TestScenarioFullRun(t *testing.T) {
	if testing.Short() {
		t.Skip("full-length benchmark run")
	}
	cfg := RunConfig{
		Iterations:    DefaultIterations,
		Seed:          DefaultSeed,
		LearningRate:  DefaultLearningRate,
		Differentiate: true,
		LogEvery:      DefaultLogEvery,
	}
	res, err := Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if math.IsNaN(res.FinalLoss) || math.IsInf(res.FinalLoss, 0) || res.FinalLoss < 0 {
		t.Fatalf("final loss %v is not a finite non-negative value", res.FinalLoss)
	}
	if res.FinalLoss > res.InitialLoss {
		t.Fatalf("loss increased: initial=%v final=%v", res.InitialLoss, res.FinalLoss)
	}
}
