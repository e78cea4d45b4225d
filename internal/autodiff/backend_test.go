package autodiff

import (
	"errors"
	"testing"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"

	"gradbench/internal/tensor"
)

// smallNet evaluates mean((w2·σ(w1·x+b1)+b2 - t)²) on backend b.
func smallNet(b tensor.Backend, w1, b1, w2, b2, x, t *tensor.Tensor) (*tensor.Tensor, error) {
	h, err := b.Affine(w1, x, b1)
	if err != nil {
		return nil, err
	}
	if h, err = b.Sigmoid(h); err != nil {
		return nil, err
	}
	y, err := b.Affine(w2, h, b2)
	if err != nil {
		return nil, err
	}
	d, err := b.Sub(y, t)
	if err != nil {
		return nil, err
	}
	sq, err := b.PowScalar(d, 2)
	if err != nil {
		return nil, err
	}
	return b.Mean(sq)
}

type fixture struct {
	w1, b1, w2, b2, x, t *tensor.Tensor
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	src := tensor.NewSource(7)
	mk := func(shape tensor.Shape) *tensor.Tensor {
		v, err := tensor.RandomNormal(src, shape, 0, 1)
		if err != nil {
			t.Fatalf("random: %v", err)
		}
		return v
	}
	return fixture{
		w1: mk(tensor.Shape{4, 3}).SetRequireGrad(true),
		b1: mk(tensor.Shape{4}).SetRequireGrad(true),
		w2: mk(tensor.Shape{2, 4}).SetRequireGrad(true),
		b2: mk(tensor.Shape{2}).SetRequireGrad(true),
		x:  mk(tensor.Shape{3}),
		t:  mk(tensor.Shape{2}),
	}
}

func TestBackwardMatchesFiniteDifferences(t *testing.T) {
	f := newFixture(t)
	ad := New(tensor.CPU{})
	loss, err := smallNet(ad, f.w1, f.b1, f.w2, f.b2, f.x, f.t)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	grads, err := ad.Backward(loss)
	if err != nil {
		t.Fatalf("backward: %v", err)
	}
	if len(grads) != 4 {
		t.Fatalf("expected gradients for 4 parameters, got %d", len(grads))
	}
	if _, ok := grads.Get(f.x); ok {
		t.Fatalf("untracked input received a gradient")
	}

	for name, param := range map[string]*tensor.Tensor{"w1": f.w1, "b1": f.b1, "w2": f.w2, "b2": f.b2} {
		orig := param.Data()
		numeric := fd.Gradient(nil, func(v []float64) float64 {
			copy(param.Raw(), v)
			defer copy(param.Raw(), orig)
			l, err := smallNet(tensor.CPU{}, f.w1, f.b1, f.w2, f.b2, f.x, f.t)
			if err != nil {
				t.Fatalf("numeric forward: %v", err)
			}
			out, _ := l.Item()
			return out
		}, orig, &fd.Settings{Formula: fd.Central})

		g, ok := grads.Get(param)
		if !ok {
			t.Fatalf("%s: missing gradient", name)
		}
		if !g.Shape().Equal(param.Shape()) {
			t.Fatalf("%s: gradient shape %v, want %v", name, g.Shape(), param.Shape())
		}
		if !floats.EqualApprox(g.Raw(), numeric, 1e-6) {
			t.Fatalf("%s: analytic %v vs numeric %v", name, g.Raw(), numeric)
		}
	}
}

func TestBackwardConsumesGraph(t *testing.T) {
	f := newFixture(t)
	ad := New(tensor.CPU{})
	loss, err := smallNet(ad, f.w1, f.b1, f.w2, f.b2, f.x, f.t)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	if _, err := ad.Backward(loss); err != nil {
		t.Fatalf("backward: %v", err)
	}
	if ad.Tape().Len() != 0 {
		t.Fatalf("tape not reset after backward")
	}
	if _, err := ad.Backward(loss); !errors.Is(err, ErrNotRecorded) {
		t.Fatalf("expected ErrNotRecorded on stale graph, got %v", err)
	}
}

func TestBackwardRequiresScalar(t *testing.T) {
	f := newFixture(t)
	ad := New(tensor.CPU{})
	h, err := ad.Affine(f.w1, f.x, f.b1)
	if err != nil {
		t.Fatalf("affine: %v", err)
	}
	if _, err := ad.Backward(h); !errors.Is(err, ErrNotScalar) {
		t.Fatalf("expected ErrNotScalar, got %v", err)
	}
}

func TestUntrackedOpsAreNotRecorded(t *testing.T) {
	f := newFixture(t)
	ad := New(tensor.CPU{})
	d, err := ad.Sub(f.x, f.x)
	if err != nil {
		t.Fatalf("sub: %v", err)
	}
	if d.RequiresGrad() || ad.Tape().Len() != 0 {
		t.Fatalf("op on untracked tensors was recorded")
	}
}

func TestGradientsAccumulateAcrossUses(t *testing.T) {
	ad := New(tensor.CPU{})
	x, _ := tensor.New(tensor.Shape{2}, []float64{1, 3})
	x.SetRequireGrad(true)
	// loss = mean(x² - x), so d/dx = (2x - 1)/2 with both uses summed.
	sq, _ := ad.PowScalar(x, 2)
	d, _ := ad.Sub(sq, x)
	loss, _ := ad.Mean(d)
	grads, err := ad.Backward(loss)
	if err != nil {
		t.Fatalf("backward: %v", err)
	}
	g, ok := grads.Get(x)
	if !ok {
		t.Fatalf("missing gradient")
	}
	if !floats.EqualApprox(g.Raw(), []float64{0.5, 2.5}, 1e-12) {
		t.Fatalf("unexpected gradient %v", g.Raw())
	}
}
