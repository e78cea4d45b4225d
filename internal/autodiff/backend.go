// Package autodiff adds reverse-mode differentiation to a tensor.Backend.
//
// Backend decorates an inner backend: every operation that touches a
// tracked tensor is executed by the inner backend and recorded on a Tape.
// Backward walks the tape once and consumes it, so each iteration of a
// training loop must rebuild its graph with a fresh forward pass.
package autodiff

import "gradbench/internal/tensor"

// Backend is a differentiable tensor.Backend.
type Backend struct {
	inner tensor.Backend
	tape  *Tape
}

var _ tensor.Backend = (*Backend)(nil)

// New wraps inner with gradient recording.
func New(inner tensor.Backend) *Backend {
	return &Backend{inner: inner, tape: NewTape()}
}

// Tape returns the tape operations are recorded on.
func (b *Backend) Tape() *Tape {
	return b.tape
}

func (b *Backend) Name() string {
	return "autodiff(" + b.inner.Name() + ")"
}

// Backward differentiates loss against the graph recorded since the last
// call and returns the gradients of the tracked leaves.
func (b *Backend) Backward(loss *tensor.Tensor) (Gradients, error) {
	return b.tape.Backward(loss)
}

func tracked(ts ...*tensor.Tensor) bool {
	for _, t := range ts {
		if t.RequiresGrad() {
			return true
		}
	}
	return false
}

func (b *Backend) Affine(w, x, bias *tensor.Tensor) (*tensor.Tensor, error) {
	out, err := b.inner.Affine(w, x, bias)
	if err != nil || !tracked(w, x, bias) {
		return out, err
	}
	b.tape.record(node{
		name:   "affine",
		inputs: []*tensor.Tensor{w, x, bias},
		output: out.SetRequireGrad(true),
		backward: func(g *tensor.Tensor) ([]*tensor.Tensor, error) {
			gv, err := g.Vec()
			if err != nil {
				return nil, err
			}
			xv, _ := x.Vec()
			wm, _ := w.Dense()

			dwT := tensor.Zeros(w.Shape())
			dw, _ := dwT.Dense()
			dw.Outer(1, gv, xv)

			dxT := tensor.Zeros(x.Shape())
			dx, _ := dxT.Vec()
			dx.MulVec(wm.T(), gv)

			return []*tensor.Tensor{dwT, dxT, g.Clone()}, nil
		},
	})
	return out, nil
}

func (b *Backend) Sigmoid(x *tensor.Tensor) (*tensor.Tensor, error) {
	out, err := b.inner.Sigmoid(x)
	if err != nil || !tracked(x) {
		return out, err
	}
	b.tape.record(node{
		name:   "sigmoid",
		inputs: []*tensor.Tensor{x},
		output: out.SetRequireGrad(true),
		backward: func(g *tensor.Tensor) ([]*tensor.Tensor, error) {
			dx := g.Clone()
			s := out.Raw()
			for i, v := range dx.Raw() {
				dx.Raw()[i] = v * s[i] * (1 - s[i])
			}
			return []*tensor.Tensor{dx}, nil
		},
	})
	return out, nil
}

func (b *Backend) Sub(x, y *tensor.Tensor) (*tensor.Tensor, error) {
	out, err := b.inner.Sub(x, y)
	if err != nil || !tracked(x, y) {
		return out, err
	}
	b.tape.record(node{
		name:   "sub",
		inputs: []*tensor.Tensor{x, y},
		output: out.SetRequireGrad(true),
		backward: func(g *tensor.Tensor) ([]*tensor.Tensor, error) {
			dy := g.Clone()
			for i, v := range dy.Raw() {
				dy.Raw()[i] = -v
			}
			return []*tensor.Tensor{g.Clone(), dy}, nil
		},
	})
	return out, nil
}

func (b *Backend) PowScalar(x *tensor.Tensor, p float64) (*tensor.Tensor, error) {
	out, err := b.inner.PowScalar(x, p)
	if err != nil || !tracked(x) {
		return out, err
	}
	b.tape.record(node{
		name:   "pow",
		inputs: []*tensor.Tensor{x},
		output: out.SetRequireGrad(true),
		backward: func(g *tensor.Tensor) ([]*tensor.Tensor, error) {
			// d/dx x^p = p·x^(p-1), computed through the inner backend so
			// p == 2 stays exact.
			dpow, err := b.inner.PowScalar(x, p-1)
			if err != nil {
				return nil, err
			}
			dx := dpow.Clone()
			gr := g.Raw()
			for i, v := range dx.Raw() {
				dx.Raw()[i] = gr[i] * p * v
			}
			return []*tensor.Tensor{dx}, nil
		},
	})
	return out, nil
}

func (b *Backend) Mean(x *tensor.Tensor) (*tensor.Tensor, error) {
	out, err := b.inner.Mean(x)
	if err != nil || !tracked(x) {
		return out, err
	}
	b.tape.record(node{
		name:   "mean",
		inputs: []*tensor.Tensor{x},
		output: out.SetRequireGrad(true),
		backward: func(g *tensor.Tensor) ([]*tensor.Tensor, error) {
			gv, err := g.Item()
			if err != nil {
				return nil, err
			}
			dx := tensor.Zeros(x.Shape())
			share := gv / float64(x.Len())
			for i := range dx.Raw() {
				dx.Raw()[i] = share
			}
			return []*tensor.Tensor{dx}, nil
		},
	})
	return out, nil
}
