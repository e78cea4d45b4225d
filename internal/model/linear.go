package model

import (
	"math"

	"github.com/pkg/errors"

	"gradbench/internal/tensor"
)

// Linear is an affine stage y = W·x + b.
type Linear struct {
	In, Out int
	Weight  *tensor.Tensor // [Out, In]
	Bias    *tensor.Tensor // [Out]
}

// NewLinear draws weights and bias uniformly from ±1/sqrt(in), the usual
// default for fully connected layers. Both parameters are tracked.
func NewLinear(src tensor.Source, in, out int) (*Linear, error) {
	if in <= 0 || out <= 0 {
		return nil, errors.Errorf("model: linear dims must be > 0 (got %d→%d)", in, out)
	}
	bound := 1 / math.Sqrt(float64(in))
	w, err := tensor.RandomUniform(src, tensor.Shape{out, in}, -bound, bound)
	if err != nil {
		return nil, errors.Wrap(err, "init weight")
	}
	b, err := tensor.RandomUniform(src, tensor.Shape{out}, -bound, bound)
	if err != nil {
		return nil, errors.Wrap(err, "init bias")
	}
	return &Linear{
		In:     in,
		Out:    out,
		Weight: w.SetRequireGrad(true),
		Bias:   b.SetRequireGrad(true),
	}, nil
}

// Forward applies the stage to x on backend b.
func (l *Linear) Forward(b tensor.Backend, x *tensor.Tensor) (*tensor.Tensor, error) {
	if !x.Shape().Equal(tensor.Shape{l.In}) {
		return nil, errors.Wrapf(tensor.ErrShapeMismatch, "linear %d→%d: input shape %v", l.In, l.Out, x.Shape())
	}
	return b.Affine(l.Weight, x, l.Bias)
}

func (l *Linear) clone(track bool) *Linear {
	return &Linear{
		In:     l.In,
		Out:    l.Out,
		Weight: l.Weight.Clone().SetRequireGrad(track),
		Bias:   l.Bias.Clone().SetRequireGrad(track),
	}
}
