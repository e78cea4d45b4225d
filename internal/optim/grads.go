// Package optim maps gradients onto model parameters and applies Adam.
package optim

import (
	"github.com/pkg/errors"

	"gradbench/internal/model"
	"gradbench/internal/tensor"
)

var (
	// ErrMissingGradient is returned when a tracked parameter received no
	// gradient from the backward pass.
	ErrMissingGradient = errors.New("optim: missing gradient")
	// ErrUnknownParam is returned when a gradient names a parameter the
	// model does not have.
	ErrUnknownParam = errors.New("optim: unknown parameter")
)

// GradientSource is the lookup a backward pass produces, keyed by tensor
// identity.
type GradientSource interface {
	Get(t *tensor.Tensor) (*tensor.Tensor, bool)
}

// ParamGrads maps parameter identity to its gradient for one step.
type ParamGrads map[model.ParamID]*tensor.Tensor

// FromGrads extracts the gradient of every parameter of m. Each gradient
// must match its parameter's shape.
func FromGrads(grads GradientSource, m *model.Model) (ParamGrads, error) {
	out := make(ParamGrads, 4)
	for _, p := range m.Params() {
		g, ok := grads.Get(p.Tensor)
		if !ok {
			return nil, errors.Wrapf(ErrMissingGradient, "param %s", p.ID)
		}
		if !g.Shape().Equal(p.Tensor.Shape()) {
			return nil, errors.Wrapf(tensor.ErrShapeMismatch, "param %s: gradient %v, want %v", p.ID, g.Shape(), p.Tensor.Shape())
		}
		out[p.ID] = g
	}
	return out, nil
}
