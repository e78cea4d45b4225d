// Package model defines the benchmarked network and its loss.
package model

import (
	"github.com/pkg/errors"

	"gradbench/internal/tensor"
)

// Default dimensions of the benchmarked network.
const (
	InputDim  = 256
	HiddenDim = 256
	OutputDim = 2
)

// ParamID identifies a parameter independently of its storage, so it stays
// stable across in-place updates and clones.
type ParamID string

// Param pairs a parameter tensor with its identity.
type Param struct {
	ID     ParamID
	Tensor *tensor.Tensor
}

// Model is two linear stages with a sigmoid in between.
type Model struct {
	L1 *Linear
	L2 *Linear
}

// New initializes the 256→256→2 network from src.
func New(src tensor.Source) (*Model, error) {
	return NewWithDims(src, InputDim, HiddenDim, OutputDim)
}

// NewWithDims initializes an in→hidden→out network from src. Stage 1 is
// drawn before stage 2, weight before bias.
func NewWithDims(src tensor.Source, in, hidden, out int) (*Model, error) {
	l1, err := NewLinear(src, in, hidden)
	if err != nil {
		return nil, errors.Wrap(err, "l1")
	}
	l2, err := NewLinear(src, hidden, out)
	if err != nil {
		return nil, errors.Wrap(err, "l2")
	}
	return &Model{L1: l1, L2: l2}, nil
}

// InputShape returns the shape Forward accepts.
func (m *Model) InputShape() tensor.Shape {
	return tensor.Shape{m.L1.In}
}

// Forward computes l2(σ(l1(input))). It does not modify the model.
func (m *Model) Forward(b tensor.Backend, input *tensor.Tensor) (*tensor.Tensor, error) {
	if want := m.InputShape(); !input.Shape().Equal(want) {
		return nil, errors.Wrapf(tensor.ErrShapeMismatch, "model input shape %v, want %v", input.Shape(), want)
	}
	h, err := m.L1.Forward(b, input)
	if err != nil {
		return nil, errors.Wrap(err, "l1")
	}
	h, err = b.Sigmoid(h)
	if err != nil {
		return nil, errors.Wrap(err, "sigmoid")
	}
	out, err := m.L2.Forward(b, h)
	if err != nil {
		return nil, errors.Wrap(err, "l2")
	}
	return out, nil
}

// Params lists every learnable tensor in a fixed order.
func (m *Model) Params() []Param {
	return []Param{
		{ID: "l1.weight", Tensor: m.L1.Weight},
		{ID: "l1.bias", Tensor: m.L1.Bias},
		{ID: "l2.weight", Tensor: m.L2.Weight},
		{ID: "l2.bias", Tensor: m.L2.Bias},
	}
}

// NumParams returns the total number of scalar parameters.
func (m *Model) NumParams() int {
	n := 0
	for _, p := range m.Params() {
		n += p.Tensor.Len()
	}
	return n
}

// Clone deep-copies the model, keeping parameter tracking.
func (m *Model) Clone() *Model {
	return &Model{
		L1: m.L1.clone(m.L1.Weight.RequiresGrad()),
		L2: m.L2.clone(m.L2.Weight.RequiresGrad()),
	}
}

// Valid returns an untracked copy for evaluation.
func (m *Model) Valid() *Model {
	return &Model{L1: m.L1.clone(false), L2: m.L2.clone(false)}
}
