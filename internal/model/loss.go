package model

import (
	"github.com/pkg/errors"

	"gradbench/internal/tensor"
)

// MSE returns mean((output - target)²) as a rank-0 tensor.
func MSE(b tensor.Backend, output, target *tensor.Tensor) (*tensor.Tensor, error) {
	if !output.Shape().Equal(target.Shape()) {
		return nil, errors.Wrapf(tensor.ErrShapeMismatch, "mse: output %v, target %v", output.Shape(), target.Shape())
	}
	diff, err := b.Sub(output, target)
	if err != nil {
		return nil, err
	}
	sq, err := b.PowScalar(diff, 2)
	if err != nil {
		return nil, err
	}
	return b.Mean(sq)
}
