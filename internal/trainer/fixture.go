package trainer

import (
	"github.com/pkg/errors"

	"gradbench/internal/model"
	"gradbench/internal/tensor"
)

// fixture is the seeded starting point shared by every variant: the
// initial model followed by input and target, drawn in that order from one
// source.
type fixture struct {
	model  *model.Model
	input  *tensor.Tensor
	target *tensor.Tensor
}

func newFixture(seed uint64) (*fixture, error) {
	src := tensor.NewSource(seed)
	m, err := model.New(src)
	if err != nil {
		return nil, errors.Wrap(err, "init model")
	}
	input, err := tensor.RandomNormal(src, m.InputShape(), 0, 1)
	if err != nil {
		return nil, errors.Wrap(err, "sample input")
	}
	target, err := tensor.RandomNormal(src, tensor.Shape{model.OutputDim}, 0, 1)
	if err != nil {
		return nil, errors.Wrap(err, "sample target")
	}
	return &fixture{
		model:  m,
		input:  input.SetRequireGrad(false),
		target: target.SetRequireGrad(false),
	}, nil
}
