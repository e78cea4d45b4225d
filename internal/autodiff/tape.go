package autodiff

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"

	"gradbench/internal/tensor"
)

var (
	// ErrNotRecorded is returned when Backward is called with a tensor that
	// was not produced on the current tape, e.g. a loss from a graph that an
	// earlier Backward already consumed.
	ErrNotRecorded = errors.New("autodiff: tensor not recorded on tape")
	// ErrNotScalar is returned when Backward is called on a non-scalar.
	ErrNotScalar = errors.New("autodiff: backward requires a scalar")
)

// backwardFunc maps the gradient of an op's output to the gradients of its
// inputs, in input order. A nil entry means no gradient flows to that input.
type backwardFunc func(grad *tensor.Tensor) ([]*tensor.Tensor, error)

type node struct {
	name     string
	inputs   []*tensor.Tensor
	output   *tensor.Tensor
	backward backwardFunc
}

// Tape records operations in creation order, which is a topological order
// of the graph.
type Tape struct {
	nodes    []node
	produced map[*tensor.Tensor]int
}

// NewTape returns an empty tape.
func NewTape() *Tape {
	return &Tape{produced: make(map[*tensor.Tensor]int)}
}

// Len returns the number of recorded operations.
func (t *Tape) Len() int {
	return len(t.nodes)
}

// Reset drops the recorded graph.
func (t *Tape) Reset() {
	t.nodes = t.nodes[:0]
	t.produced = make(map[*tensor.Tensor]int)
}

func (t *Tape) record(n node) {
	t.produced[n.output] = len(t.nodes)
	t.nodes = append(t.nodes, n)
}

// Gradients maps a tracked leaf tensor to d(loss)/d(leaf).
type Gradients map[*tensor.Tensor]*tensor.Tensor

// Get returns the gradient recorded for t.
func (g Gradients) Get(t *tensor.Tensor) (*tensor.Tensor, bool) {
	grad, ok := g[t]
	return grad, ok
}

// Backward propagates from loss through the tape and returns the gradient
// of every tracked leaf that contributed to it. The tape is reset
// afterwards, whether or not propagation succeeded.
func (t *Tape) Backward(loss *tensor.Tensor) (Gradients, error) {
	defer t.Reset()

	if loss.Len() != 1 {
		return nil, errors.Wrapf(ErrNotScalar, "loss shape %v", loss.Shape())
	}
	last, ok := t.produced[loss]
	if !ok {
		return nil, errors.WithStack(ErrNotRecorded)
	}

	grads := map[*tensor.Tensor]*tensor.Tensor{
		loss: tensor.Zeros(loss.Shape()),
	}
	grads[loss].Raw()[0] = 1

	for i := last; i >= 0; i-- {
		n := t.nodes[i]
		g, ok := grads[n.output]
		if !ok {
			continue
		}
		inGrads, err := n.backward(g)
		if err != nil {
			return nil, errors.Wrapf(err, "backward through %s", n.name)
		}
		for j, in := range n.inputs {
			if inGrads[j] == nil || !in.RequiresGrad() {
				continue
			}
			if err := accumulate(grads, in, inGrads[j]); err != nil {
				return nil, errors.Wrapf(err, "%s input %d", n.name, j)
			}
		}
	}

	leaves := make(Gradients)
	for tn, g := range grads {
		if _, inner := t.produced[tn]; inner {
			continue
		}
		leaves[tn] = g
	}
	return leaves, nil
}

func accumulate(grads map[*tensor.Tensor]*tensor.Tensor, in, g *tensor.Tensor) error {
	if g.Len() != in.Len() {
		return errors.Wrapf(tensor.ErrShapeMismatch, "gradient %v for tensor %v", g.Shape(), in.Shape())
	}
	prev, ok := grads[in]
	if !ok {
		grads[in] = g
		return nil
	}
	sum := prev.Clone()
	floats.Add(sum.Raw(), g.Raw())
	grads[in] = sum
	return nil
}
