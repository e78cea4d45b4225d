package tensor

import (
	"fmt"
	"math"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

var (
	// ErrShapeMismatch is returned when an operation receives tensors whose
	// dimensions violate its contract. Nothing is ever broadcast.
	ErrShapeMismatch = errors.New("tensor: shape mismatch")
	// ErrEmpty is returned for shapes with zero elements.
	ErrEmpty = errors.New("tensor: empty tensor")
	// ErrNonFinite is returned when a value is NaN or infinite.
	ErrNonFinite = errors.New("tensor: non-finite value")
)

// Shape lists the size of each dimension. A nil shape is a scalar.
type Shape []int

// Size returns the number of elements described by the shape.
func (s Shape) Size() int {
	n := 1
	for _, d := range s {
		n *= d
	}
	return n
}

// Equal reports whether both shapes have the same rank and dimensions.
func (s Shape) Equal(o Shape) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if s[i] != o[i] {
			return false
		}
	}
	return true
}

func (s Shape) String() string {
	parts := make([]string, len(s))
	for i, d := range s {
		parts[i] = fmt.Sprint(d)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// Tensor is a dense row-major float64 array.
type Tensor struct {
	shape        Shape
	data         []float64
	requiresGrad bool
}

// New wraps data in a tensor of the given shape. The slice is not copied.
func New(shape Shape, data []float64) (*Tensor, error) {
	for _, d := range shape {
		if d <= 0 {
			return nil, errors.Wrapf(ErrEmpty, "shape %v", shape)
		}
	}
	if len(data) != shape.Size() {
		return nil, errors.Wrapf(ErrShapeMismatch, "shape %v needs %d values, got %d", shape, shape.Size(), len(data))
	}
	return &Tensor{shape: append(Shape(nil), shape...), data: data}, nil
}

// Zeros allocates a zero-filled tensor. It panics on non-positive dimensions.
func Zeros(shape Shape) *Tensor {
	t, err := New(shape, make([]float64, shape.Size()))
	if err != nil {
		panic(err)
	}
	return t
}

// Scalar returns a rank-0 tensor holding v.
func Scalar(v float64) *Tensor {
	return &Tensor{data: []float64{v}}
}

// Shape returns a copy of the tensor's shape.
func (t *Tensor) Shape() Shape {
	return append(Shape(nil), t.shape...)
}

// Len returns the element count.
func (t *Tensor) Len() int {
	return len(t.data)
}

// Data returns a copy of the elements.
func (t *Tensor) Data() []float64 {
	return append([]float64(nil), t.data...)
}

// Raw exposes the backing slice. Writes are visible to every holder of t.
func (t *Tensor) Raw() []float64 {
	return t.data
}

// RequiresGrad reports whether the tensor is tracked by a differentiable backend.
func (t *Tensor) RequiresGrad() bool {
	return t.requiresGrad
}

// SetRequireGrad toggles gradient tracking and returns t.
func (t *Tensor) SetRequireGrad(v bool) *Tensor {
	t.requiresGrad = v
	return t
}

// Clone deep-copies the tensor, tracking flag included.
func (t *Tensor) Clone() *Tensor {
	return &Tensor{
		shape:        t.Shape(),
		data:         t.Data(),
		requiresGrad: t.requiresGrad,
	}
}

// Detach returns an untracked copy of the tensor.
func (t *Tensor) Detach() *Tensor {
	c := t.Clone()
	c.requiresGrad = false
	return c
}

// Item returns the value of a single-element tensor.
func (t *Tensor) Item() (float64, error) {
	if len(t.data) != 1 {
		return 0, errors.Wrapf(ErrShapeMismatch, "item of tensor with shape %v", t.shape)
	}
	return t.data[0], nil
}

// CheckFinite returns ErrNonFinite if any element is NaN or infinite.
func (t *Tensor) CheckFinite() error {
	for i, v := range t.data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.Wrapf(ErrNonFinite, "element %d is %v", i, v)
		}
	}
	return nil
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor%v%v", t.shape, t.data)
}

// Vec views a rank-1 tensor as a gonum vector sharing storage.
func (t *Tensor) Vec() (*mat.VecDense, error) {
	if len(t.shape) != 1 {
		return nil, errors.Wrapf(ErrShapeMismatch, "want rank 1, got shape %v", t.shape)
	}
	return mat.NewVecDense(t.shape[0], t.data), nil
}

// Dense views a rank-2 tensor as a gonum matrix sharing storage.
func (t *Tensor) Dense() (*mat.Dense, error) {
	if len(t.shape) != 2 {
		return nil, errors.Wrapf(ErrShapeMismatch, "want rank 2, got shape %v", t.shape)
	}
	return mat.NewDense(t.shape[0], t.shape[1], t.data), nil
}
