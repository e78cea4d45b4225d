package tensor

import (
	"math"

	"github.com/pkg/errors"
)

// Backend executes the primitive operations a model is built from.
// Implementations must fail with ErrShapeMismatch rather than broadcast.
type Backend interface {
	Name() string
	// Affine computes w·x + b for w [out, in], x [in] and b [out].
	Affine(w, x, b *Tensor) (*Tensor, error)
	Sigmoid(x *Tensor) (*Tensor, error)
	Sub(a, b *Tensor) (*Tensor, error)
	PowScalar(x *Tensor, p float64) (*Tensor, error)
	// Mean reduces every element to a rank-0 tensor.
	Mean(x *Tensor) (*Tensor, error)
}

// CPU is the plain, non-tracking backend.
type CPU struct{}

var _ Backend = CPU{}

func (CPU) Name() string { return "cpu" }

func (CPU) Affine(w, x, b *Tensor) (*Tensor, error) {
	if err := CheckAffine(w, x, b); err != nil {
		return nil, err
	}
	wm, _ := w.Dense()
	xv, _ := x.Vec()
	bv, _ := b.Vec()

	out := Zeros(b.Shape())
	y, _ := out.Vec()
	y.MulVec(wm, xv)
	y.AddVec(y, bv)
	return out, nil
}

// CheckAffine validates the operand shapes of Affine.
func CheckAffine(w, x, b *Tensor) error {
	if len(w.shape) != 2 || len(x.shape) != 1 || len(b.shape) != 1 {
		return errors.Wrapf(ErrShapeMismatch, "affine: w %v, x %v, b %v", w.shape, x.shape, b.shape)
	}
	out, in := w.shape[0], w.shape[1]
	if x.shape[0] != in || b.shape[0] != out {
		return errors.Wrapf(ErrShapeMismatch, "affine: w %v expects x [%d] and b [%d], got x %v, b %v",
			w.shape, in, out, x.shape, b.shape)
	}
	return nil
}

func (CPU) Sigmoid(x *Tensor) (*Tensor, error) {
	out := make([]float64, len(x.data))
	for i, v := range x.data {
		out[i] = Sigmoid(v)
	}
	return &Tensor{shape: x.Shape(), data: out}, nil
}

// Sigmoid evaluates 1/(1+e^-v) without overflowing for large |v|.
func Sigmoid(v float64) float64 {
	if v >= 0 {
		return 1 / (1 + math.Exp(-v))
	}
	e := math.Exp(v)
	return e / (1 + e)
}

func (CPU) Sub(a, b *Tensor) (*Tensor, error) {
	if !a.shape.Equal(b.shape) {
		return nil, errors.Wrapf(ErrShapeMismatch, "sub: %v vs %v", a.shape, b.shape)
	}
	out := make([]float64, len(a.data))
	for i := range out {
		out[i] = a.data[i] - b.data[i]
	}
	return &Tensor{shape: a.Shape(), data: out}, nil
}

func (CPU) PowScalar(x *Tensor, p float64) (*Tensor, error) {
	out := make([]float64, len(x.data))
	for i, v := range x.data {
		if p == 2 {
			out[i] = v * v
			continue
		}
		out[i] = math.Pow(v, p)
	}
	return &Tensor{shape: x.Shape(), data: out}, nil
}

func (CPU) Mean(x *Tensor) (*Tensor, error) {
	if len(x.data) == 0 {
		return nil, errors.Wrap(ErrEmpty, "mean")
	}
	var sum float64
	for _, v := range x.data {
		sum += v
	}
	return Scalar(sum / float64(len(x.data))), nil
}
