package tensor

import (
	"github.com/pkg/errors"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// Source is the seeded random source shared by every draw of a run.
type Source = rand.Source

// NewSource returns a deterministic source for seed.
func NewSource(seed uint64) Source {
	return rand.NewSource(seed)
}

// RandomNormal samples a tensor from N(mean, std²).
func RandomNormal(src Source, shape Shape, mean, std float64) (*Tensor, error) {
	if std <= 0 {
		return nil, errors.Errorf("tensor: normal std must be > 0 (got %v)", std)
	}
	dist := distuv.Normal{Mu: mean, Sigma: std, Src: src}
	return sample(shape, dist.Rand)
}

// RandomUniform samples a tensor from U[lo, hi).
func RandomUniform(src Source, shape Shape, lo, hi float64) (*Tensor, error) {
	if hi <= lo {
		return nil, errors.Errorf("tensor: uniform range [%v, %v) is empty", lo, hi)
	}
	dist := distuv.Uniform{Min: lo, Max: hi, Src: src}
	return sample(shape, dist.Rand)
}

func sample(shape Shape, draw func() float64) (*Tensor, error) {
	data := make([]float64, shape.Size())
	for i := range data {
		data[i] = draw()
	}
	return New(shape, data)
}
