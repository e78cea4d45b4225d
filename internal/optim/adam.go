package optim

import (
	"math"
	"sort"

	"github.com/pkg/errors"

	"gradbench/internal/model"
	"gradbench/internal/tensor"
)

// AdamConfig holds the Adam hyperparameters. The learning rate is passed
// to each Step instead.
type AdamConfig struct {
	Beta1   float64
	Beta2   float64
	Epsilon float64
}

// DefaultAdamConfig returns β1=0.9, β2=0.999, ε=1e-5.
func DefaultAdamConfig() AdamConfig {
	return AdamConfig{Beta1: 0.9, Beta2: 0.999, Epsilon: 1e-5}
}

type moments struct {
	m    []float64
	v    []float64
	step int
}

// Adam keeps per-parameter moment estimates across steps. It is not safe
// for concurrent use.
type Adam struct {
	cfg   AdamConfig
	state map[model.ParamID]*moments
}

// NewAdam returns an optimizer with empty state.
func NewAdam(cfg AdamConfig) (*Adam, error) {
	if cfg.Beta1 < 0 || cfg.Beta1 >= 1 || cfg.Beta2 < 0 || cfg.Beta2 >= 1 {
		return nil, errors.Errorf("optim: betas must be in [0, 1) (got %v, %v)", cfg.Beta1, cfg.Beta2)
	}
	if cfg.Epsilon <= 0 {
		return nil, errors.Errorf("optim: epsilon must be > 0 (got %v)", cfg.Epsilon)
	}
	return &Adam{cfg: cfg, state: make(map[model.ParamID]*moments)}, nil
}

// Step updates the parameters of m in place from grads and returns m.
// Parameters without a gradient are left untouched. All gradients are
// validated before any parameter changes.
func (a *Adam) Step(lr float64, m *model.Model, grads ParamGrads) (*model.Model, error) {
	params := m.Params()
	known := make(map[model.ParamID]model.Param, len(params))
	for _, p := range params {
		known[p.ID] = p
	}
	for id, g := range grads {
		p, ok := known[id]
		if !ok {
			return nil, errors.Wrapf(ErrUnknownParam, "%s", id)
		}
		if !g.Shape().Equal(p.Tensor.Shape()) {
			return nil, errors.Wrapf(tensor.ErrShapeMismatch, "param %s: gradient %v, want %v", id, g.Shape(), p.Tensor.Shape())
		}
	}

	for _, p := range params {
		g, ok := grads[p.ID]
		if !ok {
			continue
		}
		a.update(p, g.Raw(), lr)
	}
	return m, nil
}

func (a *Adam) update(p model.Param, grad []float64, lr float64) {
	st, ok := a.state[p.ID]
	if !ok {
		st = &moments{
			m: make([]float64, len(grad)),
			v: make([]float64, len(grad)),
		}
		a.state[p.ID] = st
	}
	st.step++

	b1, b2 := a.cfg.Beta1, a.cfg.Beta2
	c1 := 1 - math.Pow(b1, float64(st.step))
	c2 := 1 - math.Pow(b2, float64(st.step))
	w := p.Tensor.Raw()
	for i, g := range grad {
		st.m[i] = b1*st.m[i] + (1-b1)*g
		st.v[i] = b2*st.v[i] + (1-b2)*g*g
		mHat := st.m[i] / c1
		vHat := st.v[i] / c2
		w[i] -= lr * mHat / (math.Sqrt(vHat) + a.cfg.Epsilon)
	}
}

// StateIDs returns the parameters the optimizer holds moments for, sorted.
func (a *Adam) StateIDs() []model.ParamID {
	ids := make([]model.ParamID, 0, len(a.state))
	for id := range a.state {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Steps returns how many updates parameter id has received.
func (a *Adam) Steps(id model.ParamID) int {
	if st, ok := a.state[id]; ok {
		return st.step
	}
	return 0
}
