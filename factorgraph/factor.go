package factorgraph

import (
	"github.com/pkg/errors"
)

var (
	ErrMissingKey   = errors.New("missing key")
	ErrIndefinite   = errors.New("linear system is indefinite")
	ErrNonFinite    = errors.New("non-finite error")
	ErrNotConverged = errors.New("optimizer did not converge")
)

// Factor is a residual over one or more variables.
type Factor interface {
	Keys() []Key
	// Dim returns the residual dimension.
	Dim() int
	Noise() NoiseModel
	// Residual は白色化前の残差を返します。vars は Keys と同じ順に並びます。
	Residual(vars []Variable) []float64
	Clone() Factor
}

// BetweenFactor constrains the relative pose between two variables.
// The residual is Log(z⁻¹ · xi⁻¹ · xj).
type BetweenFactor struct {
	keys     [2]Key
	measured Variable
	noise    NoiseModel
}

var _ Factor = (*BetweenFactor)(nil)

func NewBetweenFactor(i, j Key, measured Variable, noise NoiseModel) (*BetweenFactor, error) {
	if measured.Dim() != noise.Dim() {
		return nil, errors.Errorf("between factor %d-%d: measurement dimension %d does not match noise dimension %d",
			i, j, measured.Dim(), noise.Dim())
	}
	return &BetweenFactor{keys: [2]Key{i, j}, measured: measured, noise: noise}, nil
}

func (f *BetweenFactor) Keys() []Key {
	return f.keys[:]
}

func (f *BetweenFactor) Dim() int {
	return f.measured.Dim()
}

func (f *BetweenFactor) Noise() NoiseModel {
	return f.noise
}

func (f *BetweenFactor) Measured() Variable {
	return f.measured
}

func (f *BetweenFactor) Residual(vars []Variable) []float64 {
	relative := vars[0].Inverse().Compose(vars[1])
	return f.measured.Local(relative)
}

func (f *BetweenFactor) Clone() Factor {
	c := *f
	return &c
}

// PriorFactor pins a variable to a reference value. The residual is Log(p⁻¹ · x).
type PriorFactor struct {
	key   Key
	prior Variable
	noise NoiseModel
}

var _ Factor = (*PriorFactor)(nil)

func NewPriorFactor(key Key, prior Variable, noise NoiseModel) (*PriorFactor, error) {
	if prior.Dim() != noise.Dim() {
		return nil, errors.Errorf("prior factor %d: value dimension %d does not match noise dimension %d",
			key, prior.Dim(), noise.Dim())
	}
	return &PriorFactor{key: key, prior: prior, noise: noise}, nil
}

func (f *PriorFactor) Keys() []Key {
	return []Key{f.key}
}

func (f *PriorFactor) Dim() int {
	return f.prior.Dim()
}

func (f *PriorFactor) Noise() NoiseModel {
	return f.noise
}

func (f *PriorFactor) Prior() Variable {
	return f.prior
}

func (f *PriorFactor) Residual(vars []Variable) []float64 {
	return f.prior.Local(vars[0])
}

func (f *PriorFactor) Clone() Factor {
	c := *f
	return &c
}

// whitened は白色化した残差を返します。
func whitened(f Factor, vars []Variable) []float64 {
	r := f.Residual(vars)
	f.Noise().WhitenInPlace(r)
	return r
}

const numericalStep = 1e-6

// linearize は中心差分で白色化ヤコビアンを求めます。
// jacobians[k] は Dim() x vars[k].Dim() の行優先配列です。
func linearize(f Factor, vars []Variable) (jacobians [][]float64, b []float64) {
	b = whitened(f, vars)
	m := len(b)
	jacobians = make([][]float64, len(vars))
	perturbed := make([]Variable, len(vars))
	copy(perturbed, vars)
	for k, v := range vars {
		d := v.Dim()
		jac := make([]float64, m*d)
		delta := make([]float64, d)
		for c := 0; c < d; c++ {
			delta[c] = numericalStep
			perturbed[k] = v.Retract(delta)
			plus := whitened(f, perturbed)
			delta[c] = -numericalStep
			perturbed[k] = v.Retract(delta)
			minus := whitened(f, perturbed)
			delta[c] = 0
			for r := 0; r < m; r++ {
				jac[r*d+c] = (plus[r] - minus[r]) / (2 * numericalStep)
			}
		}
		perturbed[k] = v
		jacobians[k] = jac
	}
	return jacobians, b
}
