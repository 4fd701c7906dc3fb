package factorgraph

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// NoiseModel はガウス雑音モデルです。残差を白色化して単位共分散にします。
type NoiseModel interface {
	Dim() int
	// WhitenInPlace multiplies v by the square-root information matrix.
	WhitenInPlace(v []float64)
}

// Diagonal is a noise model with independent components.
type Diagonal struct {
	sigmas    []float64
	invSigmas []float64
}

var _ NoiseModel = (*Diagonal)(nil)

// NewDiagonalVariances は分散の並びから対角モデルを作ります。
func NewDiagonalVariances(variances ...float64) (*Diagonal, error) {
	sigmas := make([]float64, len(variances))
	for i, v := range variances {
		if !(v > 0) || math.IsInf(v, 0) {
			return nil, errors.Errorf("variance %d must be positive and finite: %g", i, v)
		}
		sigmas[i] = math.Sqrt(v)
	}
	return NewDiagonalSigmas(sigmas...)
}

// NewDiagonalSigmas builds a diagonal model from standard deviations.
func NewDiagonalSigmas(sigmas ...float64) (*Diagonal, error) {
	if len(sigmas) == 0 {
		return nil, errors.New("noise model needs at least one dimension")
	}
	d := &Diagonal{
		sigmas:    make([]float64, len(sigmas)),
		invSigmas: make([]float64, len(sigmas)),
	}
	for i, s := range sigmas {
		if !(s > 0) || math.IsInf(s, 0) {
			return nil, errors.Errorf("sigma %d must be positive and finite: %g", i, s)
		}
		d.sigmas[i] = s
		d.invSigmas[i] = 1 / s
	}
	return d, nil
}

func (d *Diagonal) Dim() int {
	return len(d.sigmas)
}

func (d *Diagonal) WhitenInPlace(v []float64) {
	for i := range v {
		v[i] *= d.invSigmas[i]
	}
}

func (d *Diagonal) Sigmas() []float64 {
	return append([]float64(nil), d.sigmas...)
}

func (d *Diagonal) Variances() []float64 {
	out := make([]float64, len(d.sigmas))
	for i, s := range d.sigmas {
		out[i] = s * s
	}
	return out
}

// Gaussian is a full-covariance model stored as an upper-triangular
// square-root information matrix R with information = RᵀR.
type Gaussian struct {
	r [][]float64
}

var _ NoiseModel = (*Gaussian)(nil)

// NewInformation は情報行列から雑音モデルを作ります。
// 非対角成分がすべてゼロなら Diagonal を返します。
func NewInformation(info mat.Symmetric) (NoiseModel, error) {
	n := info.SymmetricDim()
	diagonal := true
	for i := 0; i < n && diagonal; i++ {
		for j := i + 1; j < n; j++ {
			if info.At(i, j) != 0 {
				diagonal = false
				break
			}
		}
	}
	if diagonal {
		variances := make([]float64, n)
		for i := 0; i < n; i++ {
			if !(info.At(i, i) > 0) {
				return nil, errors.Errorf("information matrix is not positive definite: entry (%d,%d) = %g", i, i, info.At(i, i))
			}
			variances[i] = 1 / info.At(i, i)
		}
		return NewDiagonalVariances(variances...)
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(info); !ok {
		return nil, errors.New("information matrix is not positive definite")
	}
	var u mat.TriDense
	chol.UTo(&u)
	r := make([][]float64, n)
	for i := range r {
		r[i] = make([]float64, n)
		for j := i; j < n; j++ {
			r[i][j] = u.At(i, j)
		}
	}
	return &Gaussian{r: r}, nil
}

func (g *Gaussian) Dim() int {
	return len(g.r)
}

func (g *Gaussian) WhitenInPlace(v []float64) {
	// R は上三角なので上から順に上書きしても未使用の成分は壊れない
	for i := range g.r {
		sum := 0.0
		for j := i; j < len(v); j++ {
			sum += g.r[i][j] * v[j]
		}
		v[i] = sum
	}
}

// Information returns RᵀR.
func (g *Gaussian) Information() *mat.SymDense {
	n := len(g.r)
	out := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			sum := 0.0
			for k := 0; k <= i; k++ {
				sum += g.r[k][i] * g.r[k][j]
			}
			out.SetSym(i, j, sum)
		}
	}
	return out
}
