package factorgraph

import (
	"math"

	"github.com/pkg/errors"
)

// Graph is an ordered collection of factors.
type Graph struct {
	factors []Factor
}

func NewGraph() *Graph {
	return &Graph{}
}

func (g *Graph) Add(f Factor) {
	g.factors = append(g.factors, f)
}

// AddPrior は key に prior を固定する PriorFactor を追加します。
func (g *Graph) AddPrior(key Key, prior Variable, noise NoiseModel) error {
	f, err := NewPriorFactor(key, prior, noise)
	if err != nil {
		return err
	}
	g.Add(f)
	return nil
}

func (g *Graph) Len() int {
	return len(g.factors)
}

func (g *Graph) At(i int) Factor {
	return g.factors[i]
}

// Factors returns a copy of the factor slice.
func (g *Graph) Factors() []Factor {
	return append([]Factor(nil), g.factors...)
}

// Clone deep-copies every factor.
func (g *Graph) Clone() *Graph {
	out := &Graph{factors: make([]Factor, len(g.factors))}
	for i, f := range g.factors {
		out.factors[i] = f.Clone()
	}
	return out
}

// Error は ½ Σ ‖白色化残差‖² を返します。
func (g *Graph) Error(values *Values) (float64, error) {
	total := 0.0
	for _, f := range g.factors {
		vars, err := lookup(f, values)
		if err != nil {
			return 0, err
		}
		for _, r := range whitened(f, vars) {
			total += r * r
		}
	}
	total *= 0.5
	if math.IsNaN(total) || math.IsInf(total, 0) {
		return total, ErrNonFinite
	}
	return total, nil
}

func lookup(f Factor, values *Values) ([]Variable, error) {
	keys := f.Keys()
	vars := make([]Variable, len(keys))
	for i, key := range keys {
		v, ok := values.At(key)
		if !ok {
			return nil, errors.Wrapf(ErrMissingKey, "key %d", key)
		}
		vars[i] = v
	}
	return vars, nil
}
