// Package solver adapts the factorgraph optimizers to common.Solver.
package solver

import (
	"sort"
	"strings"

	"github.com/pkg/errors"

	"posegraph_bench/common"
	"posegraph_bench/factorgraph"
)

const (
	NameGaussNewton        = "gauss-newton"
	NameLevenbergMarquardt = "levenberg-marquardt"
)

// GaussNewton は呼び出しごとに新しい GaussNewtonOptimizer を作ります。
type GaussNewton struct {
	Params factorgraph.Params
}

var _ common.Solver = (*GaussNewton)(nil)

func NewGaussNewton(maxIterations int) *GaussNewton {
	params := factorgraph.DefaultParams()
	params.MaxIterations = maxIterations
	return &GaussNewton{Params: params}
}

func (s *GaussNewton) Name() string {
	return NameGaussNewton
}

func (s *GaussNewton) Solve(graph *factorgraph.Graph, initial *factorgraph.Values) (*factorgraph.Values, error) {
	return factorgraph.NewGaussNewtonOptimizer(graph, initial, s.Params).Optimize()
}

type LevenbergMarquardt struct {
	Params factorgraph.LevenbergMarquardtParams
}

var _ common.Solver = (*LevenbergMarquardt)(nil)

func NewLevenbergMarquardt(maxIterations int) *LevenbergMarquardt {
	params := factorgraph.DefaultLevenbergMarquardtParams()
	params.MaxIterations = maxIterations
	return &LevenbergMarquardt{Params: params}
}

func (s *LevenbergMarquardt) Name() string {
	return NameLevenbergMarquardt
}

func (s *LevenbergMarquardt) Solve(graph *factorgraph.Graph, initial *factorgraph.Values) (*factorgraph.Values, error) {
	return factorgraph.NewLevenbergMarquardtOptimizer(graph, initial, s.Params).Optimize()
}

var constructors = map[string]func(maxIterations int) common.Solver{
	NameGaussNewton:        func(n int) common.Solver { return NewGaussNewton(n) },
	NameLevenbergMarquardt: func(n int) common.Solver { return NewLevenbergMarquardt(n) },
}

// Names returns the registered solver names in sorted order.
func Names() []string {
	names := make([]string, 0, len(constructors))
	for name := range constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ByName resolves solver names given on the command line.
func ByName(names []string, maxIterations int) ([]common.Solver, error) {
	solvers := make([]common.Solver, 0, len(names))
	seen := make(map[string]bool)
	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		ctor, ok := constructors[name]
		if !ok {
			return nil, errors.Errorf("unknown solver %q (available: %s)", name, strings.Join(Names(), ", "))
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		solvers = append(solvers, ctor(maxIterations))
	}
	return solvers, nil
}
