package factorgraph

import (
	"math"

	"github.com/pkg/errors"
)

// Params are the convergence criteria shared by the optimizers.
type Params struct {
	MaxIterations    int
	RelativeErrorTol float64
	AbsoluteErrorTol float64
	ErrorTol         float64
	Linear           LinearSolverParams
}

func DefaultParams() Params {
	return Params{
		MaxIterations:    100,
		RelativeErrorTol: 1e-5,
		AbsoluteErrorTol: 1e-5,
		ErrorTol:         0,
		Linear:           DefaultLinearSolverParams(),
	}
}

// checkConvergence は誤差の減少量から収束を判定します。
func (p Params) checkConvergence(current, next float64) bool {
	if next <= p.ErrorTol {
		return true
	}
	absolute := current - next
	relative := absolute / current
	return relative <= p.RelativeErrorTol || absolute <= p.AbsoluteErrorTol
}

// GaussNewtonOptimizer minimizes the graph error by repeatedly solving the
// normal equations of the linearized problem.
type GaussNewtonOptimizer struct {
	graph      *Graph
	values     *Values
	params     Params
	iterations int
	err        float64
}

func NewGaussNewtonOptimizer(graph *Graph, initial *Values, params Params) *GaussNewtonOptimizer {
	return &GaussNewtonOptimizer{graph: graph, values: initial, params: params}
}

// Optimize runs to convergence and returns the optimized values. The initial
// values passed to the constructor are not modified.
func (o *GaussNewtonOptimizer) Optimize() (*Values, error) {
	current := o.values
	if current.Len() == 0 {
		o.err = 0
		return current.Clone(), nil
	}
	ord := newOrdering(current)

	for o.iterations = 0; o.iterations < o.params.MaxIterations; {
		ls, currentErr, err := buildLinearSystem(o.graph, current, ord)
		if err != nil {
			return nil, errors.Wrapf(err, "iteration %d", o.iterations)
		}
		o.err = currentErr
		if currentErr <= o.params.ErrorTol {
			return current, nil
		}

		delta, err := ls.solve(o.params.Linear, 0)
		if err != nil {
			return nil, errors.Wrapf(err, "iteration %d", o.iterations)
		}
		next := current.retract(ord, delta)
		nextErr, err := o.graph.Error(next)
		if err != nil {
			return nil, errors.Wrapf(err, "iteration %d", o.iterations)
		}
		o.iterations++
		current = next
		o.err = nextErr
		if o.params.checkConvergence(currentErr, nextErr) {
			return current, nil
		}
	}
	return nil, errors.Wrapf(ErrNotConverged, "%d iterations, error %g", o.iterations, o.err)
}

func (o *GaussNewtonOptimizer) Iterations() int {
	return o.iterations
}

// Error returns the graph error after the last iteration.
func (o *GaussNewtonOptimizer) Error() float64 {
	return o.err
}

// LevenbergMarquardtParams extends Params with the damping schedule.
type LevenbergMarquardtParams struct {
	Params
	LambdaInitial float64
	LambdaFactor  float64
	LambdaUpper   float64
	LambdaLower   float64
}

func DefaultLevenbergMarquardtParams() LevenbergMarquardtParams {
	return LevenbergMarquardtParams{
		Params:        DefaultParams(),
		LambdaInitial: 1e-5,
		LambdaFactor:  10,
		LambdaUpper:   1e5,
		LambdaLower:   0,
	}
}

// LevenbergMarquardtOptimizer は (H + λI)δ = -g を解き、誤差が減ったときだけステップを受け入れます。
type LevenbergMarquardtOptimizer struct {
	graph      *Graph
	values     *Values
	params     LevenbergMarquardtParams
	iterations int
	err        float64
	lambda     float64
}

func NewLevenbergMarquardtOptimizer(graph *Graph, initial *Values, params LevenbergMarquardtParams) *LevenbergMarquardtOptimizer {
	return &LevenbergMarquardtOptimizer{graph: graph, values: initial, params: params, lambda: params.LambdaInitial}
}

func (o *LevenbergMarquardtOptimizer) Optimize() (*Values, error) {
	current := o.values
	if current.Len() == 0 {
		o.err = 0
		return current.Clone(), nil
	}
	ord := newOrdering(current)

	for o.iterations = 0; o.iterations < o.params.MaxIterations; o.iterations++ {
		ls, currentErr, err := buildLinearSystem(o.graph, current, ord)
		if err != nil {
			return nil, errors.Wrapf(err, "iteration %d", o.iterations)
		}
		o.err = currentErr
		if currentErr <= o.params.ErrorTol {
			return current, nil
		}

		// λ を上げながら誤差が減るステップを探す
		accepted := false
		for !accepted {
			delta, err := ls.solve(o.params.Linear, o.lambda)
			nextErr := math.Inf(1)
			var next *Values
			if err == nil {
				next = current.retract(ord, delta)
				nextErr, err = o.graph.Error(next)
			}
			if err == nil && nextErr < currentErr {
				accepted = true
				current = next
				o.err = nextErr
				o.lambda = math.Max(o.lambda/o.params.LambdaFactor, o.params.LambdaLower)
				if o.params.checkConvergence(currentErr, nextErr) {
					o.iterations++
					return current, nil
				}
				continue
			}
			if err != nil && !errors.Is(err, ErrIndefinite) && !errors.Is(err, ErrNonFinite) {
				return nil, errors.Wrapf(err, "iteration %d", o.iterations)
			}
			if o.lambda >= o.params.LambdaUpper {
				// これ以上減衰させても改善しないので現在の推定値で収束とみなす
				return current, nil
			}
			o.lambda = math.Min(math.Max(o.lambda, 1e-12)*o.params.LambdaFactor, o.params.LambdaUpper)
		}
	}
	return nil, errors.Wrapf(ErrNotConverged, "%d iterations, error %g", o.iterations, o.err)
}

func (o *LevenbergMarquardtOptimizer) Iterations() int {
	return o.iterations
}

func (o *LevenbergMarquardtOptimizer) Error() float64 {
	return o.err
}

func (o *LevenbergMarquardtOptimizer) Lambda() float64 {
	return o.lambda
}
