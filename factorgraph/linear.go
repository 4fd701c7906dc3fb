package factorgraph

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// LinearSolverParams は正規方程式 Hδ = -g の解き方を決めます。
type LinearSolverParams struct {
	// DenseLimit 以下の次元では密なコレスキー分解、それを超えると前処理付き共役勾配法を使います。
	DenseLimit int
	// CGTolerance is the relative residual at which conjugate gradients stop.
	CGTolerance float64
	// CGMaxIterations caps conjugate gradient iterations; 0 means 10 × dimension.
	CGMaxIterations int
}

func DefaultLinearSolverParams() LinearSolverParams {
	return LinearSolverParams{
		DenseLimit:  1500,
		CGTolerance: 1e-10,
	}
}

// linearSystem はブロック疎な正規方程式 H = JᵀJ, g = Jᵀb を保持します。
// blocks[i][j] は変数 i, j の間の dims[i] x dims[j] ブロック (行優先) です。
type linearSystem struct {
	o      *ordering
	blocks []map[int][]float64
	g      []float64
}

// buildLinearSystem linearizes every factor at values. It also returns the
// graph error ½‖b‖² at values.
func buildLinearSystem(graph *Graph, values *Values, o *ordering) (*linearSystem, float64, error) {
	ls := &linearSystem{
		o:      o,
		blocks: make([]map[int][]float64, len(o.keys)),
		g:      make([]float64, o.n),
	}
	for i := range ls.blocks {
		ls.blocks[i] = make(map[int][]float64)
	}

	total := 0.0
	for _, f := range graph.factors {
		vars, err := lookup(f, values)
		if err != nil {
			return nil, 0, err
		}
		jacobians, b := linearize(f, vars)
		for _, r := range b {
			total += r * r
		}

		keys := f.Keys()
		idx := make([]int, len(keys))
		for k, key := range keys {
			i, ok := o.index[key]
			if !ok {
				return nil, 0, errors.Wrapf(ErrMissingKey, "key %d is not ordered", key)
			}
			idx[k] = i
		}

		m := len(b)
		for p := range keys {
			ip, dp, jp := idx[p], o.dims[idx[p]], jacobians[p]
			off := o.offsets[ip]
			for c := 0; c < dp; c++ {
				sum := 0.0
				for row := 0; row < m; row++ {
					sum += jp[row*dp+c] * b[row]
				}
				ls.g[off+c] += sum
			}
			for q := range keys {
				iq, dq, jq := idx[q], o.dims[idx[q]], jacobians[q]
				blk, ok := ls.blocks[ip][iq]
				if !ok {
					blk = make([]float64, dp*dq)
					ls.blocks[ip][iq] = blk
				}
				for r := 0; r < dp; r++ {
					for c := 0; c < dq; c++ {
						sum := 0.0
						for row := 0; row < m; row++ {
							sum += jp[row*dp+r] * jq[row*dq+c]
						}
						blk[r*dq+c] += sum
					}
				}
			}
		}
	}
	total *= 0.5
	if math.IsNaN(total) || math.IsInf(total, 0) {
		return nil, total, ErrNonFinite
	}
	return ls, total, nil
}

// solve は (H + λI)δ = -g を解きます。
func (ls *linearSystem) solve(params LinearSolverParams, lambda float64) ([]float64, error) {
	if ls.o.n <= params.DenseLimit {
		return ls.solveDense(lambda)
	}
	return ls.solveCG(params, lambda)
}

func (ls *linearSystem) solveDense(lambda float64) ([]float64, error) {
	o := ls.o
	h := mat.NewSymDense(o.n, nil)
	for i, row := range ls.blocks {
		for j, blk := range row {
			if j < i {
				continue
			}
			di, dj := o.dims[i], o.dims[j]
			oi, oj := o.offsets[i], o.offsets[j]
			for r := 0; r < di; r++ {
				for c := 0; c < dj; c++ {
					if i == j && c < r {
						continue
					}
					h.SetSym(oi+r, oj+c, blk[r*dj+c])
				}
			}
		}
	}
	if lambda != 0 {
		for i := 0; i < o.n; i++ {
			h.SetSym(i, i, h.At(i, i)+lambda)
		}
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(h); !ok {
		return nil, ErrIndefinite
	}
	rhs := make([]float64, o.n)
	floats.ScaleTo(rhs, -1, ls.g)
	x := mat.NewVecDense(o.n, nil)
	if err := chol.SolveVecTo(x, mat.NewVecDense(o.n, rhs)); err != nil {
		// 条件数の警告だけなら解はそのまま使える
		if _, ok := err.(mat.Condition); !ok {
			return nil, errors.Wrap(ErrIndefinite, err.Error())
		}
	}
	return x.RawVector().Data, nil
}

// mulVec computes y = (H + λI)x.
func (ls *linearSystem) mulVec(y, x []float64, lambda float64) {
	o := ls.o
	for i := range y {
		y[i] = lambda * x[i]
	}
	for i, row := range ls.blocks {
		di, oi := o.dims[i], o.offsets[i]
		for j, blk := range row {
			dj, oj := o.dims[j], o.offsets[j]
			for r := 0; r < di; r++ {
				sum := 0.0
				for c := 0; c < dj; c++ {
					sum += blk[r*dj+c] * x[oj+c]
				}
				y[oi+r] += sum
			}
		}
	}
}

// solveCG はブロックヤコビ前処理付き共役勾配法で解きます。
func (ls *linearSystem) solveCG(params LinearSolverParams, lambda float64) ([]float64, error) {
	o := ls.o
	n := o.n

	precond := make([]*mat.Cholesky, len(o.keys))
	for i := range o.keys {
		d := o.dims[i]
		blk := ls.blocks[i][i]
		if blk == nil {
			return nil, errors.Wrapf(ErrIndefinite, "variable %d is not constrained", o.keys[i])
		}
		s := mat.NewSymDense(d, nil)
		for r := 0; r < d; r++ {
			for c := r; c < d; c++ {
				s.SetSym(r, c, blk[r*d+c])
			}
			s.SetSym(r, r, s.At(r, r)+lambda)
		}
		var chol mat.Cholesky
		if ok := chol.Factorize(s); !ok {
			return nil, errors.Wrapf(ErrIndefinite, "diagonal block of variable %d", o.keys[i])
		}
		precond[i] = &chol
	}
	applyPrecond := func(z, r []float64) error {
		for i, chol := range precond {
			d, off := o.dims[i], o.offsets[i]
			dst := mat.NewVecDense(d, z[off:off+d])
			if err := chol.SolveVecTo(dst, mat.NewVecDense(d, r[off:off+d])); err != nil {
				if _, ok := err.(mat.Condition); !ok {
					return errors.Wrap(ErrIndefinite, err.Error())
				}
			}
		}
		return nil
	}

	b := make([]float64, n)
	floats.ScaleTo(b, -1, ls.g)
	bNorm := floats.Norm(b, 2)
	x := make([]float64, n)
	if bNorm == 0 {
		return x, nil
	}

	r := append([]float64(nil), b...)
	z := make([]float64, n)
	if err := applyPrecond(z, r); err != nil {
		return nil, err
	}
	p := append([]float64(nil), z...)
	ap := make([]float64, n)
	rz := floats.Dot(r, z)

	maxIter := params.CGMaxIterations
	if maxIter <= 0 {
		maxIter = 10 * n
	}
	for k := 0; k < maxIter; k++ {
		ls.mulVec(ap, p, lambda)
		pap := floats.Dot(p, ap)
		if !(pap > 0) {
			return nil, ErrIndefinite
		}
		alpha := rz / pap
		floats.AddScaled(x, alpha, p)
		floats.AddScaled(r, -alpha, ap)
		if floats.Norm(r, 2) <= params.CGTolerance*bNorm {
			return x, nil
		}
		if err := applyPrecond(z, r); err != nil {
			return nil, err
		}
		rzNext := floats.Dot(r, z)
		beta := rzNext / rz
		rz = rzNext
		floats.Scale(beta, p)
		floats.Add(p, z)
	}
	// 反復上限に達した場合は途中の解を返す
	return x, nil
}
