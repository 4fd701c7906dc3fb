package factorgraph

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

func mustDiagonal(t testing.TB, variances ...float64) *Diagonal {
	t.Helper()
	d, err := NewDiagonalVariances(variances...)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func mustBetween(t testing.TB, g *Graph, i, j Key, z Variable, noise NoiseModel) {
	t.Helper()
	f, err := NewBetweenFactor(i, j, z, noise)
	if err != nil {
		t.Fatal(err)
	}
	g.Add(f)
}

// square2D は一周 4 ポーズの正方形ループを作ります。初期値にはノイズを加えます。
func square2D(t testing.TB) (*Graph, *Values, []Pose2) {
	t.Helper()
	truth := []Pose2{
		{X: 0, Y: 0, Theta: 0},
		{X: 2, Y: 0, Theta: math.Pi / 2},
		{X: 2, Y: 2, Theta: math.Pi},
		{X: 0, Y: 2, Theta: -math.Pi / 2},
	}
	noise := mustDiagonal(t, 0.01, 0.01, 0.001)
	g := NewGraph()
	for i := range truth {
		j := (i + 1) % len(truth)
		z := truth[i].Inverse().Compose(truth[j])
		mustBetween(t, g, Key(i), Key(j), z, noise)
	}
	if err := g.AddPrior(0, Pose2Identity(), mustDiagonal(t, 1e-6, 1e-6, 1e-8)); err != nil {
		t.Fatal(err)
	}

	initial := NewValues()
	perturb := []Pose2{{0.1, -0.1, 0.05}, {-0.2, 0.1, -0.1}, {0.15, 0.2, 0.1}, {-0.1, -0.2, -0.05}}
	for i, p := range truth {
		if err := initial.Insert(Key(i), p.Compose(perturb[i])); err != nil {
			t.Fatal(err)
		}
	}
	return g, initial, truth
}

func TestDiagonalVariances(t *testing.T) {
	d := mustDiagonal(t, 1e-6, 1e-6, 1e-8)
	if diff := cmp.Diff([]float64{1e-6, 1e-6, 1e-8}, d.Variances(), cmpopts.EquateApprox(1e-12, 0)); diff != "" {
		t.Errorf("variances mismatch (-want +got):\n%s", diff)
	}
	v := []float64{1, 1, 1}
	d.WhitenInPlace(v)
	if diff := cmp.Diff([]float64{1e3, 1e3, 1e4}, v, cmpopts.EquateApprox(1e-12, 0)); diff != "" {
		t.Errorf("whitened mismatch (-want +got):\n%s", diff)
	}

	for _, bad := range [][]float64{{}, {0}, {1, -1}, {math.NaN()}, {math.Inf(1)}} {
		if _, err := NewDiagonalVariances(bad...); err == nil {
			t.Errorf("NewDiagonalVariances(%v) succeeded, want error", bad)
		}
	}
}

func TestNewInformation(t *testing.T) {
	diag := mat.NewSymDense(3, []float64{4, 0, 0, 0, 25, 0, 0, 0, 100})
	n, err := NewInformation(diag)
	if err != nil {
		t.Fatal(err)
	}
	d, ok := n.(*Diagonal)
	if !ok {
		t.Fatalf("NewInformation(diagonal) = %T, want *Diagonal", n)
	}
	if diff := cmp.Diff([]float64{0.5, 0.2, 0.1}, d.Sigmas(), approx); diff != "" {
		t.Errorf("sigmas mismatch (-want +got):\n%s", diff)
	}

	full := mat.NewSymDense(2, []float64{4, 1, 1, 3})
	n, err = NewInformation(full)
	if err != nil {
		t.Fatal(err)
	}
	gauss, ok := n.(*Gaussian)
	if !ok {
		t.Fatalf("NewInformation(full) = %T, want *Gaussian", n)
	}
	if !mat.EqualApprox(full, gauss.Information(), 1e-12) {
		t.Errorf("RᵀR = %v, want %v", mat.Formatted(gauss.Information()), mat.Formatted(full))
	}
	// ‖Re‖² = eᵀ I e
	e := []float64{0.3, -0.7}
	w := append([]float64(nil), e...)
	gauss.WhitenInPlace(w)
	want := mat.Inner(mat.NewVecDense(2, e), full, mat.NewVecDense(2, e))
	if got := w[0]*w[0] + w[1]*w[1]; math.Abs(got-want) > 1e-12 {
		t.Errorf("‖Re‖² = %g, want %g", got, want)
	}

	if _, err := NewInformation(mat.NewSymDense(2, []float64{1, 2, 2, 1})); err == nil {
		t.Error("NewInformation(indefinite) succeeded, want error")
	}
}

func TestGraphCloneIsIndependent(t *testing.T) {
	g, values, _ := square2D(t)
	clone := g.Clone()
	if clone.Len() != g.Len() {
		t.Fatalf("clone has %d factors, want %d", clone.Len(), g.Len())
	}
	for i := 0; i < g.Len(); i++ {
		if clone.At(i) == g.At(i) {
			t.Errorf("factor %d is shared between graph and clone", i)
		}
	}
	clone.Add(g.At(0))
	if g.Len() == clone.Len() {
		t.Error("adding to the clone changed the original")
	}

	vc := values.Clone()
	if err := vc.Update(0, Pose2{X: 100}); err != nil {
		t.Fatal(err)
	}
	if p, _ := values.Pose2At(0); p.X == 100 {
		t.Error("updating the cloned values changed the original")
	}
}

func TestValuesInsertUpdate(t *testing.T) {
	v := NewValues()
	if err := v.Insert(3, Pose2Identity()); err != nil {
		t.Fatal(err)
	}
	if err := v.Insert(1, Pose2Identity()); err != nil {
		t.Fatal(err)
	}
	if err := v.Insert(3, Pose2Identity()); err == nil {
		t.Error("duplicate Insert succeeded, want error")
	}
	if err := v.Update(7, Pose2Identity()); !errors.Is(err, ErrMissingKey) {
		t.Errorf("Update(missing) = %v, want ErrMissingKey", err)
	}
	if diff := cmp.Diff([]Key{1, 3}, v.Keys()); diff != "" {
		t.Errorf("keys mismatch (-want +got):\n%s", diff)
	}
}

func TestGaussNewtonSquare2D(t *testing.T) {
	g, initial, truth := square2D(t)
	before, err := g.Error(initial)
	if err != nil {
		t.Fatal(err)
	}

	opt := NewGaussNewtonOptimizer(g, initial, DefaultParams())
	result, err := opt.Optimize()
	if err != nil {
		t.Fatal(err)
	}
	if opt.Iterations() == 0 {
		t.Error("optimizer reported zero iterations")
	}
	if opt.Error() >= before {
		t.Errorf("final error %g is not below initial error %g", opt.Error(), before)
	}
	for i, want := range truth {
		got, ok := result.Pose2At(Key(i))
		if !ok {
			t.Fatalf("pose %d missing from result", i)
		}
		if d := Pose2Log(want.Inverse().Compose(got).(Pose2)); math.Abs(d[0])+math.Abs(d[1])+math.Abs(d[2]) > 1e-5 {
			t.Errorf("pose %d = %v, want %v", i, got, want)
		}
	}

	// 初期値は変更されない
	p0, _ := initial.Pose2At(0)
	if p0 == truth[0] {
		t.Error("initial values were modified by Optimize")
	}
}

func TestGaussNewtonConjugateGradientMatchesDense(t *testing.T) {
	g, initial, _ := square2D(t)

	dense := DefaultParams()
	dense.MaxIterations = 1
	dense.RelativeErrorTol, dense.AbsoluteErrorTol = math.Inf(1), math.Inf(1)
	sparse := dense
	sparse.Linear.DenseLimit = 0

	a, err := NewGaussNewtonOptimizer(g, initial, dense).Optimize()
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewGaussNewtonOptimizer(g, initial, sparse).Optimize()
	if err != nil {
		t.Fatal(err)
	}
	for _, key := range a.Keys() {
		pa, _ := a.Pose2At(key)
		pb, _ := b.Pose2At(key)
		if diff := cmp.Diff(make([]float64, 3), pa.Local(pb), cmpopts.EquateApprox(0, 1e-6)); diff != "" {
			t.Errorf("pose %d differs between dense and CG:\n%s", key, diff)
		}
	}
}

func TestGaussNewton3DChain(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	const n = 6
	truth := make([]Pose3, n)
	truth[0] = Pose3Identity()
	for i := 1; i < n; i++ {
		step := Pose3Exp([]float64{0, 0, 0.3, 1, 0, 0.1})
		truth[i] = truth[i-1].Compose(step).(Pose3)
	}

	noise := mustDiagonal(t, 1e-4, 1e-4, 1e-4, 1e-2, 1e-2, 1e-2)
	g := NewGraph()
	for i := 0; i+1 < n; i++ {
		mustBetween(t, g, Key(i), Key(i+1), truth[i].Inverse().Compose(truth[i+1]), noise)
	}
	// ループ閉じ込み
	mustBetween(t, g, 0, n-1, truth[0].Inverse().Compose(truth[n-1]), noise)
	if err := g.AddPrior(0, Pose3Identity(), mustDiagonal(t, 1e-6, 1e-6, 1e-6, 1e-4, 1e-4, 1e-4)); err != nil {
		t.Fatal(err)
	}

	initial := NewValues()
	for i, p := range truth {
		xi := make([]float64, 6)
		for k := range xi {
			xi[k] = 0.05 * rng.NormFloat64()
		}
		if err := initial.Insert(Key(i), p.Retract(xi)); err != nil {
			t.Fatal(err)
		}
	}

	result, err := NewGaussNewtonOptimizer(g, initial, DefaultParams()).Optimize()
	if err != nil {
		t.Fatal(err)
	}
	for i, want := range truth {
		got, _ := result.Pose3At(Key(i))
		for k, d := range want.Local(got) {
			if math.Abs(d) > 1e-4 {
				t.Errorf("pose %d component %d off by %g", i, k, d)
			}
		}
	}
}

func TestGaussNewtonNotConverged(t *testing.T) {
	g, initial, _ := square2D(t)
	params := DefaultParams()
	params.MaxIterations = 1
	params.RelativeErrorTol, params.AbsoluteErrorTol = -1, -1
	_, err := NewGaussNewtonOptimizer(g, initial, params).Optimize()
	if !errors.Is(err, ErrNotConverged) {
		t.Errorf("Optimize() error = %v, want ErrNotConverged", err)
	}
}

func TestGaussNewtonMissingKey(t *testing.T) {
	g, initial, _ := square2D(t)
	mustBetween(t, g, 0, 42, Pose2Identity(), mustDiagonal(t, 1, 1, 1))
	_, err := NewGaussNewtonOptimizer(g, initial, DefaultParams()).Optimize()
	if !errors.Is(err, ErrMissingKey) {
		t.Errorf("Optimize() error = %v, want ErrMissingKey", err)
	}
}

func TestLevenbergMarquardtSquare2D(t *testing.T) {
	g, initial, truth := square2D(t)
	params := DefaultLevenbergMarquardtParams()
	opt := NewLevenbergMarquardtOptimizer(g, initial, params)
	if opt.Lambda() != params.LambdaInitial {
		t.Errorf("initial Lambda() = %g, want %g", opt.Lambda(), params.LambdaInitial)
	}
	result, err := opt.Optimize()
	if err != nil {
		t.Fatal(err)
	}
	if n := opt.Iterations(); n < 1 || n > params.MaxIterations {
		t.Errorf("Iterations() = %d, want within [1, %d]", n, params.MaxIterations)
	}
	if l := opt.Lambda(); l < params.LambdaLower || l > params.LambdaUpper {
		t.Errorf("Lambda() = %g, want within [%g, %g]", l, params.LambdaLower, params.LambdaUpper)
	}
	if before, _ := g.Error(initial); opt.Error() >= before {
		t.Errorf("Error() = %g, want below the initial error %g", opt.Error(), before)
	}
	for i, want := range truth {
		got, _ := result.Pose2At(Key(i))
		for k, d := range want.Local(got) {
			if math.Abs(d) > 1e-5 {
				t.Errorf("pose %d component %d off by %g", i, k, d)
			}
		}
	}
}

func BenchmarkGaussNewtonSquare2D(b *testing.B) {
	g, initial, _ := square2D(b)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := NewGaussNewtonOptimizer(g.Clone(), initial.Clone(), DefaultParams()).Optimize(); err != nil {
			b.Fatal(err)
		}
	}
}
