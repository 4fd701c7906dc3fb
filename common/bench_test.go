package common

import (
	"bytes"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap/zaptest"

	"posegraph_bench/factorgraph"
)

// gaussNewton は factorgraph の Gauss-Newton をそのまま呼び出すテスト用のソルバーです。
type gaussNewton struct {
	calls int
	last  *factorgraph.Values
}

func (s *gaussNewton) Name() string {
	return "gauss-newton"
}

func (s *gaussNewton) Solve(graph *factorgraph.Graph, initial *factorgraph.Values) (*factorgraph.Values, error) {
	s.calls++
	result, err := factorgraph.NewGaussNewtonOptimizer(graph, initial, factorgraph.DefaultParams()).Optimize()
	if err != nil {
		return nil, err
	}
	s.last = result
	return result, nil
}

// vandal は受け取った問題を書き換えます。
type vandal struct{}

func (vandal) Name() string {
	return "vandal"
}

func (vandal) Solve(graph *factorgraph.Graph, initial *factorgraph.Values) (*factorgraph.Values, error) {
	graph.Add(graph.At(0))
	if err := initial.Update(0, factorgraph.Pose2{X: 100}); err != nil {
		return nil, err
	}
	return initial, nil
}

type failing struct {
	err error
}

func (f failing) Name() string {
	return "failing"
}

func (f failing) Solve(*factorgraph.Graph, *factorgraph.Values) (*factorgraph.Values, error) {
	return nil, f.err
}

func testConfig(t *testing.T, minTrials, maxTrials int) *Config {
	t.Helper()
	config := DefaultConfig()
	config.MinTrials = minTrials
	config.MaxTrials = maxTrials
	config.ResultDir = t.TempDir()
	config.SessionID = "test"
	return config
}

func TestBenchEndToEnd(t *testing.T) {
	dir := t.TempDir()
	writeDataset(t, dir, "two.g2o", twoPoses2D)
	registry := &Registry{
		Dir: dir,
		Groups: []Group{
			{Title: "2d benchmarks", Datasets: []Dataset{{File: "two.g2o", Dim: Dim2}}},
			{Title: "empty benchmarks"},
		},
	}
	solver := &gaussNewton{}
	var out bytes.Buffer
	bench := &Bench{
		Config:   testConfig(t, 1, 1),
		Registry: registry,
		Solvers:  []Solver{solver},
		Out:      &out,
		Logger:   zaptest.NewLogger(t).Sugar(),
	}
	if err := bench.Run(); err != nil {
		t.Fatal(err)
	}

	if solver.calls != 1 {
		t.Errorf("solver called %d times, want 1", solver.calls)
	}
	p0, ok := solver.last.Pose2At(0)
	if !ok {
		t.Fatal("pose 0 missing from the optimized values")
	}
	for k, d := range factorgraph.Pose2Identity().Local(p0) {
		if d > 1e-6 || d < -1e-6 {
			t.Errorf("pose 0 component %d = %g, want ≈ 0", k, d)
		}
	}

	tables := strings.Split(out.String(), "\nIn Markdown format:\n")
	if len(tables) != 3 {
		t.Fatalf("found %d markdown tables, want 2:\n%s", len(tables)-1, out.String())
	}
	header := "| benchmark | args | fastest | median | mean |\n"
	if !strings.HasPrefix(tables[1], header+"| gauss-newton | two.g2o | ") {
		t.Errorf("2d table does not start with the expected row:\n%s", tables[1])
	}
	if !strings.Contains(tables[1], "=== empty benchmarks ===") {
		t.Errorf("empty group title missing:\n%s", tables[1])
	}
	if diff := cmp.Diff(header, tables[2]); diff != "" {
		t.Errorf("empty group table mismatch (-want +got):\n%s", diff)
	}
}

func TestMeasureStopsAtMaxTrials(t *testing.T) {
	path := writeDataset(t, t.TempDir(), "two.g2o", twoPoses2D)
	problem, err := Load(path, Dim2)
	if err != nil {
		t.Fatal(err)
	}
	config := testConfig(t, 2, 4)
	config.CVThreshold = 0
	solver := &gaussNewton{}
	bench := &Bench{Config: config, Out: &bytes.Buffer{}}
	result, err := bench.Measure(problem, solver)
	if err != nil {
		t.Fatal(err)
	}
	if result.Trials() != 4 || solver.calls != 4 {
		t.Errorf("got %d samples from %d calls, want 4", result.Trials(), solver.calls)
	}
	if result.Context != "gauss-newton" || result.Name != "two.g2o" {
		t.Errorf("result tagged %q/%q", result.Context, result.Name)
	}
	for i, d := range result.Elapsed {
		if d <= 0 {
			t.Errorf("sample %d = %v, want positive", i, d)
		}
	}
}

func TestMeasureIsolatesTrials(t *testing.T) {
	path := writeDataset(t, t.TempDir(), "two.g2o", twoPoses2D)
	problem, err := Load(path, Dim2)
	if err != nil {
		t.Fatal(err)
	}
	before, _ := problem.Values.Pose2At(0)
	factors := problem.Graph.Len()

	bench := &Bench{Config: testConfig(t, 3, 3), Out: &bytes.Buffer{}}
	if _, err := bench.Measure(problem, vandal{}); err != nil {
		t.Fatal(err)
	}
	if problem.Graph.Len() != factors {
		t.Errorf("template graph has %d factors after measuring, want %d", problem.Graph.Len(), factors)
	}
	if after, _ := problem.Values.Pose2At(0); after != before {
		t.Errorf("template pose 0 changed from %v to %v", before, after)
	}
}

func TestMeasureOptimizationError(t *testing.T) {
	path := writeDataset(t, t.TempDir(), "two.g2o", twoPoses2D)
	problem, err := Load(path, Dim2)
	if err != nil {
		t.Fatal(err)
	}
	bench := &Bench{Config: testConfig(t, 1, 5), Out: &bytes.Buffer{}}
	result, err := bench.Measure(problem, failing{err: factorgraph.ErrNotConverged})
	if result != nil {
		t.Error("Measure returned a result together with an error")
	}
	var oerr *OptimizationError
	if !errors.As(err, &oerr) {
		t.Fatalf("Measure error = %v (%T), want *OptimizationError", err, err)
	}
	if oerr.Trial != 1 || oerr.Context != "failing" || oerr.Dataset != "two.g2o" {
		t.Errorf("OptimizationError = %+v", oerr)
	}
	if !errors.Is(err, factorgraph.ErrNotConverged) {
		t.Errorf("Measure error = %v, want to wrap ErrNotConverged", err)
	}
}

func TestRunStopsOnLoadError(t *testing.T) {
	registry := &Registry{
		Dir:    t.TempDir(),
		Groups: []Group{{Title: "2d benchmarks", Datasets: []Dataset{{File: "missing.g2o", Dim: Dim2}}}},
	}
	solver := &gaussNewton{}
	var out bytes.Buffer
	bench := &Bench{Config: testConfig(t, 1, 1), Registry: registry, Solvers: []Solver{solver}, Out: &out}
	err := bench.Run()
	var lerr *DatasetLoadError
	if !errors.As(err, &lerr) {
		t.Fatalf("Run error = %v, want *DatasetLoadError", err)
	}
	if solver.calls != 0 {
		t.Errorf("solver called %d times after a load failure", solver.calls)
	}
	if strings.Contains(out.String(), "In Markdown format:") {
		t.Error("a table was rendered for a group that failed to load")
	}
}

func TestRunSavesCSV(t *testing.T) {
	dir := t.TempDir()
	writeDataset(t, dir, "two.g2o", twoPoses2D)
	registry := &Registry{
		Dir:    dir,
		Groups: []Group{{Title: "2d benchmarks", Datasets: []Dataset{{File: "two.g2o", Dim: Dim2}}}},
	}
	config := testConfig(t, 2, 2)
	config.Store = StoreCSV
	store := NewCSVStore(config)
	bench := &Bench{Config: config, Registry: registry, Solvers: []Solver{&gaussNewton{}}, Store: store, Out: &bytes.Buffer{}}
	if err := bench.Run(); err != nil {
		t.Fatal(err)
	}

	want := filepath.Join(config.ResultDir, "test-2d-benchmarks.csv")
	if diff := cmp.Diff([]string{want}, store.Files()); diff != "" {
		t.Fatalf("saved files mismatch (-want +got):\n%s", diff)
	}
	f, err := os.Open(want)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("csv has %d records, want 2", len(records))
	}
	if diff := cmp.Diff([]string{"DATASET", "SOLVER", "MILLISECONDS"}, records[0]); diff != "" {
		t.Errorf("csv header mismatch (-want +got):\n%s", diff)
	}
	if records[1][0] != "two.g2o" || records[1][1] != "gauss-newton" || len(records[1]) != 4 {
		t.Errorf("csv row = %v", records[1])
	}
}

func TestSlug(t *testing.T) {
	for in, want := range map[string]string{
		"3d benchmarks":     "3d-benchmarks",
		"  2D Benchmarks! ": "2d-benchmarks",
		"a__b":              "a-b",
	} {
		if got := Slug(in); got != want {
			t.Errorf("Slug(%q) = %q, want %q", in, got, want)
		}
	}
}
