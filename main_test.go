package main

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"posegraph_bench/common"
	"posegraph_bench/factorgraph"
	"posegraph_bench/g2o"
)

const line2D = `VERTEX_SE2 0 0.1 -0.1 0.05
VERTEX_SE2 1 0.9 0.2 -0.1
VERTEX_SE2 2 2.1 0.1 0.05
EDGE_SE2 0 1 1 0 0 100 0 0 100 0 1000
EDGE_SE2 1 2 1 0 0 100 0 0 100 0 1000
`

func TestSolveCommandWritesEstimate(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "line.g2o")
	if err := os.WriteFile(in, []byte(line2D), 0644); err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(dir, "optimized.g2o")

	cmd := newSolveCommand(common.DefaultConfig())
	var stdout bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetArgs([]string{in, "--out", out})
	if err := cmd.Execute(); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"Solver: gauss-newton", "Initial error:", "Final error:", "Elapsed:"} {
		if !strings.Contains(stdout.String(), want) {
			t.Errorf("output lacks %q:\n%s", want, stdout.String())
		}
	}

	graph, values, err := g2o.ReadFile(out, false)
	if err != nil {
		t.Fatal(err)
	}
	// 事前分布は g2o に書かれない
	if graph.Len() != 2 {
		t.Errorf("written graph has %d edges, want 2", graph.Len())
	}
	if values.Len() != 3 {
		t.Fatalf("written estimate has %d poses, want 3", values.Len())
	}
	for i := 0; i < 3; i++ {
		got, ok := values.Pose2At(factorgraph.Key(i))
		if !ok {
			t.Fatalf("pose %d missing", i)
		}
		want := factorgraph.Pose2{X: float64(i)}
		for k, d := range want.Local(got) {
			if math.Abs(d) > 1e-4 {
				t.Errorf("pose %d component %d off by %g", i, k, d)
			}
		}
	}
}

func TestSolveCommandErrors(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "line.g2o")
	if err := os.WriteFile(in, []byte(line2D), 0644); err != nil {
		t.Fatal(err)
	}

	for name, args := range map[string][]string{
		"missing file":   {filepath.Join(dir, "missing.g2o")},
		"unknown solver": {in, "--solver", "dogleg"},
		"wrong dim":      {in, "--3d"},
	} {
		t.Run(name, func(t *testing.T) {
			cmd := newSolveCommand(common.DefaultConfig())
			cmd.SetOut(&bytes.Buffer{})
			cmd.SetErr(&bytes.Buffer{})
			cmd.SetArgs(args)
			if err := cmd.Execute(); err == nil {
				t.Errorf("solve %v succeeded, want error", args)
			}
		})
	}
}
