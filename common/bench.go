package common

import (
	"fmt"
	"io"
	"path/filepath"
	"runtime"
	"time"

	"go.uber.org/zap"

	"posegraph_bench/factorgraph"
)

// Solver は計測対象の最適化手法です。Solve は呼び出しごとに新しいオプティマイザを構築し、収束するまで実行します。
type Solver interface {
	Name() string
	Solve(graph *factorgraph.Graph, initial *factorgraph.Values) (*factorgraph.Values, error)
}

// OptimizationError は計測中にソルバーが失敗したことを表します。
type OptimizationError struct {
	Context string
	Dataset string
	Trial   int
	Err     error
}

func (e *OptimizationError) Error() string {
	return fmt.Sprintf("%s failed on %s at trial %d: %v", e.Context, e.Dataset, e.Trial, e.Err)
}

func (e *OptimizationError) Unwrap() error {
	return e.Err
}

// Bench はレジストリの全データセットを全ソルバーで計測します。
type Bench struct {
	Config   *Config
	Registry *Registry
	Solvers  []Solver
	Store    ResultStore // nil なら保存しない
	Out      io.Writer
	Logger   *zap.SugaredLogger
}

func (b *Bench) logger() *zap.SugaredLogger {
	if b.Logger == nil {
		return zap.NewNop().Sugar()
	}
	return b.Logger
}

// Run は各グループを計測し、グループごとに markdown の表を出力します。
func (b *Bench) Run() error {
	if b.Store != nil {
		if err := b.Store.Open(); err != nil {
			return err
		}
		defer func() {
			if err := b.Store.Close(); err != nil {
				b.logger().Errorw("failed to close the result store", "error", err)
			}
		}()
	}

	for _, group := range b.Registry.Groups {
		results, err := b.RunGroup(group)
		if err != nil {
			return err
		}

		fmt.Fprint(b.Out, "\nIn Markdown format:\n")
		if err := Render(b.Out, Markdown(), group.Title, results); err != nil {
			return err
		}

		if baseline, ok := b.Store.(Baseline); ok {
			if err := Compare(b.Out, baseline, results); err != nil {
				return err
			}
		}
		if b.Store != nil {
			if err := b.Store.Save(group.Title, results); err != nil {
				return err
			}
			b.logger().Infow("results saved", "group", group.Title, "store", b.Config.Store)
		}
		if b.Config.PlotDir != "" {
			path := filepath.Join(b.Config.PlotDir, fmt.Sprintf("%s-%s.png", b.Config.SessionID, Slug(group.Title)))
			if err := SavePlot(path, group.Title, results); err != nil {
				return err
			}
			b.logger().Infow("plot saved", "path", path)
		}
	}
	return nil
}

// RunGroup はグループ内のデータセットを順に読み込み、ソルバーごとに計測します。
// 結果の並びはデータセットの並び順、その中でソルバーの並び順です。
func (b *Bench) RunGroup(group Group) ([]*Result, error) {
	fmt.Fprintln(b.Out, time.Now().Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(b.Out, "=== %s ===\n", group.Title)

	results := make([]*Result, 0, len(group.Datasets)*len(b.Solvers))
	for _, ds := range group.Datasets {
		path := b.Registry.Path(ds)
		t0 := time.Now()
		problem, err := Load(path, ds.Dim)
		if err != nil {
			return nil, err
		}
		b.logger().Debugw("dataset loaded",
			"path", path, "dim", ds.Dim.String(),
			"factors", problem.Graph.Len(), "poses", problem.Values.Len(),
			"elapsed", time.Since(t0))

		for _, solver := range b.Solvers {
			result, err := b.Measure(problem, solver)
			if err != nil {
				return nil, err
			}
			result.Title = group.Title
			results = append(results, result)
		}
	}
	return results, nil
}

// Measure は problem を solver で繰り返し解き、1 回ごとの所要時間を記録します。
// 複製と GC は計測区間の外で行います。変動係数が十分小さくなるか、
// 最大試行回数またはタイムアウトに達するまで繰り返し、少なくとも 1 回は計測します。
func (b *Bench) Measure(problem *Problem, solver Solver) (*Result, error) {
	config := b.Config
	result := &Result{Context: solver.Name(), Name: problem.Dataset.File}

	timer := NewExpirationTimer(b.Out, config.Timeout, 1, config.MaxTrials, 10)
	timer.Heading()
	for trial := 1; ; trial++ {
		graph, values := problem.Clone()
		runtime.GC()

		start := time.Now()
		optimized, err := solver.Solve(graph, values)
		if err == nil {
			DoNotOptimizeAway(optimized)
		}
		elapsed := time.Since(start)
		if err != nil {
			return nil, &OptimizationError{Context: solver.Name(), Dataset: problem.Dataset.File, Trial: trial, Err: err}
		}
		result.Add(elapsed)
		notify := timer.CarriedOut(1)

		if trial >= config.MinTrials && result.IsCVSufficient(config.CVThreshold) {
			timer.Summary(result)
			break
		}
		if trial >= config.MaxTrials {
			timer.Summary(result)
			break
		}
		if timer.Expired() {
			timer.Summary(result)
			fmt.Fprintln(b.Out, "** TIMED OUT **")
			b.logger().Warnw("benchmark timed out", "dataset", result.Name, "solver", result.Context, "trials", trial)
			break
		}
		if notify {
			timer.Summary(result)
		}
	}
	return result, nil
}
