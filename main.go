package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"posegraph_bench/common"
	"posegraph_bench/doltdb"
	"posegraph_bench/g2o"
	"posegraph_bench/iavl"
	"posegraph_bench/solver"
)

func newLogger(verbose bool) *zap.SugaredLogger {
	config := zap.NewDevelopmentConfig()
	config.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if verbose {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	logger, err := config.Build()
	if err != nil {
		panic(fmt.Errorf("failed to create logger: %w", err))
	}
	return logger.Sugar()
}

func openStore(config *common.Config) common.ResultStore {
	switch config.Store {
	case common.StoreCSV:
		return common.NewCSVStore(config)
	case common.StoreDolt:
		return doltdb.NewStore(config.DatabasePath("doltdb"), config.SessionID)
	case common.StoreIAVL:
		return iavl.NewStore(config.DatabasePath("iavl"))
	default:
		return nil
	}
}

func runBenchmarks(cmd *cobra.Command, config *common.Config) error {
	logger := newLogger(config.Verbose)
	defer logger.Sync()

	solvers, err := solver.ByName(config.Solvers, config.MaxIterations)
	if err != nil {
		return err
	}
	common.PrintSystemInfo(cmd.OutOrStdout(), "Pose Graph Optimization Benchmark", config)

	bench := &common.Bench{
		Config:   config,
		Registry: common.DefaultRegistry(config.DataDir),
		Solvers:  solvers,
		Store:    openStore(config),
		Out:      cmd.OutOrStdout(),
		Logger:   logger,
	}
	return bench.Run()
}

func newSolveCommand(config *common.Config) *cobra.Command {
	var is3D bool
	var out string
	var solverName string
	cmd := &cobra.Command{
		Use:   "solve FILE",
		Short: "Optimize a single g2o file once and report the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(config.Verbose)
			defer logger.Sync()

			dim := common.Dim2
			if is3D {
				dim = common.Dim3
			}
			t0 := time.Now()
			problem, err := common.Load(args[0], dim)
			if err != nil {
				return err
			}
			logger.Infow("dataset loaded", "path", args[0], "factors", problem.Graph.Len(), "poses", problem.Values.Len(), "elapsed", time.Since(t0))

			solvers, err := solver.ByName([]string{solverName}, config.MaxIterations)
			if err != nil {
				return err
			}
			s := solvers[0]
			before, err := problem.Graph.Error(problem.Values)
			if err != nil {
				return err
			}
			t1 := time.Now()
			result, err := s.Solve(problem.Graph, problem.Values)
			if err != nil {
				return &common.OptimizationError{Context: s.Name(), Dataset: problem.Dataset.File, Trial: 1, Err: err}
			}
			elapsed := time.Since(t1)
			after, err := problem.Graph.Error(result)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Solver: %s\n", s.Name())
			fmt.Fprintf(w, "Initial error: %g\n", before)
			fmt.Fprintf(w, "Final error: %g\n", after)
			fmt.Fprintf(w, "Elapsed: %v\n", elapsed.Round(time.Microsecond))

			if out != "" {
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				defer f.Close()
				if err := g2o.Write(f, problem.Graph, result); err != nil {
					return err
				}
				if err := f.Close(); err != nil {
					return err
				}
				logger.Infow("optimized estimate written", "path", out)
			}
			return nil
		},
	}
	flags := cmd.Flags()
	flags.BoolVar(&is3D, "3d", false, "The file contains SE(3) records")
	flags.StringVar(&out, "out", "", "Write the optimized estimate to this g2o file")
	flags.StringVar(&solverName, "solver", common.DefaultSolver, "Solver to run")
	return cmd
}

func main() {
	rootCmd, config := common.ParseCommandLine(
		"Pose Graph Optimization Benchmark Tool",
		`Pose Graph Optimization Benchmark Tool

  This tool loads standard SLAM pose graphs in g2o format, anchors pose 0 with a
  prior and measures how long the nonlinear least-squares solvers take to
  converge. The fastest, median and mean time of each dataset is printed as a
  markdown table per dataset group.
`,
		runBenchmarks,
	)
	rootCmd.AddCommand(newSolveCommand(config))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
