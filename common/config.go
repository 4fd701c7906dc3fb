package common

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// ベンチマーク設定
const (
	MaxTrials        = 1000 // 最大試行回数
	MinTrials        = 5    // 最小試行回数
	CVThreshold      = 0.05 // 標準偏差/平均値のしきい値 (5%)
	DefaultTimeout   = 10 * time.Minute
	DefaultDataDir   = "examples/data"
	DefaultResultDir = "." // デフォルトの結果出力ディレクトリ
	DefaultSolver    = "gauss-newton"
)

// 結果の保存先
const (
	StoreNone = "none"
	StoreCSV  = "csv"
	StoreDolt = "dolt"
	StoreIAVL = "iavl"
)

// コマンドライン引数
type Config struct {
	DataDir       string
	ResultDir     string
	PlotDir       string
	SessionID     string
	Timeout       time.Duration
	MinTrials     int
	MaxTrials     int
	CVThreshold   float64
	Solvers       []string
	Store         string
	MaxIterations int
	Verbose       bool
}

func DefaultConfig() *Config {
	return &Config{
		DataDir:       DefaultDataDir,
		ResultDir:     DefaultResultDir,
		SessionID:     time.Now().Format("20060102150405"),
		Timeout:       DefaultTimeout,
		MinTrials:     MinTrials,
		MaxTrials:     MaxTrials,
		CVThreshold:   CVThreshold,
		Solvers:       []string{DefaultSolver},
		Store:         StoreNone,
		MaxIterations: 100,
	}
}

// Validate は引数の組み合わせを検査し、出力ディレクトリを作成します。
func (c *Config) Validate() error {
	if c.MinTrials < 1 {
		return errors.Errorf("--min-trials must be positive: %d", c.MinTrials)
	}
	if c.MaxTrials < c.MinTrials {
		return errors.Errorf("--max-trials (%d) must not be less than --min-trials (%d)", c.MaxTrials, c.MinTrials)
	}
	if c.MaxIterations < 1 {
		return errors.Errorf("--max-iterations must be positive: %d", c.MaxIterations)
	}
	if len(c.Solvers) == 0 {
		return errors.New("at least one --solver is required")
	}
	switch c.Store {
	case StoreNone:
	case StoreCSV, StoreDolt, StoreIAVL:
		c.ResultDir = CreateDirectory(c.ResultDir)
	default:
		return errors.Errorf("unknown --store %q (none, csv, dolt or iavl)", c.Store)
	}
	if c.PlotDir != "" {
		c.PlotDir = CreateDirectory(c.PlotDir)
	}
	return nil
}

// コマンドライン引数の解析
// 戻り値のコマンドを Execute すると、引数を config に反映してから run を呼び出します。
func ParseCommandLine(short, long string, run func(cmd *cobra.Command, config *Config) error) (*cobra.Command, *Config) {
	config := DefaultConfig()

	rootCmd := &cobra.Command{
		Use:           filepath.Base(os.Args[0]),
		Short:         short,
		Long:          long,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.Validate()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, config)
		},
	}
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&config.DataDir, "data", "d", config.DataDir, "Directory containing the g2o datasets")
	flags.StringVarP(&config.ResultDir, "output", "o", config.ResultDir, "Directory to save result files")
	flags.StringVarP(&config.SessionID, "session", "s", config.SessionID, "Session name for result file naming")
	flags.DurationVar(&config.Timeout, "timeout", config.Timeout, "Per-dataset benchmark timeout (e.g., 30s, 5m)")
	flags.IntVar(&config.MaxIterations, "max-iterations", config.MaxIterations, "Maximum solver iterations")
	flags.BoolVarP(&config.Verbose, "verbose", "v", false, "Enable debug logging")

	local := rootCmd.Flags()
	local.IntVar(&config.MinTrials, "min-trials", config.MinTrials, "Minimum number of trials per dataset")
	local.IntVar(&config.MaxTrials, "max-trials", config.MaxTrials, "Maximum number of trials per dataset")
	local.Float64Var(&config.CVThreshold, "cv", config.CVThreshold, "Stop when stddev/mean falls below this threshold")
	local.StringSliceVar(&config.Solvers, "solver", config.Solvers, "Solver under test (gauss-newton, levenberg-marquardt); repeatable")
	local.StringVar(&config.Store, "store", config.Store, "Result store: none, csv, dolt or iavl")
	local.StringVar(&config.PlotDir, "plot", "", "Directory to save box plots of the samples (disabled if empty)")

	return rootCmd, config
}

// システム情報の表示
func PrintSystemInfo(out io.Writer, title string, config *Config) {
	fmt.Fprintf(out, "=== %s ===\n", title)
	fmt.Fprintf(out, "Data directory: %s\n", config.DataDir)
	fmt.Fprintf(out, "Result store: %s\n", config.Store)
	if config.Store != StoreNone {
		fmt.Fprintf(out, "Result directory: %s\n", config.ResultDir)
	}
	fmt.Fprintf(out, "Session ID: %s\n", config.SessionID)
	fmt.Fprintf(out, "Solvers: %s\n", strings.Join(config.Solvers, ", "))
	fmt.Fprintf(out, "Max trials: %d\n", config.MaxTrials)
	fmt.Fprintf(out, "Min trials: %d\n", config.MinTrials)
	fmt.Fprintf(out, "Timeout: %v\n", config.Timeout)
	fmt.Fprintf(out, "StdDev threshold: %.1f%%\n", config.CVThreshold*100)
	fmt.Fprintf(out, "Max iterations: %d\n", config.MaxIterations)
	fmt.Fprintln(out)
}

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// Slug はタイトルをファイル名に使える形にします。
func Slug(title string) string {
	return strings.Trim(slugPattern.ReplaceAllString(strings.ToLower(title), "-"), "-")
}

func (c *Config) DatabasePath(name string) string {
	return filepath.Join(c.ResultDir, fmt.Sprintf("posegraph_bench-%s.db", name))
}

func (c *Config) ResultFile(id, ext string) string {
	return filepath.Join(c.ResultDir, fmt.Sprintf("%s-%s.%s", c.SessionID, id, ext))
}

func CreateDirectory(path string) string {
	absPath, err := filepath.Abs(path)
	if err != nil {
		panic(fmt.Errorf("Error: Failed to get absolute path for '%s': %v\n", path, err))
	}
	if err := os.MkdirAll(absPath, 0755); err != nil {
		panic(fmt.Errorf("Error: Failed to create working directory '%s': %v\n", absPath, err))
	}
	return absPath
}
