package common

import (
	"fmt"
	"io"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/perf/benchmath"
)

// Baseline は以前のセッションの計測値を引き当てられる保存先です。
type Baseline interface {
	Previous(context, name string) ([]time.Duration, bool, error)
}

// Comparison は 1 行分の比較結果です。
type Comparison struct {
	Context string
	Name    string
	Old     benchmath.Summary
	New     benchmath.Summary
	Result  benchmath.Comparison
}

// Delta は中央値の変化を "+12.34%" の形式で返します。有意差がなければ "~" です。
func (c *Comparison) Delta() string {
	return c.Result.FormatDelta(c.Old.Center, c.New.Center)
}

func durationsToMilliseconds(ds []time.Duration) []float64 {
	ms := make([]float64, len(ds))
	for i, d := range ds {
		ms[i] = float64(d.Nanoseconds()) / 1000.0 / 1000.0
	}
	return ms
}

// CompareResults は baseline にある結果だけを分布を仮定せずに比較します。
func CompareResults(baseline Baseline, results []*Result) ([]*Comparison, error) {
	thresholds := benchmath.DefaultThresholds
	var out []*Comparison
	for _, r := range results {
		previous, ok, err := baseline.Previous(r.Context, r.Name)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read the baseline of %s/%s", r.Context, r.Name)
		}
		if !ok || len(previous) == 0 || len(r.Elapsed) == 0 {
			continue
		}
		oldSample := benchmath.NewSample(durationsToMilliseconds(previous), &thresholds)
		newSample := benchmath.NewSample(r.milliseconds(), &thresholds)
		out = append(out, &Comparison{
			Context: r.Context,
			Name:    r.Name,
			Old:     benchmath.AssumeNothing.Summary(oldSample, 0.95),
			New:     benchmath.AssumeNothing.Summary(newSample, 0.95),
			Result:  benchmath.AssumeNothing.Compare(oldSample, newSample),
		})
	}
	return out, nil
}

// Compare は前回セッションとの比較を markdown の表として書き出します。比較対象がなければ何も書きません。
func Compare(w io.Writer, baseline Baseline, results []*Result) error {
	comparisons, err := CompareResults(baseline, results)
	if err != nil {
		return err
	}
	if len(comparisons) == 0 {
		return nil
	}
	if _, err := fmt.Fprint(w, "\nCompared with the previous session:\n| benchmark | args | old | new | delta | p |\n"); err != nil {
		return errors.WithStack(err)
	}
	for _, c := range comparisons {
		_, err := fmt.Fprintf(w, "| %s | %s | %.3fms %s | %.3fms %s | %s | %s |\n",
			c.Context, c.Name,
			c.Old.Center, c.Old.PctRangeString(),
			c.New.Center, c.New.PctRangeString(),
			c.Delta(), c.Result.String())
		if err != nil {
			return errors.WithStack(err)
		}
	}
	return nil
}
