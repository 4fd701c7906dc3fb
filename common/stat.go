package common

import (
	"fmt"
	"io"
	"math"
	"slices"
	"strings"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Result は 1 つの (ソルバー, データセット) の計測結果です。
type Result struct {
	Title   string
	Context string
	Name    string
	Elapsed []time.Duration
}

func (r *Result) Add(d time.Duration) {
	r.Elapsed = append(r.Elapsed, d)
}

func (r *Result) Trials() int {
	return len(r.Elapsed)
}

// milliseconds は計測値をミリ秒の float64 に変換します。
func (r *Result) milliseconds() []float64 {
	ms := make([]float64, len(r.Elapsed))
	for i, d := range r.Elapsed {
		ms[i] = float64(d.Nanoseconds()) / 1000.0 / 1000.0
	}
	return ms
}

func fromMilliseconds(ms float64) time.Duration {
	return time.Duration(math.Round(ms * 1000.0 * 1000.0))
}

func (r *Result) Minimum() time.Duration {
	if len(r.Elapsed) == 0 {
		return 0
	}
	return fromMilliseconds(floats.Min(r.milliseconds()))
}

func (r *Result) Maximum() time.Duration {
	if len(r.Elapsed) == 0 {
		return 0
	}
	return fromMilliseconds(floats.Max(r.milliseconds()))
}

// Median は中央値です。偶数個の場合は中央 2 つの平均を返します。
func (r *Result) Median() time.Duration {
	if len(r.Elapsed) == 0 {
		return 0
	}
	return fromMilliseconds(median(r.milliseconds()))
}

func (r *Result) Mean() time.Duration {
	if len(r.Elapsed) == 0 {
		return 0
	}
	return fromMilliseconds(stat.Mean(r.milliseconds(), nil))
}

// MeanStdDev は平均と標本標準偏差をミリ秒で返します。1 件以下なら標準偏差は 0 です。
func (r *Result) MeanStdDev() (float64, float64) {
	ms := r.milliseconds()
	switch len(ms) {
	case 0:
		return 0, 0
	case 1:
		return ms[0], 0
	}
	return stat.MeanStdDev(ms, nil)
}

// CV は変動係数 (標準偏差/平均) です。
func (r *Result) CV() float64 {
	mean, stddev := r.MeanStdDev()
	if mean == 0 {
		return math.NaN()
	}
	return stddev / mean
}

// IsCVSufficient は変動係数が cv を下回ったかを判定します。3 件未満は常に false です。
func (r *Result) IsCVSufficient(cv float64) bool {
	if len(r.Elapsed) <= 2 {
		return false
	}
	return r.CV() < cv
}

// MedianAbsolutePercentError は中央値からの相対誤差の中央値です。
func (r *Result) MedianAbsolutePercentError() float64 {
	ms := r.milliseconds()
	if len(ms) == 0 {
		return 0
	}
	m := median(ms)
	errs := make([]float64, len(ms))
	for i, v := range ms {
		if v == 0 {
			continue
		}
		errs[i] = math.Abs((v - m) / v)
	}
	return median(errs)
}

func median(xs []float64) float64 {
	sorted := slices.Clone(xs)
	slices.Sort(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

// ExpirationTimer は試行回数とタイムアウトから進捗と終了予定時刻を表示します。
type ExpirationTimer struct {
	out            io.Writer
	start          time.Time
	deadline       time.Duration
	lastNoticed    time.Time
	noticeInterval time.Duration
	maxTrials      int
	current        int
	interval       int
}

// NewExpirationTimer creates a new ExpirationTimer
func NewExpirationTimer(out io.Writer, deadline time.Duration, minutes int, maxTrials int, div int) *ExpirationTimer {
	start := time.Now()
	interval := maxTrials / div
	if interval <= 0 {
		interval = 1
	}
	return &ExpirationTimer{
		out:            out,
		start:          start,
		deadline:       deadline,
		lastNoticed:    start,
		noticeInterval: time.Duration(minutes) * time.Minute,
		maxTrials:      maxTrials,
		current:        0,
		interval:       interval,
	}
}

// Expired checks if the timer has expired
func (et *ExpirationTimer) Expired() bool {
	return et.deadline > 0 && time.Since(et.start) >= et.deadline
}

// Elapsed returns the elapsed time since start
func (et *ExpirationTimer) Elapsed() time.Duration {
	return time.Since(et.start)
}

// EstimatedEndTime calculates the estimated end time based on current progress
func (et *ExpirationTimer) EstimatedEndTime() time.Time {
	if et.current == 0 {
		return et.start.Add(et.deadline)
	}

	avgPerTrial := et.Elapsed() / time.Duration(et.current)
	totalEstimate := avgPerTrial * time.Duration(et.maxTrials)
	if et.deadline > 0 && totalEstimate > et.deadline {
		totalEstimate = et.deadline
	}
	return et.start.Add(totalEstimate)
}

// ETA returns a formatted string showing estimated time of arrival
func (et *ExpirationTimer) ETA() string {
	estimatedEnd := et.EstimatedEndTime()
	now := time.Now()
	diff := estimatedEnd.Sub(now)

	var format string
	if estimatedEnd.Format("2006-01-02") != now.Format("2006-01-02") {
		format = "01-02 15:04"
	} else if diff.Hours() >= 1 {
		format = "15:04"
	} else {
		format = "15:04:05"
	}

	eta := estimatedEnd.Format(format)

	totalSeconds := int(diff.Seconds())
	if totalSeconds < 0 {
		totalSeconds = 0
	}

	hours := totalSeconds / 3600
	minutes := (totalSeconds % 3600) / 60
	seconds := totalSeconds % 60

	var remaining string
	if hours > 0 {
		remaining = fmt.Sprintf("%dh%02dm", hours, minutes)
	} else if minutes > 0 {
		remaining = fmt.Sprintf("%dm%02ds", minutes, seconds)
	} else {
		remaining = fmt.Sprintf("%ds", seconds)
	}

	return fmt.Sprintf("%s (%s)", eta, remaining)
}

// CarriedOut updates the progress and returns true if should notify
func (et *ExpirationTimer) CarriedOut(amount int) bool {
	current := et.current
	et.current += amount

	shouldNotify := (time.Since(et.lastNoticed) >= et.noticeInterval) ||
		et.current >= et.maxTrials ||
		(current != 0 && (et.current/et.interval != current/et.interval))

	if shouldNotify {
		et.lastNoticed = time.Now()
		return true
	}

	return false
}

var resultColumns = []ColumnType{Name, Context, MeanMS, StdDevMS, CV, Trials, ETA}

// Heading prints the header of the progress table
func (et *ExpirationTimer) Heading() {
	columns := make([]Column, len(resultColumns))
	for i, t := range resultColumns {
		columns[i] = Column{Type: t}
	}
	et.printHeading(columns)
}

// Summary prints the current statistics of r as one row
func (et *ExpirationTimer) Summary(r *Result) {
	mean, stddev := r.MeanStdDev()
	cv := 0.0
	if mean > 0 {
		cv = stddev / mean * 100.0
	}
	columns := []Column{
		{Type: Name, StringVal: r.Name},
		{Type: Context, StringVal: r.Context},
		{Type: MeanMS, Float64Val: mean},
		{Type: StdDevMS, Float64Val: stddev},
		{Type: CV, Float64Val: cv},
		{Type: Trials, IntVal: r.Trials()},
		{Type: ETA, StringVal: et.ETA()},
	}
	et.printSummary(columns)
}

func (et *ExpirationTimer) printHeading(columns []Column) {
	headings := make([]string, len(columns))
	lines := make([]string, len(columns))

	for i, col := range columns {
		headings[i] = col.Heading()
		lines[i] = col.Line()
	}

	fmt.Fprintln(et.out, strings.Join(headings, " "))
	fmt.Fprintln(et.out, strings.Join(lines, " "))
}

func (et *ExpirationTimer) printSummary(columns []Column) {
	formatted := make([]string, len(columns))

	for i, col := range columns {
		formatted[i] = col.Format()
	}

	fmt.Fprintln(et.out, strings.Join(formatted, " "))
}

// ColumnType represents the type of column
type ColumnType int

const (
	Name ColumnType = iota
	Context
	MeanMS
	StdDevMS
	CV
	Trials
	ETA
)

// Column represents a table column with formatting
type Column struct {
	Type       ColumnType
	Float64Val float64
	IntVal     int
	StringVal  string
}

// Label returns the column label
func (c *Column) Label() string {
	switch c.Type {
	case Name:
		return "Dataset"
	case Context:
		return "Solver"
	case MeanMS:
		return "Mean[ms]"
	case StdDevMS:
		return "StdDev[ms]"
	case CV:
		return "CV[%]"
	case Trials:
		return "Trials"
	case ETA:
		return "ETA"
	default:
		return ""
	}
}

// Width returns the column width
func (c *Column) Width() int {
	labelLen := len(c.Label())
	var minWidth int

	switch c.Type {
	case Name:
		minWidth = 20
	case Context:
		minWidth = 19
	case MeanMS:
		minWidth = 10
	case StdDevMS:
		minWidth = 10
	case CV:
		minWidth = 6
	case Trials:
		minWidth = 6
	case ETA:
		minWidth = 18
	default:
		minWidth = labelLen
	}

	if labelLen > minWidth {
		return labelLen
	}
	return minWidth
}

// Heading returns the formatted column heading
func (c *Column) Heading() string {
	label := c.Label()
	width := c.Width()

	padding := width - len(label)
	leftPad := padding / 2
	rightPad := padding - leftPad

	return strings.Repeat(" ", leftPad) + label + strings.Repeat(" ", rightPad)
}

// Line returns the separator line for the column
func (c *Column) Line() string {
	return strings.Repeat("-", c.Width())
}

// Format returns the formatted column value
func (c *Column) Format() string {
	width := c.Width()

	switch c.Type {
	case Name, Context, ETA:
		return fmt.Sprintf("%-*s", width, c.StringVal)
	case MeanMS, StdDevMS:
		return fmt.Sprintf("%*.3f", width, c.Float64Val)
	case CV:
		return fmt.Sprintf("%*.1f", width, c.Float64Val)
	case Trials:
		return fmt.Sprintf("%*d", width, c.IntVal)
	default:
		return fmt.Sprintf("%*s", width, "")
	}
}
