package common

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/cbroglie/mustache"
	"github.com/pkg/errors"
)

func init() {
	// 未定義のプレースホルダーは空文字ではなくエラーにする
	mustache.AllowMissingVariables = false
}

// resultSection は結果ごとに繰り返すセクション名です。
const resultSection = "result"

// Markdown は結果を markdown の表にするテンプレートです。
func Markdown() string {
	return `| benchmark | args | fastest | median | mean |
{{#result}}| {{context(benchmark)}} | {{name}} | {{minimum(elapsed)}} | {{median(elapsed)}} | {{average(elapsed)}} |
{{/result}}`
}

// Render は mustache テンプレート tmpl を埋めて w に書き出します。
// {{#result}} ... {{/result}} の中身は results の順に 1 件ずつ繰り返されます。
func Render(w io.Writer, tmpl string, title string, results []*Result) error {
	t, err := mustache.ParseString(tmpl)
	if err != nil {
		return errors.Wrap(err, "invalid template")
	}
	// 出力は HTML ではなく markdown
	t.Escape(func(s string) string { return s })
	if err := checkTags(t.Tags(), false); err != nil {
		return err
	}

	rows := make([]map[string]any, len(results))
	for i, r := range results {
		rows[i] = row(r)
	}
	out, err := t.Render(map[string]any{
		"title":       title,
		resultSection: rows,
	})
	if err != nil {
		return errors.Wrap(err, "failed to render template")
	}
	_, err = io.WriteString(w, out)
	return errors.WithStack(err)
}

// checkTags は result 以外のセクションと、result の外での結果の参照を拒否します。
func checkTags(tags []mustache.Tag, inResult bool) error {
	for _, tag := range tags {
		switch tag.Type() {
		case mustache.Variable:
			if !inResult && tag.Name() != "title" {
				return errors.Errorf("{{%s}} is only valid inside {{#%s}}", tag.Name(), resultSection)
			}
		case mustache.Section:
			if inResult || tag.Name() != resultSection {
				return errors.Errorf("unknown section {{#%s}}", tag.Name())
			}
			if err := checkTags(tag.Tags(), true); err != nil {
				return err
			}
		default:
			return errors.Errorf("unsupported tag {{%s}}", tag.Name())
		}
	}
	return nil
}

// row は 1 件分のプレースホルダーの値です。
func row(r *Result) map[string]any {
	return map[string]any{
		"name":                                r.Name,
		"context(benchmark)":                  r.Context,
		"trials":                              strconv.Itoa(r.Trials()),
		"minimum(elapsed)":                    formatDuration(r.Minimum()),
		"maximum(elapsed)":                    formatDuration(r.Maximum()),
		"median(elapsed)":                     formatDuration(r.Median()),
		"average(elapsed)":                    formatDuration(r.Mean()),
		"medianAbsolutePercentError(elapsed)": fmt.Sprintf("%.1f%%", r.MedianAbsolutePercentError()*100),
	}
}

// formatDuration はミリ秒で小数点以下 3 桁まで表示します。
func formatDuration(d time.Duration) string {
	return fmt.Sprintf("%.3f ms", float64(d.Nanoseconds())/1000.0/1000.0)
}
