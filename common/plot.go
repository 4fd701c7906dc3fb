package common

import (
	"fmt"

	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// SavePlot は各結果の計測値を箱ひげ図にして path に保存します。形式は拡張子で決まります。
func SavePlot(path, title string, results []*Result) error {
	p := plot.New()
	p.Title.Text = title
	p.Y.Label.Text = "elapsed [ms]"

	var names []string
	for _, r := range results {
		if len(r.Elapsed) == 0 {
			continue
		}
		box, err := plotter.NewBoxPlot(vg.Points(20), float64(len(names)), plotter.Values(r.milliseconds()))
		if err != nil {
			return errors.Wrapf(err, "failed to plot %s", r.Name)
		}
		p.Add(box)
		names = append(names, fmt.Sprintf("%s\n%s", r.Name, r.Context))
	}
	if len(names) == 0 {
		return nil
	}
	p.NominalX(names...)

	width := vg.Length(len(names)) * 2 * vg.Inch
	if width < 4*vg.Inch {
		width = 4 * vg.Inch
	}
	if err := p.Save(width, 4*vg.Inch, path); err != nil {
		return errors.Wrapf(err, "failed to save plot %s", path)
	}
	return nil
}
