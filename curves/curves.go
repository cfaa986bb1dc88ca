// Package curves records per-epoch metric values and renders them as
// training-curve charts.
package curves

import (
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/photonml/photon/pkg/errors"
)

// History accumulates one scalar per epoch for any number of named metrics.
// Series keep insertion order so charts render deterministically.
type History struct {
	order  []string
	series map[string][]float64
}

// NewHistory creates an empty history.
func NewHistory() *History {
	return &History{series: make(map[string][]float64)}
}

// Append records the value for the named metric at the next epoch.
func (h *History) Append(name string, value float64) {
	if _, ok := h.series[name]; !ok {
		h.order = append(h.order, name)
	}
	h.series[name] = append(h.series[name], value)
}

// AppendAll records every entry of an epoch-level metric view.
func (h *History) AppendAll(values map[string]float64) {
	for name, v := range values {
		h.Append(name, v)
	}
}

// Names returns the metric names in insertion order.
func (h *History) Names() []string {
	out := make([]string, len(h.order))
	copy(out, h.order)
	return out
}

// Series returns the recorded values for one metric.
func (h *History) Series(name string) []float64 {
	return h.series[name]
}

// Len returns the longest recorded series length.
func (h *History) Len() int {
	n := 0
	for _, s := range h.series {
		if len(s) > n {
			n = len(s)
		}
	}
	return n
}

// SavePNG renders every recorded series as a line over epochs and writes
// the chart to path. Non-finite values break the line rather than skewing
// the axis scale.
func (h *History) SavePNG(path, title string) error {
	if len(h.order) == 0 {
		return errors.NewValueError("curves.SavePNG", "no metric history recorded")
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "epoch"
	p.Y.Label.Text = "value"
	p.Add(plotter.NewGrid())

	for i, name := range h.order {
		line, err := plotter.NewLine(seriesXYs(h.series[name]))
		if err != nil {
			return errors.Wrapf(err, "building line for %q", name)
		}
		line.Color = plotutil.Color(i)
		p.Add(line)
		p.Legend.Add(name, line)
	}
	p.Legend.Top = true

	if err := p.Save(6*vg.Inch, 4*vg.Inch, path); err != nil {
		return errors.Wrapf(err, "saving chart to %s", path)
	}
	return nil
}

func seriesXYs(values []float64) plotter.XYs {
	xys := make(plotter.XYs, 0, len(values))
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		xys = append(xys, plotter.XY{X: float64(i), Y: v})
	}
	return xys
}
