// Package chart renders simple analysis charts to image files.
package chart

import (
	"fmt"
	"path/filepath"
	"strings"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// Kind names a chart type.
type Kind string

const (
	Bar     Kind = "bar"
	Line    Kind = "line"
	Scatter Kind = "scatter"
	Hist    Kind = "hist"
)

// Spec is a renderer-independent chart description.
type Spec struct {
	Kind   Kind
	Title  string
	XLabel string
	YLabel string

	// Bar: Labels and Values. Hist: Values and Bins. Line/Scatter: X and Y.
	Labels []string
	Values []float64
	X      []float64
	Y      []float64
	Bins   int
}

// Validate checks that the data matches the chart kind.
func (s Spec) Validate() error {
	switch s.Kind {
	case Bar:
		if len(s.Values) == 0 {
			return fmt.Errorf("bar chart needs at least one value")
		}
		if len(s.Labels) != len(s.Values) {
			return fmt.Errorf("bar chart has %d labels for %d values", len(s.Labels), len(s.Values))
		}
	case Line, Scatter:
		if len(s.X) == 0 {
			return fmt.Errorf("%s chart needs at least one point", s.Kind)
		}
		if len(s.X) != len(s.Y) {
			return fmt.Errorf("%s chart has %d x values for %d y values", s.Kind, len(s.X), len(s.Y))
		}
	case Hist:
		if len(s.Values) == 0 {
			return fmt.Errorf("histogram needs at least one value")
		}
		if s.Bins < 1 {
			return fmt.Errorf("histogram bins must be >= 1, got %d", s.Bins)
		}
	default:
		return fmt.Errorf("unknown chart kind %q", s.Kind)
	}
	return nil
}

// Renderer draws charts with gonum/plot. The output format follows the
// file extension (.png or .svg).
type Renderer struct {
	Width  vg.Length
	Height vg.Length
}

// NewRenderer returns a Renderer producing 8x5 inch charts.
func NewRenderer() *Renderer {
	return &Renderer{Width: 8 * vg.Inch, Height: 5 * vg.Inch}
}

// Render draws spec and writes it to path.
func (r *Renderer) Render(spec Spec, path string) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png", ".svg":
	default:
		return fmt.Errorf("unsupported chart format %q", filepath.Ext(path))
	}

	p := plot.New()
	p.Title.Text = spec.Title
	p.X.Label.Text = spec.XLabel
	p.Y.Label.Text = spec.YLabel
	p.Add(plotter.NewGrid())

	switch spec.Kind {
	case Bar:
		bars, err := plotter.NewBarChart(plotter.Values(spec.Values), barWidth(len(spec.Values), r.Width))
		if err != nil {
			return fmt.Errorf("bar chart: %w", err)
		}
		p.Add(bars)
		p.NominalX(spec.Labels...)
	case Line:
		l, err := plotter.NewLine(points(spec.X, spec.Y))
		if err != nil {
			return fmt.Errorf("line chart: %w", err)
		}
		p.Add(l)
	case Scatter:
		s, err := plotter.NewScatter(points(spec.X, spec.Y))
		if err != nil {
			return fmt.Errorf("scatter chart: %w", err)
		}
		p.Add(s)
	case Hist:
		h, err := plotter.NewHist(plotter.Values(spec.Values), spec.Bins)
		if err != nil {
			return fmt.Errorf("histogram: %w", err)
		}
		p.Add(h)
	}

	if err := p.Save(r.Width, r.Height, path); err != nil {
		return fmt.Errorf("save chart %s: %w", filepath.Base(path), err)
	}
	return nil
}

func points(x, y []float64) plotter.XYs {
	pts := make(plotter.XYs, len(x))
	for i := range x {
		pts[i].X = x[i]
		pts[i].Y = y[i]
	}
	return pts
}

// barWidth spreads bars over roughly 70% of the canvas, clamped to a readable range.
func barWidth(n int, canvas vg.Length) vg.Length {
	w := canvas * 0.7 / vg.Length(n)
	switch {
	case w > vg.Points(40):
		return vg.Points(40)
	case w < vg.Points(2):
		return vg.Points(2)
	}
	return w
}
