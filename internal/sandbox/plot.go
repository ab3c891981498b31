package sandbox

import (
	"fmt"
	"path/filepath"
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/kylegalloway/dataflame/internal/chart"
)

var plotModule = &starlarkstruct.Module{
	Name: "plot",
	Members: starlark.StringDict{
		"bar":     starlark.NewBuiltin("plot.bar", plotBar),
		"line":    starlark.NewBuiltin("plot.line", plotXY(chart.Line)),
		"scatter": starlark.NewBuiltin("plot.scatter", plotXY(chart.Scatter)),
		"hist":    starlark.NewBuiltin("plot.hist", plotHist),
	},
}

type labels struct {
	title, xlabel, ylabel, file string
}

func plotBar(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var names, values starlark.Value
	var l labels
	if err := starlark.UnpackArgs(b.Name(), args, kwargs,
		"labels", &names, "values", &values,
		"title?", &l.title, "xlabel?", &l.xlabel, "ylabel?", &l.ylabel, "file?", &l.file); err != nil {
		return nil, err
	}
	raw, err := iterableValues(b.Name(), names)
	if err != nil {
		return nil, err
	}
	text := make([]string, len(raw))
	for i, v := range raw {
		if s, ok := starlark.AsString(v); ok {
			text[i] = s
		} else {
			text[i] = v.String()
		}
	}
	ys, err := plotNumbers(b.Name(), values)
	if err != nil {
		return nil, err
	}
	return drawChart(thread, b, chart.Spec{Kind: chart.Bar, Labels: text, Values: ys}, l)
}

func plotXY(kind chart.Kind) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var xv, yv starlark.Value
		var l labels
		if err := starlark.UnpackArgs(b.Name(), args, kwargs,
			"xs", &xv, "ys", &yv,
			"title?", &l.title, "xlabel?", &l.xlabel, "ylabel?", &l.ylabel, "file?", &l.file); err != nil {
			return nil, err
		}
		xs, err := plotNumbers(b.Name(), xv)
		if err != nil {
			return nil, err
		}
		ys, err := plotNumbers(b.Name(), yv)
		if err != nil {
			return nil, err
		}
		return drawChart(thread, b, chart.Spec{Kind: kind, X: xs, Y: ys}, l)
	}
}

func plotHist(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var vals starlark.Value
	bins := 10
	var l labels
	if err := starlark.UnpackArgs(b.Name(), args, kwargs,
		"values", &vals, "bins?", &bins,
		"title?", &l.title, "xlabel?", &l.xlabel, "ylabel?", &l.ylabel, "file?", &l.file); err != nil {
		return nil, err
	}
	xs, err := numbers(b.Name(), vals)
	if err != nil {
		return nil, err
	}
	return drawChart(thread, b, chart.Spec{Kind: chart.Hist, Values: xs, Bins: bins}, l)
}

// plotNumbers converts a sequence for plotting. Unlike the stats reducers
// it keeps positions aligned, so None is rejected rather than skipped.
func plotNumbers(fn string, v starlark.Value) ([]float64, error) {
	vals, err := iterableValues(fn, v)
	if err != nil {
		return nil, err
	}
	xs := make([]float64, len(vals))
	for i, x := range vals {
		f, ok := starlark.AsFloat(x)
		if !ok {
			return nil, fmt.Errorf("%s: element %d is %s, want number (drop missing values before plotting)", fn, i, x.Type())
		}
		xs[i] = f
	}
	return xs, nil
}

func drawChart(thread *starlark.Thread, b *starlark.Builtin, spec chart.Spec, l labels) (starlark.Value, error) {
	renderer, _ := thread.Local(localCharts).(ChartRenderer)
	if renderer == nil {
		return nil, fmt.Errorf("%s: charts are not available in this session", b.Name())
	}
	ws, err := workspaceOf(thread)
	if err != nil {
		return nil, err
	}
	name, err := chartFileName(ws.ChartDir(), l.file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	spec.Title, spec.XLabel, spec.YLabel = l.title, l.xlabel, l.ylabel
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrValue, b.Name(), err)
	}
	if err := renderer.Render(spec, filepath.Join(ws.ChartDir(), name)); err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	return starlark.String(name), nil
}

// chartFileName validates a requested chart file name, or picks the next
// free chart_N.png when none was given. Only bare .png/.svg names are
// accepted so a chart can never be written outside the chart directory.
func chartFileName(dir, requested string) (string, error) {
	if requested == "" {
		existing := listCharts(dir)
		for n := len(existing) + 1; ; n++ {
			name := fmt.Sprintf("chart_%d.png", n)
			if _, taken := existing[name]; !taken {
				return name, nil
			}
		}
	}
	if requested != filepath.Base(requested) || strings.ContainsAny(requested, `/\`) || strings.HasPrefix(requested, ".") {
		return "", fmt.Errorf("%w: chart file %q must be a bare file name", ErrIODenied, requested)
	}
	if !isChartFile(requested) {
		return "", fmt.Errorf("%w: chart file %q must end in .png or .svg", ErrIODenied, requested)
	}
	return requested, nil
}
