package sandbox

import (
	"fmt"
	"math"
	"sort"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

var nan = math.NaN()

var statsModule = &starlarkstruct.Module{
	Name: "stats",
	Members: starlark.StringDict{
		"mean":     reducer("stats.mean", func(xs []float64) float64 { return stat.Mean(xs, nil) }),
		"median":   reducer("stats.median", median),
		"std":      reducer("stats.std", func(xs []float64) float64 { return stat.StdDev(xs, nil) }),
		"min":      reducer("stats.min", floats.Min),
		"max":      reducer("stats.max", floats.Max),
		"sum":      reducer("stats.sum", floats.Sum),
		"quantile": starlark.NewBuiltin("stats.quantile", quantile),
		"corr":     starlark.NewBuiltin("stats.corr", corr),
	},
}

// reducer wraps a numeric reduction as a builtin taking one sequence.
// None entries are skipped.
func reducer(name string, fn func([]float64) float64) *starlark.Builtin {
	return starlark.NewBuiltin(name, func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var seq starlark.Value
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &seq); err != nil {
			return nil, err
		}
		xs, err := numbers(b.Name(), seq)
		if err != nil {
			return nil, err
		}
		return starlark.Float(fn(xs)), nil
	})
}

func quantile(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var seq starlark.Value
	var p float64
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "xs", &seq, "p", &p); err != nil {
		return nil, err
	}
	if p < 0 || p > 1 {
		return nil, fmt.Errorf("%w: %s: p must be within [0, 1], got %g", ErrValue, b.Name(), p)
	}
	xs, err := numbers(b.Name(), seq)
	if err != nil {
		return nil, err
	}
	return starlark.Float(quantileOf(sortedCopy(xs), p)), nil
}

func corr(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var xv, yv starlark.Value
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "xs", &xv, "ys", &yv); err != nil {
		return nil, err
	}
	xs, err := numbers(b.Name(), xv)
	if err != nil {
		return nil, err
	}
	ys, err := numbers(b.Name(), yv)
	if err != nil {
		return nil, err
	}
	if len(xs) != len(ys) {
		return nil, fmt.Errorf("%w: %s: sequences differ in length (%d vs %d)", ErrValue, b.Name(), len(xs), len(ys))
	}
	if len(xs) < 2 {
		return nil, fmt.Errorf("%w: %s needs at least two points", ErrValue, b.Name())
	}
	return starlark.Float(stat.Correlation(xs, ys, nil)), nil
}

// numbers converts a sequence of ints and floats, skipping None. An empty
// result is an error because every reduction is undefined on it.
func numbers(fn string, v starlark.Value) ([]float64, error) {
	vals, err := iterableValues(fn, v)
	if err != nil {
		return nil, err
	}
	xs := make([]float64, 0, len(vals))
	for i, x := range vals {
		if x == starlark.None {
			continue
		}
		f, ok := starlark.AsFloat(x)
		if !ok {
			return nil, fmt.Errorf("%s: element %d is %s, want number", fn, i, x.Type())
		}
		if math.IsNaN(f) {
			continue
		}
		xs = append(xs, f)
	}
	if len(xs) == 0 {
		return nil, fmt.Errorf("%w: %s of an empty sequence", ErrValue, fn)
	}
	return xs, nil
}

func sortedCopy(xs []float64) []float64 {
	s := append([]float64(nil), xs...)
	sort.Float64s(s)
	return s
}

func median(xs []float64) float64 {
	return quantileOf(sortedCopy(xs), 0.5)
}

// quantileOf interpolates linearly between the closest ranks of sorted
// (numpy's default). stat.LinInterp would give 2 as the median of [1 2 3 7].
func quantileOf(sorted []float64, p float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	h := p * float64(len(sorted)-1)
	lo := math.Floor(h)
	i := int(lo)
	if i+1 >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	return sorted[i] + (h-lo)*(sorted[i+1]-sorted[i])
}
