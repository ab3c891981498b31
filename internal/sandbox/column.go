package sandbox

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"go.starlark.net/starlark"
)

type colKind int

const (
	kindText colKind = iota
	kindInt
	kindFloat
)

// column stores one table column. Numeric columns keep a parallel
// missing mask; text columns store raw strings.
type column struct {
	name    string
	kind    colKind
	nums    []float64
	missing []bool
	text    []string
}

func (c *column) len() int {
	if c.kind == kindText {
		return len(c.text)
	}
	return len(c.nums)
}

func (c *column) numeric() bool { return c.kind != kindText }

func (c *column) value(i int) starlark.Value {
	switch {
	case c.kind == kindText:
		return starlark.String(c.text[i])
	case c.missing[i]:
		return starlark.None
	case c.kind == kindInt:
		return starlark.MakeInt64(int64(c.nums[i]))
	default:
		return starlark.Float(c.nums[i])
	}
}

func (c *column) cell(i int) string {
	switch {
	case c.kind == kindText:
		return c.text[i]
	case c.missing[i]:
		return "NA"
	case c.kind == kindInt:
		return strconv.FormatInt(int64(c.nums[i]), 10)
	default:
		return strconv.FormatFloat(c.nums[i], 'g', 6, 64)
	}
}

// present returns the non-missing numeric values.
func (c *column) present() []float64 {
	out := make([]float64, 0, len(c.nums))
	for i, v := range c.nums {
		if !c.missing[i] {
			out = append(out, v)
		}
	}
	return out
}

// key returns a grouping key for row i and whether the row has a value.
func (c *column) key(i int) (string, bool) {
	if c.kind != kindText && c.missing[i] {
		return "", false
	}
	return c.cell(i), true
}

func (c *column) take(rows []int) *column {
	out := &column{name: c.name, kind: c.kind}
	if c.kind == kindText {
		out.text = make([]string, len(rows))
		for j, i := range rows {
			out.text[j] = c.text[i]
		}
		return out
	}
	out.nums = make([]float64, len(rows))
	out.missing = make([]bool, len(rows))
	for j, i := range rows {
		out.nums[j] = c.nums[i]
		out.missing[j] = c.missing[i]
	}
	return out
}

func (c *column) renamed(name string) *column {
	cp := *c
	cp.name = name
	return &cp
}

var missingMarkers = map[string]bool{"": true, "na": true, "n/a": true, "nan": true, "null": true, "none": true}

func isMissing(s string) bool { return missingMarkers[strings.ToLower(s)] }

// parseColumn infers a column kind from raw text cells: numeric when every
// non-missing cell parses as a number, integer when all of them are whole.
func parseColumn(name string, raw []string) *column {
	nums := make([]float64, len(raw))
	missing := make([]bool, len(raw))
	allInt, seen := true, false
	for i, s := range raw {
		s = strings.TrimSpace(s)
		if isMissing(s) {
			missing[i] = true
			continue
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return &column{name: name, kind: kindText, text: raw}
		}
		seen = true
		nums[i] = f
		if _, err := strconv.ParseInt(s, 10, 64); err != nil {
			allInt = false
		}
	}
	if !seen {
		return &column{name: name, kind: kindText, text: raw}
	}
	kind := kindFloat
	if allInt {
		kind = kindInt
	}
	return &column{name: name, kind: kind, nums: nums, missing: missing}
}

// valuesColumn builds a column from interpreter values. Mixed or
// non-numeric content yields a text column.
func valuesColumn(name string, vals []starlark.Value) *column {
	nums := make([]float64, len(vals))
	missing := make([]bool, len(vals))
	numeric, allInt := true, true
	for i, v := range vals {
		switch v := v.(type) {
		case starlark.NoneType:
			missing[i] = true
		case starlark.Int:
			f, _ := starlark.AsFloat(v)
			nums[i] = f
		case starlark.Float:
			nums[i] = float64(v)
			missing[i] = math.IsNaN(float64(v))
			allInt = false
		default:
			numeric = false
		}
		if !numeric {
			break
		}
	}
	if numeric {
		kind := kindFloat
		if allInt {
			kind = kindInt
		}
		return &column{name: name, kind: kind, nums: nums, missing: missing}
	}

	text := make([]string, len(vals))
	for i, v := range vals {
		if s, ok := starlark.AsString(v); ok {
			text[i] = s
			continue
		}
		if v == starlark.None {
			continue
		}
		text[i] = v.String()
	}
	return &column{name: name, kind: kindText, text: text}
}

func floatColumn(name string, vals []float64) *column {
	missing := make([]bool, len(vals))
	for i, v := range vals {
		missing[i] = math.IsNaN(v)
	}
	return &column{name: name, kind: kindFloat, nums: vals, missing: missing}
}

func intColumn(name string, vals []int) *column {
	nums := make([]float64, len(vals))
	for i, v := range vals {
		nums[i] = float64(v)
	}
	return &column{name: name, kind: kindInt, nums: nums, missing: make([]bool, len(vals))}
}

func textColumn(name string, vals []string) *column {
	return &column{name: name, kind: kindText, text: vals}
}

func iterableValues(fn string, v starlark.Value) ([]starlark.Value, error) {
	iter, ok := v.(starlark.Iterable)
	if !ok {
		return nil, fmt.Errorf("%s: got %s, want list or tuple", fn, v.Type())
	}
	var out []starlark.Value
	it := iter.Iterate()
	defer it.Done()
	var x starlark.Value
	for it.Next(&x) {
		out = append(out, x)
	}
	return out, nil
}
