package sandbox

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"go.starlark.net/starlark"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Table is an immutable column-oriented data frame. Every transforming
// method returns a new Table.
type Table struct {
	cols  []*column
	index map[string]int
	rows  int
}

var (
	_ starlark.Sequence = (*Table)(nil)
	_ starlark.Mapping  = (*Table)(nil)
	_ starlark.HasAttrs = (*Table)(nil)
)

const (
	defaultMaxRows = 15
	edgeRows       = 5
	maxCellWidth   = 24
)

func newTable(cols []*column) (*Table, error) {
	t := &Table{cols: cols, index: make(map[string]int, len(cols))}
	for i, c := range cols {
		if _, dup := t.index[c.name]; dup {
			return nil, fmt.Errorf("%w: duplicate column %q", ErrValue, c.name)
		}
		t.index[c.name] = i
		if i == 0 {
			t.rows = c.len()
		} else if c.len() != t.rows {
			return nil, fmt.Errorf("%w: column %q has %d rows, want %d", ErrValue, c.name, c.len(), t.rows)
		}
	}
	return t, nil
}

func (t *Table) String() string        { return t.render(defaultMaxRows) }
func (t *Table) Type() string          { return "table" }
func (t *Table) Freeze()               {}
func (t *Table) Truth() starlark.Bool  { return t.rows > 0 }
func (t *Table) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: table") }
func (t *Table) Len() int              { return t.rows }

func (t *Table) Iterate() starlark.Iterator { return &rowIterator{t: t} }

type rowIterator struct {
	t *Table
	i int
}

func (it *rowIterator) Next(p *starlark.Value) bool {
	if it.i >= it.t.rows {
		return false
	}
	*p = it.t.rowDict(it.i)
	it.i++
	return true
}

func (it *rowIterator) Done() {}

// Get implements t["column"] and t[row].
func (t *Table) Get(k starlark.Value) (starlark.Value, bool, error) {
	switch k := k.(type) {
	case starlark.String:
		c, err := t.column(string(k))
		if err != nil {
			return nil, false, err
		}
		return columnList(c), true, nil
	case starlark.Int:
		i, err := starlark.AsInt32(k)
		if err != nil {
			return nil, false, err
		}
		row, err := t.rowAt(i)
		if err != nil {
			return nil, false, err
		}
		return row, true, nil
	}
	return nil, false, fmt.Errorf("table index must be a column name or row number, got %s", k.Type())
}

func (t *Table) column(name string) (*column, error) {
	i, ok := t.index[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q (columns: %s)", ErrColumnNotFound, name, t.columnList(0))
	}
	return t.cols[i], nil
}

func (t *Table) rowAt(i int) (*starlark.Dict, error) {
	if i < 0 {
		i += t.rows
	}
	if i < 0 || i >= t.rows {
		return nil, fmt.Errorf("%w: row %d out of range (table has %d rows)", ErrValue, i, t.rows)
	}
	return t.rowDict(i), nil
}

func (t *Table) rowDict(i int) *starlark.Dict {
	d := starlark.NewDict(len(t.cols))
	for _, c := range t.cols {
		_ = d.SetKey(starlark.String(c.name), c.value(i))
	}
	return d
}

func columnList(c *column) *starlark.List {
	vals := make([]starlark.Value, c.len())
	for i := range vals {
		vals[i] = c.value(i)
	}
	return starlark.NewList(vals)
}

func (t *Table) names() []string {
	out := make([]string, len(t.cols))
	for i, c := range t.cols {
		out[i] = c.name
	}
	return out
}

// columnList renders column names, eliding after limit entries (0 means all).
func (t *Table) columnList(limit int) string {
	names := t.names()
	if limit > 0 && len(names) > limit {
		names = append(names[:limit:limit], "...")
	}
	return "[" + strings.Join(names, ", ") + "]"
}

type tableMethod func(t *Table, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error)

var tableMethods = map[string]tableMethod{
	"head":         tableHead,
	"tail":         tableTail,
	"col":          tableCol,
	"select":       tableSelect,
	"where":        tableWhere,
	"sort_by":      tableSortBy,
	"group_by":     tableGroupBy,
	"describe":     tableDescribe,
	"unique":       tableUnique,
	"value_counts": tableValueCounts,
	"with_column":  tableWithColumn,
	"to_string":    tableToString,
	"row":          tableRow,
}

func (t *Table) Attr(name string) (starlark.Value, error) {
	switch name {
	case "columns":
		names := t.names()
		vals := make([]starlark.Value, len(names))
		for i, n := range names {
			vals[i] = starlark.String(n)
		}
		return starlark.NewList(vals), nil
	case "shape":
		return starlark.Tuple{starlark.MakeInt(t.rows), starlark.MakeInt(len(t.cols))}, nil
	}
	m, ok := tableMethods[name]
	if !ok {
		return nil, nil
	}
	return starlark.NewBuiltin(name, func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		return m(t, b, args, kwargs)
	}), nil
}

func (t *Table) AttrNames() []string {
	names := []string{"columns", "shape"}
	for name := range tableMethods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (t *Table) takeRows(rows []int) *Table {
	cols := make([]*column, len(t.cols))
	for i, c := range t.cols {
		cols[i] = c.take(rows)
	}
	out, _ := newTable(cols)
	return out
}

func span(from, to int) []int {
	rows := make([]int, 0, to-from)
	for i := from; i < to; i++ {
		rows = append(rows, i)
	}
	return rows
}

func tableHead(t *Table, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	n := edgeRows
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "n?", &n); err != nil {
		return nil, err
	}
	return t.takeRows(span(0, clamp(n, 0, t.rows))), nil
}

func tableTail(t *Table, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	n := edgeRows
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "n?", &n); err != nil {
		return nil, err
	}
	return t.takeRows(span(t.rows-clamp(n, 0, t.rows), t.rows)), nil
}

func clamp(n, lo, hi int) int {
	return max(lo, min(n, hi))
}

func tableCol(t *Table, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name); err != nil {
		return nil, err
	}
	c, err := t.column(name)
	if err != nil {
		return nil, err
	}
	return columnList(c), nil
}

func tableSelect(t *Table, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(kwargs) > 0 {
		return nil, fmt.Errorf("%s: unexpected keyword arguments", b.Name())
	}
	if len(args) == 1 {
		if l, ok := args[0].(*starlark.List); ok {
			vals, _ := iterableValues(b.Name(), l)
			args = starlark.Tuple(vals)
		}
	}
	cols := make([]*column, 0, len(args))
	for _, a := range args {
		name, ok := starlark.AsString(a)
		if !ok {
			return nil, fmt.Errorf("%s: got %s, want column name", b.Name(), a.Type())
		}
		c, err := t.column(name)
		if err != nil {
			return nil, err
		}
		cols = append(cols, c)
	}
	return newTable(cols)
}

func tableWhere(t *Table, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name, op string
	var want starlark.Value
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "column", &name, "op", &op, "value", &want); err != nil {
		return nil, err
	}
	c, err := t.column(name)
	if err != nil {
		return nil, err
	}

	var match func(i int) bool
	if c.numeric() {
		x, ok := starlark.AsFloat(want)
		if !ok {
			return nil, fmt.Errorf("%s: column %q is numeric, got %s value", b.Name(), name, want.Type())
		}
		cmp, err := floatComparator(op)
		if err != nil {
			return nil, err
		}
		match = func(i int) bool { return !c.missing[i] && cmp(c.nums[i], x) }
	} else {
		s, ok := starlark.AsString(want)
		if !ok {
			s = want.String()
		}
		cmp, err := stringComparator(op)
		if err != nil {
			return nil, err
		}
		match = func(i int) bool { return cmp(c.text[i], s) }
	}

	var rows []int
	for i := 0; i < t.rows; i++ {
		if match(i) {
			rows = append(rows, i)
		}
	}
	return t.takeRows(rows), nil
}

func floatComparator(op string) (func(a, b float64) bool, error) {
	switch op {
	case "==":
		return func(a, b float64) bool { return a == b }, nil
	case "!=":
		return func(a, b float64) bool { return a != b }, nil
	case "<":
		return func(a, b float64) bool { return a < b }, nil
	case "<=":
		return func(a, b float64) bool { return a <= b }, nil
	case ">":
		return func(a, b float64) bool { return a > b }, nil
	case ">=":
		return func(a, b float64) bool { return a >= b }, nil
	}
	return nil, fmt.Errorf("%w: unknown operator %q for numeric column (use ==, !=, <, <=, >, >=)", ErrValue, op)
}

func stringComparator(op string) (func(a, b string) bool, error) {
	switch op {
	case "==":
		return func(a, b string) bool { return a == b }, nil
	case "!=":
		return func(a, b string) bool { return a != b }, nil
	case "<":
		return func(a, b string) bool { return a < b }, nil
	case "<=":
		return func(a, b string) bool { return a <= b }, nil
	case ">":
		return func(a, b string) bool { return a > b }, nil
	case ">=":
		return func(a, b string) bool { return a >= b }, nil
	case "contains":
		return strings.Contains, nil
	case "startswith":
		return strings.HasPrefix, nil
	}
	return nil, fmt.Errorf("%w: unknown operator %q for text column", ErrValue, op)
}

func tableSortBy(t *Table, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	desc := false
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "column", &name, "desc?", &desc); err != nil {
		return nil, err
	}
	c, err := t.column(name)
	if err != nil {
		return nil, err
	}
	rows := span(0, t.rows)
	less := func(i, j int) bool {
		if c.numeric() {
			// missing values sort last in either direction
			if c.missing[i] || c.missing[j] {
				return !c.missing[i] && c.missing[j]
			}
			if desc {
				return c.nums[i] > c.nums[j]
			}
			return c.nums[i] < c.nums[j]
		}
		if desc {
			return c.text[i] > c.text[j]
		}
		return c.text[i] < c.text[j]
	}
	sort.SliceStable(rows, func(a, b int) bool { return less(rows[a], rows[b]) })
	return t.takeRows(rows), nil
}

var aggregates = map[string]func([]float64) float64{
	"sum":    floats.Sum,
	"mean":   func(xs []float64) float64 { return stat.Mean(xs, nil) },
	"min":    floats.Min,
	"max":    floats.Max,
	"median": median,
	"std":    func(xs []float64) float64 { return stat.StdDev(xs, nil) },
}

func tableGroupBy(t *Table, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var keyName, valueName string
	agg := "sum"
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "key", &keyName, "value", &valueName, "agg?", &agg); err != nil {
		return nil, err
	}
	key, err := t.column(keyName)
	if err != nil {
		return nil, err
	}
	val, err := t.column(valueName)
	if err != nil {
		return nil, err
	}
	fn, ok := aggregates[agg]
	if !ok && agg != "count" {
		return nil, fmt.Errorf("%w: unknown aggregate %q (use sum, mean, min, max, median, std, count)", ErrValue, agg)
	}
	if agg != "count" && !val.numeric() {
		return nil, fmt.Errorf("%w: column %q is not numeric; only agg=\"count\" applies", ErrValue, valueName)
	}

	groups := make(map[string][]int)
	firstRow := make(map[string]int)
	var order []string
	for i := 0; i < t.rows; i++ {
		k, ok := key.key(i)
		if !ok {
			continue
		}
		if _, seen := groups[k]; !seen {
			order = append(order, k)
			firstRow[k] = i
		}
		groups[k] = append(groups[k], i)
	}
	sortKeys(order, key, firstRow)

	keyRows := make([]int, len(order))
	for i, k := range order {
		keyRows[i] = firstRow[k]
	}
	outKey := key.take(keyRows)

	outName := valueName + "_" + agg
	var outVal *column
	if agg == "count" {
		counts := make([]int, len(order))
		for i, k := range order {
			for _, r := range groups[k] {
				if val.numeric() && val.missing[r] {
					continue
				}
				counts[i]++
			}
		}
		outVal = intColumn(outName, counts)
	} else {
		results := make([]float64, len(order))
		for i, k := range order {
			xs := val.take(groups[k]).present()
			if len(xs) == 0 {
				results[i] = nan
				continue
			}
			results[i] = fn(xs)
		}
		outVal = floatColumn(outName, results)
	}
	if outName == keyName {
		outVal = outVal.renamed(outName + "_value")
	}
	return newTable([]*column{outKey, outVal})
}

// sortKeys orders group keys numerically for numeric key columns and
// lexically otherwise.
func sortKeys(keys []string, key *column, firstRow map[string]int) {
	if key.numeric() {
		sort.SliceStable(keys, func(a, b int) bool {
			return key.nums[firstRow[keys[a]]] < key.nums[firstRow[keys[b]]]
		})
		return
	}
	sort.Strings(keys)
}

func tableDescribe(t *Table, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
		return nil, err
	}
	var (
		names                               []string
		counts                              []int
		means, stds, mins, q25s, meds, q75s []float64
		maxs                                []float64
	)
	for _, c := range t.cols {
		if !c.numeric() {
			continue
		}
		xs := c.present()
		names = append(names, c.name)
		counts = append(counts, len(xs))
		if len(xs) == 0 {
			means, stds, mins, q25s = append(means, nan), append(stds, nan), append(mins, nan), append(q25s, nan)
			meds, q75s, maxs = append(meds, nan), append(q75s, nan), append(maxs, nan)
			continue
		}
		sorted := sortedCopy(xs)
		means = append(means, stat.Mean(xs, nil))
		stds = append(stds, stat.StdDev(xs, nil))
		mins = append(mins, sorted[0])
		q25s = append(q25s, quantileOf(sorted, 0.25))
		meds = append(meds, quantileOf(sorted, 0.5))
		q75s = append(q75s, quantileOf(sorted, 0.75))
		maxs = append(maxs, sorted[len(sorted)-1])
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: table has no numeric columns to describe (columns: %s)", ErrValue, t.columnList(0))
	}
	return newTable([]*column{
		textColumn("column", names),
		intColumn("count", counts),
		floatColumn("mean", means),
		floatColumn("std", stds),
		floatColumn("min", mins),
		floatColumn("25%", q25s),
		floatColumn("50%", meds),
		floatColumn("75%", q75s),
		floatColumn("max", maxs),
	})
}

func tableUnique(t *Table, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "column", &name); err != nil {
		return nil, err
	}
	c, err := t.column(name)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var vals []starlark.Value
	for i := 0; i < t.rows; i++ {
		k, ok := c.key(i)
		if !ok || seen[k] {
			continue
		}
		seen[k] = true
		vals = append(vals, c.value(i))
	}
	return starlark.NewList(vals), nil
}

func tableValueCounts(t *Table, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "column", &name); err != nil {
		return nil, err
	}
	c, err := t.column(name)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int)
	firstRow := make(map[string]int)
	var order []string
	for i := 0; i < t.rows; i++ {
		k, ok := c.key(i)
		if !ok {
			continue
		}
		if counts[k] == 0 {
			order = append(order, k)
			firstRow[k] = i
		}
		counts[k]++
	}
	sort.SliceStable(order, func(a, b int) bool { return counts[order[a]] > counts[order[b]] })

	rows := make([]int, len(order))
	n := make([]int, len(order))
	for i, k := range order {
		rows[i] = firstRow[k]
		n[i] = counts[k]
	}
	countName := "count"
	if name == countName {
		countName = "count_"
	}
	return newTable([]*column{c.take(rows), intColumn(countName, n)})
}

func tableWithColumn(t *Table, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	var values starlark.Value
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name, "values", &values); err != nil {
		return nil, err
	}
	vals, err := iterableValues(b.Name(), values)
	if err != nil {
		return nil, err
	}
	if len(vals) != t.rows {
		return nil, fmt.Errorf("%w: %s: got %d values for a table with %d rows", ErrValue, b.Name(), len(vals), t.rows)
	}
	added := valuesColumn(name, vals)
	cols := make([]*column, 0, len(t.cols)+1)
	replaced := false
	for _, c := range t.cols {
		if c.name == name {
			cols = append(cols, added)
			replaced = true
			continue
		}
		cols = append(cols, c)
	}
	if !replaced {
		cols = append(cols, added)
	}
	return newTable(cols)
}

func tableToString(t *Table, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	maxRows := defaultMaxRows
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "max_rows?", &maxRows); err != nil {
		return nil, err
	}
	return starlark.String(t.render(maxRows)), nil
}

func tableRow(t *Table, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var i int
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "i", &i); err != nil {
		return nil, err
	}
	return t.rowAt(i)
}

// render lays the table out as aligned text. Tables longer than maxRows
// show only the first and last rows.
func (t *Table) render(maxRows int) string {
	rows := span(0, t.rows)
	elided := false
	if maxRows > 0 && t.rows > maxRows {
		edge := min(edgeRows, maxRows/2)
		if edge < 1 {
			edge = 1
		}
		rows = append(span(0, edge), span(t.rows-edge, t.rows)...)
		elided = true
	}

	widths := make([]int, len(t.cols))
	cells := make([][]string, len(rows))
	for ci, c := range t.cols {
		widths[ci] = min(len(c.name), maxCellWidth)
	}
	for ri, r := range rows {
		cells[ri] = make([]string, len(t.cols))
		for ci, c := range t.cols {
			s := truncateCell(c.cell(r))
			cells[ri][ci] = s
			widths[ci] = max(widths[ci], len(s))
		}
	}

	var b strings.Builder
	writeRow := func(label string, vals []string) {
		fmt.Fprintf(&b, "%-6s", label)
		for ci, v := range vals {
			b.WriteString("  ")
			if t.cols[ci].numeric() {
				fmt.Fprintf(&b, "%*s", widths[ci], v)
			} else {
				fmt.Fprintf(&b, "%-*s", widths[ci], v)
			}
		}
		b.WriteString("\n")
	}

	header := make([]string, len(t.cols))
	for ci, c := range t.cols {
		header[ci] = truncateCell(c.name)
	}
	writeRow("", header)
	for ri, r := range rows {
		if elided && ri == len(rows)/2 {
			b.WriteString("...\n")
		}
		writeRow(strconv.Itoa(r), cells[ri])
	}
	fmt.Fprintf(&b, "[%d rows x %d columns]", t.rows, len(t.cols))
	return b.String()
}

func truncateCell(s string) string {
	r := []rune(s)
	if len(r) <= maxCellWidth {
		return s
	}
	return string(r[:maxCellWidth-3]) + "..."
}
