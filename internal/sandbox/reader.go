package sandbox

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
)

var tableModule = &starlarkstruct.Module{
	Name: "table",
	Members: starlark.StringDict{
		"read_csv":  starlark.NewBuiltin("table.read_csv", readCSV),
		"read_json": starlark.NewBuiltin("table.read_json", readJSON),
		"from_dict": starlark.NewBuiltin("table.from_dict", fromDict),
	},
}

// autoEncodings is the order tried by encoding="auto" after UTF-8.
var autoEncodings = []string{"gb18030", "windows-1252"}

func workspaceOf(thread *starlark.Thread) (Workspace, error) {
	ws, ok := thread.Local(localWorkspace).(Workspace)
	if !ok || ws == nil {
		return nil, fmt.Errorf("%w: no session workspace", ErrIODenied)
	}
	return ws, nil
}

// resolveInput confines path to the data directory. A leading "data/"
// is accepted since that is how inputs appear inside the session.
func resolveInput(dataDir, path string) (string, error) {
	if path == "" || filepath.IsAbs(path) {
		return "", fmt.Errorf("%w: %q (use a file name from input_files)", ErrIODenied, path)
	}
	clean := filepath.Clean(filepath.FromSlash(path))
	clean = strings.TrimPrefix(clean, "data"+string(filepath.Separator))
	full := filepath.Join(dataDir, clean)
	rel, err := filepath.Rel(dataDir, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrIODenied, path)
	}
	return full, nil
}

func readInput(thread *starlark.Thread, path string, exts ...string) ([]byte, string, error) {
	ws, err := workspaceOf(thread)
	if err != nil {
		return nil, "", err
	}
	full, err := resolveInput(ws.DataDir(), path)
	if err != nil {
		return nil, "", err
	}
	ext := strings.ToLower(filepath.Ext(full))
	ok := false
	for _, e := range exts {
		if ext == e {
			ok = true
		}
	}
	if !ok {
		return nil, "", fmt.Errorf("%w: %q has extension %q, want one of %s", ErrIODenied, path, ext, strings.Join(exts, ", "))
	}
	data, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", fmt.Errorf("%w: no input file %q", ErrIODenied, path)
		}
		return nil, "", fmt.Errorf("read %s: %w", path, err)
	}
	return data, ext, nil
}

func readCSV(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var path string
	encoding := "utf-8"
	sep := ""
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "path", &path, "encoding?", &encoding, "sep?", &sep); err != nil {
		return nil, err
	}
	raw, ext, err := readInput(thread, path, ".csv", ".tsv", ".txt")
	if err != nil {
		return nil, err
	}
	text, err := decode(raw, encoding)
	if err != nil {
		return nil, fmt.Errorf("%s %q: %w", b.Name(), path, err)
	}

	if sep == "" {
		sep = ","
		if ext == ".tsv" {
			sep = "\t"
		}
	}
	comma, size := utf8.DecodeRuneInString(sep)
	if size != len(sep) {
		return nil, fmt.Errorf("%w: %s: sep must be a single character, got %q", ErrValue, b.Name(), sep)
	}

	r := csv.NewReader(strings.NewReader(text))
	r.Comma = comma
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %s %q: %v", ErrValue, b.Name(), path, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %s %q: file is empty", ErrValue, b.Name(), path)
	}
	return tableFromRecords(records[0], records[1:])
}

// tableFromRecords builds a table from a header row and ragged data rows.
// Short rows are padded; blank or repeated header names get a positional name.
func tableFromRecords(header []string, rows [][]string) (*Table, error) {
	width := len(header)
	for _, r := range rows {
		width = max(width, len(r))
	}
	seen := make(map[string]bool)
	cols := make([]*column, width)
	for j := 0; j < width; j++ {
		name := ""
		if j < len(header) {
			name = strings.TrimSpace(header[j])
		}
		if name == "" || seen[name] {
			name = "column_" + strconv.Itoa(j)
		}
		seen[name] = true
		cells := make([]string, len(rows))
		for i, r := range rows {
			if j < len(r) {
				cells[i] = r[j]
			}
		}
		cols[j] = parseColumn(name, cells)
	}
	return newTable(cols)
}

// decode converts raw file bytes to UTF-8 text. "auto" accepts valid
// UTF-8 and otherwise tries the autoEncodings in order.
func decode(raw []byte, encoding string) (string, error) {
	name := strings.ToLower(strings.TrimSpace(encoding))
	switch name {
	case "", "utf-8", "utf8":
		if !utf8.Valid(raw) {
			return "", fmt.Errorf("%w: file is not valid utf-8; try encoding=\"gb18030\", \"gbk\", \"latin-1\" or \"auto\"", ErrEncoding)
		}
		out, err := unicode.UTF8BOM.NewDecoder().Bytes(raw)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrEncoding, err)
		}
		return string(out), nil
	case "auto":
		if utf8.Valid(raw) {
			return decode(raw, "utf-8")
		}
		for _, candidate := range autoEncodings {
			if text, err := decode(raw, candidate); err == nil && !strings.ContainsRune(text, utf8.RuneError) {
				return text, nil
			}
		}
		return "", fmt.Errorf("%w: could not detect the file encoding (tried utf-8, %s)", ErrEncoding, strings.Join(autoEncodings, ", "))
	}

	enc, err := htmlindex.Get(name)
	if err != nil {
		return "", fmt.Errorf("%w: unknown encoding %q", ErrEncoding, encoding)
	}
	out, err := enc.NewDecoder().Bytes(raw)
	if err != nil {
		return "", fmt.Errorf("%w: decoding as %s: %v", ErrEncoding, encoding, err)
	}
	return string(bytes.TrimPrefix(out, []byte("\ufeff"))), nil
}

func readJSON(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var path string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "path", &path); err != nil {
		return nil, err
	}
	raw, _, err := readInput(thread, path, ".json")
	if err != nil {
		return nil, err
	}
	if !utf8.Valid(raw) {
		return nil, fmt.Errorf("%w: %s %q is not valid utf-8", ErrEncoding, b.Name(), path)
	}
	var records []map[string]any
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("%w: %s %q: want an array of objects: %v", ErrValue, b.Name(), path, err)
	}

	keySet := make(map[string]bool)
	for _, rec := range records {
		for k := range rec {
			keySet[k] = true
		}
	}
	keys := make([]string, 0, len(keySet))
	for k := range keySet {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	cols := make([]*column, len(keys))
	for j, k := range keys {
		cells := make([]string, len(records))
		for i, rec := range records {
			cells[i] = jsonCell(rec[k])
		}
		cols[j] = parseColumn(k, cells)
	}
	return newTable(cols)
}

func jsonCell(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}

func fromDict(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var d *starlark.Dict
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "columns", &d); err != nil {
		return nil, err
	}
	cols := make([]*column, 0, d.Len())
	for _, item := range d.Items() {
		name, ok := starlark.AsString(item[0])
		if !ok {
			return nil, fmt.Errorf("%s: column names must be strings, got %s", b.Name(), item[0].Type())
		}
		vals, err := iterableValues(b.Name(), item[1])
		if err != nil {
			return nil, err
		}
		cols = append(cols, valuesColumn(name, vals))
	}
	return newTable(cols)
}
