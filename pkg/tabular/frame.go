package tabular

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DType names a column's inferred type. The spellings match the dtype names
// agents already know from dataframe libraries.
type DType string

const (
	Int64    DType = "int64"
	Float64  DType = "float64"
	Bool     DType = "bool"
	Datetime DType = "datetime64[ns]"
	Object   DType = "object"
)

// Numeric reports whether arithmetic aggregations apply to the dtype.
func (d DType) Numeric() bool {
	return d == Int64 || d == Float64 || d == Bool
}

// naValues are the cell spellings read as missing.
var naValues = map[string]bool{
	"": true, "#N/A": true, "#N/A N/A": true, "#NA": true, "-1.#IND": true,
	"-1.#QNAN": true, "-NaN": true, "-nan": true, "1.#IND": true, "1.#QNAN": true,
	"<NA>": true, "N/A": true, "NA": true, "NULL": true, "NaN": true,
	"None": true, "n/a": true, "nan": true, "null": true,
}

// Column is one named column. Values hold nil for missing cells and
// otherwise one of int64, float64, bool, time.Time or string.
type Column struct {
	Name   string
	DType  DType
	Values []any
}

// NullCount returns the number of missing values.
func (c *Column) NullCount() int {
	n := 0
	for _, v := range c.Values {
		if v == nil {
			n++
		}
	}
	return n
}

// Handle is one loaded sheet. It lives for a single tool call.
type Handle struct {
	Path    string
	Sheet   string
	Columns []*Column
	rows    int
}

// Rows returns the number of data rows (the header is not counted).
func (h *Handle) Rows() int {
	return h.rows
}

// ColumnNames returns the column names in source order.
func (h *Handle) ColumnNames() []string {
	names := make([]string, len(h.Columns))
	for i, c := range h.Columns {
		names[i] = c.Name
	}
	return names
}

// Column looks a column up by its exact, case-preserving name.
func (h *Handle) Column(name string) (*Column, error) {
	for _, c := range h.Columns {
		if c.Name == name {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrColumnNotFound, name)
}

// Head returns a handle over the first n rows.
func (h *Handle) Head(n int) *Handle {
	if n < 0 {
		n = 0
	}
	if n > h.rows {
		n = h.rows
	}
	out := &Handle{Path: h.Path, Sheet: h.Sheet, rows: n, Columns: make([]*Column, len(h.Columns))}
	for i, c := range h.Columns {
		out.Columns[i] = &Column{Name: c.Name, DType: c.DType, Values: c.Values[:n]}
	}
	return out
}

// newHandle builds a handle from a grid whose first row is the header.
// Text cells are parsed into numbers and booleans; cells already typed by the
// workbook reader (bool, time.Time) are kept as they are.
func newHandle(path, sheet string, grid [][]any) *Handle {
	h := &Handle{Path: path, Sheet: sheet}
	if len(grid) == 0 {
		return h
	}

	width := 0
	for _, row := range grid {
		if len(row) > width {
			width = len(row)
		}
	}

	header := make([]string, width)
	for i := range header {
		var cell any
		if i < len(grid[0]) {
			cell = grid[0][i]
		}
		header[i] = headerLabel(cell, i)
	}
	header = dedupeNames(header)

	data := grid[1:]
	h.rows = len(data)
	h.Columns = make([]*Column, width)
	for i, name := range header {
		values := make([]any, len(data))
		for r, row := range data {
			if i < len(row) {
				values[r] = parseCell(row[i])
			}
		}
		dtype, typed := classify(values)
		h.Columns[i] = &Column{Name: name, DType: dtype, Values: typed}
	}
	return h
}

func headerLabel(cell any, index int) string {
	var label string
	switch v := cell.(type) {
	case nil:
	case string:
		label = v
	default:
		label = formatPlain(v)
	}
	if label == "" {
		return fmt.Sprintf("Unnamed: %d", index)
	}
	return label
}

// dedupeNames renames repeated headers to name.1, name.2, ... skipping any
// candidate that is already taken.
func dedupeNames(names []string) []string {
	out := make([]string, len(names))
	counts := make(map[string]int, len(names))
	for i, name := range names {
		cur := counts[name]
		for cur > 0 {
			counts[name] = cur + 1
			name = fmt.Sprintf("%s.%d", name, cur)
			cur = counts[name]
		}
		out[i] = name
		counts[name] = cur + 1
	}
	return out
}

// parseCell turns raw cell text into its typed value.
func parseCell(cell any) any {
	s, ok := cell.(string)
	if !ok {
		return cell
	}
	if naValues[s] {
		return nil
	}
	switch s {
	case "True", "TRUE", "true":
		return true
	case "False", "FALSE", "false":
		return false
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	lower := strings.ToLower(strings.TrimLeft(s, "+-"))
	if !strings.HasPrefix(lower, "0x") && !strings.Contains(s, "_") {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	return s
}

// classify infers a dtype from typed values and coerces them to it.
// Integers with gaps widen to float64; booleans with gaps become object;
// a column with no values at all is float64.
func classify(values []any) (DType, []any) {
	var ints, floats, bools, times, nulls int
	for _, v := range values {
		switch v.(type) {
		case nil:
			nulls++
		case int64:
			ints++
		case float64:
			floats++
		case bool:
			bools++
		case time.Time:
			times++
		}
	}
	present := len(values) - nulls

	switch {
	case present == 0:
		return Float64, values
	case ints == present && nulls == 0:
		return Int64, values
	case ints+floats == present:
		out := make([]any, len(values))
		for i, v := range values {
			if n, ok := v.(int64); ok {
				out[i] = float64(n)
			} else {
				out[i] = v
			}
		}
		return Float64, out
	case bools == present && nulls == 0:
		return Bool, values
	case times == present:
		return Datetime, values
	default:
		return Object, values
	}
}
