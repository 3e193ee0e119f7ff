package tabular

import (
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// minHeaderPadding keeps narrow columns readable.
const minHeaderPadding = 2

// Markdown renders the handle as a pipe table. Numeric columns are right
// aligned on their decimal point; everything else is left aligned.
func Markdown(h *Handle) string {
	if len(h.Columns) == 0 {
		return ""
	}

	cols := make([][]string, len(h.Columns))
	numeric := make([]bool, len(h.Columns))
	widths := make([]int, len(h.Columns))

	for i, c := range h.Columns {
		numeric[i] = h.Rows() > 0 && numericColumn(c)
		cells := make([]string, len(c.Values))
		for r, v := range c.Values {
			cells[r] = previewCell(c, v)
		}
		if numeric[i] {
			cells = alignDecimal(cells)
		}
		cols[i] = cells

		widths[i] = utf8.RuneCountInString(c.Name) + minHeaderPadding
		for _, s := range cells {
			if n := utf8.RuneCountInString(s); n > widths[i] {
				widths[i] = n
			}
		}
	}

	var b strings.Builder
	line := make([]string, len(h.Columns))

	for i, c := range h.Columns {
		line[i] = pad(c.Name, widths[i], numeric[i])
	}
	b.WriteString("| " + strings.Join(line, " | ") + " |\n")

	for i := range h.Columns {
		if numeric[i] {
			line[i] = strings.Repeat("-", widths[i]+1) + ":"
		} else {
			line[i] = ":" + strings.Repeat("-", widths[i]+1)
		}
	}
	b.WriteString("|" + strings.Join(line, "|") + "|")

	for r := 0; r < h.Rows(); r++ {
		for i := range h.Columns {
			line[i] = pad(cols[i][r], widths[i], numeric[i])
		}
		b.WriteString("\n| " + strings.Join(line, " | ") + " |")
	}
	return b.String()
}

// numericColumn reports whether every present value is a number.
func numericColumn(c *Column) bool {
	switch c.DType {
	case Int64, Float64:
		return true
	case Object:
		for _, v := range c.Values {
			switch v.(type) {
			case nil, int64, float64:
			default:
				return false
			}
		}
		return true
	}
	return false
}

func previewCell(c *Column, v any) string {
	switch x := v.(type) {
	case nil:
		if c.DType == Datetime {
			return "NaT"
		}
		return "nan"
	case int64:
		if c.DType == Float64 || (c.DType == Object && hasFloat(c)) {
			return formatGeneral(float64(x))
		}
		return strconv.FormatInt(x, 10)
	case float64:
		return formatGeneral(x)
	case time.Time:
		return formatTime(x)
	default:
		return formatPlain(x)
	}
}

func hasFloat(c *Column) bool {
	for _, v := range c.Values {
		switch v.(type) {
		case nil, float64:
			return true
		}
	}
	return false
}

// alignDecimal pads numbers on the right so their decimal points line up.
func alignDecimal(cells []string) []string {
	after := make([]int, len(cells))
	maxAfter := -1
	for i, s := range cells {
		after[i] = afterPoint(s)
		if after[i] > maxAfter {
			maxAfter = after[i]
		}
	}
	out := make([]string, len(cells))
	for i, s := range cells {
		out[i] = s + strings.Repeat(" ", maxAfter-after[i])
	}
	return out
}

// afterPoint counts characters after the decimal point (or exponent marker);
// integers and non-finite values report -1.
func afterPoint(s string) int {
	if _, err := strconv.ParseInt(s, 10, 64); err == nil {
		return -1
	}
	pos := strings.LastIndexByte(s, '.')
	if pos < 0 {
		pos = strings.LastIndexByte(strings.ToLower(s), 'e')
	}
	if pos < 0 {
		return -1
	}
	return len(s) - pos - 1
}

func pad(s string, width int, right bool) string {
	fill := width - utf8.RuneCountInString(s)
	if fill <= 0 {
		return s
	}
	if right {
		return strings.Repeat(" ", fill) + s
	}
	return s + strings.Repeat(" ", fill)
}
