package tabular

import (
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	dateLayout     = "2006-01-02"
	dateTimeLayout = "2006-01-02 15:04:05"
)

// formatFloat renders f in shortest round-trip form: positional notation
// between 1e-4 and 1e16, scientific outside, and always with a decimal point
// or exponent so the value reads back as a float.
func formatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "nan"
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	}

	sci := strconv.FormatFloat(f, 'e', -1, 64)
	exp, _ := strconv.Atoi(sci[strings.IndexByte(sci, 'e')+1:])
	if exp < -4 || exp >= 16 {
		return sci
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.ContainsAny(s, ".") {
		s += ".0"
	}
	return s
}

// formatGeneral renders f with six significant digits, dropping trailing
// zeros; used for table previews.
func formatGeneral(f float64) string {
	switch {
	case math.IsNaN(f):
		return "nan"
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	}
	return strconv.FormatFloat(f, 'g', 6, 64)
}

func formatBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

func formatTime(t time.Time) string {
	if t.Nanosecond() != 0 {
		return t.Format(dateTimeLayout + ".000000")
	}
	return t.Format(dateTimeLayout)
}

// formatPlain is the textual form of a single value outside a typed column.
func formatPlain(v any) string {
	switch x := v.(type) {
	case nil:
		return "nan"
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return formatFloat(x)
	case bool:
		return formatBool(x)
	case time.Time:
		return formatTime(x)
	case string:
		return x
	default:
		return ""
	}
}

func isMidnight(t time.Time) bool {
	return t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0
}
