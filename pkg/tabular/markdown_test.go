package tabular

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMarkdown(t *testing.T) {
	tests := []struct {
		name string
		h    *Handle
		want string
	}{
		{
			name: "text and integers",
			h: handleOf(
				&Column{Name: "a", DType: Object, Values: []any{"x", "yy"}},
				&Column{Name: "b", DType: Int64, Values: []any{int64(1), int64(22)}},
			),
			want: "| a   |   b |\n" +
				"|:----|----:|\n" +
				"| x   |   1 |\n" +
				"| yy  |  22 |",
		},
		{
			name: "floats align on the decimal point",
			h: handleOf(
				&Column{Name: "c", DType: Float64, Values: []any{1.5, 10.25, nil}},
			),
			want: "|      c |\n" +
				"|-------:|\n" +
				"|   1.5  |\n" +
				"|  10.25 |\n" +
				"| nan    |",
		},
		{
			name: "general float format",
			h: handleOf(
				&Column{Name: "v", DType: Float64, Values: []any{1234567.0, 2.0}},
			),
			want: "|           v |\n" +
				"|------------:|\n" +
				"| 1.23457e+06 |\n" +
				"| 2           |",
		},
		{
			name: "booleans and missing datetimes",
			h: handleOf(
				&Column{Name: "ok", DType: Bool, Values: []any{true}},
				&Column{Name: "when", DType: Datetime, Values: []any{nil}},
			),
			want: "| ok   | when   |\n" +
				"|:-----|:-------|\n" +
				"| True | NaT    |",
		},
		{
			name: "no rows",
			h: handleOf(
				&Column{Name: "n", DType: Int64, Values: []any{}},
			),
			want: "| n   |\n" +
				"|:----|",
		},
		{
			name: "no columns",
			h:    &Handle{},
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Markdown(tt.h))
		})
	}
}

func TestFormatFloat(t *testing.T) {
	tests := map[float64]string{
		1:         "1.0",
		-0.5:      "-0.5",
		2.5:       "2.5",
		1e16:      "1e+16",
		1e15:      "1000000000000000.0",
		0.0001:    "0.0001",
		0.00001:   "1e-05",
		123.456:   "123.456",
		1.0 / 3.0: "0.3333333333333333",
	}
	for in, want := range tests {
		assert.Equal(t, want, formatFloat(in), "formatFloat(%v)", in)
	}
}
