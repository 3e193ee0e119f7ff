package snippet

import (
	"strings"
	"unicode/utf8"
)

// output collects printed text up to a byte ceiling.
type output struct {
	buf   strings.Builder
	limit int
	full  bool
}

func newOutput(limit int) *output {
	return &output{limit: limit}
}

// write appends s and reports false once the ceiling is hit. The kept prefix
// never splits a rune.
func (o *output) write(s string) bool {
	if o.full {
		return false
	}
	room := o.limit - o.buf.Len()
	if len(s) <= room {
		o.buf.WriteString(s)
		return true
	}
	cut := room
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	o.buf.WriteString(s[:cut])
	o.full = true
	return false
}

func (o *output) Len() int {
	return o.buf.Len()
}

func (o *output) String() string {
	return o.buf.String()
}
