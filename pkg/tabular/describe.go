package tabular

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// DefaultHead is the number of preview rows when none is requested.
const DefaultHead = 5

// Description is the structural summary of one sheet.
type Description struct {
	Rows     int          `json:"rows"`
	Columns  []string     `json:"columns"`
	DTypes   orderedPairs `json:"dtypes"`
	NACounts orderedPairs `json:"na_counts"`
	Preview  string       `json:"preview"`
}

// Describe summarizes a handle; the preview holds at most head rows.
func Describe(h *Handle, head int) (Description, error) {
	if head < 0 {
		return Description{}, fmt.Errorf("head must be >= 0, got %d", head)
	}
	names := h.ColumnNames()
	d := Description{
		Rows:     h.Rows(),
		Columns:  names,
		DTypes:   orderedPairs{keys: names, values: make(map[string]any, len(names))},
		NACounts: orderedPairs{keys: names, values: make(map[string]any, len(names))},
		Preview:  Markdown(h.Head(head)),
	}
	for _, c := range h.Columns {
		d.DTypes.values[c.Name] = string(c.DType)
		d.NACounts.values[c.Name] = c.NullCount()
	}
	return d, nil
}

// JSON encodes the description without escaping HTML characters, keeping
// column order in the dtypes and na_counts objects.
func (d Description) JSON() (string, error) {
	out, err := encodeJSON(d)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// orderedPairs is a JSON object whose keys keep insertion order.
type orderedPairs struct {
	keys   []string
	values map[string]any
}

func (o orderedPairs) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range o.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := encodeJSON(k)
		if err != nil {
			return nil, err
		}
		val, err := encodeJSON(o.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func encodeJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
