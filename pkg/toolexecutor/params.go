package toolexecutor

import (
	"encoding/json"
	"fmt"
	"math"
)

// StringParam returns a string argument, or "" when absent or null.
func StringParam(params map[string]interface{}, name string) string {
	s, _ := params[name].(string)
	return s
}

// OptionalStringParam returns nil for an absent or null argument.
func OptionalStringParam(params map[string]interface{}, name string) *string {
	s, ok := params[name].(string)
	if !ok {
		return nil
	}
	return &s
}

// IntParam converts a numeric argument to int, falling back when absent.
func IntParam(params map[string]interface{}, name string, fallback int) (int, error) {
	raw, ok := params[name]
	if !ok || raw == nil {
		return fallback, nil
	}
	switch v := raw.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, Validationf("%s must be an integer, got %v", name, v)
		}
		return int(v), nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, Validationf("%s must be an integer: %v", name, err)
		}
		return int(n), nil
	default:
		return 0, Validationf("%s must be an integer, got %T", name, raw)
	}
}

// StringSliceParam converts an array argument into strings.
func StringSliceParam(params map[string]interface{}, name string) ([]string, error) {
	switch v := params[name].(type) {
	case nil:
		return nil, nil
	case []string:
		return append([]string(nil), v...), nil
	case []interface{}:
		out := make([]string, 0, len(v))
		for i, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, Validationf("%s[%d] must be a string, got %T", name, i, item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, Validationf("%s must be a list of strings, got %s", name, fmt.Sprintf("%T", v))
	}
}
