package profile

import (
	"fmt"
	"strconv"
)

// Params is a nested parameter document: a mapping of name to scalar, list
// or nested Params.
type Params map[string]any

// Merge returns a new document with override merged into base. Scalars and
// lists in override replace those in base; when both sides hold a mapping
// the merge recurses. Neither input is modified, and merging the same
// override twice yields the same result as merging it once.
func Merge(base, override Params) Params {
	out := Clone(base)
	if out == nil {
		out = Params{}
	}
	for k, ov := range override {
		om, oIsMap := asParams(ov)
		if !oIsMap {
			out[k] = cloneValue(ov)
			continue
		}
		if bm, bIsMap := asParams(out[k]); bIsMap {
			out[k] = Merge(bm, om)
			continue
		}
		out[k] = Clone(om)
	}
	return out
}

// Clone deep-copies p, normalising nested mappings to Params.
func Clone(p Params) Params {
	if p == nil {
		return nil
	}
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	if m, ok := asParams(v); ok {
		return Clone(m)
	}
	switch t := v.(type) {
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []int:
		return append([]int(nil), t...)
	case []string:
		return append([]string(nil), t...)
	}
	return v
}

func asParams(v any) (Params, bool) {
	switch t := v.(type) {
	case Params:
		return t, true
	case map[string]any:
		return Params(t), true
	}
	return nil, false
}

// Group returns the nested mapping stored under name, or an empty one.
func (p Params) Group(name string) Params {
	if m, ok := asParams(p[name]); ok {
		return m
	}
	return Params{}
}

// Has reports whether key is present.
func (p Params) Has(key string) bool {
	_, ok := p[key]
	return ok
}

// Int returns key as an int when it holds any numeric type or a numeric string.
func (p Params) Int(key string) (int, bool) {
	return toInt(p[key])
}

// Bool returns key as a bool.
func (p Params) Bool(key string) bool {
	switch t := p[key].(type) {
	case bool:
		return t
	case string:
		b, _ := strconv.ParseBool(t)
		return b
	}
	return false
}

// String returns key formatted as a string, or "" when absent.
func (p Params) String(key string) string {
	v, ok := p[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Strings returns key as a string list.
func (p Params) Strings(key string) []string {
	switch t := p[key].(type) {
	case []string:
		return append([]string(nil), t...)
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			out = append(out, fmt.Sprint(e))
		}
		return out
	case string:
		return []string{t}
	}
	return nil
}

// Ints returns key as an int list, skipping non-numeric entries.
func (p Params) Ints(key string) []int {
	switch t := p[key].(type) {
	case []int:
		return append([]int(nil), t...)
	case []any:
		out := make([]int, 0, len(t))
		for _, e := range t {
			if n, ok := toInt(e); ok {
				out = append(out, n)
			}
		}
		return out
	}
	return nil
}

func toInt(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int8:
		return int(t), true
	case int16:
		return int(t), true
	case int32:
		return int(t), true
	case int64:
		return int(t), true
	case uint:
		return int(t), true
	case uint8:
		return int(t), true
	case uint16:
		return int(t), true
	case uint32:
		return int(t), true
	case uint64:
		return int(t), true
	case float32:
		return int(t), true
	case float64:
		return int(t), true
	case string:
		n, err := strconv.Atoi(t)
		return n, err == nil
	}
	return 0, false
}
