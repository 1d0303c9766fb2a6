// Package merge applies partial configuration overrides onto a base payload.
//
// Objects merge key by key. Lists are atomic and replaced wholesale. A key
// present in the override with a nil value clears the base value: the result
// keeps the key with a nil value, so "absent", "null" and "present" stay
// distinct.
package merge

// Merge returns a new mapping with override applied onto base. Neither input
// is modified and the result shares no maps or slices with them.
func Merge(base, override map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		out[k] = cloneValue(v)
	}
	for k, ov := range override {
		om, overrideIsMap := ov.(map[string]any)
		bm, baseIsMap := out[k].(map[string]any)
		if overrideIsMap && baseIsMap {
			out[k] = Merge(bm, om)
			continue
		}
		out[k] = cloneValue(ov)
	}
	return out
}

// Clone deep-copies a mapping.
func Clone(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return Clone(t)
	case []any:
		if t == nil {
			return t
		}
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	}
	return v
}
