package schema

import "reflect"

// Merge deep-merges b into a copy of a. Objects merge key by key, arrays are
// unioned without duplicates and scalars in b replace those in a. Neither
// input is modified.
func Merge(a, b Definition) Definition {
	if a == nil && b == nil {
		return nil
	}
	out, _ := mergeValue(deepCopy(a), b).(map[string]any)
	if out == nil {
		out = Definition{}
	}
	return out
}

func mergeValue(dst, src any) any {
	switch s := src.(type) {
	case map[string]any:
		d, ok := dst.(map[string]any)
		if !ok {
			return deepCopy(s)
		}
		if d == nil {
			d = make(map[string]any, len(s))
		}
		for k, v := range s {
			if existing, ok := d[k]; ok {
				d[k] = mergeValue(existing, v)
			} else {
				d[k] = deepCopy(v)
			}
		}
		return d
	case []any:
		d, ok := dst.([]any)
		if !ok {
			return deepCopy(s)
		}
		for _, v := range s {
			if !containsValue(d, v) {
				d = append(d, deepCopy(v))
			}
		}
		return d
	case []string:
		d, ok := dst.([]string)
		if !ok {
			return deepCopy(s)
		}
		for _, v := range s {
			found := false
			for _, e := range d {
				if e == v {
					found = true
					break
				}
			}
			if !found {
				d = append(d, v)
			}
		}
		return d
	case nil:
		if dst != nil {
			return dst
		}
		return nil
	default:
		return src
	}
}

func containsValue(list []any, v any) bool {
	for _, e := range list {
		if reflect.DeepEqual(e, v) {
			return true
		}
	}
	return false
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		if t == nil {
			return map[string]any(nil)
		}
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = deepCopy(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = deepCopy(e)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}
