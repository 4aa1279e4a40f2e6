package header

import "strconv"

// interpretScalar applies the XML text-interpretation ladder described
// in spec.md §4.3 and §9: try integer, then float, then boolean,
// otherwise keep the string. Non-string input (already the product of
// a previous interpretScalar call, e.g. from a single-child collapse)
// passes through unchanged — the ladder is idempotent.
func interpretScalar(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	switch s {
	case "True":
		return true
	case "False":
		return false
	}
	return s
}
