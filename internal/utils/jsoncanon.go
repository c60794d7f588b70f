package utils

import (
	"encoding/json"
	"sort"
)

// CanonicalizeJSON re-encodes b with object keys sorted recursively, so
// equal documents produce identical bytes regardless of field order. The
// idempotency layer digests request bodies through this before hashing.
// Input that is not valid JSON comes back untouched.
func CanonicalizeJSON(b []byte) []byte {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return b
	}
	out, err := json.Marshal(canonicalize(v))
	if err != nil {
		return b
	}
	return out
}

func canonicalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		m := make(map[string]any, len(t))
		for _, k := range keys {
			m[k] = canonicalize(t[k])
		}
		return m
	case []any:
		for i := range t {
			t[i] = canonicalize(t[i])
		}
		return t
	default:
		return v
	}
}
