package jsonrpc

import "encoding/json"

// DecodeParams turns the raw params bytes of a request into the tagged
// value tree described by the relay's design notes: whatever
// encoding/json.Unmarshal produces for an `any` target — []any for an
// array, map[string]any for an object. Absent or null params decode to an
// empty array, matching the relay's "absent treated as empty array" rule.
func DecodeParams(raw json.RawMessage) (any, error) {
	if len(raw) == 0 {
		return []any{}, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	if v == nil {
		return []any{}, nil
	}
	return v, nil
}

// IsArray reports whether the decoded params value is a JSON array.
func IsArray(v any) bool {
	_, ok := v.([]any)
	return ok
}

// ArrayLen returns the length of v as an array, or 0 if v is not an array.
func ArrayLen(v any) int {
	a, ok := v.([]any)
	if !ok {
		return 0
	}
	return len(a)
}

// ArrayIndex returns the element at i, or (nil, false) if v is not an
// array or i is out of range.
func ArrayIndex(v any, i int) (any, bool) {
	a, ok := v.([]any)
	if !ok || i < 0 || i >= len(a) {
		return nil, false
	}
	return a[i], true
}

// AsObject returns v as a JSON object, or (nil, false) if it is not one.
func AsObject(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

// GetString returns obj[field] as a string, or ("", false) if absent or
// not a string.
func GetString(obj map[string]any, field string) (string, bool) {
	s, ok := obj[field].(string)
	return s, ok
}

// RewritePendingNonce implements the relay's rewrite 1: for
// eth_getTransactionCount with at least one positional param, the block
// tag (params[1] and anything past it) is collapsed into the single
// string "pending", leaving params[0] untouched. Any other method or
// shape is returned unchanged.
func RewritePendingNonce(method string, params any) any {
	if method != "eth_getTransactionCount" {
		return params
	}
	arr, ok := params.([]any)
	if !ok || len(arr) < 1 {
		return params
	}
	return []any{arr[0], "pending"}
}

// Canonicalize re-encodes a decoded params value as JSON with object keys
// sorted lexicographically at every level, so semantically equal params
// produce identical cache keys. json.Marshal sorts map[string]any keys at
// every nesting depth, which is exactly the canonical form needed.
func Canonicalize(v any) (json.RawMessage, error) {
	return json.Marshal(v)
}
