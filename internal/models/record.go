package models

import "fmt"

// Record is an untyped source row as delivered by a legacy extract. Keys that
// were never present and keys explicitly set to null are different things:
// Field reports presence, and callers that care about completeness must check
// both returns instead of coalescing.
type Record map[string]any

// Field returns the raw value and whether the key exists at all.
func (r Record) Field(key string) (any, bool) {
	v, ok := r[key]
	return v, ok
}

// Has reports whether the key exists with a non-nil value.
func (r Record) Has(key string) bool {
	v, ok := r[key]
	return ok && v != nil
}

// String returns the value rendered as a string. Absent and null both yield
// ("", false).
func (r Record) String(key string) (string, bool) {
	v, ok := r[key]
	if !ok || v == nil {
		return "", false
	}
	if s, isStr := v.(string); isStr {
		return s, true
	}
	return fmt.Sprintf("%v", v), true
}
