package models

import (
	"fmt"
	"strings"
)

// Key is a value object encapsulating bucket key construction. It centralizes
// key format and sanitization so a user-controlled identifier containing the
// delimiter cannot collide with an adjacent bucket.
type Key struct {
	scope      Scope
	identifier string
}

// NewKey creates a bucket key for the given scope and identifier. The global
// scope carries a fixed identifier since there is exactly one global bucket.
func NewKey(scope Scope, identifier string) Key {
	if scope == ScopeGlobal {
		identifier = "all"
	}
	return Key{scope: scope, identifier: sanitizeKeySegment(identifier)}
}

// String returns the formatted key for storage lookup.
func (k Key) String() string {
	return fmt.Sprintf("%s:%s", k.scope, k.identifier)
}

// sanitizeKeySegment escapes delimiter characters in key segments.
//
// Escape rules (order matters):
//  1. Escape '_' to '__' (escape the escape character first)
//  2. Escape ':' to '_c' (escape the delimiter)
//
// No two distinct inputs produce the same sanitized output.
func sanitizeKeySegment(s string) string {
	s = strings.ReplaceAll(s, "_", "__")
	s = strings.ReplaceAll(s, ":", "_c")
	return s
}
