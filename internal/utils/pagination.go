// Package utils holds tiny helpers shared across layers. Nothing in
// here knows about pages, payments, or HTTP.
package utils

import "strconv"

// AtoiDefault parses s as an int, returning def when s is empty or not
// a valid integer. Query-string pagination parsing relies on it.
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}
