// Package utils provides shared utilities for text, math, and logging.
package utils

import "strings"

// Truncate returns s cut to at most maxLen runes, with "..." appended if truncated.
// If maxLen is 0 or negative, returns s unchanged.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}

// OneLine collapses all whitespace, including newlines, to single spaces.
func OneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
