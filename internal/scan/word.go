// Package scan provides stateless lexical helpers over raw SSL text:
// identifier lookup at a cursor, call-context detection for signature
// help, and comment/string-aware whole-word search.
package scan

import "strings"

// IsIdentChar reports whether c belongs to the SSL identifier class.
func IsIdentChar(c byte) bool {
	return (c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9') ||
		c == '_'
}

// WordAt returns the identifier enclosing or adjacent to the given
// 0-indexed line/column. Returns false when the position does not touch
// an identifier character.
func WordAt(text string, line, col int) (string, bool) {
	l, ok := lineAt(text, line)
	if !ok || col < 0 || col > len(l) {
		return "", false
	}

	start := col
	for start > 0 && IsIdentChar(l[start-1]) {
		start--
	}
	end := col
	for end < len(l) && IsIdentChar(l[end]) {
		end++
	}
	if start == end {
		return "", false
	}
	return l[start:end], true
}

// WordPrefixAt returns the identifier run immediately preceding the given
// 0-indexed line/column. Used for completion filtering.
func WordPrefixAt(text string, line, col int) (string, bool) {
	l, ok := lineAt(text, line)
	if !ok || col < 0 {
		return "", false
	}
	if col > len(l) {
		col = len(l)
	}

	start := col
	for start > 0 && IsIdentChar(l[start-1]) {
		start--
	}
	if start == col {
		return "", false
	}
	return l[start:col], true
}

// lineAt returns the 0-indexed line without its trailing newline.
func lineAt(text string, line int) (string, bool) {
	if line < 0 {
		return "", false
	}
	rest := text
	for i := 0; i < line; i++ {
		nl := strings.IndexByte(rest, '\n')
		if nl < 0 {
			return "", false
		}
		rest = rest[nl+1:]
	}
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		rest = rest[:nl]
	}
	return strings.TrimSuffix(rest, "\r"), true
}
