// Package textnorm strips the Unicode bidirectional-override control points
// that AT Protocol clients occasionally smuggle into free text fields.
package textnorm

import "strings"

// isBidiControl covers U+202A..U+202E (explicit bidi embeddings/overrides)
// and U+2066..U+2069 (isolates).
func isBidiControl(r rune) bool {
	switch {
	case r >= 0x202A && r <= 0x202E:
		return true
	case r >= 0x2066 && r <= 0x2069:
		return true
	default:
		return false
	}
}

// String removes bidi control points from s. Safe to call on already-clean
// strings; it only allocates if a control point is present.
func String(s string) string {
	if !strings.ContainsFunc(s, isBidiControl) {
		return s
	}
	return strings.Map(func(r rune) rune {
		if isBidiControl(r) {
			return -1
		}
		return r
	}, s)
}

// Slice normalizes every element of ss in place and returns it.
func Slice(ss []string) []string {
	for i, s := range ss {
		ss[i] = String(s)
	}
	return ss
}
