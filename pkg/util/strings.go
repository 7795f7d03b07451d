package util

import (
	"unicode"
	"unicode/utf8"
)

// HasPrefixFold reports whether s begins with prefix under Unicode case
// folding. An empty prefix always matches.
func HasPrefixFold(s, prefix string) bool {
	return prefixFoldLen(s, prefix) >= 0
}

// TrimPrefixFold returns s with prefix removed when s begins with it
// (case-insensitively), and whether it was removed. The folded form of the
// prefix in s may be a different number of bytes than prefix.
func TrimPrefixFold(s, prefix string) (string, bool) {
	n := prefixFoldLen(s, prefix)
	if n < 0 {
		return s, false
	}
	return s[n:], true
}

// TrimAnyPrefixFold tries each prefix in order and trims the first match.
// It returns the remainder, the matched prefix as it appeared in s, and
// whether any prefix matched.
func TrimAnyPrefixFold(s string, prefixes ...string) (rest, matched string, ok bool) {
	for _, p := range prefixes {
		if p == "" {
			continue
		}
		if n := prefixFoldLen(s, p); n >= 0 {
			return s[n:], s[:n], true
		}
	}
	return s, "", false
}

// prefixFoldLen walks prefix rune by rune against s and returns how many
// bytes of s it covered, or -1 when s does not start with prefix.
func prefixFoldLen(s, prefix string) int {
	i := 0
	for _, want := range prefix {
		if i >= len(s) {
			return -1
		}
		got, size := utf8.DecodeRuneInString(s[i:])
		if got != want && !foldsTo(got, want) {
			return -1
		}
		i += size
	}
	return i
}

// foldsTo reports whether b is in the simple case-folding orbit of a.
func foldsTo(a, b rune) bool {
	for r := unicode.SimpleFold(a); r != a; r = unicode.SimpleFold(r) {
		if r == b {
			return true
		}
	}
	return false
}
