// Package textnorm normalizes free text for literal search matching.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// RemoveDiacritics removes diacritical marks from a string (e.g., "Jiří" -> "Jiri").
func RemoveDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	result, _, _ := transform.String(t, s)
	return result
}

// Normalize lowercases, strips diacritics and collapses whitespace.
// Dashes and underscores count as spaces so file names match words.
func Normalize(s string) string {
	s = RemoveDiacritics(s)
	s = strings.ToLower(s)
	s = strings.NewReplacer("-", " ", "_", " ").Replace(s)
	return strings.Join(strings.Fields(s), " ")
}

// MatchesAny reports whether the normalized query occurs in any of the fields.
// The query must already be normalized; fields are normalized here.
func MatchesAny(query string, fields ...string) bool {
	if query == "" {
		return false
	}
	for _, f := range fields {
		if strings.Contains(Normalize(f), query) {
			return true
		}
	}
	return false
}
