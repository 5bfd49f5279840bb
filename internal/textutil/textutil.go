// Package textutil holds character-count helpers shared by the retrieval,
// prompt and ingestion paths. Counts are in runes so multi-byte text is
// never cut mid-character.
package textutil

import "unicode/utf8"

// Truncate returns the first max runes of s.
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i]
		}
		n++
	}
	return s
}

// Split cuts s into consecutive pieces of at most size runes.
// The pieces concatenate back to s.
func Split(s string, size int) []string {
	if s == "" || size <= 0 {
		return nil
	}
	if utf8.RuneCountInString(s) <= size {
		return []string{s}
	}

	var out []string
	start, n := 0, 0
	for i := range s {
		if n == size {
			out = append(out, s[start:i])
			start, n = i, 0
		}
		n++
	}
	return append(out, s[start:])
}
