package text

import "unicode/utf8"

const ellipsis = "..."

// Truncate caps s at max bytes without splitting a UTF-8 sequence and marks
// the cut with "...". The result never exceeds max+3 bytes.
func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + ellipsis
}
