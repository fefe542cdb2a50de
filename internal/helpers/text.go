package helpers

import "unicode/utf8"

// TruncateUTF8 cuts s to at most max bytes without splitting a multi-byte
// rune: when the byte limit lands inside a rune the cut backs up to the
// previous rune boundary, so the result is always valid UTF-8 when the input
// was. max <= 0 means no limit.
func TruncateUTF8(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
