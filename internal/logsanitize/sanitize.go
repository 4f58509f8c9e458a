// Package logsanitize strips control characters from values that end up
// in log output.
package logsanitize

import "strings"

// Sanitize replaces every control character in s with '_' so an untrusted
// value cannot inject forged log lines or terminal escapes (CWE-117).
// Horizontal tabs pass through; the C0 range, DEL and the C1 range are
// replaced.
func Sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\t':
			return r
		case r < 0x20, r >= 0x7f && r <= 0x9f:
			return '_'
		}
		return r
	}, s)
}
