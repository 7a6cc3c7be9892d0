// Package logutil holds small helpers for writing remote paths and other
// server-provided strings into log lines.
package logutil

import "strings"

// SanitizeForLog removes newlines and control characters from remote or
// user-provided strings (file names can contain anything) so that a crafted
// name cannot forge extra log entries.
func SanitizeForLog(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	s = strings.ReplaceAll(s, "\t", " ")
	var result strings.Builder
	result.Grow(len(s))
	for _, r := range s {
		if r >= 32 && r != 127 {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// Path sanitizes p and shortens it to at most max runes, keeping the tail,
// which is the part that identifies a file.
func Path(p string, max int) string {
	p = SanitizeForLog(p)
	r := []rune(p)
	if max <= 3 || len(r) <= max {
		return p
	}
	return "..." + string(r[len(r)-(max-3):])
}
