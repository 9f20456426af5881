package logutil

import (
	"strings"
	"unicode/utf8"
)

// MaxLoggedLen caps user-provided values (prompts, file names) in log lines.
const MaxLoggedLen = 120

// SanitizeForLog flattens user-provided strings onto one line so they cannot
// forge extra log entries, and truncates them to MaxLoggedLen runes.
func SanitizeForLog(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	n := 0
	for _, r := range s {
		if n == MaxLoggedLen {
			b.WriteString("...")
			break
		}
		switch {
		case r == '\n' || r == '\r' || r == '\t':
			b.WriteByte(' ')
		case r < 32 || r == utf8.RuneError:
			continue
		default:
			b.WriteRune(r)
		}
		n++
	}
	return b.String()
}
