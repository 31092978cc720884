package util

import (
	"strconv"
	"strings"
	"unicode"
)

// redacted replaces secrets found in diagnostic text
const redacted = "****"

// SingleLine makes s safe to store as one log line.
// Line breaks and other control characters are escaped the way strconv.Quote
// escapes them; all other runes are kept as-is.
func SingleLine(s string) string {
	if strings.IndexFunc(s, unicode.IsControl) == -1 {
		return s
	}

	var sb strings.Builder
	sb.Grow(len(s) + 8)
	for _, r := range s {
		if !unicode.IsControl(r) {
			sb.WriteRune(r)
			continue
		}
		q := strconv.QuoteRune(r)
		// strip the surrounding single quotes
		sb.WriteString(q[1 : len(q)-1])
	}
	return sb.String()
}

// Redact replaces every occurrence of each non-empty secret in s.
// Longer secrets are replaced first so a secret that contains another one is
// not left partially visible.
func Redact(s string, secrets ...string) string {
	ordered := make([]string, 0, len(secrets))
	for _, secret := range secrets {
		if secret != "" {
			ordered = append(ordered, secret)
		}
	}
	if len(ordered) == 0 {
		return s
	}

	for i := 1; i < len(ordered); i++ {
		for j := i; j > 0 && len(ordered[j]) > len(ordered[j-1]); j-- {
			ordered[j], ordered[j-1] = ordered[j-1], ordered[j]
		}
	}

	for _, secret := range ordered {
		s = strings.ReplaceAll(s, secret, redacted)
	}
	return s
}
