// Package policy keeps user text out of logs in raw form.
package policy

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
)

const previewRunes = 80

var (
	emailPattern  = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern  = regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`)
	cardPattern   = regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)
	apiKeyPattern = regexp.MustCompile(`\b(?:sk|pk|rk)-[A-Za-z0-9_\-]{16,}\b`)
)

// RedactPII masks common high-risk PII patterns.
func RedactPII(input string) (redacted string, changed bool) {
	out := input
	for _, r := range []struct {
		re   *regexp.Regexp
		mask string
	}{
		{apiKeyPattern, "[REDACTED_KEY]"},
		{emailPattern, "[REDACTED_EMAIL]"},
		// Cards before phones so long digit runs are not classified as phone numbers.
		{cardPattern, "[REDACTED_CARD]"},
		{phonePattern, "[REDACTED_PHONE]"},
	} {
		next := r.re.ReplaceAllString(out, r.mask)
		changed = changed || next != out
		out = next
	}
	return out, changed
}

// Preview redacts text and shortens it to a single log-friendly line.
func Preview(text string) string {
	out, _ := RedactPII(text)
	out = strings.Join(strings.Fields(out), " ")
	if utf8.RuneCountInString(out) > previewRunes {
		out = string([]rune(out)[:previewRunes]) + "…"
	}
	return out
}

// TextField is a zap field carrying a redacted preview of user text.
func TextField(key, text string) zap.Field {
	return zap.String(key, Preview(text))
}
