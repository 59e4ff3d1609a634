package domain

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Verdict is a judge's answer to "do these two rationales contradict each
// other?".
type Verdict string

// Verdict values.
const (
	VerdictYes Verdict = "yes"
	VerdictNo  Verdict = "no"
)

// ParseVerdict maps a free-form judge reply onto a Verdict. The reply is
// matched case-insensitively on its prefix, so "Yes, because..." is
// VerdictYes. Anything else is ErrInvalidVerdict.
func ParseVerdict(reply string) (Verdict, error) {
	s := strings.ToLower(strings.TrimSpace(reply))
	switch {
	case strings.HasPrefix(s, string(VerdictYes)):
		return VerdictYes, nil
	case strings.HasPrefix(s, string(VerdictNo)):
		return VerdictNo, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidVerdict, truncate(reply, 64))
	}
}

// Valid reports whether v is one of the known verdicts.
func (v Verdict) Valid() bool { return v == VerdictYes || v == VerdictNo }

// truncate shortens s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
