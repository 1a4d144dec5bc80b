// Package normalize turns free-text values into the canonical forms used as
// lookup keys. Every function here is pure: the same input always yields the
// same output and nothing is cached.
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var folder = cases.Fold()

// stripMarks decomposes, drops nonspacing marks (accents) and recomposes.
func stripMarks(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// Canonical returns the lookup key for a categorical value: surrounding
// whitespace trimmed, inner whitespace runs collapsed to one space, accents
// removed and case folded. "  São   Paulo " and "SAO PAULO" map to the same
// key.
func Canonical(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return ""
	}
	if !isASCII(s) {
		s = stripMarks(s)
	}
	return folder.String(s)
}

// HeaderName converts header text into a lowercase identifier: accents
// stripped, space/dash/dot become '_', everything outside [a-z0-9_] dropped.
func HeaderName(s string) string {
	s = stripMarks(strings.ToLower(strings.TrimSpace(s)))

	var b strings.Builder
	prevUnderscore := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			prevUnderscore = false
		case r == '_' || r == ' ' || r == '-' || r == '.':
			if !prevUnderscore {
				b.WriteRune('_')
				prevUnderscore = true
			}
		}
	}
	return strings.Trim(b.String(), "_")
}

// missingTokens are placeholders the source uses for absent values.
var missingTokens = map[string]struct{}{
	"":        {},
	"missing": {},
	"nan":     {},
	"null":    {},
	"none":    {},
	"n/a":     {},
	"na":      {},
	"-":       {},
}

// IsMissing reports whether s is empty or a placeholder such as "Missing"
// or "NaN".
func IsMissing(s string) bool {
	_, ok := missingTokens[Canonical(s)]
	return ok
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}
