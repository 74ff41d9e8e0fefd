// Package textnorm provides the accent-insensitive matching used by keyword
// filters and automation rules.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalize lower-cases s and strips combining diacritical marks, so that
// "João" and "joao" compare equal.
func Normalize(s string) string {
	if s == "" {
		return ""
	}
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}

// Terms splits a comma separated filter value into normalised, trimmed,
// non-empty search terms.
func Terms(commaSeparated string) []string {
	parts := strings.Split(commaSeparated, ",")
	terms := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(Normalize(p))
		if p != "" {
			terms = append(terms, p)
		}
	}
	return terms
}

// TextMatches reports whether haystack contains at least one of the comma
// separated needles. An empty filter always matches.
func TextMatches(haystack, needles string) bool {
	if strings.TrimSpace(needles) == "" {
		return true
	}
	terms := Terms(needles)
	if len(terms) == 0 {
		return true
	}
	return ContainsAny(Normalize(haystack), terms)
}

// ContainsAny reports whether an already normalised haystack contains any
// of the already normalised terms.
func ContainsAny(normalized string, terms []string) bool {
	for _, term := range terms {
		if strings.Contains(normalized, term) {
			return true
		}
	}
	return false
}

// Join normalises and joins the non-empty parts with single spaces. It is
// used to build the search text of timeline events.
func Join(parts ...string) string {
	var b strings.Builder
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(p)
	}
	return Normalize(b.String())
}
