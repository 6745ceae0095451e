package normalize

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	schemeRe = regexp.MustCompile(`^https?://`)
	wwwRe    = regexp.MustCompile(`^www\.`)
)

// Supplier normalizes with the embedded tables.
func Supplier(raw string) string {
	return Default().Supplier(raw)
}

// Supplier returns the canonical supplier name for raw. Only names matching
// an alias are rewritten; URL noise is stripped for matching but an
// unmatched URL is kept as written, lower-cased. Private contacts
// (messenger handles, phone numbers) become Unknown.
func (t *Table) Supplier(raw string) string {
	s := collapse(norm.NFKC.String(raw))
	if s == "" {
		return Unknown
	}

	key := strings.ToLower(s)
	if c, ok := t.suppliers.lookup(key, false); ok {
		return c
	}

	bare := stripURLNoise(key)
	if c, ok := t.suppliers.lookup(bare, false); ok {
		return c
	}

	for _, m := range t.contactMarkers {
		if strings.Contains(key, m) {
			return Unknown
		}
	}

	if looksLikeURL(key) {
		return key
	}
	return t.titleCase(s)
}

func stripURLNoise(s string) string {
	s = schemeRe.ReplaceAllString(s, "")
	s = wwwRe.ReplaceAllString(s, "")
	return strings.TrimRight(s, "/")
}

func looksLikeURL(s string) bool {
	if schemeRe.MatchString(s) || wwwRe.MatchString(s) {
		return true
	}
	return !strings.Contains(s, " ") && strings.Contains(s, ".") && !strings.HasSuffix(s, ".")
}
