package normalize

import (
	"regexp"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

var (
	labelPrefixRe = regexp.MustCompile(`(?i)^(peptide|compound|product)\s*:\s*`)
	dosageRe      = regexp.MustCompile(`(?i)\s*\(?\s*\d+(?:[.,]\d+)?\s*(?:mcg|mg|[µμu]g|iu|g)\b\s*\)?`)
	blendSplitRe  = regexp.MustCompile(`\s*[+&/]\s*|\s+and\s+`)
	letterRunRe   = regexp.MustCompile(`[A-Za-z]+`)
	codeNumberRe  = regexp.MustCompile(`\b([A-Za-z]{1,4})(-?\d)`)
)

// Peptide normalizes with the embedded tables.
func Peptide(raw string) string {
	return Default().Peptide(raw)
}

// Peptide returns the canonical peptide name for raw. Dosage tokens and
// label prefixes are removed, blends are normalized per component and
// joined with "+". Names without an alias are title-cased, never dropped.
func (t *Table) Peptide(raw string) string {
	return strings.Join(t.PeptideComponents(raw), "+")
}

// PeptideComponents normalizes with the embedded tables.
func PeptideComponents(raw string) []string {
	return Default().PeptideComponents(raw)
}

// PeptideComponents returns the canonical names raw is made of: one name
// for a single peptide or protocol, several (sorted, distinct) for a
// composed blend such as "BPC-157/TB500".
func (t *Table) PeptideComponents(raw string) []string {
	s := cleanPeptide(raw)
	if s == "" {
		return []string{Unknown}
	}

	key := strings.ToLower(s)
	if c, ok := t.peptides.lookup(key, true); ok {
		return []string{c}
	}

	var parts []string
	for _, p := range blendSplitRe.Split(key, -1) {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) < 2 {
		return []string{t.titleCase(s)}
	}

	seen := make(map[string]bool, len(parts))
	names := make([]string, 0, len(parts))
	for _, p := range parts {
		name := t.singlePeptide(p)
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// IsKnownPeptide reports whether raw resolves through the alias table as a
// single peptide or protocol.
func IsKnownPeptide(raw string) bool {
	return Default().IsKnownPeptide(raw)
}

// IsKnownPeptide reports whether raw resolves through the alias table.
func (t *Table) IsKnownPeptide(raw string) bool {
	s := cleanPeptide(raw)
	if s == "" {
		return false
	}
	_, ok := t.peptides.lookup(strings.ToLower(s), true)
	return ok
}

func cleanPeptide(raw string) string {
	s := collapse(norm.NFKC.String(raw))
	s = labelPrefixRe.ReplaceAllString(s, "")
	s = dosageRe.ReplaceAllString(s, " ")
	return strings.Trim(collapse(s), " ,;:-")
}

func (t *Table) singlePeptide(key string) string {
	if c, ok := t.peptides.lookup(key, true); ok {
		return c
	}
	return t.titleCase(key)
}

// titleCase title-cases s and restores known acronyms, code-number
// prefixes ("SS-31") and small words.
func (t *Table) titleCase(s string) string {
	out := cases.Title(language.English).String(strings.ToLower(s))
	out = codeNumberRe.ReplaceAllStringFunc(out, strings.ToUpper)

	first := true
	out = letterRunRe.ReplaceAllStringFunc(out, func(w string) string {
		defer func() { first = false }()
		switch {
		case t.acronyms[strings.ToUpper(w)]:
			return strings.ToUpper(w)
		case !first && t.lowercase[strings.ToLower(w)]:
			return strings.ToLower(w)
		}
		return w
	})
	return out
}
