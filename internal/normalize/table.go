// Package normalize maps the free-text peptide and supplier names printed on
// certificates onto canonical names, so that grouping and scoring see one
// name per product and per vendor.
package normalize

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed aliases.yaml
var defaultAliases []byte

// Unknown is returned for empty input and for private contacts.
const Unknown = "Unknown"

type aliasFile struct {
	Peptides       map[string][]string `yaml:"peptides"`
	Suppliers      map[string][]string `yaml:"suppliers"`
	ContactMarkers []string            `yaml:"contact_markers"`
	Acronyms       []string            `yaml:"acronyms"`
	LowercaseWords []string            `yaml:"lowercase_words"`
}

// index resolves lowercase spellings to canonical names.
type index struct {
	exact     map[string]string
	compact   map[string]string // "-", "_" and spaces removed; ambiguous keys dropped
	canonical []string
	spellings map[string][]string // canonical -> every lowercase spelling
}

// Table is a read-only set of alias tables. It is safe for concurrent use.
type Table struct {
	peptides       index
	suppliers      index
	contactMarkers []string
	acronyms       map[string]bool
	lowercase      map[string]bool
}

var (
	defaultOnce  sync.Once
	defaultTable *Table
)

// Default returns the table built from the embedded aliases.yaml.
func Default() *Table {
	defaultOnce.Do(func() {
		t, err := Load(defaultAliases)
		if err != nil {
			panic(fmt.Sprintf("normalize: embedded aliases.yaml: %v", err))
		}
		defaultTable = t
	})
	return defaultTable
}

// Load parses an alias document. A spelling claimed by two canonical names
// is an error.
func Load(data []byte) (*Table, error) {
	var f aliasFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse aliases: %w", err)
	}

	peptides, err := buildIndex("peptides", f.Peptides)
	if err != nil {
		return nil, err
	}
	suppliers, err := buildIndex("suppliers", f.Suppliers)
	if err != nil {
		return nil, err
	}

	t := &Table{
		peptides:  peptides,
		suppliers: suppliers,
		acronyms:  make(map[string]bool, len(f.Acronyms)),
		lowercase: make(map[string]bool, len(f.LowercaseWords)),
	}
	for _, m := range f.ContactMarkers {
		if m = strings.ToLower(m); m != "" {
			t.contactMarkers = append(t.contactMarkers, m)
		}
	}
	for _, a := range f.Acronyms {
		t.acronyms[strings.ToUpper(a)] = true
	}
	for _, w := range f.LowercaseWords {
		t.lowercase[strings.ToLower(w)] = true
	}
	return t, nil
}

func buildIndex(section string, aliases map[string][]string) (index, error) {
	idx := index{
		exact:     make(map[string]string),
		compact:   make(map[string]string),
		spellings: make(map[string][]string, len(aliases)),
	}
	ambiguous := make(map[string]bool)

	for canonical, spellings := range aliases {
		canonical = strings.TrimSpace(canonical)
		if canonical == "" {
			return index{}, fmt.Errorf("%s: empty canonical name", section)
		}
		idx.canonical = append(idx.canonical, canonical)

		all := append([]string{canonical}, spellings...)
		for _, s := range all {
			key := collapse(strings.ToLower(s))
			if key == "" {
				continue
			}
			if prev, ok := idx.exact[key]; ok && prev != canonical {
				return index{}, fmt.Errorf("%s: %q maps to both %q and %q", section, key, prev, canonical)
			}
			if _, ok := idx.exact[key]; !ok {
				idx.spellings[canonical] = append(idx.spellings[canonical], key)
			}
			idx.exact[key] = canonical

			ck := compactKey(key)
			if prev, ok := idx.compact[ck]; ok && prev != canonical {
				ambiguous[ck] = true
			}
			idx.compact[ck] = canonical
		}
	}
	for ck := range ambiguous {
		delete(idx.compact, ck)
	}
	sort.Strings(idx.canonical)
	return idx, nil
}

func (idx index) lookup(key string, allowCompact bool) (string, bool) {
	if c, ok := idx.exact[key]; ok {
		return c, true
	}
	if allowCompact {
		if c, ok := idx.compact[compactKey(key)]; ok {
			return c, true
		}
	}
	return "", false
}

// Peptides returns every canonical peptide name, sorted.
func (t *Table) Peptides() []string {
	return append([]string(nil), t.peptides.canonical...)
}

// Suppliers returns every canonical supplier name, sorted.
func (t *Table) Suppliers() []string {
	return append([]string(nil), t.suppliers.canonical...)
}

func compactKey(s string) string {
	return strings.NewReplacer("-", "", "_", "", " ", "").Replace(s)
}

// collapse trims and folds runs of whitespace to a single space.
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
