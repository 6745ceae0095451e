package normalize

import (
	"fmt"
	"sort"
	"strings"

	"github.com/antzucaro/matchr"
)

// Kind selects which alias table a lookup runs against.
type Kind string

const (
	KindPeptide  Kind = "peptide"
	KindSupplier Kind = "supplier"
)

// minSimilarity drops candidates that only share a few letters.
const minSimilarity = 0.75

// Suggestion is one canonical name proposed for a partial input.
type Suggestion struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

// Suggest ranks canonical names of the given kind by similarity to partial.
// Suggestions are for interactive lookups only and never rewrite stored names.
func Suggest(kind Kind, partial string, limit int) ([]Suggestion, error) {
	return Default().Suggest(kind, partial, limit)
}

// Suggest ranks canonical names by Jaro-Winkler similarity between partial
// and every known spelling. Prefix matches rank at least 0.9.
func (t *Table) Suggest(kind Kind, partial string, limit int) ([]Suggestion, error) {
	var idx index
	switch kind {
	case KindPeptide:
		idx = t.peptides
	case KindSupplier:
		idx = t.suppliers
	default:
		return nil, fmt.Errorf("unknown kind %q", kind)
	}

	q := collapse(strings.ToLower(partial))
	if q == "" {
		return []Suggestion{}, nil
	}

	out := make([]Suggestion, 0, 8)
	for _, canonical := range idx.canonical {
		best := 0.0
		for _, spelling := range idx.spellings[canonical] {
			score := matchr.JaroWinkler(q, spelling, false)
			if strings.HasPrefix(spelling, q) {
				score = max(score, 0.9+0.1*float64(len(q))/float64(len(spelling)))
			}
			best = max(best, score)
		}
		if best >= minSimilarity {
			out = append(out, Suggestion{Name: canonical, Score: best})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Name < out[j].Name
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
