package extractor

import (
	"sort"
	"strings"
	"unicode"
)

// ProtocolComponent is one peptide of a standard blend and its share.
type ProtocolComponent struct {
	Peptide string
	Ratio   float64
}

// Protocol is a standard blend with a fixed component ratio.
type Protocol struct {
	Name       string
	Components []ProtocolComponent
}

// NominalShares splits a declared total across the components by ratio.
func (p *Protocol) NominalShares(total float64) map[string]float64 {
	var sum float64
	for _, c := range p.Components {
		sum += c.Ratio
	}
	out := make(map[string]float64, len(p.Components))
	if sum == 0 {
		return out
	}
	for _, c := range p.Components {
		out[c.Peptide] = c.Ratio / sum * total
	}
	return out
}

// PeptideNames returns the canonical component names in protocol order.
func (p *Protocol) PeptideNames() []string {
	out := make([]string, len(p.Components))
	for i, c := range p.Components {
		out[i] = c.Peptide
	}
	return out
}

var (
	protocolGLOW   = &Protocol{Name: "GLOW", Components: []ProtocolComponent{{"BPC157", 1}, {"TB500", 1}, {"GHK-Cu", 5}}}
	protocolKLOW   = &Protocol{Name: "KLOW", Components: []ProtocolComponent{{"BPC157", 1}, {"TB500", 1}, {"KPV", 1}, {"GHK-Cu", 5}}}
	protocolKLOW80 = &Protocol{Name: "KLOW80", Components: protocolKLOW.Components}
	protocolBPCTB  = &Protocol{Name: "BPC+TB", Components: []ProtocolComponent{{"BPC157", 1}, {"TB500", 1}}}
)

// protocolEntry maps one lookup name to a protocol. Order matters for the
// prefix pass: longer names come first.
type protocolEntry struct {
	name     string
	protocol *Protocol
}

var protocols = []protocolEntry{
	{"KLOW80", protocolKLOW80},
	{"KLOW", protocolKLOW},
	{"GLOW", protocolGLOW},
	{"BPC-157/TB-500", protocolBPCTB},
	{"BPC-157/TB500", protocolBPCTB},
	{"TB-500/BPC-157", protocolBPCTB},
	{"BPC157+TB500", protocolBPCTB},
	{"TB500/BPC157", protocolBPCTB},
	{"BPC+TB", protocolBPCTB},
}

// Protocols returns the distinct standard blends.
func Protocols() []*Protocol {
	return []*Protocol{protocolGLOW, protocolKLOW, protocolKLOW80, protocolBPCTB}
}

// LookupProtocol finds a standard blend by sample name. It tries an exact
// match, a case-insensitive match, the first word of the name, and finally
// a protocol name that prefixes the first word ("GLOW70mg").
func LookupProtocol(name string) (*Protocol, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, false
	}

	for _, e := range protocols {
		if e.name == name {
			return e.protocol, true
		}
	}
	for _, e := range protocols {
		if strings.EqualFold(e.name, name) {
			return e.protocol, true
		}
	}

	first := strings.Fields(name)[0]
	for _, e := range protocols {
		if strings.EqualFold(e.name, first) {
			return e.protocol, true
		}
	}

	lower := strings.ToLower(first)
	for _, e := range protocols {
		prefix := strings.ToLower(e.name)
		if !strings.HasPrefix(lower, prefix) {
			continue
		}
		// "GLOW70mg" or "KLOW-80" but not "GLOWING".
		rest := []rune(lower[len(prefix):])
		if len(rest) > 0 && !unicode.IsLetter(rest[0]) {
			return e.protocol, true
		}
	}
	return nil, false
}

// ProtocolForComponents finds the standard blend made of exactly the given
// canonical peptides, in any order.
func ProtocolForComponents(peptides []string) (*Protocol, bool) {
	want := sortedCopy(peptides)
	for _, p := range []*Protocol{protocolGLOW, protocolKLOW, protocolBPCTB} {
		if equalStrings(sortedCopy(p.PeptideNames()), want) {
			return p, true
		}
	}
	return nil, false
}

func sortedCopy(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
