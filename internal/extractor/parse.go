package extractor

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/wonny/coarank/backend/internal/contracts"
	"github.com/wonny/coarank/backend/internal/normalize"
)

// Meta carries what the pipeline knows about an image before extraction.
type Meta struct {
	TaskNumber string // from the listing; wins over the extracted one
	ImageHash  string
	ImageKey   string
	ImageURL   string
	ScrapedAt  time.Time
}

// Result is a parsed certificate plus the field-level problems found on
// the way. Every warning corresponds to a field left null.
type Result struct {
	Certificate *contracts.Certificate
	Warnings    []*contracts.ParseError
}

func (r *Result) warn(field, value string, err error) {
	r.Warnings = append(r.Warnings, parseError(field, value, err))
}

var (
	digitsRe          = regexp.MustCompile(`\d+`)
	verificationKeyRe = regexp.MustCompile(`^[A-Z0-9]{12}$`)
	sampleDoseRe      = regexp.MustCompile(`(?i)(\d+(?:[.,]\d+)?)\s*(mcg|mg|µg|μg|iu)\b`)
	metalPairRe       = regexp.MustCompile(`^([a-z]+)\s*\(([a-z]+)\)$`)
)

var metalSymbols = map[string]string{
	"pb": "Pb", "lead": "Pb",
	"cd": "Cd", "cadmium": "Cd",
	"hg": "Hg", "mercury": "Hg",
	"as": "As", "arsenic": "As",
}

// genericQuantityKeys name a measured amount without naming a peptide.
var genericQuantityKeys = []string{"quantity", "content", "amount", "assay", "mass", "total", "net", "weight"}

// quantityReading is the (replicate-averaged) amount measured for one
// results parameter.
type quantityReading struct {
	label   string
	peptide string // canonical name, empty for generic keys
	value   float64
	unit    string
}

// Parse turns a raw extraction into a certificate. It never fails as a
// whole: values that cannot be interpreted are left null and reported as
// warnings.
func Parse(raw *contracts.RawExtraction, meta Meta) *Result {
	p := &parser{raw: raw, meta: meta, res: &Result{}}
	p.run()
	return p.res
}

type parser struct {
	raw  *contracts.RawExtraction
	meta Meta
	res  *Result
	cert *contracts.Certificate

	quantities []quantityReading
}

func (p *parser) run() {
	raw := p.raw
	p.cert = &contracts.Certificate{
		ImageHash: p.meta.ImageHash,
		ImageKey:  p.meta.ImageKey,
		ImageURL:  p.meta.ImageURL,
		ScrapedAt: p.meta.ScrapedAt,
		Processed: true,
	}
	p.res.Certificate = p.cert
	c := p.cert

	c.TaskNumber = p.taskNumber()

	c.SupplierNameRaw = firstNonEmpty(raw.Client, raw.Manufacturer)
	c.SupplierName = normalize.Supplier(c.SupplierNameRaw)
	c.PeptideNameRaw = firstNonEmpty(raw.PeptideName, raw.Sample)
	c.PeptideName = normalize.Peptide(c.PeptideNameRaw)

	if !raw.Batch.IsEmpty() {
		c.BatchNumber = raw.Batch.String()
	}
	if !raw.TestType.IsEmpty() {
		c.TestType = raw.TestType.String()
	}
	if !raw.Comments.IsEmpty() {
		c.Comments = raw.Comments.String()
	}

	p.dates()
	p.nominal()
	p.endotoxin("endotoxin_level", raw.EndotoxinLevel)
	p.microbiology("microbiology_tamc", raw.MicrobiologyTAMC, true)
	p.microbiology("microbiology_tymc", raw.MicrobiologyTYMC, false)
	p.heavyMetalsMap()

	for _, g := range groupReadings(raw.Results) {
		p.classify(g)
	}

	p.blendOrSingle()
	p.testCategory()
	p.verificationKey()

	if len(raw.Raw) > 0 {
		c.RawExtraction = append(json.RawMessage(nil), raw.Raw...)
	} else if b, err := json.Marshal(raw); err == nil {
		c.RawExtraction = b
	}
}

func (p *parser) taskNumber() string {
	extracted := digitsRe.FindString(p.raw.TaskNumber.String())
	listing := strings.TrimSpace(p.meta.TaskNumber)
	if listing == "" {
		return extracted
	}
	if extracted != "" && extracted != listing {
		p.res.warn("task_number", p.raw.TaskNumber.String(),
			fmt.Errorf("extracted task number differs from listing %s", listing))
	}
	return listing
}

func (p *parser) dates() {
	c := p.cert
	parse := func(field string, v contracts.FlexString) *time.Time {
		if v.IsEmpty() {
			return nil
		}
		t, err := ParseDate(v.String())
		if err != nil {
			p.res.warn(field, v.String(), err)
			return nil
		}
		return &t
	}

	analysis := parse("analysis_conducted", p.raw.AnalysisConducted)
	c.SampleReceived = parse("sample_received", p.raw.SampleReceived)
	c.TestingOrdered = parse("testing_ordered", p.raw.TestingOrdered)

	switch {
	case analysis != nil:
		c.TestDate = *analysis
	case c.SampleReceived != nil:
		c.TestDate = *c.SampleReceived
	case c.TestingOrdered != nil:
		c.TestDate = *c.TestingOrdered
	case !p.meta.ScrapedAt.IsZero():
		c.TestDate = p.meta.ScrapedAt.UTC()
	default:
		c.TestDate = time.Now().UTC()
	}
}

// nominal reads the declared quantity, falling back to a dose printed in
// the sample name ("GLOW 70mg"). A missing unit is taken as mg.
func (p *parser) nominal() {
	c := p.cert
	unit := normalizeUnit(p.raw.UnitOfMeasure.String())

	if q := p.raw.QuantityNominal; !q.IsEmpty() {
		m, err := ParseValue(q.String())
		if err != nil {
			p.res.warn("quantity_nominal", q.String(), err)
		} else {
			c.QuantityNominal = &m.Value
			if m.Unit != "" {
				unit = m.Unit
			}
		}
	}

	if c.QuantityNominal == nil {
		for _, s := range []contracts.FlexString{p.raw.Sample, p.raw.PeptideName} {
			m := sampleDoseRe.FindStringSubmatch(s.String())
			if m == nil {
				continue
			}
			if v, err := parseNumber(m[1]); err == nil {
				c.QuantityNominal = &v
				unit = normalizeUnit(m[2])
				break
			}
		}
	}

	if c.QuantityNominal != nil {
		if unit == "" {
			unit = "mg"
		}
		c.UnitOfMeasure = unit
	}
}

func (p *parser) endotoxin(field string, v contracts.FlexString) {
	if v.IsEmpty() || p.cert.EndotoxinLevel != nil {
		return
	}
	m, err := ParseValue(v.String())
	if err != nil {
		p.res.warn(field, v.String(), err)
		return
	}
	p.cert.EndotoxinLevel = &m.Value
	p.cert.EndotoxinUpperBound = m.Bound == contracts.BoundUpper
}

func (p *parser) microbiology(field string, v contracts.FlexString, tamc bool) {
	if v.IsEmpty() {
		return
	}
	m, err := ParseValue(v.String())
	if err != nil {
		p.res.warn(field, v.String(), err)
		return
	}
	if p.cert.Microbiology == nil {
		p.cert.Microbiology = &contracts.Microbiology{}
	}
	if tamc && p.cert.Microbiology.TAMC == nil {
		p.cert.Microbiology.TAMC = &m
	} else if !tamc && p.cert.Microbiology.TYMC == nil {
		p.cert.Microbiology.TYMC = &m
	}
}

func (p *parser) heavyMetalsMap() {
	keys := make([]string, 0, len(p.raw.HeavyMetals))
	for k := range p.raw.HeavyMetals {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		p.heavyMetal(k, p.raw.HeavyMetals[k])
	}
}

// heavyMetal records one element, or a pass/fail verdict when the key is
// not an element or the value is not numeric.
func (p *parser) heavyMetal(key string, v contracts.FlexString) {
	if v.IsEmpty() {
		return
	}
	c := p.cert
	if c.HeavyMetals == nil {
		c.HeavyMetals = &contracts.HeavyMetals{}
	}

	symbol, isElement := metalSymbol(key)
	m, err := ParseValue(v.String())
	switch {
	case isElement && err == nil:
		if c.HeavyMetals.Elements == nil {
			c.HeavyMetals.Elements = make(map[string]contracts.Measurement)
		}
		c.HeavyMetals.Elements[symbol] = m
	case isElement:
		p.res.warn("heavy_metals."+symbol, v.String(), err)
		if c.HeavyMetals.Verdict == "" {
			c.HeavyMetals.Verdict = v.String()
		}
	default:
		c.HeavyMetals.Verdict = v.String()
	}
}

func metalSymbol(key string) (string, bool) {
	k := strings.ToLower(strings.TrimSpace(key))
	for _, prefix := range []string{"heavy metals ", "heavy metal "} {
		k = strings.TrimPrefix(k, prefix)
	}
	if s, ok := metalSymbols[k]; ok {
		return s, true
	}
	if m := metalPairRe.FindStringSubmatch(k); m != nil {
		if s, ok := metalSymbols[m[1]]; ok {
			return s, true
		}
		if s, ok := metalSymbols[m[2]]; ok {
			return s, true
		}
	}
	return "", false
}

// classify routes one results parameter to the certificate field it
// describes. Parameters with several numeric readings are also recorded
// as replicates.
func (p *parser) classify(g *readingGroup) {
	lk := strings.ToLower(g.param)

	switch {
	case strings.Contains(lk, "purity"):
		if values, unit := p.numeric("purity", g); len(values) > 0 {
			if unit != "" && unit != "%" {
				p.res.warn("purity_percentage", g.readings[0].value, fmt.Errorf("unexpected unit %s", unit))
				return
			}
			mean := ReplicateStatistics(g.param, values).Mean
			if mean < 0 || mean > 100 {
				p.res.warn("purity_percentage", g.readings[0].value, fmt.Errorf("%.3f outside [0,100]", mean))
				return
			}
			p.cert.PurityPercentage = &mean
		}
	case strings.Contains(lk, "endotoxin"):
		if len(g.readings) > 1 {
			p.numeric("endotoxin", g)
		}
		p.endotoxin("results."+g.param, contracts.FlexString(g.readings[0].value))
	case strings.Contains(lk, "tamc") || strings.Contains(lk, "aerobic"):
		p.microbiology("results."+g.param, contracts.FlexString(g.readings[0].value), true)
	case strings.Contains(lk, "tymc") || strings.Contains(lk, "yeast") || strings.Contains(lk, "mold") || strings.Contains(lk, "mould"):
		p.microbiology("results."+g.param, contracts.FlexString(g.readings[0].value), false)
	case isMetalKey(g.param):
		p.heavyMetal(g.param, contracts.FlexString(g.readings[0].value))
	case strings.Contains(lk, "heavy metal"):
		p.heavyMetal(g.param, contracts.FlexString(g.readings[0].value))
	default:
		p.quantity(g)
	}
}

func isMetalKey(key string) bool {
	_, ok := metalSymbol(key)
	return ok
}

// numeric parses every reading of g, records replicates when there is
// more than one, and returns the parsed values with their unit.
func (p *parser) numeric(field string, g *readingGroup) ([]float64, string) {
	var (
		values []float64
		unit   string
		reps   []contracts.ReplicateMeasurement
	)
	for _, r := range g.readings {
		m, err := ParseValue(r.value)
		if err != nil {
			p.res.warn(field, r.value, err)
			continue
		}
		if unit == "" {
			unit = m.Unit
		}
		values = append(values, m.Value)
		reps = append(reps, contracts.ReplicateMeasurement{Parameter: g.param, Value: m.Value, Unit: m.Unit})
	}
	if len(values) > 1 {
		p.cert.HasReplicates = true
		p.cert.ReplicateMeasurements = append(p.cert.ReplicateMeasurements, reps...)
		p.cert.ReplicateStatistics = append(p.cert.ReplicateStatistics, ReplicateStatistics(g.param, values))
	}
	return values, unit
}

// quantity keeps parameters whose values are amounts (mass or IU). Any
// other parameter is ignored.
func (p *parser) quantity(g *readingGroup) {
	first, err := ParseValue(g.readings[0].value)
	if err != nil || !(IsMassUnit(first.Unit) || first.Unit == "IU") {
		return
	}
	values, unit := p.numeric("results."+g.param, g)
	if len(values) == 0 {
		return
	}

	q := quantityReading{
		label: g.param,
		value: ReplicateStatistics(g.param, values).Mean,
		unit:  unit,
	}
	if !isGenericQuantityKey(g.param) {
		q.peptide = normalize.Peptide(g.param)
	}
	p.quantities = append(p.quantities, q)
}

func isGenericQuantityKey(key string) bool {
	k := strings.ToLower(key)
	for _, g := range genericQuantityKeys {
		if strings.Contains(k, g) {
			return true
		}
	}
	return false
}

// blendOrSingle decides whether the sample is a blend. A sample is a blend
// when its name is a standard protocol, when its name composes several
// peptides, or when results carry amounts for two or more peptides.
func (p *parser) blendOrSingle() {
	c := p.cert

	var (
		proto *Protocol
		names []string
	)
	for _, s := range []contracts.FlexString{p.raw.Sample, p.raw.PeptideName} {
		if pr, ok := LookupProtocol(s.String()); ok {
			proto = pr
			names = pr.PeptideNames()
			break
		}
	}
	if proto == nil {
		if parts := normalize.PeptideComponents(c.PeptideNameRaw); len(parts) > 1 {
			names = parts
		} else if fromResults := p.resultPeptides(); len(fromResults) > 1 {
			names = fromResults
		}
		if len(names) > 1 {
			proto, _ = ProtocolForComponents(names)
		}
	}

	if len(names) < 2 {
		p.single()
		return
	}

	c.IsBlend = true
	var shares map[string]float64
	if proto != nil {
		c.ProtocolName = proto.Name
		if c.QuantityNominal != nil {
			shares = proto.NominalShares(*c.QuantityNominal)
		}
	}

	var (
		total    float64
		measured int
	)
	for _, name := range names {
		comp := contracts.BlendComponent{Peptide: name}
		if share, ok := shares[name]; ok {
			comp.ExpectedNominal = &share
		}
		for _, q := range p.quantities {
			if q.peptide != name {
				continue
			}
			v := q.value
			comp.Quantity = &v
			comp.Unit = q.unit
			if conv, ok := ConvertQuantity(v, q.unit, c.UnitOfMeasure); ok {
				total += conv
				measured++
			}
			break
		}
		c.BlendComponents = append(c.BlendComponents, comp)
	}
	if measured == len(names) && c.UnitOfMeasure != "" {
		c.QuantityTested = &total
	}
}

// resultPeptides lists the distinct peptides results report amounts for.
func (p *parser) resultPeptides() []string {
	seen := make(map[string]bool)
	var out []string
	for _, q := range p.quantities {
		if q.peptide == "" || seen[q.peptide] {
			continue
		}
		seen[q.peptide] = true
		out = append(out, q.peptide)
	}
	sort.Strings(out)
	return out
}

// single picks the measured amount of a one-peptide sample: a reading
// labelled with the sample's peptide, else a generic one, else the first.
func (p *parser) single() {
	if len(p.quantities) == 0 {
		return
	}
	c := p.cert
	pick := p.quantities[0]
	for _, q := range p.quantities {
		if q.peptide == c.PeptideName {
			pick = q
			break
		}
		if q.peptide == "" && pick.peptide != "" {
			pick = q
		}
	}

	target := c.UnitOfMeasure
	if target == "" {
		target = pick.unit
		c.UnitOfMeasure = target
	}
	if v, ok := ConvertQuantity(pick.value, pick.unit, target); ok {
		c.QuantityTested = &v
	} else {
		p.res.warn("quantity_tested", pick.label,
			fmt.Errorf("unit %s not comparable with %s", pick.unit, target))
	}
}

// testCategory normalizes the declared category or infers it from the
// results present.
func (p *parser) testCategory() {
	c := p.cert
	declared := strings.ToLower(p.raw.TestCategory.String() + " " + p.raw.TestType.String())
	switch {
	case strings.Contains(declared, "endotoxin"):
		c.TestCategory = "endotoxin"
	case strings.Contains(declared, "heavy") || strings.Contains(declared, "metal"):
		c.TestCategory = "heavy_metals"
	case strings.Contains(declared, "micro") || strings.Contains(declared, "sterility"):
		c.TestCategory = "microbiology"
	case strings.Contains(declared, "purity") || strings.Contains(declared, "hplc") ||
		strings.Contains(declared, "quantity") || strings.Contains(declared, "assay"):
		c.TestCategory = "purity"
	case c.PurityPercentage != nil || c.QuantityTested != nil:
		c.TestCategory = "purity"
	case c.EndotoxinLevel != nil:
		c.TestCategory = "endotoxin"
	case c.HeavyMetals != nil:
		c.TestCategory = "heavy_metals"
	case c.Microbiology != nil:
		c.TestCategory = "microbiology"
	}
}

func (p *parser) verificationKey() {
	v := p.raw.VerificationKey
	if v.IsEmpty() {
		return
	}
	key := strings.ToUpper(strings.Join(strings.Fields(v.String()), ""))
	if !verificationKeyRe.MatchString(key) {
		p.res.warn("verification_key", v.String(), fmt.Errorf("%w: expected 12 alphanumeric characters", ErrUnparseable))
		return
	}
	p.cert.VerificationKey = key
}

func firstNonEmpty(values ...contracts.FlexString) string {
	for _, v := range values {
		if !v.IsEmpty() {
			return v.String()
		}
	}
	return ""
}
