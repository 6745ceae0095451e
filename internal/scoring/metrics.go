package scoring

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/wonny/coarank/backend/internal/contracts"
)

const (
	baseBatchScore  = 50.0
	testBonus       = 15.0
	fullPanelBonus  = 5.0
	maxPeptidesList = 10
	day             = 24 * time.Hour
)

// supplierMetrics are the aggregates one supplier's scores derive from.
type supplierMetrics struct {
	total, last90d, last30d int

	purities      []float64 // one per certificate
	puritySamples []float64 // replicate readings expanded

	accuracies []float64
	endotoxins []float64

	completeness       float64
	batchesFullyTested int
	batchesTracked     int
	avgTestsPerBatch   float64

	daysSinceLast int
	avgGapDays    float64

	peptides []contracts.PeptideCount
}

// collectMetrics aggregates the dated certificates of one supplier.
func collectMetrics(certs []*contracts.Certificate, now time.Time) *supplierMetrics {
	m := &supplierMetrics{total: len(certs)}

	dates := make([]time.Time, 0, len(certs))
	peptideCounts := make(map[string]int)

	for _, c := range certs {
		age := now.Sub(c.TestDate)
		if age < 90*day {
			m.last90d++
		}
		if age < 30*day {
			m.last30d++
		}
		dates = append(dates, c.TestDate)

		if c.PurityPercentage != nil {
			m.purities = append(m.purities, *c.PurityPercentage)
			if reps := replicateValues(c, "purity"); len(reps) > 1 {
				m.puritySamples = append(m.puritySamples, reps...)
			} else {
				m.puritySamples = append(m.puritySamples, *c.PurityPercentage)
			}
		}
		if c.EndotoxinLevel != nil {
			m.endotoxins = append(m.endotoxins, *c.EndotoxinLevel)
		}
		m.accuracies = append(m.accuracies, certificateAccuracies(c)...)

		if c.PeptideName != "" {
			peptideCounts[c.PeptideName]++
		}
	}

	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	m.daysSinceLast = int(now.Sub(dates[len(dates)-1]) / day)
	if len(dates) > 1 {
		var gaps float64
		for i := 1; i < len(dates); i++ {
			gaps += math.Floor(dates[i].Sub(dates[i-1]).Hours() / 24)
		}
		m.avgGapDays = gaps / float64(len(dates)-1)
	}

	m.completeness, m.batchesFullyTested, m.batchesTracked, m.avgTestsPerBatch = batchCompleteness(certs)
	m.peptides = topPeptides(peptideCounts)
	return m
}

func replicateValues(c *contracts.Certificate, parameter string) []float64 {
	var out []float64
	for _, r := range c.ReplicateMeasurements {
		if strings.EqualFold(r.Parameter, parameter) {
			out = append(out, r.Value)
		}
	}
	return out
}

// certificateAccuracies scores declared against measured quantity. Blends
// with ratio-derived nominals are scored per component; anything else
// compares the certificate totals. Only mg and IU are comparable.
func certificateAccuracies(c *contracts.Certificate) []float64 {
	if c.IsBlend {
		var out []float64
		for _, comp := range c.BlendComponents {
			if comp.ExpectedNominal == nil || comp.Quantity == nil || !comparableUnit(unitOr(comp.Unit, c.UnitOfMeasure)) {
				continue
			}
			if acc, ok := AccuracyOf(*comp.ExpectedNominal, *comp.Quantity); ok {
				out = append(out, acc)
			}
		}
		if len(out) > 0 {
			return out
		}
	}

	if c.QuantityNominal == nil || c.QuantityTested == nil || !comparableUnit(unitOr(c.UnitOfMeasure, "mg")) {
		return nil
	}
	if acc, ok := AccuracyOf(*c.QuantityNominal, *c.QuantityTested); ok {
		return []float64{acc}
	}
	return nil
}

func unitOr(unit, fallback string) string {
	if unit == "" {
		return fallback
	}
	return unit
}

func comparableUnit(unit string) bool {
	switch strings.ToLower(unit) {
	case "mg", "iu":
		return true
	}
	return false
}

// batchCompleteness groups certificates into batches (peptide plus batch
// number, or task number when no batch is printed) and scores how many
// distinct test types each batch carries.
func batchCompleteness(certs []*contracts.Certificate) (score float64, fully, batches int, avgTests float64) {
	type coverage struct {
		purity, endotoxin, metals, micro bool
	}

	groups := make(map[string]*coverage)
	for _, c := range certs {
		id := c.BatchNumber
		if id == "" {
			id = c.TaskNumber
		}
		key := c.PeptideName + "_" + id

		cov, ok := groups[key]
		if !ok {
			cov = &coverage{}
			groups[key] = cov
		}
		cov.purity = cov.purity || c.PurityPercentage != nil || c.TestCategory == "" || c.TestCategory == "purity"
		cov.endotoxin = cov.endotoxin || c.HasEndotoxin()
		cov.metals = cov.metals || c.HasHeavyMetals()
		cov.micro = cov.micro || c.HasMicrobiology()
	}

	if len(groups) == 0 {
		return baseBatchScore, 0, 0, 1
	}

	var total float64
	tests := 0
	for _, cov := range groups {
		s := baseBatchScore
		n := 1
		for _, has := range []bool{cov.endotoxin, cov.metals, cov.micro} {
			if has {
				s += testBonus
				n++
			}
		}
		if cov.purity && cov.endotoxin && cov.metals && cov.micro {
			s += fullPanelBonus
			fully++
		}
		total += s
		tests += n
	}
	return total / float64(len(groups)), fully, len(groups), float64(tests) / float64(len(groups))
}

func topPeptides(counts map[string]int) []contracts.PeptideCount {
	out := make([]contracts.PeptideCount, 0, len(counts))
	for p, n := range counts {
		out = append(out, contracts.PeptideCount{Peptide: p, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Peptide < out[j].Peptide
	})
	if len(out) > maxPeptidesList {
		out = out[:maxPeptidesList]
	}
	return out
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var s float64
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}

// stdDev is the sample standard deviation; zero below two values.
func stdDev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	mu := mean(xs)
	var ss float64
	for _, x := range xs {
		ss += (x - mu) * (x - mu)
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}

func minMax(xs []float64) (float64, float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	lo, hi := xs[0], xs[0]
	for _, x := range xs[1:] {
		lo = math.Min(lo, x)
		hi = math.Max(hi, x)
	}
	return lo, hi
}
