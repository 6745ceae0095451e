// Package scoring computes supplier reliability rankings from the full
// certificate population. Computation is pure: the same certificates and
// reference time always yield the same scores and ranks.
package scoring

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/wonny/coarank/backend/internal/contracts"
	"github.com/wonny/coarank/backend/internal/normalize"
	"github.com/wonny/coarank/backend/pkg/logger"
)

// DefaultWeights are the production factor weights.
func DefaultWeights() contracts.Weights {
	return contracts.Weights{
		Volume:      0.20,
		Quality:     0.25,
		Accuracy:    0.20,
		Consistency: 0.15,
		Recency:     0.10,
		Testing:     0.10,
	}
}

// Scorer ranks suppliers with weighted component scores.
type Scorer struct {
	weights contracts.Weights
	logger  *logger.Logger
	newID   func() string
}

// NewScorer creates a scorer. The weights must sum to 1.
func NewScorer(weights contracts.Weights, log *logger.Logger) (*Scorer, error) {
	if err := weights.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Scorer{
		weights: weights,
		logger:  log.WithField("module", "scoring"),
		newID:   uuid.NewString,
	}, nil
}

// Weights returns the active weights.
func (s *Scorer) Weights() contracts.Weights {
	return s.weights
}

// Compute builds a complete ranking snapshot over certs as of now.
// Certificates without a supplier are ignored. A supplier whose
// certificates are all undated gets a neutral row instead of failing the
// batch.
func (s *Scorer) Compute(certs []*contracts.Certificate, now time.Time) (*contracts.RankingSnapshot, error) {
	if err := s.weights.Validate(); err != nil {
		return nil, err
	}
	now = now.UTC()

	bySupplier := make(map[string][]*contracts.Certificate)
	for _, c := range certs {
		name := c.SupplierName
		if name == "" || name == normalize.Unknown {
			continue
		}
		bySupplier[name] = append(bySupplier[name], c)
	}

	snapshot := &contracts.RankingSnapshot{
		ID:         s.newID(),
		ComputedAt: now,
		Weights:    s.weights,
		Rankings:   make([]contracts.SupplierRanking, 0, len(bySupplier)),
	}

	neutral := 0
	for name, group := range bySupplier {
		row, err := s.scoreSupplier(name, group, now)
		if err != nil {
			neutral++
			s.logger.WithFields(map[string]interface{}{
				"supplier":     name,
				"certificates": len(group),
			}).WithError(err).Warn("Supplier scored as neutral")
		}
		row.ComputedAt = now
		row.SnapshotID = snapshot.ID
		snapshot.Rankings = append(snapshot.Rankings, *row)
	}

	Rank(snapshot.Rankings)

	fields := map[string]interface{}{
		"snapshot_id":  snapshot.ID,
		"suppliers":    len(snapshot.Rankings),
		"neutral":      neutral,
		"certificates": len(certs),
	}
	if top := snapshot.Top(); top != nil {
		fields["top_supplier"] = top.SupplierName
		fields["top_score"] = top.TotalScore
	}
	s.logger.WithFields(fields).Info("Ranking computed")

	return snapshot, nil
}

// Rank sorts rows by total score descending, then supplier name, and
// assigns positions 1..n.
func Rank(rows []contracts.SupplierRanking) {
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].TotalScore != rows[j].TotalScore {
			return rows[i].TotalScore > rows[j].TotalScore
		}
		return rows[i].SupplierName < rows[j].SupplierName
	})
	for i := range rows {
		rows[i].Rank = i + 1
	}
}

// Total returns the weighted sum of the components, rounded to 2 places.
func (s *Scorer) Total(c contracts.ComponentScores) float64 {
	w := s.weights
	return round2(c.Volume*w.Volume +
		c.Quality*w.Quality +
		c.Accuracy*w.Accuracy +
		c.Consistency*w.Consistency +
		c.Recency*w.Recency +
		TestingScore(c.Endotoxin, c.Completeness)*w.Testing)
}

func (s *Scorer) scoreSupplier(name string, certs []*contracts.Certificate, now time.Time) (*contracts.SupplierRanking, error) {
	dated := make([]*contracts.Certificate, 0, len(certs))
	for _, c := range certs {
		if !c.TestDate.IsZero() {
			dated = append(dated, c)
		}
	}
	if len(dated) == 0 {
		err := &contracts.ScoringDataError{Supplier: name, Reason: "no dated certificates"}
		return s.neutralRow(name, len(certs), err), err
	}

	m := collectMetrics(dated, now)

	avgPurity := mean(m.purities)
	minPurity, maxPurity := minMax(m.purities)
	std := stdDev(m.puritySamples)

	var avgEndotoxin *float64
	if len(m.endotoxins) > 0 {
		v := mean(m.endotoxins)
		avgEndotoxin = &v
	}

	comps := contracts.ComponentScores{
		Volume:       round2(VolumeScore(m.total, m.last30d)),
		Quality:      round2(QualityScore(avgPurity, minPurity)),
		Consistency:  round2(ConsistencyScore(std, m.avgGapDays)),
		Recency:      round2(RecencyScore(m.daysSinceLast, m.last30d)),
		Endotoxin:    round2(EndotoxinScore(avgEndotoxin, len(m.endotoxins))),
		Completeness: round2(m.completeness),
	}
	var avgAccuracy *float64
	if len(m.accuracies) > 0 {
		v := round2(mean(m.accuracies))
		avgAccuracy = &v
		comps.Accuracy = v
	}

	total := s.Total(comps)
	days := m.daysSinceLast
	gap := round1(m.avgGapDays)

	row := &contracts.SupplierRanking{
		SupplierName:       name,
		TotalScore:         total,
		Components:         comps,
		Label:              contracts.LabelFor(total),
		TotalCertificates:  len(certs),
		Certificates90d:    m.last90d,
		Certificates30d:    m.last30d,
		UsableCertificates: len(dated),
		AvgAccuracy:        avgAccuracy,
		AccuracyCount:      len(m.accuracies),
		EndotoxinCount:     len(m.endotoxins),
		BatchesFullyTested: m.batchesFullyTested,
		BatchesTracked:     m.batchesTracked,
		AvgTestsPerBatch:   round2(m.avgTestsPerBatch),
		DaysSinceLast:      &days,
		AvgDateGap:         &gap,
		PeptidesTested:     m.peptides,
	}
	if len(m.purities) > 0 {
		row.AvgPurity = ptr(round3(avgPurity))
		row.MinPurity = ptr(round3(minPurity))
		row.MaxPurity = ptr(round3(maxPurity))
		row.StdPurity = ptr(round3(std))
	}
	if avgEndotoxin != nil {
		row.AvgEndotoxin = ptr(round3(*avgEndotoxin))
	}
	return row, nil
}

func (s *Scorer) neutralRow(name string, total int, err error) *contracts.SupplierRanking {
	comps := contracts.ComponentScores{Endotoxin: NeutralEndotoxinScore, Completeness: baseBatchScore}
	score := s.Total(comps)
	return &contracts.SupplierRanking{
		SupplierName:      name,
		TotalScore:        score,
		Components:        comps,
		Label:             contracts.LabelFor(score),
		TotalCertificates: total,
		AvgTestsPerBatch:  1,
		Note:              fmt.Sprintf("neutral: %v", err),
	}
}

func ptr(v float64) *float64 { return &v }
