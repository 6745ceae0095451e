package contracts

import (
	"math"
	"time"
)

// QualityLabel buckets a total score for display.
type QualityLabel string

const (
	QualityHot      QualityLabel = "HOT"
	QualityGood     QualityLabel = "good"
	QualityMediocre QualityLabel = "mediocre"
	QualityPoor     QualityLabel = "poor"
)

// LabelFor returns the label of a total score.
func LabelFor(total float64) QualityLabel {
	switch {
	case total >= 80:
		return QualityHot
	case total >= 60:
		return QualityGood
	case total >= 40:
		return QualityMediocre
	default:
		return QualityPoor
	}
}

// Weights are the factor weights of the total score.
type Weights struct {
	Volume      float64 `json:"volume"`
	Quality     float64 `json:"quality"`
	Accuracy    float64 `json:"accuracy"`
	Consistency float64 `json:"consistency"`
	Recency     float64 `json:"recency"`
	Testing     float64 `json:"testing"`
}

// Sum returns the sum of all weights.
func (w Weights) Sum() float64 {
	return w.Volume + w.Quality + w.Accuracy + w.Consistency + w.Recency + w.Testing
}

// Validate requires the weights to be non-negative and sum to 1.
func (w Weights) Validate() error {
	for _, v := range []float64{w.Volume, w.Quality, w.Accuracy, w.Consistency, w.Recency, w.Testing} {
		if v < 0 {
			return &ScoringDataError{Supplier: "*", Reason: "negative weight"}
		}
	}
	if math.Abs(w.Sum()-1) > 1e-6 {
		return &ScoringDataError{Supplier: "*", Reason: "weights must sum to 1"}
	}
	return nil
}

// ComponentScores are the factor scores of a supplier. Endotoxin and
// Completeness are kept apart and only meet in the testing factor of the
// total.
type ComponentScores struct {
	Volume       float64 `json:"volume"`
	Quality      float64 `json:"quality"`
	Accuracy     float64 `json:"accuracy"`
	Consistency  float64 `json:"consistency"`
	Recency      float64 `json:"recency"`
	Endotoxin    float64 `json:"endotoxin"`
	Completeness float64 `json:"completeness"`
}

// PeptideCount is how often a supplier had one peptide tested.
type PeptideCount struct {
	Peptide string `json:"peptide"`
	Count   int    `json:"count"`
}

// SupplierRanking is one supplier's row in a ranking snapshot.
type SupplierRanking struct {
	ID           int64  `json:"id,omitempty"`
	SnapshotID   string `json:"snapshot_id,omitempty"`
	SupplierName string `json:"supplier_name"`
	Rank         int    `json:"rank"`

	TotalScore float64         `json:"total_score"`
	Components ComponentScores `json:"components"`
	Label      QualityLabel    `json:"label"`

	TotalCertificates  int `json:"total_certificates"`
	Certificates90d    int `json:"certificates_90d"`
	Certificates30d    int `json:"certificates_30d"`
	UsableCertificates int `json:"usable_certificates"`

	AvgPurity *float64 `json:"avg_purity,omitempty"`
	MinPurity *float64 `json:"min_purity,omitempty"`
	MaxPurity *float64 `json:"max_purity,omitempty"`
	StdPurity *float64 `json:"std_purity,omitempty"`

	AvgAccuracy   *float64 `json:"avg_accuracy,omitempty"`
	AccuracyCount int      `json:"accuracy_count"`

	AvgEndotoxin   *float64 `json:"avg_endotoxin,omitempty"`
	EndotoxinCount int      `json:"endotoxin_count"`

	BatchesFullyTested int     `json:"batches_fully_tested"`
	BatchesTracked     int     `json:"batches_tracked"`
	AvgTestsPerBatch   float64 `json:"avg_tests_per_batch"`

	DaysSinceLast *int     `json:"days_since_last,omitempty"`
	AvgDateGap    *float64 `json:"avg_date_gap,omitempty"`

	PeptidesTested []PeptideCount `json:"peptides_tested,omitempty"`
	Note           string         `json:"note,omitempty"`

	ComputedAt time.Time `json:"computed_at"`
}

// RankingSnapshot is one complete, immutable computation over every
// supplier.
type RankingSnapshot struct {
	ID         string            `json:"id"`
	ComputedAt time.Time         `json:"computed_at"`
	Weights    Weights           `json:"weights"`
	Rankings   []SupplierRanking `json:"rankings"`
}

// Top returns the rank 1 row, or nil for an empty snapshot.
func (s *RankingSnapshot) Top() *SupplierRanking {
	if s == nil || len(s.Rankings) == 0 {
		return nil
	}
	return &s.Rankings[0]
}

// TrendPoint is one supplier's position in one snapshot.
type TrendPoint struct {
	ComputedAt time.Time `json:"computed_at"`
	TotalScore float64   `json:"total_score"`
	Rank       int       `json:"rank"`
}
