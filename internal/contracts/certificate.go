package contracts

import (
	"encoding/json"
	"fmt"
	"time"
)

// Bound tags how a parsed value relates to the true quantity.
type Bound string

const (
	BoundExact Bound = ""      // plain numeric reading
	BoundUpper Bound = "upper" // "<50 EU/mg": true value is at most Value
	BoundLower Bound = "lower" // ">99%": true value is at least Value
)

// Measurement is a parsed numeric reading with its unit.
type Measurement struct {
	Value float64 `json:"value"`
	Unit  string  `json:"unit,omitempty"`
	Bound Bound   `json:"bound,omitempty"`
}

// IsEstimate reports whether the reading came from an inequality.
func (m Measurement) IsEstimate() bool {
	return m.Bound != BoundExact
}

// BlendComponent is one peptide inside a multi-peptide sample.
type BlendComponent struct {
	Peptide         string   `json:"peptide"`
	Quantity        *float64 `json:"quantity,omitempty"` // measured
	Unit            string   `json:"unit,omitempty"`
	ExpectedNominal *float64 `json:"expected_nominal,omitempty"` // ratio-derived declared share
}

// ReplicateMeasurement is one of several readings of the same parameter.
type ReplicateMeasurement struct {
	Parameter string  `json:"parameter"`
	Value     float64 `json:"value"`
	Unit      string  `json:"unit,omitempty"`
}

// ReplicateStats summarizes the readings of one replicated parameter.
type ReplicateStats struct {
	Parameter string  `json:"parameter"`
	Count     int     `json:"count"`
	Mean      float64 `json:"mean"`
	StdDev    float64 `json:"std_dev"`
	CV        float64 `json:"cv"` // percent
}

// HeavyMetals holds per-element results (Pb, Cd, Hg, As) and a verdict when
// the lab only reports pass/fail.
type HeavyMetals struct {
	Elements map[string]Measurement `json:"elements,omitempty"`
	Verdict  string                 `json:"verdict,omitempty"`
}

// Microbiology holds total aerobic microbial count and total yeast/mold count.
type Microbiology struct {
	TAMC *Measurement `json:"tamc,omitempty"`
	TYMC *Measurement `json:"tymc,omitempty"`
}

// Certificate is one lab Certificate of Analysis.
// Rows are append-only; only the normalized names and the processed flag
// may be backfilled after insert.
type Certificate struct {
	ID         int64  `json:"id"`
	TaskNumber string `json:"task_number"`

	SupplierNameRaw string `json:"supplier_name_raw"`
	SupplierName    string `json:"supplier_name"` // normalized
	PeptideNameRaw  string `json:"peptide_name_raw"`
	PeptideName     string `json:"peptide_name"` // normalized
	BatchNumber     string `json:"batch_number,omitempty"`

	QuantityNominal *float64 `json:"quantity_nominal,omitempty"`
	UnitOfMeasure   string   `json:"unit_of_measure,omitempty"`
	QuantityTested  *float64 `json:"quantity_tested,omitempty"`

	PurityPercentage    *float64      `json:"purity_percentage,omitempty"`
	EndotoxinLevel      *float64      `json:"endotoxin_level,omitempty"` // EU/mg
	EndotoxinUpperBound bool          `json:"endotoxin_upper_bound,omitempty"`
	HeavyMetals         *HeavyMetals  `json:"heavy_metals,omitempty"`
	Microbiology        *Microbiology `json:"microbiology,omitempty"`

	TestDate       time.Time  `json:"test_date"`
	TestingOrdered *time.Time `json:"testing_ordered,omitempty"`
	SampleReceived *time.Time `json:"sample_received,omitempty"`
	TestType       string     `json:"test_type,omitempty"`
	TestCategory   string     `json:"test_category,omitempty"`
	Comments       string     `json:"comments,omitempty"`

	IsBlend         bool             `json:"is_blend"`
	ProtocolName    string           `json:"protocol_name,omitempty"`
	BlendComponents []BlendComponent `json:"blend_components,omitempty"`

	HasReplicates         bool                   `json:"has_replicates"`
	ReplicateMeasurements []ReplicateMeasurement `json:"replicate_measurements,omitempty"`
	ReplicateStatistics   []ReplicateStats       `json:"replicate_statistics,omitempty"`

	ImageHash       string          `json:"image_hash"`
	ImageKey        string          `json:"image_key,omitempty"`
	ImageURL        string          `json:"image_url,omitempty"`
	VerificationKey string          `json:"verification_key,omitempty"`
	RawExtraction   json.RawMessage `json:"raw_extraction,omitempty"`

	Processed bool      `json:"processed"`
	ScrapedAt time.Time `json:"scraped_at"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the structural invariants a certificate must satisfy
// before it is persisted.
func (c *Certificate) Validate() error {
	if c.TaskNumber == "" {
		return fmt.Errorf("task_number is required")
	}
	if c.ImageHash == "" {
		return fmt.Errorf("image_hash is required")
	}
	if c.PurityPercentage != nil && (*c.PurityPercentage < 0 || *c.PurityPercentage > 100) {
		return fmt.Errorf("purity_percentage %.3f outside [0,100]", *c.PurityPercentage)
	}
	if c.IsBlend != (len(c.BlendComponents) > 0) {
		return fmt.Errorf("blend components must be present iff is_blend")
	}
	if c.HasReplicates != (len(c.ReplicateMeasurements) > 0) {
		return fmt.Errorf("replicate measurements must be present iff has_replicates")
	}
	return nil
}

// HasEndotoxin reports whether the certificate carries an endotoxin result.
func (c *Certificate) HasEndotoxin() bool {
	return c.EndotoxinLevel != nil || c.TestCategory == "endotoxin"
}

// HasHeavyMetals reports whether the certificate carries a heavy metals result.
func (c *Certificate) HasHeavyMetals() bool {
	return c.HeavyMetals != nil || c.TestCategory == "heavy_metals"
}

// HasMicrobiology reports whether the certificate carries TAMC or TYMC.
func (c *Certificate) HasMicrobiology() bool {
	return (c.Microbiology != nil && (c.Microbiology.TAMC != nil || c.Microbiology.TYMC != nil)) ||
		c.TestCategory == "microbiology"
}

// QuantityFilter narrows peptide lookups to one declared strength.
type QuantityFilter struct {
	Quantity float64
	Unit     string
}

// UpsertOutcome describes what Upsert did with a certificate.
type UpsertOutcome string

const (
	UpsertInserted   UpsertOutcome = "inserted"
	UpsertBackfilled UpsertOutcome = "backfilled" // same image, normalized fields refreshed
	UpsertDuplicate  UpsertOutcome = "duplicate"  // same task number under another image
)

// ListingEntry is one certificate found on a listing page.
type ListingEntry struct {
	TaskNumber string `json:"task_number"`
	ImageURL   string `json:"image_url"`
	DetailURL  string `json:"detail_url,omitempty"`
	Page       int    `json:"page"`
}

// ListingPage is the parsed content of one listing page.
type ListingPage struct {
	Number  int            `json:"number"`
	Entries []ListingEntry `json:"entries"`
	HasNext bool           `json:"has_next"`
}
