package manager

import (
	"time"
)

// Stage is a phase of a full update run.
type Stage string

const (
	StageScraping   Stage = "scraping"
	StageExtraction Stage = "extraction"
	StageStorage    Stage = "storage"
	StageScoring    Stage = "scoring"
	StageComplete   Stage = "complete"
	StageError      Stage = "error"
	StageCancelled  Stage = "cancelled"
)

// Done reports whether the stage ends a run.
func (s Stage) Done() bool {
	return s == StageComplete || s == StageError || s == StageCancelled
}

// Progress is one progress event of a run.
type Progress struct {
	RunID      string    `json:"run_id"`
	Stage      Stage     `json:"stage"`
	Message    string    `json:"message"`
	Current    int       `json:"current"`
	Total      int       `json:"total"`
	TaskNumber string    `json:"task_number,omitempty"`
	Time       time.Time `json:"time"`
}

// ProgressFunc receives progress events. It is called from the goroutine
// running the update and must not block for long.
type ProgressFunc func(Progress)

// UpdateOptions bounds a full update. Zero values mean no limit.
type UpdateOptions struct {
	MaxPages        int
	MaxCertificates int
	Progress        ProgressFunc
}

// ItemFailure is one certificate or page that failed during a run, with
// what is needed to re-run it.
type ItemFailure struct {
	Stage      Stage  `json:"stage"`
	Page       int    `json:"page,omitempty"`
	TaskNumber string `json:"task_number,omitempty"`
	ImageHash  string `json:"image_hash,omitempty"`
	ImageURL   string `json:"image_url,omitempty"`
	Kind       string `json:"kind"`
	Reason     string `json:"reason"`
}

// RunSummary is the user visible result of a full update.
type RunSummary struct {
	RunID      string        `json:"run_id"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Duration   time.Duration `json:"duration"`
	Stage      Stage         `json:"stage"`

	PagesFetched int `json:"pages_fetched"`
	PagesFailed  int `json:"pages_failed"`
	Scraped      int `json:"scraped"`

	New              int `json:"new"`
	Extracted        int `json:"extracted"`
	Inserted         int `json:"inserted"`
	Backfilled       int `json:"backfilled"`
	SkippedDuplicate int `json:"skipped_duplicate"`
	SkippedQuota     int `json:"skipped_quota"`
	Failed           int `json:"failed"`
	Warnings         int `json:"warnings"`

	Scored      int    `json:"scored"`
	TopSupplier string `json:"top_supplier,omitempty"`
	SnapshotID  string `json:"snapshot_id,omitempty"`
	Pruned      int    `json:"pruned"`

	Halted     bool   `json:"halted"`
	HaltReason string `json:"halt_reason,omitempty"`
	Cancelled  bool   `json:"cancelled"`
	Error      string `json:"error,omitempty"`

	EstimatedCost float64       `json:"estimated_cost"`
	Failures      []ItemFailure `json:"failures,omitempty"`
}

func (s *RunSummary) addFailure(f ItemFailure) {
	s.Failed++
	s.Failures = append(s.Failures, f)
}
