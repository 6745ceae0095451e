package scheduler

import (
	"context"
	"errors"
	"time"
)

// maxHistory is the number of results kept per job.
const maxHistory = 100

// ErrSkip tells the scheduler a run was skipped on purpose. It is recorded
// but never retried.
var ErrSkip = errors.New("job skipped")

// Job represents a scheduled job
type Job interface {
	// Name returns the job name
	Name() string

	// Run executes the job
	Run(ctx context.Context) error

	// Schedule returns the cron expression, with seconds.
	// Examples: "0 0 3 * * *" (every day at 03:00), "@daily", "@hourly"
	Schedule() string
}

// JobResult represents the result of a job execution
type JobResult struct {
	JobName   string        `json:"job_name"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`
	Attempts  int           `json:"attempts"`
	Success   bool          `json:"success"`
	Skipped   bool          `json:"skipped,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// JobHistory stores job execution history
type JobHistory struct {
	Results []JobResult
}

// AddResult adds a job result to history
func (h *JobHistory) AddResult(result JobResult) {
	h.Results = append(h.Results, result)

	if len(h.Results) > maxHistory {
		h.Results = h.Results[len(h.Results)-maxHistory:]
	}
}

// GetLatestResults returns the latest N results
func (h *JobHistory) GetLatestResults(n int) []JobResult {
	if n > len(h.Results) {
		n = len(h.Results)
	}

	if n <= 0 {
		return []JobResult{}
	}

	out := make([]JobResult, n)
	copy(out, h.Results[len(h.Results)-n:])
	return out
}

// GetFailedResults returns all failed results
func (h *JobHistory) GetFailedResults() []JobResult {
	failed := make([]JobResult, 0)
	for _, result := range h.Results {
		if !result.Success && !result.Skipped {
			failed = append(failed, result)
		}
	}
	return failed
}

// GetSuccessRate returns the share of non-skipped runs that succeeded.
func (h *JobHistory) GetSuccessRate() float64 {
	total, ok := 0, 0
	for _, result := range h.Results {
		if result.Skipped {
			continue
		}
		total++
		if result.Success {
			ok++
		}
	}
	if total == 0 {
		return 0.0
	}
	return float64(ok) / float64(total)
}
