package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/wonny/coarank/backend/internal/manager"
	"github.com/wonny/coarank/backend/internal/scheduler"
	"github.com/wonny/coarank/backend/pkg/logger"
)

// Updater runs the full ingestion and scoring pipeline.
type Updater interface {
	RunFullUpdate(ctx context.Context, opts manager.UpdateOptions) (*manager.RunSummary, error)
}

// FullUpdateJob scrapes new certificates, extracts them and recomputes
// the supplier rankings.
type FullUpdateJob struct {
	updater  Updater
	schedule string
	opts     manager.UpdateOptions
	logger   *logger.Logger
}

// NewFullUpdateJob creates a new full update job
func NewFullUpdateJob(updater Updater, schedule string, opts manager.UpdateOptions, log *logger.Logger) *FullUpdateJob {
	return &FullUpdateJob{
		updater:  updater,
		schedule: schedule,
		opts:     opts,
		logger:   log,
	}
}

// Name returns the job name
func (j *FullUpdateJob) Name() string {
	return "full_update"
}

// Schedule returns the cron schedule
func (j *FullUpdateJob) Schedule() string {
	return j.schedule
}

// Run executes the full update
func (j *FullUpdateJob) Run(ctx context.Context) error {
	j.logger.Info("Starting scheduled full update")

	sum, err := j.updater.RunFullUpdate(ctx, j.opts)
	if errors.Is(err, manager.ErrRunInProgress) {
		return fmt.Errorf("%w: %v", scheduler.ErrSkip, err)
	}
	if err != nil {
		return err
	}

	j.logger.WithFields(map[string]interface{}{
		"run_id":    sum.RunID,
		"scraped":   sum.Scraped,
		"new":       sum.New,
		"inserted":  sum.Inserted,
		"failed":    sum.Failed,
		"suppliers": sum.Scored,
	}).Info("Scheduled full update completed")

	return nil
}
