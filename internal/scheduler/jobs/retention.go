package jobs

import (
	"context"

	"github.com/wonny/coarank/backend/pkg/logger"
)

// RankingCleaner prunes old ranking snapshots.
type RankingCleaner interface {
	CleanupOldRankings(ctx context.Context, keepLast int) (int, error)
}

// RankingRetentionJob keeps only the newest ranking snapshots
type RankingRetentionJob struct {
	cleaner  RankingCleaner
	schedule string
	keepLast int
	logger   *logger.Logger
}

// NewRankingRetentionJob creates a new retention job
func NewRankingRetentionJob(cleaner RankingCleaner, schedule string, keepLast int, log *logger.Logger) *RankingRetentionJob {
	return &RankingRetentionJob{
		cleaner:  cleaner,
		schedule: schedule,
		keepLast: keepLast,
		logger:   log,
	}
}

// Name returns the job name
func (j *RankingRetentionJob) Name() string {
	return "ranking_retention"
}

// Schedule returns the cron schedule
func (j *RankingRetentionJob) Schedule() string {
	return j.schedule
}

// Run deletes snapshots beyond keepLast
func (j *RankingRetentionJob) Run(ctx context.Context) error {
	j.logger.Debug("Starting scheduled ranking retention")

	removed, err := j.cleaner.CleanupOldRankings(ctx, j.keepLast)
	if err != nil {
		return err
	}

	if removed > 0 {
		j.logger.WithFields(map[string]interface{}{
			"removed":   removed,
			"keep_last": j.keepLast,
		}).Info("Ranking retention completed")
	}

	return nil
}
