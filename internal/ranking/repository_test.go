package ranking

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/coarank/backend/internal/contracts"
	"github.com/wonny/coarank/backend/pkg/database"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "rankings.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := NewRepository(db)
	require.NoError(t, repo.Migrate(context.Background()))
	return repo
}

func f(v float64) *float64 { return &v }

func snapshot(id string, at time.Time, scores map[string]float64, order ...string) *contracts.RankingSnapshot {
	snap := &contracts.RankingSnapshot{
		ID:         id,
		ComputedAt: at,
		Weights:    contracts.Weights{Volume: .2, Quality: .25, Accuracy: .2, Consistency: .15, Recency: .1, Testing: .1},
	}
	for i, name := range order {
		days := i + 1
		snap.Rankings = append(snap.Rankings, contracts.SupplierRanking{
			SupplierName:      name,
			Rank:              i + 1,
			TotalScore:        scores[name],
			Components:        contracts.ComponentScores{Volume: 50, Quality: 90, Endotoxin: 50},
			Label:             contracts.LabelFor(scores[name]),
			TotalCertificates: 10 + i,
			AvgPurity:         f(99.5),
			DaysSinceLast:     &days,
			PeptidesTested:    []contracts.PeptideCount{{Peptide: "BPC157", Count: 3}},
		})
	}
	return snap
}

func TestSaveAndLatest(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	empty, err := repo.Latest(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = repo.LatestSnapshot(ctx)
	assert.ErrorIs(t, err, contracts.ErrNotFound)

	last, err := repo.LastComputedAt(ctx)
	require.NoError(t, err)
	assert.Nil(t, last)

	t1 := time.Date(2025, 5, 1, 3, 0, 0, 0, time.UTC)
	t2 := t1.Add(24 * time.Hour)

	require.NoError(t, repo.SaveSnapshot(ctx, snapshot("s1", t1,
		map[string]float64{"Mandy Bio": 70, "Mei Peptide": 65}, "Mandy Bio", "Mei Peptide")))
	require.NoError(t, repo.SaveSnapshot(ctx, snapshot("s2", t2,
		map[string]float64{"Mandy Bio": 68, "Mei Peptide": 72, "Acme": 40}, "Mei Peptide", "Mandy Bio", "Acme")))

	top, err := repo.Latest(ctx, 2)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "Mei Peptide", top[0].SupplierName)
	assert.Equal(t, 1, top[0].Rank)
	assert.Equal(t, "s2", top[0].SnapshotID)
	assert.Equal(t, contracts.QualityGood, top[0].Label)
	require.NotNil(t, top[0].AvgPurity)
	assert.InDelta(t, 99.5, *top[0].AvgPurity, 1e-9)
	assert.Nil(t, top[0].StdPurity)
	require.NotNil(t, top[0].DaysSinceLast)
	assert.Equal(t, 1, *top[0].DaysSinceLast)
	assert.Equal(t, []contracts.PeptideCount{{Peptide: "BPC157", Count: 3}}, top[0].PeptidesTested)
	assert.True(t, t2.Equal(top[0].ComputedAt))

	all, err := repo.Latest(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	snap, err := repo.LatestSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "s2", snap.ID)
	assert.InDelta(t, 0.25, snap.Weights.Quality, 1e-9)
	assert.Len(t, snap.Rankings, 3)
	assert.Equal(t, "Acme", snap.Rankings[2].SupplierName)

	last, err = repo.LastComputedAt(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.True(t, t2.Equal(*last))

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	n, err = repo.CountSnapshots(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestSaveSnapshot_Atomic(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	bad := snapshot("dup", time.Now().UTC(), map[string]float64{"A": 1}, "A", "A")
	assert.Error(t, repo.SaveSnapshot(ctx, bad))

	n, err := repo.CountSnapshots(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	rows, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, rows)

	assert.Error(t, repo.SaveSnapshot(ctx, &contracts.RankingSnapshot{}))
}

func TestSupplierHistoryAndTrend(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		scores := map[string]float64{"Mandy Bio": 60 + float64(i), "Other": 50}
		require.NoError(t, repo.SaveSnapshot(ctx,
			snapshot(fmt.Sprintf("s%d", i), base.AddDate(0, 0, i), scores, "Mandy Bio", "Other")))
	}

	trend, err := repo.SupplierTrend(ctx, "Mandy Bio")
	require.NoError(t, err)
	require.Len(t, trend, 4)
	assert.InDelta(t, 60, trend[0].TotalScore, 1e-9)
	assert.InDelta(t, 63, trend[3].TotalScore, 1e-9)
	assert.True(t, trend[0].ComputedAt.Before(trend[3].ComputedAt))
	assert.Equal(t, 1, trend[3].Rank)

	history, err := repo.SupplierHistory(ctx, "Mandy Bio", 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "s3", history[0].SnapshotID)
	assert.Equal(t, "s2", history[1].SnapshotID)

	none, err := repo.SupplierTrend(ctx, "Nobody")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestDeleteOldSnapshots(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		require.NoError(t, repo.SaveSnapshot(ctx,
			snapshot(fmt.Sprintf("s%d", i), base.AddDate(0, 0, i), map[string]float64{"A": 50}, "A")))
	}

	_, err := repo.DeleteOldSnapshots(ctx, 0)
	assert.Error(t, err)

	deleted, err := repo.DeleteOldSnapshots(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, deleted)

	n, err := repo.CountSnapshots(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	rows, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, rows)

	snap, err := repo.LatestSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "s4", snap.ID)

	deleted, err = repo.DeleteOldSnapshots(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, deleted)
}
