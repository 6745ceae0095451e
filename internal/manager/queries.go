package manager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wonny/coarank/backend/internal/contracts"
	"github.com/wonny/coarank/backend/pkg/redis"
)

const supplierTrendPrefix = "supplier:trend:"

// recalculate scores the full certificate population, saves the snapshot,
// drops cached reads and applies retention.
func (m *Manager) recalculate(ctx context.Context) (*contracts.RankingSnapshot, int, error) {
	certs, err := m.certs.ListAll(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("load certificates: %w", err)
	}

	snap, err := m.scorer.Compute(certs, m.now())
	if err != nil {
		return nil, 0, fmt.Errorf("compute rankings: %w", err)
	}
	if err := m.rankings.SaveSnapshot(ctx, snap); err != nil {
		return nil, 0, fmt.Errorf("save ranking snapshot: %w", err)
	}
	m.metrics.RankedSuppliers.Set(float64(len(snap.Rankings)))
	m.invalidate(ctx)

	pruned, err := m.rankings.DeleteOldSnapshots(ctx, m.keepLast)
	if err != nil {
		// The new snapshot is saved; stale ones go on the next run.
		m.logger.WithError(err).Warn("Ranking retention failed")
		pruned = 0
	}
	return snap, pruned, nil
}

func (m *Manager) invalidate(ctx context.Context) {
	for _, prefix := range []string{redis.LatestRankingsPrefix, supplierTrendPrefix} {
		if err := m.cache.DeletePrefix(ctx, prefix); err != nil {
			m.logger.WithError(err).WithField("prefix", prefix).Warn("Failed to invalidate cache")
		}
	}
}

// RecalculateRankings recomputes and stores a snapshot from the
// certificates already stored, without scraping.
func (m *Manager) RecalculateRankings(ctx context.Context) (*contracts.RankingSnapshot, error) {
	snap, pruned, err := m.recalculate(ctx)
	if err != nil {
		return nil, err
	}
	m.logger.WithFields(map[string]interface{}{
		"snapshot_id": snap.ID,
		"suppliers":   len(snap.Rankings),
		"pruned":      pruned,
	}).Info("Rankings recalculated")
	return snap, nil
}

// GetLatestRankings returns the top N rows of the newest snapshot; topN
// <= 0 returns every row.
func (m *Manager) GetLatestRankings(ctx context.Context, topN int) ([]contracts.SupplierRanking, error) {
	var rows []contracts.SupplierRanking
	err := m.cache.GetOrSet(ctx, redis.LatestRankingsKey(topN), &rows, redis.TTLMedium, func() (interface{}, error) {
		return m.rankings.Latest(ctx, topN)
	})
	if err != nil {
		return nil, fmt.Errorf("latest rankings: %w", err)
	}
	return rows, nil
}

// GetSupplierCertificates returns a supplier's certificates, newest first.
func (m *Manager) GetSupplierCertificates(ctx context.Context, supplier string) ([]*contracts.Certificate, error) {
	return m.certs.GetBySupplier(ctx, supplier)
}

// GetSupplierTrend returns a supplier's score across snapshots, oldest
// first.
func (m *Manager) GetSupplierTrend(ctx context.Context, supplier string) ([]contracts.TrendPoint, error) {
	var points []contracts.TrendPoint
	err := m.cache.GetOrSet(ctx, supplierTrendPrefix+supplier, &points, redis.TTLMedium, func() (interface{}, error) {
		return m.rankings.SupplierTrend(ctx, supplier)
	})
	if err != nil {
		return nil, fmt.Errorf("supplier trend: %w", err)
	}
	return points, nil
}

// GetSupplierHistory returns a supplier's last limit ranking rows.
func (m *Manager) GetSupplierHistory(ctx context.Context, supplier string, limit int) ([]contracts.SupplierRanking, error) {
	return m.rankings.SupplierHistory(ctx, supplier, limit)
}

// CleanupOldRankings keeps the newest keepLast snapshots.
func (m *Manager) CleanupOldRankings(ctx context.Context, keepLast int) (int, error) {
	deleted, err := m.rankings.DeleteOldSnapshots(ctx, keepLast)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		m.invalidate(ctx)
	}
	m.logger.WithFields(map[string]interface{}{
		"keep_last": keepLast,
		"deleted":   deleted,
	}).Info("Old ranking snapshots removed")
	return deleted, nil
}

// EstimateCost is the provider cost of extracting n certificates.
func (m *Manager) EstimateCost(n int) float64 {
	return m.extractor.EstimateCost(n)
}

// PendingEstimate is the work a full update would do.
type PendingEstimate struct {
	Listed       int     `json:"listed"`
	Pending      int     `json:"pending"`
	Provider     string  `json:"provider"`
	CostPerImage float64 `json:"cost_per_image"`
	Cost         float64 `json:"cost"`
}

// CountPending walks the listing and counts entries whose task number is
// not stored yet. Images are not downloaded, so an entry re-listed under a
// new task number may still turn out to be a duplicate.
func (m *Manager) CountPending(ctx context.Context, maxPages int) (*PendingEstimate, error) {
	scraped, err := m.scraper.Scrape(ctx, maxPages, nil)
	if err != nil {
		return nil, fmt.Errorf("scrape listing: %w", err)
	}

	est := &PendingEstimate{
		Listed:       len(scraped.Entries),
		Provider:     m.extractor.Provider().Name(),
		CostPerImage: m.extractor.Provider().CostPerImage(),
	}
	for _, e := range scraped.Entries {
		if e.TaskNumber == "" {
			est.Pending++
			continue
		}
		_, err := m.certs.GetByTaskNumber(ctx, e.TaskNumber)
		switch {
		case errors.Is(err, contracts.ErrNotFound):
			est.Pending++
		case err != nil:
			return nil, fmt.Errorf("lookup task %s: %w", e.TaskNumber, err)
		}
	}
	est.Cost = m.extractor.EstimateCost(est.Pending)
	return est, nil
}

// Statistics summarizes the stored data.
type Statistics struct {
	TotalCertificates int         `json:"total_certificates"`
	Suppliers         int         `json:"suppliers"`
	Peptides          int         `json:"peptides"`
	Blends            int         `json:"blends"`
	Replicates        int         `json:"replicates"`
	Snapshots         int         `json:"snapshots"`
	RankingRows       int         `json:"ranking_rows"`
	LastComputedAt    *time.Time  `json:"last_computed_at,omitempty"`
	TopSupplier       string      `json:"top_supplier,omitempty"`
	Provider          string      `json:"provider"`
	Model             string      `json:"model"`
	CostPerImage      float64     `json:"cost_per_image"`
	LastRun           *RunSummary `json:"last_run,omitempty"`
}

// GetStatistics gathers counts across both repositories.
func (m *Manager) GetStatistics(ctx context.Context) (*Statistics, error) {
	var (
		st  = &Statistics{}
		err error
	)
	p := m.extractor.Provider()
	st.Provider, st.Model, st.CostPerImage = p.Name(), p.Model(), p.CostPerImage()

	if st.TotalCertificates, err = m.certs.Count(ctx); err != nil {
		return nil, fmt.Errorf("count certificates: %w", err)
	}
	suppliers, err := m.certs.UniqueSuppliers(ctx)
	if err != nil {
		return nil, fmt.Errorf("unique suppliers: %w", err)
	}
	st.Suppliers = len(suppliers)
	peptides, err := m.certs.UniquePeptides(ctx)
	if err != nil {
		return nil, fmt.Errorf("unique peptides: %w", err)
	}
	st.Peptides = len(peptides)
	if st.Blends, err = m.certs.CountBlends(ctx); err != nil {
		return nil, fmt.Errorf("count blends: %w", err)
	}
	if st.Replicates, err = m.certs.CountReplicates(ctx); err != nil {
		return nil, fmt.Errorf("count replicates: %w", err)
	}
	if st.Snapshots, err = m.rankings.CountSnapshots(ctx); err != nil {
		return nil, fmt.Errorf("count snapshots: %w", err)
	}
	if st.RankingRows, err = m.rankings.Count(ctx); err != nil {
		return nil, fmt.Errorf("count rankings: %w", err)
	}
	if st.LastComputedAt, err = m.rankings.LastComputedAt(ctx); err != nil {
		return nil, fmt.Errorf("last computed: %w", err)
	}

	top, err := m.GetLatestRankings(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(top) > 0 {
		st.TopSupplier = top[0].SupplierName
	}
	st.LastRun = m.LastRun()
	return st, nil
}

// BestSupplierForPeptide ranks suppliers on their certificates for one
// peptide only and returns the rows, best first. The result is computed
// on the fly and never stored.
func (m *Manager) BestSupplierForPeptide(ctx context.Context, peptide string, filter *contracts.QuantityFilter) ([]contracts.SupplierRanking, error) {
	certs, err := m.certs.GetByPeptide(ctx, peptide, filter)
	if err != nil {
		return nil, fmt.Errorf("certificates for %s: %w", peptide, err)
	}
	if len(certs) == 0 {
		return nil, fmt.Errorf("peptide %s: %w", peptide, contracts.ErrNotFound)
	}
	snap, err := m.scorer.Compute(certs, m.now())
	if err != nil {
		return nil, err
	}
	return snap.Rankings, nil
}
