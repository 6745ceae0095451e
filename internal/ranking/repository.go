// Package ranking persists supplier ranking snapshots. A snapshot is
// written whole in one transaction and never patched afterwards.
package ranking

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wonny/coarank/backend/internal/contracts"
	"github.com/wonny/coarank/backend/pkg/database"
)

const rowColumns = `
	id, snapshot_id, supplier_name, rank_position, total_score,
	volume_score, quality_score, accuracy_score, consistency_score, recency_score, endotoxin_score,
	quality_label, total_certificates, certificates_90d, certificates_30d, usable_certificates,
	avg_purity, min_purity, max_purity, std_purity, avg_accuracy, accuracy_count,
	avg_endotoxin, endotoxin_count, completeness, batches_fully_tested, batches_tracked,
	avg_tests_per_batch, days_since_last, avg_date_gap, peptides_tested, note, computed_at`

// Repository handles ranking snapshot persistence.
type Repository struct {
	db *database.DB
}

// NewRepository creates a new ranking repository.
func NewRepository(db *database.DB) *Repository {
	return &Repository{db: db}
}

var _ contracts.RankingRepository = (*Repository)(nil)

// SaveSnapshot writes the snapshot header and every supplier row
// atomically. Readers never observe a partial snapshot.
func (r *Repository) SaveSnapshot(ctx context.Context, snapshot *contracts.RankingSnapshot) error {
	if snapshot.ID == "" {
		return fmt.Errorf("snapshot id is required")
	}
	weights, err := json.Marshal(snapshot.Weights)
	if err != nil {
		return fmt.Errorf("failed to marshal weights: %w", err)
	}

	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			r.db.Rebind(`INSERT INTO ranking_snapshots (id, computed_at, weights, supplier_count) VALUES (?, ?, ?, ?)`),
			snapshot.ID, snapshot.ComputedAt.UTC(), string(weights), len(snapshot.Rankings))
		if err != nil {
			return fmt.Errorf("failed to insert snapshot %s: %w", snapshot.ID, err)
		}

		stmt, err := tx.PrepareContext(ctx, r.db.Rebind(`
			INSERT INTO supplier_rankings (
				snapshot_id, supplier_name, rank_position, total_score,
				volume_score, quality_score, accuracy_score, consistency_score, recency_score, endotoxin_score,
				quality_label, total_certificates, certificates_90d, certificates_30d, usable_certificates,
				avg_purity, min_purity, max_purity, std_purity, avg_accuracy, accuracy_count,
				avg_endotoxin, endotoxin_count, completeness, batches_fully_tested, batches_tracked,
				avg_tests_per_batch, days_since_last, avg_date_gap, peptides_tested, note, computed_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`))
		if err != nil {
			return fmt.Errorf("failed to prepare ranking insert: %w", err)
		}
		defer stmt.Close()

		for i := range snapshot.Rankings {
			row := &snapshot.Rankings[i]
			row.SnapshotID = snapshot.ID
			if row.ComputedAt.IsZero() {
				row.ComputedAt = snapshot.ComputedAt
			}

			peptides, err := json.Marshal(row.PeptidesTested)
			if err != nil {
				return fmt.Errorf("failed to marshal peptides of %s: %w", row.SupplierName, err)
			}
			var days interface{}
			if row.DaysSinceLast != nil {
				days = *row.DaysSinceLast
			}

			c := row.Components
			_, err = stmt.ExecContext(ctx,
				snapshot.ID, row.SupplierName, row.Rank, row.TotalScore,
				c.Volume, c.Quality, c.Accuracy, c.Consistency, c.Recency, c.Endotoxin,
				string(row.Label), row.TotalCertificates, row.Certificates90d, row.Certificates30d, row.UsableCertificates,
				database.FloatArg(row.AvgPurity), database.FloatArg(row.MinPurity), database.FloatArg(row.MaxPurity),
				database.FloatArg(row.StdPurity), database.FloatArg(row.AvgAccuracy), row.AccuracyCount,
				database.FloatArg(row.AvgEndotoxin), row.EndotoxinCount, c.Completeness,
				row.BatchesFullyTested, row.BatchesTracked,
				row.AvgTestsPerBatch, days, database.FloatArg(row.AvgDateGap), string(peptides),
				database.StringArg(row.Note), row.ComputedAt.UTC(),
			)
			if err != nil {
				return fmt.Errorf("failed to insert ranking of %s: %w", row.SupplierName, err)
			}
		}
		return nil
	})
}

// LatestSnapshot returns the newest snapshot with all its rows in rank
// order.
func (r *Repository) LatestSnapshot(ctx context.Context) (*contracts.RankingSnapshot, error) {
	var (
		snap    contracts.RankingSnapshot
		at      database.NullTime
		weights string
	)
	err := r.db.SQL.QueryRowContext(ctx,
		`SELECT id, computed_at, weights FROM ranking_snapshots ORDER BY computed_at DESC, id DESC LIMIT 1`,
	).Scan(&snap.ID, &at, &weights)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, contracts.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest snapshot: %w", err)
	}
	snap.ComputedAt = at.Time
	if err := json.Unmarshal([]byte(weights), &snap.Weights); err != nil {
		return nil, fmt.Errorf("failed to decode weights of %s: %w", snap.ID, err)
	}

	snap.Rankings, err = r.list(ctx, `WHERE snapshot_id = ? ORDER BY rank_position ASC`, snap.ID)
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// Latest returns the top rows of the newest snapshot. topN <= 0 returns
// every row. An empty store yields an empty slice.
func (r *Repository) Latest(ctx context.Context, topN int) ([]contracts.SupplierRanking, error) {
	tail := `
		WHERE snapshot_id = (SELECT id FROM ranking_snapshots ORDER BY computed_at DESC, id DESC LIMIT 1)
		ORDER BY rank_position ASC`
	if topN > 0 {
		return r.list(ctx, tail+` LIMIT ?`, topN)
	}
	return r.list(ctx, tail)
}

// SupplierHistory returns a supplier's rows across snapshots, newest
// first.
func (r *Repository) SupplierHistory(ctx context.Context, supplier string, limit int) ([]contracts.SupplierRanking, error) {
	tail := `WHERE supplier_name = ? ORDER BY computed_at DESC, id DESC`
	if limit > 0 {
		return r.list(ctx, tail+` LIMIT ?`, supplier, limit)
	}
	return r.list(ctx, tail, supplier)
}

// SupplierTrend returns a supplier's score and position per snapshot,
// oldest first.
func (r *Repository) SupplierTrend(ctx context.Context, supplier string) ([]contracts.TrendPoint, error) {
	rows, err := r.db.SQL.QueryContext(ctx, r.db.Rebind(`
		SELECT computed_at, total_score, rank_position
		FROM supplier_rankings
		WHERE supplier_name = ?
		ORDER BY computed_at ASC, id ASC`), supplier)
	if err != nil {
		return nil, fmt.Errorf("failed to query trend: %w", err)
	}
	defer rows.Close()

	points := []contracts.TrendPoint{}
	for rows.Next() {
		var (
			p  contracts.TrendPoint
			at database.NullTime
		)
		if err := rows.Scan(&at, &p.TotalScore, &p.Rank); err != nil {
			return nil, fmt.Errorf("failed to scan trend point: %w", err)
		}
		p.ComputedAt = at.Time
		points = append(points, p)
	}
	return points, rows.Err()
}

// DeleteOldSnapshots keeps the newest keepLast snapshots and deletes the
// rest with their rows. It returns the number of snapshots deleted.
func (r *Repository) DeleteOldSnapshots(ctx context.Context, keepLast int) (int, error) {
	if keepLast < 1 {
		return 0, fmt.Errorf("keep_last must be at least 1, got %d", keepLast)
	}

	// SQLite needs a LIMIT before OFFSET; -1 means no limit.
	query := `SELECT id FROM ranking_snapshots ORDER BY computed_at DESC, id DESC LIMIT -1 OFFSET ?`
	if r.db.Dialect == database.DialectPostgres {
		query = `SELECT id FROM ranking_snapshots ORDER BY computed_at DESC, id DESC OFFSET ?`
	}
	rows, err := r.db.SQL.QueryContext(ctx, r.db.Rebind(query), keepLast)
	if err != nil {
		return 0, fmt.Errorf("failed to select old snapshots: %w", err)
	}
	var ids []interface{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	in := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	err = r.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			r.db.Rebind(`DELETE FROM supplier_rankings WHERE snapshot_id IN (`+in+`)`), ids...); err != nil {
			return fmt.Errorf("failed to delete old rankings: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			r.db.Rebind(`DELETE FROM ranking_snapshots WHERE id IN (`+in+`)`), ids...); err != nil {
			return fmt.Errorf("failed to delete old snapshots: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// Count returns the number of stored supplier rows across snapshots.
func (r *Repository) Count(ctx context.Context) (int, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM supplier_rankings`)
}

// CountSnapshots returns the number of stored snapshots.
func (r *Repository) CountSnapshots(ctx context.Context) (int, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM ranking_snapshots`)
}

func (r *Repository) count(ctx context.Context, query string) (int, error) {
	var n int
	if err := r.db.SQL.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count rankings: %w", err)
	}
	return n, nil
}

// LastComputedAt returns the time of the newest snapshot, or nil when no
// snapshot exists.
func (r *Repository) LastComputedAt(ctx context.Context) (*time.Time, error) {
	var at database.NullTime
	err := r.db.SQL.QueryRowContext(ctx,
		`SELECT computed_at FROM ranking_snapshots ORDER BY computed_at DESC, id DESC LIMIT 1`,
	).Scan(&at)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last computation time: %w", err)
	}
	return at.Ptr(), nil
}

func (r *Repository) list(ctx context.Context, tail string, args ...interface{}) ([]contracts.SupplierRanking, error) {
	rows, err := r.db.SQL.QueryContext(ctx,
		r.db.Rebind(`SELECT `+rowColumns+` FROM supplier_rankings `+tail), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rankings: %w", err)
	}
	defer rows.Close()

	out := []contracts.SupplierRanking{}
	for rows.Next() {
		row, err := scanRanking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ranking: %w", err)
		}
		out = append(out, *row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rankings: %w", err)
	}
	return out, nil
}

func scanRanking(rows *sql.Rows) (*contracts.SupplierRanking, error) {
	var (
		r                                          contracts.SupplierRanking
		label                                      string
		avgPurity, minPurity, maxPurity, stdPurity sql.NullFloat64
		avgAccuracy, avgEndotoxin, avgGap          sql.NullFloat64
		days                                       sql.NullInt64
		peptides, note                             sql.NullString
		at                                         database.NullTime
	)
	err := rows.Scan(
		&r.ID, &r.SnapshotID, &r.SupplierName, &r.Rank, &r.TotalScore,
		&r.Components.Volume, &r.Components.Quality, &r.Components.Accuracy,
		&r.Components.Consistency, &r.Components.Recency, &r.Components.Endotoxin,
		&label, &r.TotalCertificates, &r.Certificates90d, &r.Certificates30d, &r.UsableCertificates,
		&avgPurity, &minPurity, &maxPurity, &stdPurity, &avgAccuracy, &r.AccuracyCount,
		&avgEndotoxin, &r.EndotoxinCount, &r.Components.Completeness, &r.BatchesFullyTested, &r.BatchesTracked,
		&r.AvgTestsPerBatch, &days, &avgGap, &peptides, &note, &at,
	)
	if err != nil {
		return nil, err
	}

	r.Label = contracts.QualityLabel(label)
	r.AvgPurity = floatPtr(avgPurity)
	r.MinPurity = floatPtr(minPurity)
	r.MaxPurity = floatPtr(maxPurity)
	r.StdPurity = floatPtr(stdPurity)
	r.AvgAccuracy = floatPtr(avgAccuracy)
	r.AvgEndotoxin = floatPtr(avgEndotoxin)
	r.AvgDateGap = floatPtr(avgGap)
	if days.Valid {
		d := int(days.Int64)
		r.DaysSinceLast = &d
	}
	r.Note = note.String
	r.ComputedAt = at.Time

	if peptides.Valid && peptides.String != "" && peptides.String != "null" {
		if err := json.Unmarshal([]byte(peptides.String), &r.PeptidesTested); err != nil {
			return nil, fmt.Errorf("failed to decode peptides of %s: %w", r.SupplierName, err)
		}
	}
	return &r, nil
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}
