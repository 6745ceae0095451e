package ranking

import (
	"context"
	"fmt"
)

const schemaTemplate = `
CREATE TABLE IF NOT EXISTS ranking_snapshots (
	id             TEXT PRIMARY KEY,
	computed_at    {{timestamp}} NOT NULL,
	weights        {{json}} NOT NULL,
	supplier_count INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_ranking_snapshots_computed_at ON ranking_snapshots (computed_at);
CREATE TABLE IF NOT EXISTS supplier_rankings (
	id                   {{serial}},
	snapshot_id          TEXT NOT NULL REFERENCES ranking_snapshots (id) ON DELETE CASCADE,
	supplier_name        TEXT NOT NULL,
	rank_position        INTEGER NOT NULL,
	total_score          DOUBLE PRECISION NOT NULL,
	volume_score         DOUBLE PRECISION NOT NULL,
	quality_score        DOUBLE PRECISION NOT NULL,
	accuracy_score       DOUBLE PRECISION NOT NULL,
	consistency_score    DOUBLE PRECISION NOT NULL,
	recency_score        DOUBLE PRECISION NOT NULL,
	endotoxin_score      DOUBLE PRECISION NOT NULL,
	quality_label        TEXT NOT NULL,
	total_certificates   INTEGER NOT NULL,
	certificates_90d     INTEGER NOT NULL,
	certificates_30d     INTEGER NOT NULL,
	usable_certificates  INTEGER NOT NULL,
	avg_purity           DOUBLE PRECISION,
	min_purity           DOUBLE PRECISION,
	max_purity           DOUBLE PRECISION,
	std_purity           DOUBLE PRECISION,
	avg_accuracy         DOUBLE PRECISION,
	accuracy_count       INTEGER NOT NULL DEFAULT 0,
	avg_endotoxin        DOUBLE PRECISION,
	endotoxin_count      INTEGER NOT NULL DEFAULT 0,
	completeness         DOUBLE PRECISION NOT NULL,
	batches_fully_tested INTEGER NOT NULL DEFAULT 0,
	batches_tracked      INTEGER NOT NULL DEFAULT 0,
	avg_tests_per_batch  DOUBLE PRECISION NOT NULL DEFAULT 1,
	days_since_last      INTEGER,
	avg_date_gap         DOUBLE PRECISION,
	peptides_tested      {{json}},
	note                 TEXT,
	computed_at          {{timestamp}} NOT NULL,
	UNIQUE (snapshot_id, supplier_name)
);
CREATE INDEX IF NOT EXISTS idx_supplier_rankings_snapshot ON supplier_rankings (snapshot_id, rank_position);
CREATE INDEX IF NOT EXISTS idx_supplier_rankings_supplier ON supplier_rankings (supplier_name, computed_at);
`

// Migrate creates the snapshot tables if missing.
func (r *Repository) Migrate(ctx context.Context) error {
	if err := r.db.ExecScript(ctx, r.db.RenderDDL(schemaTemplate)); err != nil {
		return fmt.Errorf("failed to migrate rankings: %w", err)
	}
	return nil
}
