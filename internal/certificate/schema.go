package certificate

import (
	"context"
	"fmt"
)

const schemaTemplate = `
CREATE TABLE IF NOT EXISTS certificates (
	id                     {{serial}},
	task_number            TEXT NOT NULL,
	supplier_name_raw      TEXT NOT NULL DEFAULT '',
	supplier_name          TEXT NOT NULL DEFAULT '',
	peptide_name_raw       TEXT NOT NULL DEFAULT '',
	peptide_name           TEXT NOT NULL DEFAULT '',
	batch_number           TEXT,
	quantity_nominal       DOUBLE PRECISION,
	unit_of_measure        TEXT,
	quantity_tested        DOUBLE PRECISION,
	purity_percentage      DOUBLE PRECISION CHECK (purity_percentage IS NULL OR (purity_percentage >= 0 AND purity_percentage <= 100)),
	endotoxin_level        DOUBLE PRECISION,
	endotoxin_upper_bound  BOOLEAN NOT NULL DEFAULT FALSE,
	heavy_metals           {{json}},
	microbiology           {{json}},
	test_date              {{timestamp}} NOT NULL,
	testing_ordered        {{timestamp}},
	sample_received        {{timestamp}},
	test_type              TEXT,
	test_category          TEXT,
	comments               TEXT,
	is_blend               BOOLEAN NOT NULL DEFAULT FALSE,
	protocol_name          TEXT,
	blend_components       {{json}},
	has_replicates         BOOLEAN NOT NULL DEFAULT FALSE,
	replicate_measurements {{json}},
	replicate_statistics   {{json}},
	image_hash             TEXT NOT NULL,
	image_key              TEXT,
	image_url              TEXT,
	verification_key       TEXT,
	raw_extraction         {{json}},
	processed              BOOLEAN NOT NULL DEFAULT TRUE,
	scraped_at             {{timestamp}} NOT NULL,
	created_at             {{timestamp}} NOT NULL,
	updated_at             {{timestamp}} NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_certificates_image_hash ON certificates (image_hash);
CREATE UNIQUE INDEX IF NOT EXISTS idx_certificates_task_number ON certificates (task_number);
CREATE UNIQUE INDEX IF NOT EXISTS idx_certificates_verification_key ON certificates (verification_key) WHERE verification_key IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_certificates_supplier ON certificates (supplier_name);
CREATE INDEX IF NOT EXISTS idx_certificates_peptide ON certificates (peptide_name);
CREATE INDEX IF NOT EXISTS idx_certificates_test_date ON certificates (test_date);
`

// Migrate creates the certificates table and its indexes if missing.
func (r *Repository) Migrate(ctx context.Context) error {
	if err := r.db.ExecScript(ctx, r.db.RenderDDL(schemaTemplate)); err != nil {
		return fmt.Errorf("failed to migrate certificates: %w", err)
	}
	return nil
}
