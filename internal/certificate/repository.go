// Package certificate persists certificates of analysis. Rows are
// append-only: only normalized names and the processed flag change after
// insert.
package certificate

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/wonny/coarank/backend/internal/contracts"
	"github.com/wonny/coarank/backend/pkg/database"
)

const selectColumns = `
	id, task_number, supplier_name_raw, supplier_name, peptide_name_raw, peptide_name,
	batch_number, quantity_nominal, unit_of_measure, quantity_tested,
	purity_percentage, endotoxin_level, endotoxin_upper_bound, heavy_metals, microbiology,
	test_date, testing_ordered, sample_received, test_type, test_category, comments,
	is_blend, protocol_name, blend_components,
	has_replicates, replicate_measurements, replicate_statistics,
	image_hash, image_key, image_url, verification_key, raw_extraction,
	processed, scraped_at, created_at, updated_at`

// Repository handles certificate persistence.
type Repository struct {
	db    *database.DB
	locks *keyedMutex
	now   func() time.Time
}

// NewRepository creates a new certificate repository.
func NewRepository(db *database.DB) *Repository {
	return &Repository{
		db:    db,
		locks: newKeyedMutex(),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

var _ contracts.CertificateRepository = (*Repository)(nil)

// Upsert stores a certificate keyed by its image hash.
//
//   - same image hash already stored: normalized names and the processed
//     flag are refreshed (Backfilled), nothing else changes
//   - verification key owned by another task number: IntegrityError,
//     nothing written
//   - task number stored under another image: Duplicate, nothing written
//   - otherwise the row is inserted and cert.ID is set
//
// Writes for one image hash are serialized in-process; the unique index on
// image_hash covers writers in other processes.
func (r *Repository) Upsert(ctx context.Context, cert *contracts.Certificate) (contracts.UpsertOutcome, error) {
	if err := cert.Validate(); err != nil {
		return "", fmt.Errorf("invalid certificate %s: %w", cert.TaskNumber, err)
	}

	unlock := r.locks.Lock(cert.ImageHash)
	defer unlock()

	var outcome contracts.UpsertOutcome
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		outcome, err = r.upsertTx(ctx, tx, cert)
		return err
	})
	if err != nil {
		return "", err
	}
	return outcome, nil
}

func (r *Repository) upsertTx(ctx context.Context, tx *sql.Tx, cert *contracts.Certificate) (contracts.UpsertOutcome, error) {
	now := r.now()

	var existingID int64
	err := tx.QueryRowContext(ctx,
		r.db.Rebind(`SELECT id FROM certificates WHERE image_hash = ?`), cert.ImageHash,
	).Scan(&existingID)
	switch {
	case err == nil:
		_, err := tx.ExecContext(ctx, r.db.Rebind(`
			UPDATE certificates
			SET supplier_name = ?, peptide_name = ?, processed = ?, updated_at = ?
			WHERE id = ?`),
			cert.SupplierName, cert.PeptideName, cert.Processed, now, existingID)
		if err != nil {
			return "", fmt.Errorf("failed to backfill certificate %s: %w", cert.ImageHash, err)
		}
		cert.ID = existingID
		return contracts.UpsertBackfilled, nil
	case !errors.Is(err, sql.ErrNoRows):
		return "", fmt.Errorf("failed to look up image hash: %w", err)
	}

	if cert.VerificationKey != "" {
		var owner string
		err := tx.QueryRowContext(ctx,
			r.db.Rebind(`SELECT task_number FROM certificates WHERE verification_key = ?`), cert.VerificationKey,
		).Scan(&owner)
		switch {
		case err == nil && owner != cert.TaskNumber:
			return "", &contracts.IntegrityError{
				VerificationKey:    cert.VerificationKey,
				TaskNumber:         cert.TaskNumber,
				ExistingTaskNumber: owner,
			}
		case err != nil && !errors.Is(err, sql.ErrNoRows):
			return "", fmt.Errorf("failed to look up verification key: %w", err)
		}
	}

	var one int
	err = tx.QueryRowContext(ctx,
		r.db.Rebind(`SELECT 1 FROM certificates WHERE task_number = ?`), cert.TaskNumber,
	).Scan(&one)
	switch {
	case err == nil:
		return contracts.UpsertDuplicate, nil
	case !errors.Is(err, sql.ErrNoRows):
		return "", fmt.Errorf("failed to look up task number: %w", err)
	}

	args, err := insertArgs(cert, now)
	if err != nil {
		return "", err
	}

	query := r.db.Rebind(`
		INSERT INTO certificates (
			task_number, supplier_name_raw, supplier_name, peptide_name_raw, peptide_name,
			batch_number, quantity_nominal, unit_of_measure, quantity_tested,
			purity_percentage, endotoxin_level, endotoxin_upper_bound, heavy_metals, microbiology,
			test_date, testing_ordered, sample_received, test_type, test_category, comments,
			is_blend, protocol_name, blend_components,
			has_replicates, replicate_measurements, replicate_statistics,
			image_hash, image_key, image_url, verification_key, raw_extraction,
			processed, scraped_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (image_hash) DO UPDATE SET
			supplier_name = excluded.supplier_name,
			peptide_name = excluded.peptide_name,
			processed = excluded.processed,
			updated_at = excluded.updated_at
		RETURNING id`)

	if err := tx.QueryRowContext(ctx, query, args...).Scan(&cert.ID); err != nil {
		return "", insertError(cert, err)
	}
	cert.CreatedAt, cert.UpdatedAt = now, now
	return contracts.UpsertInserted, nil
}

// insertError maps a failed insert onto the error taxonomy. A verification
// key taken by another writer after the lookup is an integrity error; only
// a task number collision is a duplicate.
func insertError(cert *contracts.Certificate, err error) error {
	switch {
	case database.UniqueViolationOn(err, "verification_key"):
		return &contracts.IntegrityError{
			VerificationKey: cert.VerificationKey,
			TaskNumber:      cert.TaskNumber,
		}
	case database.IsUniqueViolation(err):
		return fmt.Errorf("certificate %s: %w", cert.TaskNumber, contracts.ErrDuplicateTaskNumber)
	default:
		return fmt.Errorf("failed to insert certificate %s: %w", cert.TaskNumber, err)
	}
}

func insertArgs(c *contracts.Certificate, now time.Time) ([]interface{}, error) {
	heavy, err := jsonArg(c.HeavyMetals, c.HeavyMetals == nil)
	if err != nil {
		return nil, err
	}
	micro, err := jsonArg(c.Microbiology, c.Microbiology == nil)
	if err != nil {
		return nil, err
	}
	blend, err := jsonArg(c.BlendComponents, len(c.BlendComponents) == 0)
	if err != nil {
		return nil, err
	}
	reps, err := jsonArg(c.ReplicateMeasurements, len(c.ReplicateMeasurements) == 0)
	if err != nil {
		return nil, err
	}
	stats, err := jsonArg(c.ReplicateStatistics, len(c.ReplicateStatistics) == 0)
	if err != nil {
		return nil, err
	}
	var raw interface{}
	if len(c.RawExtraction) > 0 {
		raw = string(c.RawExtraction)
	}

	scraped := c.ScrapedAt
	if scraped.IsZero() {
		scraped = now
	}

	return []interface{}{
		c.TaskNumber, c.SupplierNameRaw, c.SupplierName, c.PeptideNameRaw, c.PeptideName,
		database.StringArg(c.BatchNumber), database.FloatArg(c.QuantityNominal),
		database.StringArg(c.UnitOfMeasure), database.FloatArg(c.QuantityTested),
		database.FloatArg(c.PurityPercentage), database.FloatArg(c.EndotoxinLevel), c.EndotoxinUpperBound,
		heavy, micro,
		c.TestDate.UTC(), database.TimeArg(c.TestingOrdered), database.TimeArg(c.SampleReceived),
		database.StringArg(c.TestType), database.StringArg(c.TestCategory), database.StringArg(c.Comments),
		c.IsBlend, database.StringArg(c.ProtocolName), blend,
		c.HasReplicates, reps, stats,
		c.ImageHash, database.StringArg(c.ImageKey), database.StringArg(c.ImageURL),
		database.StringArg(c.VerificationKey), raw,
		c.Processed, scraped.UTC(), now, now,
	}, nil
}

func jsonArg(v interface{}, isNull bool) (interface{}, error) {
	if isNull {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal json column: %w", err)
	}
	return string(b), nil
}

// GetByTaskNumber returns the certificate with the given task number.
func (r *Repository) GetByTaskNumber(ctx context.Context, taskNumber string) (*contracts.Certificate, error) {
	return r.getOne(ctx, `task_number = ?`, taskNumber)
}

// GetByVerificationKey returns the certificate carrying key.
func (r *Repository) GetByVerificationKey(ctx context.Context, key string) (*contracts.Certificate, error) {
	return r.getOne(ctx, `verification_key = ?`, strings.ToUpper(key))
}

// GetByImageHash returns the certificate extracted from an image.
func (r *Repository) GetByImageHash(ctx context.Context, hash string) (*contracts.Certificate, error) {
	return r.getOne(ctx, `image_hash = ?`, hash)
}

func (r *Repository) getOne(ctx context.Context, where string, arg interface{}) (*contracts.Certificate, error) {
	row := r.db.SQL.QueryRowContext(ctx,
		r.db.Rebind(`SELECT `+selectColumns+` FROM certificates WHERE `+where), arg)
	cert, err := scanCertificate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, contracts.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get certificate: %w", err)
	}
	return cert, nil
}

// ExistsByImageHash reports whether an image has already been extracted.
func (r *Repository) ExistsByImageHash(ctx context.Context, imageHash string) (bool, error) {
	var exists bool
	err := r.db.SQL.QueryRowContext(ctx,
		r.db.Rebind(`SELECT EXISTS (SELECT 1 FROM certificates WHERE image_hash = ?)`), imageHash,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check image hash: %w", err)
	}
	return exists, nil
}

// GetBySupplier returns a supplier's certificates, newest first.
func (r *Repository) GetBySupplier(ctx context.Context, supplier string) ([]*contracts.Certificate, error) {
	return r.list(ctx, `WHERE supplier_name = ? ORDER BY test_date DESC, id DESC`, supplier)
}

// GetByPeptide returns certificates of one peptide, newest first,
// optionally narrowed to a declared strength.
func (r *Repository) GetByPeptide(ctx context.Context, peptide string, filter *contracts.QuantityFilter) ([]*contracts.Certificate, error) {
	if filter == nil {
		return r.list(ctx, `WHERE peptide_name = ? ORDER BY test_date DESC, id DESC`, peptide)
	}
	return r.list(ctx, `
		WHERE peptide_name = ?
		  AND quantity_nominal IS NOT NULL AND ABS(quantity_nominal - ?) < 0.000001
		  AND LOWER(unit_of_measure) = LOWER(?)
		ORDER BY test_date DESC, id DESC`,
		peptide, filter.Quantity, filter.Unit)
}

// GetBlendsByProtocol returns blend certificates of one standard protocol.
func (r *Repository) GetBlendsByProtocol(ctx context.Context, protocol string) ([]*contracts.Certificate, error) {
	return r.list(ctx, `WHERE is_blend = ? AND protocol_name = ? ORDER BY test_date DESC, id DESC`, true, protocol)
}

// GetBlendsContaining returns blend certificates with peptide among their
// components.
func (r *Repository) GetBlendsContaining(ctx context.Context, peptide string) ([]*contracts.Certificate, error) {
	blends, err := r.list(ctx, `WHERE is_blend = ? ORDER BY test_date DESC, id DESC`, true)
	if err != nil {
		return nil, err
	}
	out := blends[:0]
	for _, c := range blends {
		for _, comp := range c.BlendComponents {
			if comp.Peptide == peptide {
				out = append(out, c)
				break
			}
		}
	}
	return out, nil
}

// GetReplicatesAboveCV returns certificates whose replicate readings
// vary by more than cv percent for at least one parameter.
func (r *Repository) GetReplicatesAboveCV(ctx context.Context, cv float64) ([]*contracts.Certificate, error) {
	certs, err := r.list(ctx, `WHERE has_replicates = ? ORDER BY test_date DESC, id DESC`, true)
	if err != nil {
		return nil, err
	}
	out := certs[:0]
	for _, c := range certs {
		for _, st := range c.ReplicateStatistics {
			if st.CV > cv {
				out = append(out, c)
				break
			}
		}
	}
	return out, nil
}

// ListAll returns every certificate in test date order.
func (r *Repository) ListAll(ctx context.Context) ([]*contracts.Certificate, error) {
	return r.list(ctx, `ORDER BY test_date ASC, id ASC`)
}

func (r *Repository) list(ctx context.Context, tail string, args ...interface{}) ([]*contracts.Certificate, error) {
	rows, err := r.db.SQL.QueryContext(ctx,
		r.db.Rebind(`SELECT `+selectColumns+` FROM certificates `+tail), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query certificates: %w", err)
	}
	defer rows.Close()

	var out []*contracts.Certificate
	for rows.Next() {
		c, err := scanCertificate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan certificate: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate certificates: %w", err)
	}
	return out, nil
}

// Count returns the number of stored certificates.
func (r *Repository) Count(ctx context.Context) (int, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM certificates`)
}

// CountBySupplier returns the number of certificates of one supplier.
func (r *Repository) CountBySupplier(ctx context.Context, supplier string) (int, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM certificates WHERE supplier_name = ?`, supplier)
}

// CountBlends returns the number of blend certificates.
func (r *Repository) CountBlends(ctx context.Context) (int, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM certificates WHERE is_blend = ?`, true)
}

// CountReplicates returns the number of certificates with replicate readings.
func (r *Repository) CountReplicates(ctx context.Context) (int, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM certificates WHERE has_replicates = ?`, true)
}

func (r *Repository) count(ctx context.Context, query string, args ...interface{}) (int, error) {
	var n int
	if err := r.db.SQL.QueryRowContext(ctx, r.db.Rebind(query), args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count certificates: %w", err)
	}
	return n, nil
}

// UniqueSuppliers returns the distinct normalized supplier names, sorted.
func (r *Repository) UniqueSuppliers(ctx context.Context) ([]string, error) {
	return r.distinct(ctx, "supplier_name")
}

// UniquePeptides returns the distinct normalized peptide names, sorted.
func (r *Repository) UniquePeptides(ctx context.Context) ([]string, error) {
	return r.distinct(ctx, "peptide_name")
}

func (r *Repository) distinct(ctx context.Context, column string) ([]string, error) {
	rows, err := r.db.SQL.QueryContext(ctx,
		`SELECT DISTINCT `+column+` FROM certificates WHERE `+column+` <> '' ORDER BY `+column)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", column, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Renormalize recomputes the normalized names from the raw ones, for use
// after an alias table update. It returns the number of rows changed.
func (r *Repository) Renormalize(ctx context.Context, supplier, peptide func(string) string) (int, error) {
	type change struct {
		id       int64
		supplier string
		peptide  string
	}

	rows, err := r.db.SQL.QueryContext(ctx,
		`SELECT id, supplier_name_raw, supplier_name, peptide_name_raw, peptide_name FROM certificates`)
	if err != nil {
		return 0, fmt.Errorf("failed to query names: %w", err)
	}
	var changes []change
	for rows.Next() {
		var (
			id                       int64
			supRaw, sup, pepRaw, pep string
		)
		if err := rows.Scan(&id, &supRaw, &sup, &pepRaw, &pep); err != nil {
			rows.Close()
			return 0, err
		}
		ns, np := supplier(supRaw), peptide(pepRaw)
		if ns != sup || np != pep {
			changes = append(changes, change{id: id, supplier: ns, peptide: np})
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if len(changes) == 0 {
		return 0, nil
	}

	now := r.now()
	err = r.db.WithTx(ctx, func(tx *sql.Tx) error {
		stmt := r.db.Rebind(`UPDATE certificates SET supplier_name = ?, peptide_name = ?, updated_at = ? WHERE id = ?`)
		for _, c := range changes {
			if _, err := tx.ExecContext(ctx, stmt, c.supplier, c.peptide, now, c.id); err != nil {
				return fmt.Errorf("failed to renormalize certificate %d: %w", c.id, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(changes), nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanCertificate(s scanner) (*contracts.Certificate, error) {
	var (
		c                                                  contracts.Certificate
		batch, unit, testType, category, comments          sql.NullString
		protocol, imageKey, imageURL, verification         sql.NullString
		heavy, micro, blend, reps, stats, raw              sql.NullString
		nominal, tested, purity, endotoxin                 sql.NullFloat64
		testDate, ordered, received, scraped, created, upd database.NullTime
	)

	err := s.Scan(
		&c.ID, &c.TaskNumber, &c.SupplierNameRaw, &c.SupplierName, &c.PeptideNameRaw, &c.PeptideName,
		&batch, &nominal, &unit, &tested,
		&purity, &endotoxin, &c.EndotoxinUpperBound, &heavy, &micro,
		&testDate, &ordered, &received, &testType, &category, &comments,
		&c.IsBlend, &protocol, &blend,
		&c.HasReplicates, &reps, &stats,
		&c.ImageHash, &imageKey, &imageURL, &verification, &raw,
		&c.Processed, &scraped, &created, &upd,
	)
	if err != nil {
		return nil, err
	}

	c.BatchNumber = batch.String
	c.UnitOfMeasure = unit.String
	c.TestType = testType.String
	c.TestCategory = category.String
	c.Comments = comments.String
	c.ProtocolName = protocol.String
	c.ImageKey = imageKey.String
	c.ImageURL = imageURL.String
	c.VerificationKey = verification.String

	c.QuantityNominal = floatPtr(nominal)
	c.QuantityTested = floatPtr(tested)
	c.PurityPercentage = floatPtr(purity)
	c.EndotoxinLevel = floatPtr(endotoxin)

	c.TestDate = testDate.Time
	c.TestingOrdered = ordered.Ptr()
	c.SampleReceived = received.Ptr()
	c.ScrapedAt = scraped.Time
	c.CreatedAt = created.Time
	c.UpdatedAt = upd.Time

	if raw.Valid {
		c.RawExtraction = json.RawMessage(raw.String)
	}
	for _, col := range []struct {
		src  sql.NullString
		dest interface{}
	}{
		{heavy, &c.HeavyMetals},
		{micro, &c.Microbiology},
		{blend, &c.BlendComponents},
		{reps, &c.ReplicateMeasurements},
		{stats, &c.ReplicateStatistics},
	} {
		if !col.src.Valid || col.src.String == "" {
			continue
		}
		if err := json.Unmarshal([]byte(col.src.String), col.dest); err != nil {
			return nil, fmt.Errorf("failed to decode certificate %s: %w", c.TaskNumber, err)
		}
	}
	return &c, nil
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

// keyedMutex serializes work per key and forgets keys nobody holds.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedEntry)}
}

// Lock blocks until key is free and returns its unlock function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
