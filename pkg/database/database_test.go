package database

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/coarank/backend/pkg/config"
)

func openTestSQLite(t *testing.T) *DB {
	t.Helper()
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "nested", "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenSQLite(t *testing.T) {
	db := openTestSQLite(t)
	assert.Equal(t, DialectSQLite, db.Dialect)
	assert.Nil(t, db.Pool)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	status, err := db.HealthCheck(ctx)
	require.NoError(t, err)
	assert.True(t, status.Healthy)
	assert.Equal(t, int32(1), status.Stats.MaxConns)
}

func TestNewUnknownDriver(t *testing.T) {
	cfg := &config.Config{Storage: config.StorageConfig{Driver: "mysql"}}
	_, err := New(cfg)
	assert.Error(t, err)
}

func TestRebind(t *testing.T) {
	pg := &DB{Dialect: DialectPostgres}
	lite := &DB{Dialect: DialectSQLite}

	q := "SELECT * FROM t WHERE a = ? AND b = '?' AND c IN (?, ?)"
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b = '?' AND c IN ($2, $3)", pg.Rebind(q))
	assert.Equal(t, q, lite.Rebind(q))
}

func TestWithTx(t *testing.T) {
	db := openTestSQLite(t)
	ctx := context.Background()

	_, err := db.SQL.ExecContext(ctx, `CREATE TABLE items (name TEXT PRIMARY KEY)`)
	require.NoError(t, err)

	err = db.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO items (name) VALUES ('a')`)
		return err
	})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO items (name) VALUES ('b')`); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var count int
	require.NoError(t, db.SQL.QueryRowContext(ctx, `SELECT COUNT(*) FROM items`).Scan(&count))
	assert.Equal(t, 1, count)

	_, err = db.SQL.ExecContext(ctx, `INSERT INTO items (name) VALUES ('a')`)
	assert.True(t, IsUniqueViolation(err))
}

func TestIsUniqueViolation(t *testing.T) {
	assert.False(t, IsUniqueViolation(nil))
	assert.False(t, IsUniqueViolation(errors.New("syntax error")))
	assert.True(t, IsUniqueViolation(&pgconn.PgError{Code: "23505"}))
	assert.False(t, IsUniqueViolation(&pgconn.PgError{Code: "23503"}))
}

func TestUniqueViolationOn(t *testing.T) {
	db := openTestSQLite(t)
	ctx := context.Background()

	_, err := db.SQL.ExecContext(ctx, `CREATE TABLE certs (task TEXT NOT NULL UNIQUE, vkey TEXT)`)
	require.NoError(t, err)
	_, err = db.SQL.ExecContext(ctx, `CREATE UNIQUE INDEX idx_certs_vkey ON certs (vkey) WHERE vkey IS NOT NULL`)
	require.NoError(t, err)
	_, err = db.SQL.ExecContext(ctx, `INSERT INTO certs (task, vkey) VALUES ('1', 'K1')`)
	require.NoError(t, err)

	_, keyErr := db.SQL.ExecContext(ctx, `INSERT INTO certs (task, vkey) VALUES ('2', 'K1')`)
	assert.True(t, UniqueViolationOn(keyErr, "vkey"))
	assert.False(t, UniqueViolationOn(keyErr, "task"))

	_, taskErr := db.SQL.ExecContext(ctx, `INSERT INTO certs (task, vkey) VALUES ('1', 'K2')`)
	assert.True(t, UniqueViolationOn(taskErr, "task"))
	assert.False(t, UniqueViolationOn(taskErr, "vkey"))

	assert.False(t, UniqueViolationOn(nil, "vkey"))
	assert.True(t, UniqueViolationOn(&pgconn.PgError{Code: "23505", ConstraintName: "idx_certificates_verification_key"}, "verification_key"))
	assert.False(t, UniqueViolationOn(&pgconn.PgError{Code: "23505", ConstraintName: "idx_certificates_task_number"}, "verification_key"))
}

func TestOpenPostgres(t *testing.T) {
	if os.Getenv("DATABASE_URL") == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	cfg := &config.Config{
		Storage:  config.StorageConfig{Driver: "postgres"},
		Database: config.DatabaseConfig{URL: os.Getenv("DATABASE_URL"), MaxConns: 4, MinConns: 1},
	}

	db, err := New(cfg)
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, DialectPostgres, db.Dialect)
	assert.Equal(t, int32(4), db.Stats().MaxConns)
	assert.NoError(t, db.Ping(context.Background()))
}

func TestRenderDDL(t *testing.T) {
	tmpl := "CREATE TABLE t (id {{serial}}, doc {{json}}, at {{timestamp}})"

	lite := &DB{Dialect: DialectSQLite}
	assert.Equal(t, "CREATE TABLE t (id INTEGER PRIMARY KEY AUTOINCREMENT, doc TEXT, at TIMESTAMP)", lite.RenderDDL(tmpl))

	pg := &DB{Dialect: DialectPostgres}
	assert.Equal(t, "CREATE TABLE t (id BIGSERIAL PRIMARY KEY, doc JSONB, at TIMESTAMPTZ)", pg.RenderDDL(tmpl))
}

func TestExecScript(t *testing.T) {
	db := openTestSQLite(t)
	ctx := context.Background()

	script := `
		CREATE TABLE IF NOT EXISTS a (x INTEGER);
		CREATE INDEX IF NOT EXISTS idx_a_x ON a (x);
	`
	require.NoError(t, db.ExecScript(ctx, script))
	require.NoError(t, db.ExecScript(ctx, script))

	err := db.ExecScript(ctx, "CREATE TABLE broken (")
	assert.Error(t, err)
}
