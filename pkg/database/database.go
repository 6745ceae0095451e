package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/wonny/coarank/backend/pkg/config"
)

// Dialect identifies the SQL flavor behind a DB.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// DB is the single relational handle shared by the repositories. SQL is
// always set; Pool is set only for Postgres.
type DB struct {
	SQL     *sql.DB
	Pool    *pgxpool.Pool
	Dialect Dialect
}

// New opens the backend selected by cfg.Storage.Driver.
func New(cfg *config.Config) (*DB, error) {
	switch cfg.Storage.Driver {
	case "postgres":
		return OpenPostgres(cfg)
	case "sqlite", "":
		return OpenSQLite(cfg.Storage.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

// OpenPostgres creates a pgx pool and exposes it through database/sql.
func OpenPostgres(cfg *config.Config) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	if cfg.Database.MaxConns > 0 {
		poolConfig.MaxConns = int32(cfg.Database.MaxConns)
	}
	if cfg.Database.MinConns > 0 {
		poolConfig.MinConns = int32(cfg.Database.MinConns)
	}
	poolConfig.MaxConnLifetime = cfg.Database.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.Database.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{
		SQL:     stdlib.OpenDBFromPool(pool),
		Pool:    pool,
		Dialect: DialectPostgres,
	}, nil
}

// OpenSQLite opens (creating if needed) a SQLite database file.
func OpenSQLite(path string) (*DB, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database dir: %w", err)
			}
		}
	}

	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_time_format=sqlite"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// SQLite serializes writers; one connection avoids SQLITE_BUSY under
	// the extraction worker pool.
	sqlDB.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{SQL: sqlDB, Dialect: DialectSQLite}, nil
}

// Close closes the database handle and the pool behind it.
func (db *DB) Close() error {
	var err error
	if db.SQL != nil {
		err = db.SQL.Close()
	}
	if db.Pool != nil {
		db.Pool.Close()
	}
	return err
}

// Ping checks if the database is accessible
func (db *DB) Ping(ctx context.Context) error {
	return db.SQL.PingContext(ctx)
}

// Rebind rewrites ? placeholders to $n for Postgres. Question marks inside
// single-quoted literals are left alone.
func (db *DB) Rebind(query string) string {
	if db.Dialect != DialectPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inQuote := false
	for _, r := range query {
		switch {
		case r == '\'':
			inQuote = !inQuote
			b.WriteRune(r)
		case r == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// RenderDDL fills the dialect placeholders of a schema template:
// {{serial}}, {{json}} and {{timestamp}}.
func (db *DB) RenderDDL(tmpl string) string {
	r := strings.NewReplacer(
		"{{serial}}", "INTEGER PRIMARY KEY AUTOINCREMENT",
		"{{json}}", "TEXT",
		"{{timestamp}}", "TIMESTAMP",
	)
	if db.Dialect == DialectPostgres {
		r = strings.NewReplacer(
			"{{serial}}", "BIGSERIAL PRIMARY KEY",
			"{{json}}", "JSONB",
			"{{timestamp}}", "TIMESTAMPTZ",
		)
	}
	return r.Replace(tmpl)
}

// ExecScript runs semicolon-separated statements in order. Statements
// must not contain semicolons inside literals.
func (db *DB) ExecScript(ctx context.Context, script string) error {
	for _, stmt := range strings.Split(script, ";") {
		if stmt = strings.TrimSpace(stmt); stmt == "" {
			continue
		}
		if _, err := db.SQL.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute %q: %w", firstLine(stmt), err)
		}
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// WithTx runs fn inside a transaction, rolling back on error or panic.
func (db *DB) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := db.SQL.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// IsUniqueViolation reports whether err is a unique constraint failure on
// either backend.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// UniqueViolationOn reports whether err is a unique constraint failure on
// column. Postgres errors are matched on the constraint name, SQLite errors
// on the columns listed in the message.
func UniqueViolationOn(err error, column string) bool {
	if !IsUniqueViolation(err) {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return strings.Contains(pgErr.ConstraintName, column)
	}

	const marker = "UNIQUE constraint failed:"
	msg := err.Error()
	i := strings.Index(msg, marker)
	if i < 0 {
		return false
	}
	for _, col := range strings.Split(msg[i+len(marker):], ",") {
		fields := strings.Fields(col)
		if len(fields) == 0 {
			continue
		}
		if name := fields[0]; name == column || strings.HasSuffix(name, "."+column) {
			return true
		}
	}
	return false
}

// HealthCheck returns detailed health information about the database
func (db *DB) HealthCheck(ctx context.Context) (*HealthStatus, error) {
	status := &HealthStatus{
		Healthy:   false,
		Dialect:   db.Dialect,
		Timestamp: time.Now(),
	}

	start := time.Now()
	if err := db.Ping(ctx); err != nil {
		status.Error = err.Error()
		return status, err
	}
	status.ResponseTime = time.Since(start)
	status.Stats = db.Stats()
	status.Healthy = true
	return status, nil
}

// HealthStatus represents the health status of the database
type HealthStatus struct {
	Healthy      bool          `json:"healthy"`
	Dialect      Dialect       `json:"dialect"`
	Timestamp    time.Time     `json:"timestamp"`
	ResponseTime time.Duration `json:"response_time"`
	Error        string        `json:"error,omitempty"`
	Stats        PoolStats     `json:"stats"`
}

// PoolStats represents connection pool statistics
type PoolStats struct {
	AcquireCount    int64         `json:"acquire_count"`
	AcquireDuration time.Duration `json:"acquire_duration"`
	AcquiredConns   int32         `json:"acquired_conns"`
	IdleConns       int32         `json:"idle_conns"`
	MaxConns        int32         `json:"max_conns"`
	TotalConns      int32         `json:"total_conns"`
}

// Stats returns the current pool statistics
func (db *DB) Stats() PoolStats {
	if db.Pool != nil {
		stats := db.Pool.Stat()
		return PoolStats{
			AcquireCount:    stats.AcquireCount(),
			AcquireDuration: stats.AcquireDuration(),
			AcquiredConns:   stats.AcquiredConns(),
			IdleConns:       stats.IdleConns(),
			MaxConns:        stats.MaxConns(),
			TotalConns:      stats.TotalConns(),
		}
	}

	stats := db.SQL.Stats()
	return PoolStats{
		AcquireCount:    stats.WaitCount,
		AcquireDuration: stats.WaitDuration,
		AcquiredConns:   int32(stats.InUse),
		IdleConns:       int32(stats.Idle),
		MaxConns:        int32(stats.MaxOpenConnections),
		TotalConns:      int32(stats.OpenConnections),
	}
}
