// Package store persists source records and the derived view built from
// them in SQLite.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema
// 1 - Added index on derived_records(source_record_id, split_index)
// 2 - Keyed derived_records on (source_record_id, external_id)
const currentSchemaVersion = 2

const (
	dateFormat = "2006-01-02"
	tsFormat   = time.RFC3339Nano
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrVerified is returned when automation tries to overwrite a verified record.
	ErrVerified = errors.New("record is verified")
	// ErrUnknownCategory is returned for category IDs missing from the chart.
	ErrUnknownCategory = errors.New("unknown category")
	// ErrAmbiguous is returned when a derived external ID exists under more
	// than one source record and no source was given to pick one.
	ErrAmbiguous = errors.New("ambiguous derived id")
)

// CategoryChecker tests whether a category ID exists in the chart.
type CategoryChecker interface {
	Exists(id string) bool
}

// Store provides durable storage for source and derived records.
type Store struct {
	db         *sql.DB
	now        func() time.Time
	categories CategoryChecker
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used for updated_at and created_at stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithCategories validates category IDs against c.
func WithCategories(c CategoryChecker) Option {
	return func(s *Store) { s.categories = c }
}

// Open creates or opens a SQLite database at path, applying pragmas and
// migrations. Safe to call on an existing database.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	// SQLite supports a single writer; pragmas are per connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	s := &Store{db: db, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("executing %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return runMigrations(db)
}

// runMigrations applies incremental migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("reading user_version: %w", err)
	}

	if version < 1 {
		// Databases created before v1 lack the derived lookup index.
		if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_derived_records_source
			ON derived_records(source_record_id, split_index)`); err != nil {
			return fmt.Errorf("migrating to v1: %w", err)
		}
	}

	if version < 2 {
		if err := rekeyDerived(db); err != nil {
			return fmt.Errorf("migrating to v2: %w", err)
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("setting user_version: %w", err)
	}
	return nil
}

// rekeyDerived rebuilds a derived_records table keyed on external_id alone so
// that the same external ID may appear under different source records.
func rekeyDerived(db *sql.DB) error {
	var pkCols int
	if err := db.QueryRow(
		`SELECT COUNT(*) FROM pragma_table_info('derived_records') WHERE pk > 0`).Scan(&pkCols); err != nil {
		return fmt.Errorf("reading derived_records key: %w", err)
	}
	if pkCols != 1 {
		return nil
	}

	const columns = `external_id, source_record_id, split_index, amount_cents, posted_date, merchant, order_id, product_id,
		category_id, assignment_method, assigned_model, assigned_model_version, assigned_at,
		merchant_ref, notes, tags, is_verified, updated_at`

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmts := []string{
		`DROP INDEX IF EXISTS idx_derived_records_source`,
		`DROP INDEX IF EXISTS idx_derived_records_external`,
		`ALTER TABLE derived_records RENAME TO derived_records_v1`,
	}
	for _, q := range stmts {
		if _, err := tx.Exec(q); err != nil {
			return err
		}
	}
	// The schema recreates the table and its indexes with the new key.
	if _, err := tx.Exec(schemaSQL); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT INTO derived_records (` + columns + `) SELECT ` + columns + ` FROM derived_records_v1`); err != nil {
		return err
	}
	if _, err := tx.Exec(`DROP TABLE derived_records_v1`); err != nil {
		return err
	}
	return tx.Commit()
}

// withTx runs fn inside a transaction, committing on success.
func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func formatDate(t time.Time) string {
	return t.Format(dateFormat)
}

func parseDate(s string) (time.Time, error) {
	t, err := time.Parse(dateFormat, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing date %q: %w", s, err)
	}
	return t, nil
}

func formatTS(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(tsFormat)
}

func parseTS(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(tsFormat, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}
