package backend

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Compile-time interface check.
var _ Backend = (*SQLiteBackend)(nil)

// SQLiteBackend is a persistent Backend backed by SQLite. Counter columns
// and overwrite fields are stored row-per-column so arbitrary column sets
// can be incremented without schema changes.
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend opens (or creates) a SQLite database at the given path
// and initialises the schema. Use ":memory:" for an in-memory database.
func NewSQLiteBackend(dsn string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("buffer/backend: open sqlite: %w", err)
	}
	// A single connection keeps writes serialised and makes ":memory:"
	// behave as one database instead of one per pooled connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS buffer_rows (
			kind    TEXT NOT NULL,
			row_key TEXT NOT NULL,
			PRIMARY KEY (kind, row_key)
		);
		CREATE TABLE IF NOT EXISTS buffer_counters (
			kind    TEXT NOT NULL,
			row_key TEXT NOT NULL,
			col     TEXT NOT NULL,
			value   INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (kind, row_key, col)
		);
		CREATE TABLE IF NOT EXISTS buffer_fields (
			kind    TEXT NOT NULL,
			row_key TEXT NOT NULL,
			name    TEXT NOT NULL,
			value   TEXT NOT NULL,
			PRIMARY KEY (kind, row_key, name)
		);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("buffer/backend: create schema: %w", err)
	}

	return &SQLiteBackend{db: db}, nil
}

// Upsert applies u to the matching row inside a single transaction,
// creating the row if absent.
func (s *SQLiteBackend) Upsert(ctx context.Context, u Update) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	key := rowKey(u.Filters)

	res, err := tx.ExecContext(ctx,
		`INSERT INTO buffer_rows (kind, row_key) VALUES (?, ?)
		 ON CONFLICT (kind, row_key) DO NOTHING`,
		u.Kind, key,
	)
	if err != nil {
		return false, err
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	created := inserted > 0

	for col, d := range u.Deltas {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO buffer_counters (kind, row_key, col, value) VALUES (?, ?, ?, ?)
			 ON CONFLICT (kind, row_key, col) DO UPDATE SET value = value + excluded.value`,
			u.Kind, key, col, d,
		); err != nil {
			return created, err
		}
	}

	for name, value := range u.Extra {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO buffer_fields (kind, row_key, name, value) VALUES (?, ?, ?, ?)
			 ON CONFLICT (kind, row_key, name) DO UPDATE SET value = excluded.value`,
			u.Kind, key, name, value,
		); err != nil {
			return created, err
		}
	}

	return created, tx.Commit()
}

// Lookup returns the counters and fields of the row matching kind and
// filters, and whether the row exists.
func (s *SQLiteBackend) Lookup(ctx context.Context, kind string, filters map[string]string) (map[string]int64, map[string]string, bool, error) {
	key := rowKey(filters)

	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM buffer_rows WHERE kind = ? AND row_key = ?`, kind, key,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return nil, nil, false, nil
	}
	if err != nil {
		return nil, nil, false, err
	}

	counters := make(map[string]int64)
	rows, err := s.db.QueryContext(ctx,
		`SELECT col, value FROM buffer_counters WHERE kind = ? AND row_key = ?`, kind, key,
	)
	if err != nil {
		return nil, nil, false, err
	}
	defer rows.Close()
	for rows.Next() {
		var col string
		var value int64
		if err := rows.Scan(&col, &value); err != nil {
			return nil, nil, false, err
		}
		counters[col] = value
	}
	if err := rows.Err(); err != nil {
		return nil, nil, false, err
	}

	fields := make(map[string]string)
	frows, err := s.db.QueryContext(ctx,
		`SELECT name, value FROM buffer_fields WHERE kind = ? AND row_key = ?`, kind, key,
	)
	if err != nil {
		return nil, nil, false, err
	}
	defer frows.Close()
	for frows.Next() {
		var name, value string
		if err := frows.Scan(&name, &value); err != nil {
			return nil, nil, false, err
		}
		fields[name] = value
	}
	if err := frows.Err(); err != nil {
		return nil, nil, false, err
	}

	return counters, fields, true, nil
}

// Validate checks connectivity to the database.
func (s *SQLiteBackend) Validate(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("buffer/backend: sqlite unreachable: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteBackend) Close() error {
	return s.db.Close()
}
