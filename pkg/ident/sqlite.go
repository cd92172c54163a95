package ident

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const (
	identifierTable   = "gaffer_identifiers"
	abbreviationTable = "gaffer_abbreviations"
)

// SQLiteStore persists the identifier namespace and the abbreviation
// mapping in a SQLite database. Primary-key and unique constraints provide
// the atomic check-and-reserve semantics.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a SQLite-backed store and ensures schema.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is nil")
	}
	if err := ensureSchema(db); err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// OpenSQLiteStore opens (or creates) a SQLite database at path and wraps it
// in a store.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// A single writer connection avoids SQLITE_BUSY on concurrent reserves.
	db.SetMaxOpenConns(1)
	return NewSQLiteStore(db)
}

func ensureSchema(db *sql.DB) error {
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			created_at INTEGER NOT NULL
		)`, identifierTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			name TEXT PRIMARY KEY,
			code TEXT NOT NULL UNIQUE,
			created_at INTEGER NOT NULL
		)`, abbreviationTable),
	}
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Reserve implements Namespace. INSERT OR IGNORE makes the check and the
// reservation one atomic statement; zero rows affected means taken.
func (s *SQLiteStore) Reserve(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf("INSERT OR IGNORE INTO %s (id, created_at) VALUES (?, ?)", identifierTable),
		id, time.Now().UTC().UnixMilli())
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// Release implements Namespace.
func (s *SQLiteStore) Release(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE id = ?", identifierTable), id)
	return err
}

// List implements Namespace.
func (s *SQLiteStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT id FROM %s ORDER BY id", identifierTable))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Lookup implements AbbrevStore.
func (s *SQLiteStore) Lookup(ctx context.Context, name string) (string, bool, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT code FROM %s WHERE name = ?", abbreviationTable), name)
	var code string
	if err := row.Scan(&code); err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, err
	}
	return code, true, nil
}

// Commit implements AbbrevStore. The insert and the conflict resolution run
// in one transaction: when the name row already exists a concurrent commit
// won and its code is returned; when the insert was suppressed without a
// name row, the unique code constraint fired for another name.
func (s *SQLiteStore) Commit(ctx context.Context, name, code string) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		fmt.Sprintf("INSERT OR IGNORE INTO %s (name, code, created_at) VALUES (?, ?, ?)", abbreviationTable),
		name, code, time.Now().UTC().UnixMilli())
	if err != nil {
		return "", err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return "", err
	}
	if affected == 1 {
		return code, tx.Commit()
	}

	row := tx.QueryRowContext(ctx,
		fmt.Sprintf("SELECT code FROM %s WHERE name = ?", abbreviationTable), name)
	var existing string
	if err := row.Scan(&existing); err != nil {
		if err == sql.ErrNoRows {
			return "", errCodeTaken
		}
		return "", err
	}
	return existing, tx.Commit()
}
