// Package history persists import fingerprints and transaction hashes in SQLite.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/cleared-dev/tally/internal/guard"
)

// Schema creates the history tables.
const Schema = `
CREATE TABLE IF NOT EXISTS imports (
    fingerprint TEXT PRIMARY KEY,      -- name|size|mtime
    import_id TEXT NOT NULL,
    file_name TEXT NOT NULL,
    file_size INTEGER NOT NULL,
    mod_time INTEGER NOT NULL,         -- unix millis
    txn_count INTEGER NOT NULL DEFAULT 0,
    imported_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_imports_imported_at
    ON imports(imported_at);

CREATE TABLE IF NOT EXISTS transaction_hashes (
    hash TEXT PRIMARY KEY,             -- sha256 of date|amount|description
    import_id TEXT NOT NULL,
    recorded_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_transaction_hashes_import
    ON transaction_hashes(import_id);
`

// DefaultPath is the history database location inside a workspace.
func DefaultPath(workspace string) string {
	return filepath.Join(workspace, ".tally", "history.db")
}

// Store is a guard.HistoryStore backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

var _ guard.HistoryStore = (*Store)(nil)

// Open opens or creates the database at path with WAL and foreign keys enabled.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating history directory: %w", err)
	}

	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_foreign_keys=on&_journal_mode=WAL", path))
	if err != nil {
		return nil, fmt.Errorf("opening history: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging history: %w", err)
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing history schema: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// RecordImport stores rec. Re-recording a fingerprint replaces the earlier row.
func (s *Store) RecordImport(ctx context.Context, rec guard.ImportRecord) error {
	query := `
		INSERT INTO imports (fingerprint, import_id, file_name, file_size, mod_time, txn_count, imported_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(fingerprint) DO UPDATE SET
			import_id = excluded.import_id,
			txn_count = excluded.txn_count,
			imported_at = excluded.imported_at
	`
	fp := rec.Fingerprint
	_, err := s.db.ExecContext(ctx, query,
		fp.Key(),
		rec.ImportID,
		fp.Name,
		fp.Size,
		fp.ModTime.UTC().UnixMilli(),
		rec.Count,
		rec.ImportedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("recording import: %w", err)
	}
	return nil
}

// GetImport returns the import with the given fingerprint key, or nil.
func (s *Store) GetImport(ctx context.Context, key string) (*guard.ImportRecord, error) {
	query := `
		SELECT import_id, file_name, file_size, mod_time, txn_count, imported_at
		FROM imports
		WHERE fingerprint = ?
	`
	rec, err := scanImport(s.db.QueryRowContext(ctx, query, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting import: %w", err)
	}
	return rec, nil
}

// ListImports returns all imports, newest first.
func (s *Store) ListImports(ctx context.Context) ([]guard.ImportRecord, error) {
	query := `
		SELECT import_id, file_name, file_size, mod_time, txn_count, imported_at
		FROM imports
		ORDER BY imported_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing imports: %w", err)
	}
	defer rows.Close()

	var recs []guard.ImportRecord
	for rows.Next() {
		rec, err := scanImport(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning import: %w", err)
		}
		recs = append(recs, *rec)
	}
	return recs, rows.Err()
}

// DeleteImport forgets an import so the file can be imported again. It
// reports whether a row was removed.
func (s *Store) DeleteImport(ctx context.Context, importID string) (bool, error) {
	var removed int64
	err := s.transaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM imports WHERE import_id = ?`, importID)
		if err != nil {
			return err
		}
		removed, err = res.RowsAffected()
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM transaction_hashes WHERE import_id = ?`, importID)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("deleting import %s: %w", importID, err)
	}
	return removed > 0, nil
}

// HasTransactions returns the subset of hashes already recorded.
func (s *Store) HasTransactions(ctx context.Context, hashes []string) (map[string]bool, error) {
	seen := make(map[string]bool)
	const chunk = 500
	for start := 0; start < len(hashes); start += chunk {
		end := min(start+chunk, len(hashes))
		batch := hashes[start:end]

		args := make([]any, len(batch))
		for i, h := range batch {
			args[i] = h
		}
		query := `SELECT hash FROM transaction_hashes WHERE hash IN (?` + strings.Repeat(",?", len(batch)-1) + `)`
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("querying transaction hashes: %w", err)
		}
		for rows.Next() {
			var h string
			if err := rows.Scan(&h); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scanning transaction hash: %w", err)
			}
			seen[h] = true
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("reading transaction hashes: %w", err)
		}
	}
	return seen, nil
}

// RecordTransactions stores hashes under importID. Existing hashes keep
// their original import.
func (s *Store) RecordTransactions(ctx context.Context, importID string, hashes []string) error {
	return s.transaction(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO transaction_hashes (hash, import_id) VALUES (?, ?)`)
		if err != nil {
			return fmt.Errorf("preparing hash insert: %w", err)
		}
		defer stmt.Close()
		for _, h := range hashes {
			if _, err := stmt.ExecContext(ctx, h, importID); err != nil {
				return fmt.Errorf("recording transaction hash: %w", err)
			}
		}
		return nil
	})
}

// transaction runs fn in a transaction, rolling back when it fails.
func (s *Store) transaction(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction error: %v, rollback error: %w", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanImport(row rowScanner) (*guard.ImportRecord, error) {
	var (
		rec     guard.ImportRecord
		modTime int64
	)
	err := row.Scan(
		&rec.ImportID,
		&rec.Fingerprint.Name,
		&rec.Fingerprint.Size,
		&modTime,
		&rec.Count,
		&rec.ImportedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.Fingerprint.ModTime = time.UnixMilli(modTime).UTC()
	return &rec, nil
}
