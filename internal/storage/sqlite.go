package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/grovefs/grovefs/internal/grovefserr"
)

//go:embed schema.sql
var schemaSQL string

// SQLite is the default persistent Adapter: a single-table SQLite database
// keyed by the canonical StorageKey string, opened in WAL mode for
// concurrent readers (grounded on the teacher's internal/db.Store).
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens or creates a SQLite-backed adapter at path.
func OpenSQLite(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, grovefserr.Wrap(grovefserr.StorageError, err, "create storage directory %s", dir)
		}
	}

	escaped := strings.ReplaceAll(path, " ", "%20")
	db, err := sql.Open("sqlite", "file:"+escaped+"?_time_format=sqlite")
	if err != nil {
		return nil, grovefserr.Wrap(grovefserr.StorageError, err, "open sqlite database %s", path)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, grovefserr.Wrap(grovefserr.StorageError, err, "enable WAL mode")
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, grovefserr.Wrap(grovefserr.StorageError, err, "initialize storage schema")
	}

	return &SQLite{db: db}, nil
}

func (s *SQLite) Load(ctx context.Context, key Key) ([]byte, bool, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM blocks WHERE key = ?`, key.Canonical()).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, grovefserr.Wrap(grovefserr.StorageError, err, "load %s", key.Canonical())
	}
	return data, true, nil
}

func (s *SQLite) Save(ctx context.Context, key Key, data []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO blocks (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key.Canonical(), data)
	if err != nil {
		return grovefserr.Wrap(grovefserr.StorageError, err, "save %s", key.Canonical())
	}
	return nil
}

func (s *SQLite) Remove(ctx context.Context, key Key) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM blocks WHERE key = ?`, key.Canonical()); err != nil {
		return grovefserr.Wrap(grovefserr.StorageError, err, "remove %s", key.Canonical())
	}
	return nil
}

func (s *SQLite) LoadRange(ctx context.Context, prefix Key) ([]Entry, error) {
	pfx := prefix.Canonical()
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value FROM blocks WHERE key = ? OR key LIKE ? ESCAPE '\' ORDER BY key`,
		pfx, escapeLike(pfx)+"/%")
	if err != nil {
		return nil, grovefserr.Wrap(grovefserr.StorageError, err, "load range %s", pfx)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var k string
		var v []byte
		if err := rows.Scan(&k, &v); err != nil {
			return nil, grovefserr.Wrap(grovefserr.StorageError, err, "scan range row under %s", pfx)
		}
		out = append(out, Entry{Key: ParseKey(k), Value: v})
	}
	if err := rows.Err(); err != nil {
		return nil, grovefserr.Wrap(grovefserr.StorageError, err, "iterate range under %s", pfx)
	}
	return out, nil
}

func (s *SQLite) RemoveRange(ctx context.Context, prefix Key) error {
	pfx := prefix.Canonical()
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM blocks WHERE key = ? OR key LIKE ? ESCAPE '\'`,
		pfx, escapeLike(pfx)+"/%")
	if err != nil {
		return grovefserr.Wrap(grovefserr.StorageError, err, "remove range %s", pfx)
	}
	return nil
}

func (s *SQLite) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close storage database: %w", err)
	}
	return nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
