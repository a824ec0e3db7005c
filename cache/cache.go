// Package cache persists extracted facts between runs. Entries are keyed
// by path, content hash and fact schema version, so edits and schema
// changes both read as misses.
package cache

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/c360studio/semcheck/fact"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS facts (
    path   TEXT NOT NULL,
    hash   TEXT NOT NULL,
    schema INTEGER NOT NULL,
    facts  TEXT NOT NULL,
    PRIMARY KEY (path, hash, schema)
);`

// Store is a sqlite-backed fact cache. Safe for concurrent use.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens or creates the cache database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create cache directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open fact cache: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping fact cache: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure fact cache: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize fact cache schema: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Close closes the cache database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Get returns the cached facts for a file at a content hash, or nil on a
// miss. A corrupt entry reads as an error, not a miss; callers decide
// whether to fall back to extraction.
func (s *Store) Get(path, hash string) (*fact.SourceFile, error) {
	if s.db == nil {
		return nil, fmt.Errorf("fact cache not opened")
	}

	var payload []byte
	err := s.db.QueryRow(
		`SELECT facts FROM facts WHERE path = ? AND hash = ? AND schema = ?`,
		path, hash, fact.SchemaVersion,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read fact cache: %w", err)
	}

	var sf fact.SourceFile
	if err := json.Unmarshal(payload, &sf); err != nil {
		return nil, fmt.Errorf("decode cached facts for %s: %w", path, err)
	}
	return &sf, nil
}

// Put stores the facts for a file, replacing any entry for the same key.
// Files that failed to parse are not cached; the failure may be transient.
func (s *Store) Put(sf *fact.SourceFile) error {
	if s.db == nil {
		return fmt.Errorf("fact cache not opened")
	}
	if sf.Status != fact.ParseOK {
		return nil
	}

	payload, err := json.Marshal(sf)
	if err != nil {
		return fmt.Errorf("encode facts for %s: %w", sf.Path, err)
	}
	if _, err := s.db.Exec(
		`INSERT OR REPLACE INTO facts (path, hash, schema, facts) VALUES (?, ?, ?, ?)`,
		sf.Path, sf.Hash, fact.SchemaVersion, payload,
	); err != nil {
		return fmt.Errorf("write fact cache: %w", err)
	}
	return nil
}
