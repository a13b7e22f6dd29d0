// Package store implements the embedded persistence layer shared by the
// source registry and the metadata cache. A single sqlite database holds the
// descriptor table (which sources exist) and the cache tables (what was last
// observed); both survive process restarts.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	json "github.com/goccy/go-json"
	_ "github.com/mattn/go-sqlite3"

	"github.com/spectrumhq/spectrum/pkg/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS sources (
	name        TEXT PRIMARY KEY,
	kind        TEXT NOT NULL,
	connection  TEXT NOT NULL,
	credentials BLOB,
	created_at  TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS cache_entries (
	source    TEXT NOT NULL,
	path      TEXT NOT NULL,
	variant   TEXT NOT NULL,
	class     TEXT NOT NULL,
	content   TEXT NOT NULL,
	stored_at TIMESTAMP NOT NULL,
	PRIMARY KEY (source, path, variant)
);

CREATE INDEX IF NOT EXISTS idx_cache_entries_source ON cache_entries (source);
`

// Store wraps the sqlite handle.
type Store struct {
	db *sql.DB
}

// Entry is one persisted cache row.
type Entry struct {
	Source   string
	Path     string
	Variant  string
	Class    models.TTLClass
	Content  []byte
	StoredAt time.Time
}

// Open opens (creating if needed) the sqlite store at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize store schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveSource inserts or replaces a source descriptor.
func (s *Store) SaveSource(desc *models.SourceDescriptor) error {
	conn, err := json.Marshal(desc.Connection)
	if err != nil {
		return fmt.Errorf("failed to encode connection parameters: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO sources (name, kind, connection, credentials, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		desc.Name, string(desc.Kind), string(conn), desc.SealedCredentials, desc.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to save source %s: %w", desc.Name, err)
	}
	return nil
}

// GetSource loads one descriptor by name; returns (nil, nil) when absent.
func (s *Store) GetSource(name string) (*models.SourceDescriptor, error) {
	row := s.db.QueryRow(
		`SELECT name, kind, connection, credentials, created_at FROM sources WHERE name = ?`, name)
	desc, err := scanSource(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return desc, err
}

// ListSources returns all persisted descriptors ordered by name.
func (s *Store) ListSources() ([]*models.SourceDescriptor, error) {
	rows, err := s.db.Query(
		`SELECT name, kind, connection, credentials, created_at FROM sources ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	defer rows.Close()

	var out []*models.SourceDescriptor
	for rows.Next() {
		desc, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, desc)
	}
	return out, rows.Err()
}

// DeleteSource removes a descriptor; deleting an absent name is a no-op.
func (s *Store) DeleteSource(name string) error {
	if _, err := s.db.Exec(`DELETE FROM sources WHERE name = ?`, name); err != nil {
		return fmt.Errorf("failed to delete source %s: %w", name, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSource(r rowScanner) (*models.SourceDescriptor, error) {
	var (
		desc      models.SourceDescriptor
		kind      string
		conn      string
		createdAt time.Time
	)
	if err := r.Scan(&desc.Name, &kind, &conn, &desc.SealedCredentials, &createdAt); err != nil {
		return nil, err
	}
	desc.Kind = models.SourceKind(kind)
	desc.CreatedAt = createdAt
	if err := json.Unmarshal([]byte(conn), &desc.Connection); err != nil {
		return nil, fmt.Errorf("failed to decode connection parameters for %s: %w", desc.Name, err)
	}
	return &desc, nil
}

// SaveEntry upserts one cache entry.
func (s *Store) SaveEntry(e *Entry) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO cache_entries (source, path, variant, class, content, stored_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.Source, e.Path, e.Variant, string(e.Class), string(e.Content), e.StoredAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to save cache entry %s/%s/%s: %w", e.Source, e.Path, e.Variant, err)
	}
	return nil
}

// GetEntry loads one cache entry; returns (nil, nil) when absent.
func (s *Store) GetEntry(source, path, variant string) (*Entry, error) {
	var (
		e     Entry
		class string
		body  string
	)
	err := s.db.QueryRow(`
		SELECT class, content, stored_at FROM cache_entries
		WHERE source = ? AND path = ? AND variant = ?`,
		source, path, variant).Scan(&class, &body, &e.StoredAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load cache entry %s/%s/%s: %w", source, path, variant, err)
	}
	e.Source, e.Path, e.Variant = source, path, variant
	e.Class = models.TTLClass(class)
	e.Content = []byte(body)
	return &e, nil
}

// DeleteEntries removes every cache entry keyed to the given source.
func (s *Store) DeleteEntries(source string) error {
	if _, err := s.db.Exec(`DELETE FROM cache_entries WHERE source = ?`, source); err != nil {
		return fmt.Errorf("failed to invalidate cache entries for %s: %w", source, err)
	}
	return nil
}
