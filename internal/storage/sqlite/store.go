// Package sqlite implements the Recall storage interfaces on SQLite using
// the CGO-free modernc.org/sqlite driver. One Store serves the knowledge
// graph, the source item tables, and the memory records; full-text search
// uses FTS5 virtual tables kept in sync by triggers.
package sqlite

import (
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/scrypster/recall/internal/storage"
)

// Store implements storage.GraphStore, storage.SourceStore, and
// storage.MemoryStore on a single SQLite database.
type Store struct {
	db *sql.DB
}

// Compile-time interface checks.
var (
	_ storage.GraphStore  = (*Store)(nil)
	_ storage.SourceStore = (*Store)(nil)
	_ storage.MemoryStore = (*Store)(nil)
)

// Open opens a SQLite database, configures WAL mode, and creates the schema.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to open database: %w", err)
	}

	// SQLite only supports one concurrent writer. A single open connection
	// serialises writes and avoids SQLITE_BUSY errors under concurrent load.
	// WAL mode allows concurrent readers to proceed without blocking the writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to enable WAL mode: %w", err)
	}

	// Wait instead of failing immediately when the connection is held by
	// another goroutine.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to set busy timeout: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to enable foreign keys: %w", err)
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// GetDB exposes the underlying database connection for components that share
// the same file (settings persistence, the FTS memory provider).
func (s *Store) GetDB() *sql.DB {
	return s.db
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// sanitiseFTSQuery converts free-form user input into a safe FTS5 MATCH
// expression. FTS5 syntax is fragile: an unbalanced quote or a stray operator
// keyword produces "fts5: syntax error". Each word becomes a quoted prefix
// term and the words are OR-ed together.
func sanitiseFTSQuery(query string) string {
	words := strings.Fields(query)
	terms := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.Map(func(r rune) rune {
			switch r {
			case '"', '\'', '*', '(', ')', ':', '^', '-':
				return -1
			}
			return r
		}, w)
		if w == "" {
			continue
		}
		terms = append(terms, fmt.Sprintf(`"%s"*`, w))
	}
	return strings.Join(terms, " OR ")
}
