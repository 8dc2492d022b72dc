package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/scrypster/recall/internal/storage"
)

// MemoryProvider implements storage.MemoryProvider on the memories_fts table.
// It is the in-process default when no external embedding backend is
// configured: FTS5/BM25 ranking stands in for vector similarity. The raw
// score is the FTS5 rank (negative, lower is better); the memory adapter
// normalizes it via the ScoreBM25Rank scheme.
type MemoryProvider struct {
	db *sql.DB
}

var _ storage.MemoryProvider = (*MemoryProvider)(nil)

// NewMemoryProvider creates an FTS-backed memory provider sharing the
// store's database connection.
func NewMemoryProvider(db *sql.DB) *MemoryProvider {
	return &MemoryProvider{db: db}
}

// AddMemory is a no-op for the FTS provider: the memories table triggers
// already index content on write. The record id doubles as the embedding
// reference so callers can treat both backends uniformly.
func (p *MemoryProvider) AddMemory(ctx context.Context, id, content string, metadata map[string]string) (string, error) {
	return id, nil
}

// Search returns BM25-ranked matches over memory content.
func (p *MemoryProvider) Search(ctx context.Context, query string, limit int) ([]storage.MemoryHit, error) {
	ftsQuery := sanitiseFTSQuery(query)
	if ftsQuery == "" {
		return nil, nil
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT m.id, m.content, fts.rank
		FROM memories_fts fts
		JOIN memories m ON m.rowid = fts.rowid
		WHERE memories_fts MATCH ?
		ORDER BY fts.rank, m.id
		LIMIT ?`, ftsQuery, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: memory provider MATCH %q: %w", query, err)
	}
	defer func() { _ = rows.Close() }()

	var hits []storage.MemoryHit
	for rows.Next() {
		var h storage.MemoryHit
		if err := rows.Scan(&h.ID, &h.Content, &h.RawScore); err != nil {
			return nil, fmt.Errorf("sqlite: scan memory hit: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// RemoveMemory is a no-op: deletion of the memories row removes the FTS
// entry via trigger.
func (p *MemoryProvider) RemoveMemory(ctx context.Context, id string) error {
	return nil
}

// Scheme reports that raw scores are FTS5/BM25 ranks.
func (p *MemoryProvider) Scheme() storage.ScoreScheme {
	return storage.ScoreBM25Rank
}
