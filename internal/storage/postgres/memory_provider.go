// Package postgres implements the external memory provider capability on
// PostgreSQL with the pgvector extension. Embeddings are computed by an
// injected embed function (typically the Ollama embedding endpoint) and
// similarity search uses cosine distance.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq" // PostgreSQL driver
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/scrypster/recall/internal/storage"
)

// EmbedFunc produces a vector embedding for text. Implementations live with
// the extraction/LLM clients; the provider only consumes the capability.
type EmbedFunc func(ctx context.Context, text string) ([]float32, error)

// MemoryProvider implements storage.MemoryProvider on PostgreSQL + pgvector.
// Raw scores are cosine distances in [0,2], lower is better; the memory
// adapter normalizes them via the ScoreCosineDistance scheme.
type MemoryProvider struct {
	db    *sql.DB
	embed EmbedFunc
}

var _ storage.MemoryProvider = (*MemoryProvider)(nil)

// Open connects to PostgreSQL, verifies the pgvector extension, and creates
// the provider schema.
func Open(dsn string, embed EmbedFunc) (*MemoryProvider, error) {
	if embed == nil {
		return nil, fmt.Errorf("postgres: embed function is required")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to open database: %w", err)
	}

	var hasVector bool
	err = db.QueryRow(
		"SELECT EXISTS (SELECT 1 FROM pg_extension WHERE extname = 'vector')").
		Scan(&hasVector)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: failed to check pgvector extension: %w", err)
	}
	if !hasVector {
		db.Close()
		return nil, fmt.Errorf("postgres: pgvector extension is not installed")
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: failed to create schema: %w", err)
	}

	return &MemoryProvider{db: db, embed: embed}, nil
}

// AddMemory embeds the content and stores it with the provider. The returned
// id is the provider-side embedding reference.
func (p *MemoryProvider) AddMemory(ctx context.Context, id, content string, metadata map[string]string) (string, error) {
	vec, err := p.embed(ctx, content)
	if err != nil {
		return "", fmt.Errorf("postgres: embed content: %w", err)
	}

	var metadataJSON []byte
	if metadata != nil {
		metadataJSON, err = json.Marshal(metadata)
		if err != nil {
			return "", fmt.Errorf("postgres: marshal metadata: %w", err)
		}
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO memory_embeddings (id, content, metadata, embedding)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			metadata = EXCLUDED.metadata,
			embedding = EXCLUDED.embedding`,
		id, content, nullableJSON(metadataJSON), pgvector.NewVector(vec))
	if err != nil {
		return "", fmt.Errorf("postgres: store embedding %s: %w", id, err)
	}
	return id, nil
}

// Search embeds the query and returns the nearest memories by cosine
// distance, best match first.
func (p *MemoryProvider) Search(ctx context.Context, query string, limit int) ([]storage.MemoryHit, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	vec, err := p.embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: embed query: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT id, content, embedding <=> $1 AS distance
		FROM memory_embeddings
		ORDER BY distance ASC, id ASC
		LIMIT $2`, pgvector.NewVector(vec), limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: vector search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var hits []storage.MemoryHit
	for rows.Next() {
		var h storage.MemoryHit
		if err := rows.Scan(&h.ID, &h.Content, &h.RawScore); err != nil {
			return nil, fmt.Errorf("postgres: scan hit: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// RemoveMemory deletes the provider-side record, if any.
func (p *MemoryProvider) RemoveMemory(ctx context.Context, id string) error {
	_, err := p.db.ExecContext(ctx,
		"DELETE FROM memory_embeddings WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("postgres: remove embedding %s: %w", id, err)
	}
	return nil
}

// Scheme reports that raw scores are cosine distances.
func (p *MemoryProvider) Scheme() storage.ScoreScheme {
	return storage.ScoreCosineDistance
}

// Close releases the database connection.
func (p *MemoryProvider) Close() error {
	return p.db.Close()
}

func nullableJSON(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}
