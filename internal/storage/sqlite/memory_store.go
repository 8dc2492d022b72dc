package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/scrypster/recall/internal/storage"
	"github.com/scrypster/recall/pkg/types"
)

// StoreMemory creates or updates a memory record and its entity links.
func (s *Store) StoreMemory(ctx context.Context, rec *types.MemoryRecord) error {
	if rec == nil {
		return storage.ErrInvalidInput
	}
	if rec.ID == "" {
		return fmt.Errorf("%w: memory ID is required", storage.ErrInvalidInput)
	}
	if rec.Content == "" {
		return fmt.Errorf("%w: memory content is required", storage.ErrInvalidInput)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	var (
		entityJSON, metadataJSON []byte
		err                      error
	)
	if rec.EntityIDs != nil {
		entityJSON, err = json.Marshal(rec.EntityIDs)
		if err != nil {
			return fmt.Errorf("sqlite: marshal entity ids: %w", err)
		}
	}
	if rec.Metadata != nil {
		metadataJSON, err = json.Marshal(rec.Metadata)
		if err != nil {
			return fmt.Errorf("sqlite: marshal memory metadata: %w", err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin StoreMemory: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO memories (id, user_id, content, entity_ids, embedding_id, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content,
			entity_ids = excluded.entity_ids,
			embedding_id = excluded.embedding_id,
			metadata = excluded.metadata`,
		rec.ID, rec.UserID, rec.Content, nullableString(entityJSON),
		rec.EmbeddingID, nullableString(metadataJSON), rec.CreatedAt.UTC()); err != nil {
		return fmt.Errorf("sqlite: StoreMemory %s: %w", rec.ID, err)
	}

	// Refresh entity links. Links to entities deleted since the last write
	// are dropped; dangling ids in the JSON column are tolerated.
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM memory_entities WHERE memory_id = ?", rec.ID); err != nil {
		return fmt.Errorf("sqlite: clear memory entities: %w", err)
	}
	for _, entityID := range rec.EntityIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO memory_entities (memory_id, entity_id)
			SELECT ?, id FROM entities WHERE id = ?
			ON CONFLICT DO NOTHING`,
			rec.ID, entityID); err != nil {
			return fmt.Errorf("sqlite: link memory entity %s: %w", entityID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit StoreMemory: %w", err)
	}
	return nil
}

// GetMemory retrieves a memory record by id.
func (s *Store) GetMemory(ctx context.Context, id string) (*types.MemoryRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, content, entity_ids, embedding_id, metadata, created_at
		FROM memories WHERE id = ?`, id)

	rec, err := scanMemory(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: GetMemory %s: %w", id, err)
	}
	return rec, nil
}

// ListMemories returns memory records, newest first.
func (s *Store) ListMemories(ctx context.Context, opts storage.ListOptions) (*storage.PaginatedResult[types.MemoryRecord], error) {
	opts.Normalize()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, content, entity_ids, embedding_id, metadata, created_at
		FROM memories
		ORDER BY created_at DESC, id ASC
		LIMIT ? OFFSET ?`, opts.Limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("sqlite: ListMemories: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var items []types.MemoryRecord
	for rows.Next() {
		rec, err := scanMemory(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan memory: %w", err)
		}
		items = append(items, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM memories").Scan(&total); err != nil {
		return nil, fmt.Errorf("sqlite: count memories: %w", err)
	}

	return &storage.PaginatedResult[types.MemoryRecord]{
		Items:   items,
		Total:   total,
		HasMore: opts.Offset+len(items) < total,
	}, nil
}

// MemoriesByEntity returns records linked to the entity, newest first.
func (s *Store) MemoriesByEntity(ctx context.Context, entityID string) ([]*types.MemoryRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.user_id, m.content, m.entity_ids, m.embedding_id, m.metadata, m.created_at
		FROM memories m
		JOIN memory_entities me ON me.memory_id = m.id
		WHERE me.entity_id = ?
		ORDER BY m.created_at DESC, m.id ASC`, entityID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: MemoriesByEntity: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*types.MemoryRecord
	for rows.Next() {
		rec, err := scanMemory(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan memory: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// DeleteMemory removes a memory record and its entity links.
func (s *Store) DeleteMemory(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM memories WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("sqlite: DeleteMemory %s: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func scanMemory(scan func(dest ...interface{}) error) (*types.MemoryRecord, error) {
	var (
		rec                      types.MemoryRecord
		entityJSON, metadataJSON sql.NullString
		embeddingID              sql.NullString
	)
	if err := scan(&rec.ID, &rec.UserID, &rec.Content, &entityJSON,
		&embeddingID, &metadataJSON, &rec.CreatedAt); err != nil {
		return nil, err
	}
	rec.EmbeddingID = embeddingID.String
	if entityJSON.Valid && entityJSON.String != "" {
		if err := json.Unmarshal([]byte(entityJSON.String), &rec.EntityIDs); err != nil {
			return nil, fmt.Errorf("unmarshal entity ids: %w", err)
		}
	}
	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &rec.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal memory metadata: %w", err)
		}
	}
	return &rec, nil
}
