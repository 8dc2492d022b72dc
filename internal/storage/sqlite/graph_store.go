package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/scrypster/recall/internal/storage"
	"github.com/scrypster/recall/pkg/types"
)

// isUniqueViolation reports whether err is a UNIQUE constraint failure on the
// given table. modernc.org/sqlite surfaces constraint violations as plain
// errors with the standard SQLite message text.
func isUniqueViolation(err error, table string) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") && strings.Contains(msg, table+".")
}

// GetEntity retrieves an entity by id.
func (s *Store) GetEntity(ctx context.Context, id string) (*types.Entity, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: entity id is required", storage.ErrInvalidInput)
	}
	return s.queryEntity(ctx, "WHERE e.id = ?", id)
}

// GetEntityByName retrieves an entity by canonical name or alias across all
// kinds. When multiple kinds share the surface form, the entity with the most
// mentions wins.
func (s *Store) GetEntityByName(ctx context.Context, name string) (*types.Entity, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: entity name is required", storage.ErrInvalidInput)
	}
	return s.queryEntity(ctx, `
		WHERE e.name = ? OR e.id IN (
			SELECT entity_id FROM entity_aliases WHERE alias = ?
		)
		ORDER BY (SELECT COUNT(*) FROM mentions m WHERE m.entity_id = e.id) DESC`,
		name, name)
}

// LookupEntity finds an entity by canonical name or alias within one kind.
func (s *Store) LookupEntity(ctx context.Context, name string, kind types.EntityKind) (*types.Entity, error) {
	return s.queryEntity(ctx, `
		WHERE e.kind = ? AND (e.name = ? OR e.id IN (
			SELECT entity_id FROM entity_aliases WHERE kind = ? AND alias = ?
		))`,
		string(kind), name, string(kind), name)
}

// LookupFuzzy finds an entity of the given kind related to name by
// whole-word containment in either direction. The shortest matching
// candidate wins so "Clare" prefers "Clare Johnson" over a longer name.
func (s *Store) LookupFuzzy(ctx context.Context, name string, kind types.EntityKind) (*types.Entity, error) {
	if len(name) < 3 {
		return nil, storage.ErrNotFound
	}
	// Word-boundary containment both ways: the alias contains name as a
	// whole word, or name contains the alias as a whole word.
	return s.queryEntity(ctx, `
		WHERE e.kind = ? AND e.id IN (
			SELECT entity_id FROM entity_aliases
			WHERE kind = ? AND length(alias) >= 3 AND (
				alias = ?
				OR alias LIKE ? OR alias LIKE ? OR alias LIKE ?
				OR ? LIKE alias || ' %' OR ? LIKE '% ' || alias
				OR ? LIKE '% ' || alias || ' %'
			)
		)
		ORDER BY length(e.name) ASC`,
		string(kind), string(kind), name,
		name+" %", "% "+name, "% "+name+" %",
		name, name, name)
}

// MatchQueryEntities matches the query text and its tokens against entity
// names, aliases, and name words. Tokens shorter than 3 characters are
// ignored to keep stop words from matching everything.
func (s *Store) MatchQueryEntities(ctx context.Context, query string) ([]*types.Entity, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	tokens := []string{query}
	for _, tok := range strings.Fields(query) {
		tok = strings.Trim(tok, `.,;:!?"'()`)
		if len(tok) >= 3 && !strings.EqualFold(tok, query) {
			tokens = append(tokens, tok)
		}
	}
	if len(tokens) > 8 {
		tokens = tokens[:8]
	}

	var (
		clauses []string
		args    []interface{}
	)
	for _, tok := range tokens {
		clauses = append(clauses, `
			e.name = ? OR e.name LIKE ? OR e.name LIKE ? OR e.name LIKE ?
			OR e.id IN (SELECT entity_id FROM entity_aliases WHERE alias = ?)`)
		args = append(args, tok, tok+" %", "% "+tok, "% "+tok+" %", tok)
	}

	querySQL := fmt.Sprintf(`
		SELECT e.id, e.name, e.kind, e.created_at, e.last_seen,
			(SELECT COUNT(*) FROM mentions m WHERE m.entity_id = e.id)
		FROM entities e
		WHERE %s
		ORDER BY e.id
		LIMIT 16`, "("+strings.Join(clauses, ") OR (")+")")

	rows, err := s.db.QueryContext(ctx, querySQL, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: MatchQueryEntities: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return s.scanEntities(ctx, rows)
}

// ListEntities returns entities ordered by mention count descending.
func (s *Store) ListEntities(ctx context.Context, kind types.EntityKind, opts storage.ListOptions) ([]*types.Entity, error) {
	opts.Normalize()

	where := ""
	args := []interface{}{}
	if kind != "" {
		where = "WHERE e.kind = ?"
		args = append(args, string(kind))
	}
	args = append(args, opts.Limit, opts.Offset)

	querySQL := fmt.Sprintf(`
		SELECT e.id, e.name, e.kind, e.created_at, e.last_seen,
			(SELECT COUNT(*) FROM mentions m WHERE m.entity_id = e.id) AS mention_count
		FROM entities e
		%s
		ORDER BY mention_count DESC, e.name ASC
		LIMIT ? OFFSET ?`, where)

	rows, err := s.db.QueryContext(ctx, querySQL, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: ListEntities: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return s.scanEntities(ctx, rows)
}

// CommitResolution applies one source item's resolution in a single
// transaction. Entity creation races surface as storage.ErrEntityExists so
// the resolver can re-resolve against the winner's entity.
func (s *Store) CommitResolution(ctx context.Context, res *storage.Resolution) error {
	if res == nil || res.Source.ID == "" {
		return fmt.Errorf("%w: resolution source is required", storage.ErrInvalidInput)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin resolution: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	ts := res.Timestamp.UTC()

	for _, e := range res.NewEntities {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO entities (id, name, kind, created_at, last_seen)
			VALUES (?, ?, ?, ?, ?)`,
			e.ID, e.Name, string(e.Kind), e.CreatedAt.UTC(), e.LastSeen.UTC())
		if err != nil {
			if isUniqueViolation(err, "entities") {
				return fmt.Errorf("%w: %s (%s)", storage.ErrEntityExists, e.Name, e.Kind)
			}
			return fmt.Errorf("sqlite: insert entity %s: %w", e.ID, err)
		}
	}

	// Aliases use first-writer-wins semantics: a surface form already
	// claimed by another entity of the same kind stays with its owner, which
	// is what keeps the alias/canonical uniqueness invariant intact.
	for entityID, aliases := range res.NewAliases {
		kind, err := entityKindInTx(ctx, tx, entityID, res.NewEntities)
		if err != nil {
			return err
		}
		for _, alias := range aliases {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO entity_aliases (entity_id, kind, alias)
				VALUES (?, ?, ?)
				ON CONFLICT(kind, alias) DO NOTHING`,
				entityID, kind, alias); err != nil {
				return fmt.Errorf("sqlite: insert alias %q: %w", alias, err)
			}
		}
	}

	for _, m := range res.Mentions {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO mentions (id, entity_id, source_type, source_id,
				surface, start_offset, end_offset, snippet, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(entity_id, source_type, source_id, start_offset) DO NOTHING`,
			m.ID, m.EntityID, string(m.Source.Type), m.Source.ID,
			m.Surface, m.Start, m.End, m.Snippet, ts); err != nil {
			return fmt.Errorf("sqlite: insert mention for %s: %w", m.EntityID, err)
		}
	}

	// Edge counts are gated by evidence rows: the increment happens only
	// when this source item has not contributed to the pair before.
	for _, pair := range res.EdgePairs {
		a, b := types.NormalizePair(pair[0], pair[1])
		result, err := tx.ExecContext(ctx, `
			INSERT INTO edge_evidence (entity_a, entity_b, source_type, source_id)
			VALUES (?, ?, ?, ?)
			ON CONFLICT DO NOTHING`,
			a, b, string(res.Source.Type), res.Source.ID)
		if err != nil {
			return fmt.Errorf("sqlite: insert edge evidence (%s,%s): %w", a, b, err)
		}
		inserted, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("sqlite: edge evidence rows affected: %w", err)
		}
		if inserted == 0 {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO knowledge_edges (entity_a, entity_b, count, last_seen)
			VALUES (?, ?, 1, ?)
			ON CONFLICT(entity_a, entity_b) DO UPDATE SET
				count = count + 1,
				last_seen = excluded.last_seen`,
			a, b, ts); err != nil {
			return fmt.Errorf("sqlite: increment edge (%s,%s): %w", a, b, err)
		}
	}

	for _, id := range res.Touched {
		if _, err := tx.ExecContext(ctx, `
			UPDATE entities SET last_seen = ? WHERE id = ? AND last_seen < ?`,
			ts, id, ts); err != nil {
			return fmt.Errorf("sqlite: touch entity %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit resolution for %s: %w", res.Source, err)
	}
	return nil
}

// entityKindInTx resolves an entity's kind, checking first the entities being
// created in this resolution, then the table.
func entityKindInTx(ctx context.Context, tx *sql.Tx, entityID string, created []*types.Entity) (string, error) {
	for _, e := range created {
		if e.ID == entityID {
			return string(e.Kind), nil
		}
	}
	var kind string
	err := tx.QueryRowContext(ctx, "SELECT kind FROM entities WHERE id = ?", entityID).Scan(&kind)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: entity %s", storage.ErrNotFound, entityID)
	}
	if err != nil {
		return "", fmt.Errorf("sqlite: entity kind for %s: %w", entityID, err)
	}
	return kind, nil
}

// GetMentions returns all mentions referencing the entity, newest first.
func (s *Store) GetMentions(ctx context.Context, entityID string) ([]*types.Mention, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, entity_id, source_type, source_id, surface,
			start_offset, end_offset, snippet, created_at
		FROM mentions
		WHERE entity_id = ?
		ORDER BY created_at DESC, id ASC`, entityID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: GetMentions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var mentions []*types.Mention
	for rows.Next() {
		var (
			m          types.Mention
			sourceType string
			snippet    sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.EntityID, &sourceType, &m.Source.ID,
			&m.Surface, &m.Start, &m.End, &snippet, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan mention: %w", err)
		}
		m.Source.Type = types.SourceType(sourceType)
		m.Snippet = snippet.String
		mentions = append(mentions, &m)
	}
	return mentions, rows.Err()
}

// GetNeighbors returns the entity's first-degree edges, strongest first.
func (s *Store) GetNeighbors(ctx context.Context, entityID string) ([]*types.KnowledgeEdge, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entity_a, entity_b, count, last_seen
		FROM knowledge_edges
		WHERE entity_a = ? OR entity_b = ?
		ORDER BY count DESC, entity_a ASC, entity_b ASC`, entityID, entityID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: GetNeighbors: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var edges []*types.KnowledgeEdge
	for rows.Next() {
		var e types.KnowledgeEdge
		if err := rows.Scan(&e.EntityA, &e.EntityB, &e.Count, &e.LastSeen); err != nil {
			return nil, fmt.Errorf("sqlite: scan edge: %w", err)
		}
		edges = append(edges, &e)
	}
	return edges, rows.Err()
}

// GetEdge returns the edge between two entities regardless of argument order.
func (s *Store) GetEdge(ctx context.Context, a, b string) (*types.KnowledgeEdge, error) {
	ea, eb := types.NormalizePair(a, b)
	var e types.KnowledgeEdge
	err := s.db.QueryRowContext(ctx, `
		SELECT entity_a, entity_b, count, last_seen
		FROM knowledge_edges
		WHERE entity_a = ? AND entity_b = ?`, ea, eb).
		Scan(&e.EntityA, &e.EntityB, &e.Count, &e.LastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: GetEdge: %w", err)
	}
	return &e, nil
}

// DeleteEntity removes an entity; aliases, mentions, edges, evidence, and
// memory links cascade via foreign keys in the same transaction.
func (s *Store) DeleteEntity(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM entities WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("sqlite: DeleteEntity: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: DeleteEntity rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// queryEntity runs a single-entity SELECT with the given WHERE clause and
// loads aliases for the winner.
func (s *Store) queryEntity(ctx context.Context, where string, args ...interface{}) (*types.Entity, error) {
	querySQL := fmt.Sprintf(`
		SELECT e.id, e.name, e.kind, e.created_at, e.last_seen,
			(SELECT COUNT(*) FROM mentions m WHERE m.entity_id = e.id)
		FROM entities e
		%s
		LIMIT 1`, where)

	var (
		e    types.Entity
		kind string
	)
	err := s.db.QueryRowContext(ctx, querySQL, args...).
		Scan(&e.ID, &e.Name, &kind, &e.CreatedAt, &e.LastSeen, &e.MentionCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: query entity: %w", err)
	}
	e.Kind = types.EntityKind(kind)

	aliases, err := s.entityAliases(ctx, e.ID)
	if err != nil {
		return nil, err
	}
	e.Aliases = aliases
	return &e, nil
}

// scanEntities collects entity rows and loads aliases for each.
func (s *Store) scanEntities(ctx context.Context, rows *sql.Rows) ([]*types.Entity, error) {
	var entities []*types.Entity
	for rows.Next() {
		var (
			e    types.Entity
			kind string
		)
		if err := rows.Scan(&e.ID, &e.Name, &kind, &e.CreatedAt, &e.LastSeen, &e.MentionCount); err != nil {
			return nil, fmt.Errorf("sqlite: scan entity: %w", err)
		}
		e.Kind = types.EntityKind(kind)
		entities = append(entities, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, e := range entities {
		aliases, err := s.entityAliases(ctx, e.ID)
		if err != nil {
			return nil, err
		}
		e.Aliases = aliases
	}
	return entities, nil
}

func (s *Store) entityAliases(ctx context.Context, entityID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT alias FROM entity_aliases WHERE entity_id = ? ORDER BY alias", entityID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: entity aliases: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var aliases []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, fmt.Errorf("sqlite: scan alias: %w", err)
		}
		aliases = append(aliases, a)
	}
	return aliases, rows.Err()
}
