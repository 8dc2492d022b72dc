package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/scrypster/recall/internal/storage"
	"github.com/scrypster/recall/pkg/types"
)

// PutItem creates or updates a source item (upsert semantics).
func (s *Store) PutItem(ctx context.Context, item *storage.SourceItem) error {
	if item == nil {
		return storage.ErrInvalidInput
	}
	if item.Ref.ID == "" || !item.Ref.Type.Valid() {
		return fmt.Errorf("%w: source ref is required", storage.ErrInvalidInput)
	}
	if item.Title == "" {
		return fmt.Errorf("%w: title is required", storage.ErrInvalidInput)
	}
	if item.Timestamp.IsZero() {
		item.Timestamp = time.Now()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now()
	}

	var metadataJSON []byte
	if item.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(item.Metadata)
		if err != nil {
			return fmt.Errorf("sqlite: marshal source metadata: %w", err)
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO source_items (source_type, source_id, title, body, timestamp, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_type, source_id) DO UPDATE SET
			title = excluded.title,
			body = excluded.body,
			timestamp = excluded.timestamp,
			metadata = excluded.metadata`,
		string(item.Ref.Type), item.Ref.ID, item.Title, item.Body,
		item.Timestamp.UTC(), nullableString(metadataJSON), item.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("sqlite: PutItem %s: %w", item.Ref, err)
	}
	return nil
}

// GetItem retrieves a source item by ref.
func (s *Store) GetItem(ctx context.Context, ref types.SourceRef) (*storage.SourceItem, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT source_type, source_id, title, body, timestamp, metadata, created_at
		FROM source_items
		WHERE source_type = ? AND source_id = ?`,
		string(ref.Type), ref.ID)

	item, err := scanSourceItem(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: GetItem %s: %w", ref, err)
	}
	return item, nil
}

// DeleteItem removes a source item.
func (s *Store) DeleteItem(ctx context.Context, ref types.SourceRef) error {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM source_items WHERE source_type = ? AND source_id = ?",
		string(ref.Type), ref.ID)
	if err != nil {
		return fmt.Errorf("sqlite: DeleteItem %s: %w", ref, err)
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

// ListItems returns items of one source type, newest first.
func (s *Store) ListItems(ctx context.Context, st types.SourceType, opts storage.ListOptions) ([]*storage.SourceItem, error) {
	opts.Normalize()

	rows, err := s.db.QueryContext(ctx, `
		SELECT source_type, source_id, title, body, timestamp, metadata, created_at
		FROM source_items
		WHERE source_type = ?
		ORDER BY timestamp DESC, source_id ASC
		LIMIT ? OFFSET ?`,
		string(st), opts.Limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("sqlite: ListItems %s: %w", st, err)
	}
	defer func() { _ = rows.Close() }()

	var items []*storage.SourceItem
	for rows.Next() {
		item, err := scanSourceItem(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan source item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// SearchItems performs FTS5 search over one source type. FTS5 rank values are
// negative (more negative == better match); they are normalized to (0,1) via
// x/(1+x) on the negated rank so scores merge cleanly with other sources.
func (s *Store) SearchItems(ctx context.Context, st types.SourceType, query string, filters types.SearchFilters) ([]types.ScoredItem, error) {
	if err := filters.Validate(); err != nil {
		return nil, err
	}

	var (
		conds []string
		args  []interface{}
	)

	ftsQuery := sanitiseFTSQuery(query)
	if ftsQuery == "" {
		// Browsing without a query: newest items at a flat baseline score.
		return s.browseItems(ctx, st, filters)
	}

	conds = append(conds, "source_items_fts MATCH ?", "si.source_type = ?")
	args = append(args, ftsQuery, string(st))

	if filters.EntityID != "" {
		conds = append(conds, `EXISTS (
			SELECT 1 FROM mentions mn
			WHERE mn.entity_id = ? AND mn.source_type = si.source_type AND mn.source_id = si.source_id
		)`)
		args = append(args, filters.EntityID)
	}
	if !filters.From.IsZero() {
		conds = append(conds, "si.timestamp >= ?")
		args = append(args, filters.From.UTC())
	}
	if !filters.To.IsZero() {
		conds = append(conds, "si.timestamp <= ?")
		args = append(args, filters.To.UTC())
	}
	args = append(args, filters.Limit)

	querySQL := fmt.Sprintf(`
		SELECT si.source_id, si.title, si.body, si.timestamp, fts.rank
		FROM source_items_fts fts
		JOIN source_items si ON si.rowid = fts.rowid
		WHERE %s
		ORDER BY fts.rank, si.source_id
		LIMIT ?`, strings.Join(conds, " AND "))

	rows, err := s.db.QueryContext(ctx, querySQL, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: SearchItems %s MATCH %q: %w", st, query, err)
	}
	defer func() { _ = rows.Close() }()

	var results []types.ScoredItem
	for rows.Next() {
		var (
			item types.ScoredItem
			body sql.NullString
			rank float64
		)
		if err := rows.Scan(&item.ID, &item.Title, &body, &item.Timestamp, &rank); err != nil {
			return nil, fmt.Errorf("sqlite: scan search result: %w", err)
		}
		item.Source = st
		item.Snippet = truncateSnippet(body.String, 200)
		item.Score = normalizeRank(rank)
		results = append(results, item)
	}
	return results, rows.Err()
}

// browseItems backs empty-query searches with a recency-ordered listing.
func (s *Store) browseItems(ctx context.Context, st types.SourceType, filters types.SearchFilters) ([]types.ScoredItem, error) {
	items, err := s.ListItems(ctx, st, storage.ListOptions{Limit: filters.Limit})
	if err != nil {
		return nil, err
	}
	results := make([]types.ScoredItem, 0, len(items))
	for _, it := range items {
		if !filters.From.IsZero() && it.Timestamp.Before(filters.From) {
			continue
		}
		if !filters.To.IsZero() && it.Timestamp.After(filters.To) {
			continue
		}
		results = append(results, types.ScoredItem{
			Source:    st,
			ID:        it.Ref.ID,
			Title:     it.Title,
			Snippet:   truncateSnippet(it.Body, 200),
			Score:     0.1,
			Timestamp: it.Timestamp,
		})
	}
	return results, nil
}

// SuggestTitles returns title-prefix suggestions for documents and projects,
// mirroring the search suggestion surface.
func (s *Store) SuggestTitles(ctx context.Context, prefix string, limit int) ([]storage.Suggestion, error) {
	prefix = strings.TrimSpace(prefix)
	if len(prefix) < 2 {
		return nil, nil
	}
	if limit <= 0 || limit > 20 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT source_type, source_id, title
		FROM source_items
		WHERE source_type IN (?, ?) AND title LIKE ? COLLATE NOCASE
		ORDER BY timestamp DESC
		LIMIT ?`,
		string(types.SourceDocument), string(types.SourceProject),
		prefix+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: SuggestTitles: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var suggestions []storage.Suggestion
	for rows.Next() {
		var (
			sug storage.Suggestion
			st  string
		)
		if err := rows.Scan(&st, &sug.ID, &sug.Text); err != nil {
			return nil, fmt.Errorf("sqlite: scan suggestion: %w", err)
		}
		sug.Type = types.SourceType(st)
		suggestions = append(suggestions, sug)
	}
	return suggestions, rows.Err()
}

// normalizeRank maps an FTS5 rank (negative BM25, lower is better) onto (0,1).
func normalizeRank(rank float64) float64 {
	x := -rank
	if x < 0 {
		x = 0
	}
	return x / (1 + x)
}

// truncateSnippet bounds display snippets, cutting at a rune boundary.
func truncateSnippet(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}

func scanSourceItem(scan func(dest ...interface{}) error) (*storage.SourceItem, error) {
	var (
		item         storage.SourceItem
		sourceType   string
		body         sql.NullString
		metadataJSON sql.NullString
	)
	if err := scan(&sourceType, &item.Ref.ID, &item.Title, &body,
		&item.Timestamp, &metadataJSON, &item.CreatedAt); err != nil {
		return nil, err
	}
	item.Ref.Type = types.SourceType(sourceType)
	item.Body = body.String
	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &item.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal source metadata: %w", err)
		}
	}
	return &item, nil
}

func nullableString(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
