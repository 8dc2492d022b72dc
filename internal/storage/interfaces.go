// Package storage provides composable storage interfaces for Recall.
//
// The storage layer is designed with small, focused interfaces that can be
// implemented independently and composed as needed, so the graph, source, and
// memory concerns can live in one SQLite file or be split across backends.
package storage

import (
	"context"

	"github.com/scrypster/recall/pkg/types"
)

// GraphStore persists the knowledge graph: entities, their aliases, mentions,
// and co-occurrence edges. All mutation for one source item goes through
// CommitResolution so the graph never holds a half-applied resolution.
type GraphStore interface {
	// GetEntity retrieves an entity by id.
	// Returns ErrNotFound if it doesn't exist.
	GetEntity(ctx context.Context, id string) (*types.Entity, error)

	// GetEntityByName retrieves an entity by canonical name or alias,
	// case-insensitively, across all kinds. Used by the entity browsing
	// surface. Returns ErrNotFound when nothing matches.
	GetEntityByName(ctx context.Context, name string) (*types.Entity, error)

	// LookupEntity finds an entity whose canonical name or alias equals the
	// normalized name within the given kind. Returns ErrNotFound on miss.
	LookupEntity(ctx context.Context, name string, kind types.EntityKind) (*types.Entity, error)

	// LookupFuzzy finds an entity of the given kind whose canonical name or
	// alias contains name as a whole-word substring, or is itself contained
	// in name. Returns ErrNotFound on miss.
	LookupFuzzy(ctx context.Context, name string, kind types.EntityKind) (*types.Entity, error)

	// MatchQueryEntities returns entities whose canonical name, alias, or
	// any whole word of the name matches the query text or one of its
	// tokens, case-insensitively. Used for query-time entity detection.
	MatchQueryEntities(ctx context.Context, query string) ([]*types.Entity, error)

	// ListEntities returns entities ordered by mention count descending.
	// kind may be empty to list all kinds.
	ListEntities(ctx context.Context, kind types.EntityKind, opts ListOptions) ([]*types.Entity, error)

	// CommitResolution atomically applies one source item's resolution.
	// Returns ErrEntityExists when an entity creation lost a race; callers
	// must re-resolve against current graph state and retry.
	CommitResolution(ctx context.Context, res *Resolution) error

	// GetMentions returns all mentions referencing the entity, newest first.
	GetMentions(ctx context.Context, entityID string) ([]*types.Mention, error)

	// GetNeighbors returns the entity's first-degree co-occurrence edges,
	// ordered by count descending.
	GetNeighbors(ctx context.Context, entityID string) ([]*types.KnowledgeEdge, error)

	// GetEdge returns the edge between two entities (order-insensitive).
	// Returns ErrNotFound when the entities never co-occurred.
	GetEdge(ctx context.Context, a, b string) (*types.KnowledgeEdge, error)

	// DeleteEntity removes an entity and cascades to its aliases, mentions,
	// edges, and edge evidence within one transaction.
	// Returns ErrNotFound if the entity doesn't exist.
	DeleteEntity(ctx context.Context, id string) error
}

// SourceStore persists and searches items for the non-memory source domains
// (documents, projects, calendar events, reminders).
type SourceStore interface {
	// PutItem creates or updates a source item (upsert semantics).
	PutItem(ctx context.Context, item *SourceItem) error

	// GetItem retrieves a source item by ref.
	// Returns ErrNotFound if it doesn't exist.
	GetItem(ctx context.Context, ref types.SourceRef) (*SourceItem, error)

	// DeleteItem removes a source item. Returns ErrNotFound on miss.
	DeleteItem(ctx context.Context, ref types.SourceRef) error

	// ListItems returns items of one source type, newest first.
	ListItems(ctx context.Context, st types.SourceType, opts ListOptions) ([]*SourceItem, error)

	// SearchItems performs full-text search over one source type, returning
	// scored results ordered by relevance descending. Scores are in [0,1].
	SearchItems(ctx context.Context, st types.SourceType, query string, filters types.SearchFilters) ([]types.ScoredItem, error)

	// SuggestTitles returns title-prefix suggestions across source types.
	SuggestTitles(ctx context.Context, prefix string, limit int) ([]Suggestion, error)
}

// MemoryStore persists memory records. Embeddings live with the external
// memory provider; this store holds the durable record and the entity
// denormalization used for entity-scoped fetches.
type MemoryStore interface {
	// StoreMemory creates or updates a memory record.
	StoreMemory(ctx context.Context, rec *types.MemoryRecord) error

	// GetMemory retrieves a memory record by id.
	// Returns ErrNotFound if it doesn't exist.
	GetMemory(ctx context.Context, id string) (*types.MemoryRecord, error)

	// ListMemories returns memory records, newest first.
	ListMemories(ctx context.Context, opts ListOptions) (*PaginatedResult[types.MemoryRecord], error)

	// MemoriesByEntity returns records whose entity list contains entityID,
	// newest first.
	MemoriesByEntity(ctx context.Context, entityID string) ([]*types.MemoryRecord, error)

	// DeleteMemory removes a memory record. Returns ErrNotFound on miss.
	DeleteMemory(ctx context.Context, id string) error
}

// MemoryProvider is the external memory/embedding capability. Implementations
// wrap a concrete backend (SQLite FTS5 in-process, PostgreSQL with pgvector).
// Raw scores are provider-defined; the memory adapter normalizes them using
// the declared ScoreScheme.
type MemoryProvider interface {
	// AddMemory stores content with the provider and returns the
	// provider-side embedding reference id.
	AddMemory(ctx context.Context, id, content string, metadata map[string]string) (string, error)

	// Search returns the provider's nearest matches for the query, ordered
	// by descending similarity as reported by the provider.
	Search(ctx context.Context, query string, limit int) ([]MemoryHit, error)

	// RemoveMemory deletes the provider-side record, if any.
	RemoveMemory(ctx context.Context, id string) error

	// Scheme declares how raw scores are oriented and bounded.
	Scheme() ScoreScheme
}
