package storage

import (
	"errors"
	"time"

	"github.com/scrypster/recall/pkg/types"
)

var (
	// ErrNotFound indicates that the requested resource was not found.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrEntityExists indicates that an entity with the same canonical name
	// and kind already exists. Resolvers treat this as a lost creation race
	// and retry against the winner's entity.
	ErrEntityExists = errors.New("entity already exists")

	// ErrAliasConflict indicates that an alias would collide with another
	// entity of the same kind.
	ErrAliasConflict = errors.New("alias conflicts with existing entity")
)

// PaginatedResult represents a paginated result set.
type PaginatedResult[T any] struct {
	// Items is the slice of results for the current page.
	Items []T

	// Total is the total number of items across all pages.
	Total int

	// HasMore indicates whether there are more pages available.
	HasMore bool
}

// ListOptions provides pagination options for list operations.
type ListOptions struct {
	// Limit is the number of items to return (default: 20, max: 100).
	Limit int

	// Offset is the number of items to skip.
	Offset int
}

// Normalize applies defaults and bounds to the options.
func (o *ListOptions) Normalize() {
	if o.Limit <= 0 {
		o.Limit = 20
	}
	if o.Limit > 100 {
		o.Limit = 100
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
}

// SourceItem is one row in a queryable source domain (document, project,
// calendar event, or reminder). Memories are stored separately as
// types.MemoryRecord.
type SourceItem struct {
	Ref       types.SourceRef   `json:"ref"`
	Title     string            `json:"title"`
	Body      string            `json:"body,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Suggestion is a title-prefix search suggestion.
type Suggestion struct {
	Text string           `json:"text"`
	Type types.SourceType `json:"type"`
	ID   string           `json:"id"`
}

// Resolution is the atomic write set produced by resolving one source item's
// candidate mentions. CommitResolution applies everything in a single
// transaction: either all mentions, aliases, and edge increments land, or
// none do.
type Resolution struct {
	// Source is the item the candidates came from.
	Source types.SourceRef

	// NewEntities are entities to create. Creation fails with
	// ErrEntityExists when another resolution won the creation race.
	NewEntities []*types.Entity

	// NewAliases maps entity id to aliases to attach.
	NewAliases map[string][]string

	// Mentions are all mentions for the item. Inserts are idempotent on
	// (entity_id, source, start offset); replays are silently skipped.
	Mentions []*types.Mention

	// EdgePairs are normalized entity id pairs that co-occurred in the item.
	// Each pair's count is incremented at most once per source item,
	// enforced by edge evidence rows.
	EdgePairs [][2]string

	// Touched lists entity ids whose last_seen should advance to Timestamp.
	Touched []string

	// Timestamp is the resolution time applied to last_seen and edges.
	Timestamp time.Time
}

// MemoryHit is one raw result from the external memory provider. RawScore is
// provider-defined; the memory adapter normalizes it to [0,1] using the
// provider's declared ScoreScheme.
type MemoryHit struct {
	ID       string
	Content  string
	RawScore float64
}

// ScoreScheme declares how a memory provider's raw scores are oriented and
// bounded, so the adapter can normalize without knowing the backend.
type ScoreScheme int

const (
	// ScoreSimilarity01 means raw scores are already similarities in [0,1].
	ScoreSimilarity01 ScoreScheme = iota

	// ScoreCosineDistance means raw scores are cosine distances in [0,2],
	// lower is better.
	ScoreCosineDistance

	// ScoreBM25Rank means raw scores are FTS5/BM25 ranks, negative values
	// with more negative meaning a stronger match.
	ScoreBM25Rank
)
