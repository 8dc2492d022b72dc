package types

import (
	"errors"
	"time"
)

// ErrInvalidQuery is returned when a search request fails validation before
// any adapter is dispatched.
var ErrInvalidQuery = errors.New("invalid search query")

// SearchFilters narrows a unified search. All fields are optional.
type SearchFilters struct {
	// SourceTypes restricts the search to the listed sources.
	// Empty means all registered sources.
	SourceTypes []SourceType `json:"source_types,omitempty"`

	// EntityID restricts results to items mentioning the entity.
	EntityID string `json:"entity_id,omitempty"`

	// From and To bound the source item timestamp (inclusive).
	From time.Time `json:"from,omitempty"`
	To   time.Time `json:"to,omitempty"`

	// Limit caps the number of merged results (default 20, max 100).
	Limit int `json:"limit,omitempty"`
}

// Validate checks filter consistency. It normalizes Limit in place.
func (f *SearchFilters) Validate() error {
	for _, st := range f.SourceTypes {
		if !st.Valid() {
			return ErrInvalidQuery
		}
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		return ErrInvalidQuery
	}
	if f.Limit <= 0 {
		f.Limit = 20
	}
	if f.Limit > 100 {
		f.Limit = 100
	}
	return nil
}

// Wants reports whether the filter includes the given source type.
func (f *SearchFilters) Wants(st SourceType) bool {
	if len(f.SourceTypes) == 0 {
		return true
	}
	for _, t := range f.SourceTypes {
		if t == st {
			return true
		}
	}
	return false
}

// ScoredItem is a single query-scoped search result. It is never persisted;
// it lives only for the duration of one search call.
type ScoredItem struct {
	Source SourceType `json:"source"`

	// ID is the source item id within its own store.
	ID string `json:"id"`

	Title   string `json:"title,omitempty"`
	Snippet string `json:"snippet,omitempty"`

	// Score is the relevance score in [0,1], higher is more relevant.
	Score float64 `json:"score"`

	// EntityIDs lists matched entities, when any.
	EntityIDs []string `json:"entity_ids,omitempty"`

	// Timestamp is the source item's own timestamp, used for tie-breaking.
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// SearchResponse is the merged, ordered result of one unified search.
// Ordering is stable: identical queries against unchanged data produce
// byte-identical result order.
type SearchResponse struct {
	Query string `json:"query"`

	// Results is ordered by score desc, then source priority, then recency,
	// then id.
	Results []ScoredItem `json:"results"`

	// Sources maps each dispatched source to its health for this query.
	Sources map[SourceType]SourceStatus `json:"sources"`

	// MatchedEntities lists entities detected in the query text, if any.
	MatchedEntities []string `json:"matched_entities,omitempty"`
}

// Degraded reports whether any dispatched source failed for this query.
func (r *SearchResponse) Degraded() bool {
	for _, st := range r.Sources {
		if st != StatusOK {
			return true
		}
	}
	return false
}
