// Package types contains the shared domain types for Recall.
//
// Types here are used across the storage, graph, and search layers and are
// safe for JSON serialization in the web API.
package types

import "fmt"

// SourceType identifies the domain a searchable item belongs to.
type SourceType string

const (
	SourceMemory   SourceType = "memory"
	SourceDocument SourceType = "document"
	SourceProject  SourceType = "project"
	SourceEvent    SourceType = "event"
	SourceReminder SourceType = "reminder"
)

// AllSourceTypes lists every source type in merge-priority order
// (highest priority first). The aggregator uses this order to break
// score ties deterministically.
var AllSourceTypes = []SourceType{
	SourceMemory,
	SourceDocument,
	SourceProject,
	SourceEvent,
	SourceReminder,
}

// Priority returns the tie-break rank of the source type (lower is better).
// Unknown types sort last.
func (s SourceType) Priority() int {
	for i, t := range AllSourceTypes {
		if t == s {
			return i
		}
	}
	return len(AllSourceTypes)
}

// Valid reports whether s is a known source type.
func (s SourceType) Valid() bool {
	return s.Priority() < len(AllSourceTypes)
}

// SourceStatus describes the health of one source within a search response.
type SourceStatus string

const (
	// StatusOK means the source returned a complete result set.
	StatusOK SourceStatus = "ok"

	// StatusDegraded means the source answered with an error; the rest of
	// the response is complete. Callers should render a partial-result banner.
	StatusDegraded SourceStatus = "degraded"

	// StatusUnavailable means the source never answered: it timed out or
	// its backend is down.
	StatusUnavailable SourceStatus = "unavailable"
)

// SourceRef identifies one concrete source item (a document, a memory, an
// event, ...). It is the idempotency key for entity resolution: re-resolving
// the same SourceRef must not duplicate mentions or edge counts.
type SourceRef struct {
	Type SourceType `json:"type"`
	ID   string     `json:"id"`
}

// String returns the canonical "type:id" form used in logs and mention keys.
func (r SourceRef) String() string {
	return fmt.Sprintf("%s:%s", r.Type, r.ID)
}
