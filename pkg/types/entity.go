package types

import (
	"fmt"
	"hash/fnv"
	"strings"
	"time"
)

// EntityKind is the closed set of entity categories the resolver understands.
// Anything the extraction provider reports outside this set maps to KindOther;
// the kind field is never an open-ended string.
type EntityKind string

const (
	KindPerson       EntityKind = "person"
	KindOrganization EntityKind = "organization"
	KindLocation     EntityKind = "location"
	KindProject      EntityKind = "project"
	KindOther        EntityKind = "other"
)

// ParseEntityKind maps a provider-reported kind string to an EntityKind.
// Unknown or empty values map to KindOther.
func ParseEntityKind(s string) EntityKind {
	switch EntityKind(strings.ToLower(strings.TrimSpace(s))) {
	case KindPerson:
		return KindPerson
	case KindOrganization:
		return KindOrganization
	case KindLocation:
		return KindLocation
	case KindProject:
		return KindProject
	default:
		return KindOther
	}
}

// Entity is a resolved named entity in the knowledge graph.
//
// Invariant: (Name, Kind) is unique across all entities, and no alias of one
// entity collides with the canonical name of another entity of the same kind.
// Both are enforced by storage uniqueness constraints, not by convention.
type Entity struct {
	// ID is the stable identifier (format: ent:kind:slug).
	ID string `json:"id"`

	// Name is the canonical (normalized) name.
	Name string `json:"name"`

	// Kind classifies the entity.
	Kind EntityKind `json:"kind"`

	// Aliases are alternative surface forms seen for this entity,
	// including the original un-normalized surface text.
	Aliases []string `json:"aliases,omitempty"`

	// MentionCount is the number of stored mentions referencing this entity.
	MentionCount int `json:"mention_count,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	LastSeen  time.Time `json:"last_seen"`
}

// EntityID builds the stable id for a canonical name and kind.
// Slugs are lowercase with spaces collapsed to hyphens. Names whose slug
// would be ambiguous (they already contain hyphens, or whitespace beyond
// single spaces) carry a short hash suffix so distinct canonical names
// never share an id.
func EntityID(name string, kind EntityKind) string {
	lower := strings.ToLower(strings.TrimSpace(name))
	fields := strings.Fields(lower)
	slug := strings.Join(fields, "-")
	if strings.ContainsRune(lower, '-') || lower != strings.Join(fields, " ") {
		h := fnv.New32a()
		h.Write([]byte(lower))
		slug = fmt.Sprintf("%s-%08x", slug, h.Sum32())
	}
	return fmt.Sprintf("ent:%s:%s", kind, slug)
}

// CandidateMention is a raw extraction result: a span of text the extraction
// provider believes names an entity. Candidates carry no identity; the
// resolver turns them into Mentions.
type CandidateMention struct {
	// Surface is the raw surface text as it appeared in the source.
	Surface string `json:"surface"`

	// Kind is the provider's kind guess (already mapped to the closed set).
	Kind EntityKind `json:"kind"`

	// Start and End are byte offsets of the surface text within the
	// source content. End is exclusive.
	Start int `json:"start"`
	End   int `json:"end"`

	// Snippet is surrounding context captured by the extractor, since the
	// resolver never sees the full source text.
	Snippet string `json:"snippet,omitempty"`

	// Confidence is the provider's confidence in [0,1]. Informational only.
	Confidence float64 `json:"confidence,omitempty"`
}

// Mention links an entity to one occurrence in a source item.
//
// Identity is (EntityID, Source, Start): re-processing the same source item
// is idempotent and never creates a duplicate mention.
type Mention struct {
	ID string `json:"id"`

	// EntityID references exactly one entity.
	EntityID string `json:"entity_id"`

	// Source identifies the item the mention occurred in.
	Source SourceRef `json:"source"`

	// Surface is the raw text that matched.
	Surface string `json:"surface"`

	// Start and End are byte offsets within the source content.
	Start int `json:"start"`
	End   int `json:"end"`

	// Snippet is surrounding context for display.
	Snippet string `json:"snippet,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
