package types

import "time"

// MemoryRecord is one free-form memory belonging to a user.
//
// The embedding itself is owned by the external memory provider and is
// referenced only by EmbeddingID; the core engine never computes vector
// similarity itself.
type MemoryRecord struct {
	ID string `json:"id"`

	// UserID is the owning user.
	UserID string `json:"user_id"`

	// Content is the opaque memory payload.
	Content string `json:"content"`

	// EntityIDs is the denormalized list of entities resolved from Content
	// at write time.
	EntityIDs []string `json:"entity_ids,omitempty"`

	// EmbeddingID is the provider-side reference for the stored embedding.
	// Empty when the provider was unavailable at write time.
	EmbeddingID string `json:"embedding_id,omitempty"`

	// Metadata carries caller-supplied key/value context.
	Metadata map[string]string `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
