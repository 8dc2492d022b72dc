package types

import "time"

// KnowledgeEdge records that two entities co-occurred in at least one source
// item. The pair is unordered: (A,B) and (B,A) are the same edge, stored with
// EntityA < EntityB lexicographically.
//
// Invariant: Count only increases. One source item contributes at most one
// increment per pair, enforced by edge evidence rows in storage.
type KnowledgeEdge struct {
	// EntityA and EntityB are the endpoints, with EntityA < EntityB.
	EntityA string `json:"entity_a"`
	EntityB string `json:"entity_b"`

	// Count is the number of distinct source items both entities appeared in.
	Count int `json:"count"`

	LastSeen time.Time `json:"last_seen"`
}

// NormalizePair returns the two entity ids in canonical (sorted) edge order.
func NormalizePair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}

// Other returns the endpoint that is not entityID. Used when rendering a
// first-degree neighborhood from one entity's perspective.
func (e *KnowledgeEdge) Other(entityID string) string {
	if e.EntityA == entityID {
		return e.EntityB
	}
	return e.EntityA
}
