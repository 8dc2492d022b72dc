package handlers

import (
	"net/http"
	"strings"

	"github.com/scrypster/recall/internal/storage"
	"github.com/scrypster/recall/pkg/types"
)

// EntityHandler handles the knowledge graph API endpoints.
type EntityHandler struct {
	graph storage.GraphStore
}

// NewEntityHandler creates a new EntityHandler instance.
func NewEntityHandler(graph storage.GraphStore) *EntityHandler {
	return &EntityHandler{graph: graph}
}

// ListEntities handles GET /api/entities — entities ordered by mention
// count descending.
//
// Query parameters:
//   - kind   — filter by entity kind (person, organization, ...)
//   - limit  — page size (default 20, max 100)
//   - offset — page offset
func (h *EntityHandler) ListEntities(w http.ResponseWriter, r *http.Request) {
	var kind types.EntityKind
	if raw := r.URL.Query().Get("kind"); raw != "" {
		kind = types.ParseEntityKind(raw)
	}

	entities, err := h.graph.ListEntities(r.Context(), kind, storage.ListOptions{
		Limit:  parseInt(r.URL.Query().Get("limit"), 20),
		Offset: parseInt(r.URL.Query().Get("offset"), 0),
	})
	if err != nil {
		respondDomainError(w, "failed to list entities", err)
		return
	}
	if entities == nil {
		entities = []*types.Entity{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"entities": entities,
	})
}

// GetEntity handles GET /api/entities/{id} — the entity with its mentions
// and first-degree neighbors. The path value is tried as an id first and as
// a name or alias second, so /api/entities/Clare%20Johnson works too.
func (h *EntityHandler) GetEntity(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSpace(r.PathValue("id"))
	if key == "" {
		respondError(w, http.StatusBadRequest, "entity id is required", nil)
		return
	}

	entity, err := h.graph.GetEntity(r.Context(), key)
	if err != nil {
		entity, err = h.graph.GetEntityByName(r.Context(), key)
	}
	if err != nil {
		respondDomainError(w, "entity not found", err)
		return
	}

	mentions, err := h.graph.GetMentions(r.Context(), entity.ID)
	if err != nil {
		respondDomainError(w, "failed to load mentions", err)
		return
	}
	neighbors, err := h.graph.GetNeighbors(r.Context(), entity.ID)
	if err != nil {
		respondDomainError(w, "failed to load neighbors", err)
		return
	}

	respondJSON(w, http.StatusOK, EntityResponse{
		Entity:    entity,
		Mentions:  mentions,
		Neighbors: neighbors,
	})
}

// DeleteEntity handles DELETE /api/entities/{id} — removes the entity;
// aliases, mentions, and edges cascade with it.
func (h *EntityHandler) DeleteEntity(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "entity id is required", nil)
		return
	}

	if err := h.graph.DeleteEntity(r.Context(), id); err != nil {
		respondDomainError(w, "failed to delete entity", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
