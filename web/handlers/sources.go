package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/scrypster/recall/internal/ingest"
	"github.com/scrypster/recall/internal/storage"
	"github.com/scrypster/recall/pkg/types"
)

// SourceHandlers handles CRUD for the non-memory source domains. Writes go
// through the ingestion pipeline so documents, projects, events, and
// reminders are linked into the knowledge graph as they land.
type SourceHandlers struct {
	sources  storage.SourceStore
	ingestor *ingest.Service
}

// NewSourceHandlers creates a new SourceHandlers instance.
func NewSourceHandlers(sources storage.SourceStore, ingestor *ingest.Service) *SourceHandlers {
	return &SourceHandlers{sources: sources, ingestor: ingestor}
}

// sourceType validates the {type} path value. Memories have their own
// endpoints; everything else routes here.
func sourceType(r *http.Request) (types.SourceType, bool) {
	st := types.SourceType(r.PathValue("type"))
	return st, st.Valid() && st != types.SourceMemory
}

// ListItems handles GET /api/sources/{type}.
func (h *SourceHandlers) ListItems(w http.ResponseWriter, r *http.Request) {
	st, ok := sourceType(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "unknown source type", nil)
		return
	}

	items, err := h.sources.ListItems(r.Context(), st, storage.ListOptions{
		Limit:  parseInt(r.URL.Query().Get("limit"), 20),
		Offset: parseInt(r.URL.Query().Get("offset"), 0),
	})
	if err != nil {
		respondDomainError(w, "failed to list items", err)
		return
	}
	if items == nil {
		items = []*storage.SourceItem{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"items": items,
	})
}

// CreateItem handles POST /api/sources/{type} — upserts the item and runs
// the ingestion pipeline. Omitting the id creates a new item.
func (h *SourceHandlers) CreateItem(w http.ResponseWriter, r *http.Request) {
	st, ok := sourceType(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "unknown source type", nil)
		return
	}

	var req PutItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		respondError(w, http.StatusBadRequest, "title is required", nil)
		return
	}

	item := &storage.SourceItem{
		Ref:      types.SourceRef{Type: st, ID: req.ID},
		Title:    req.Title,
		Body:     req.Body,
		Metadata: req.Metadata,
	}
	if item.Ref.ID == "" {
		item.Ref.ID = uuid.NewString()
	}
	if req.Timestamp != "" {
		ts, err := time.Parse(time.RFC3339, req.Timestamp)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid timestamp", err)
			return
		}
		item.Timestamp = ts
	}

	res, err := h.ingestor.IngestItem(r.Context(), item)
	if err != nil {
		respondDomainError(w, "failed to store item", err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"item":       item,
		"entity_ids": res.EntityIDs,
		"degraded":   res.Degraded,
	})
}

// GetItem handles GET /api/sources/{type}/{id}.
func (h *SourceHandlers) GetItem(w http.ResponseWriter, r *http.Request) {
	st, ok := sourceType(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "unknown source type", nil)
		return
	}

	item, err := h.sources.GetItem(r.Context(), types.SourceRef{Type: st, ID: r.PathValue("id")})
	if err != nil {
		respondDomainError(w, "item not found", err)
		return
	}
	respondJSON(w, http.StatusOK, item)
}

// DeleteItem handles DELETE /api/sources/{type}/{id}.
func (h *SourceHandlers) DeleteItem(w http.ResponseWriter, r *http.Request) {
	st, ok := sourceType(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "unknown source type", nil)
		return
	}

	ref := types.SourceRef{Type: st, ID: r.PathValue("id")}
	if err := h.ingestor.DeleteItem(r.Context(), ref); err != nil {
		respondDomainError(w, "failed to delete item", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
