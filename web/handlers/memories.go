package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/scrypster/recall/internal/ingest"
	"github.com/scrypster/recall/internal/memory"
	"github.com/scrypster/recall/internal/storage"
)

// MemoryHandlers handles the memory CRUD endpoints.
type MemoryHandlers struct {
	memories *memory.Adapter
	ingestor *ingest.Service
}

// NewMemoryHandlers creates a new MemoryHandlers instance.
func NewMemoryHandlers(memories *memory.Adapter, ingestor *ingest.Service) *MemoryHandlers {
	return &MemoryHandlers{memories: memories, ingestor: ingestor}
}

// ListMemories handles GET /api/memories.
func (h *MemoryHandlers) ListMemories(w http.ResponseWriter, r *http.Request) {
	page, err := h.memories.List(r.Context(), storage.ListOptions{
		Limit:  parseInt(r.URL.Query().Get("limit"), 20),
		Offset: parseInt(r.URL.Query().Get("offset"), 0),
	})
	if err != nil {
		respondDomainError(w, "failed to list memories", err)
		return
	}
	respondJSON(w, http.StatusOK, page)
}

// CreateMemory handles POST /api/memories — stores the memory and runs it
// through the ingestion pipeline so it is linked into the knowledge graph.
func (h *MemoryHandlers) CreateMemory(w http.ResponseWriter, r *http.Request) {
	var req CreateMemoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		respondError(w, http.StatusBadRequest, "content is required", nil)
		return
	}

	rec, res, err := h.ingestor.IngestMemory(r.Context(), req.Content, req.Metadata)
	if err != nil {
		respondDomainError(w, "failed to store memory", err)
		return
	}
	respondJSON(w, http.StatusCreated, CreateMemoryResponse{
		Memory:    rec,
		EntityIDs: res.EntityIDs,
		Degraded:  res.Degraded,
	})
}

// GetMemory handles GET /api/memories/{id}.
func (h *MemoryHandlers) GetMemory(w http.ResponseWriter, r *http.Request) {
	rec, err := h.memories.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		respondDomainError(w, "memory not found", err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

// DeleteMemory handles DELETE /api/memories/{id}.
func (h *MemoryHandlers) DeleteMemory(w http.ResponseWriter, r *http.Request) {
	if err := h.memories.Delete(r.Context(), r.PathValue("id")); err != nil {
		respondDomainError(w, "failed to delete memory", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
