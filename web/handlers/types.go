// Package handlers provides HTTP handlers and middleware for the Recall
// Web API.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/scrypster/recall/internal/memory"
	"github.com/scrypster/recall/internal/search"
	"github.com/scrypster/recall/internal/storage"
	"github.com/scrypster/recall/pkg/types"
)

// ErrorResponse is the standard error response format for the API.
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Code    string                 `json:"code"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// StatsResponse is the response format for GET /api/stats.
type StatsResponse struct {
	Memories int                      `json:"memories"`
	Entities int                      `json:"entities"`
	Mentions int                      `json:"mentions"`
	Edges    int                      `json:"edges"`
	Items    map[types.SourceType]int `json:"items"`
}

// EntityResponse is the detail view for GET /api/entities/{id}: the entity
// plus its mentions and first-degree neighbors.
type EntityResponse struct {
	Entity    *types.Entity          `json:"entity"`
	Mentions  []*types.Mention       `json:"mentions"`
	Neighbors []*types.KnowledgeEdge `json:"neighbors"`
}

// CreateMemoryRequest is the request body for POST /api/memories.
type CreateMemoryRequest struct {
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// CreateMemoryResponse returns the stored record plus what resolution found.
type CreateMemoryResponse struct {
	Memory    *types.MemoryRecord `json:"memory"`
	EntityIDs []string            `json:"entity_ids,omitempty"`
	Degraded  bool                `json:"degraded,omitempty"`
}

// PutItemRequest is the request body for POST /api/sources/{type}.
type PutItemRequest struct {
	ID        string            `json:"id,omitempty"`
	Title     string            `json:"title"`
	Body      string            `json:"body,omitempty"`
	Timestamp string            `json:"timestamp,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

func parseInt(s string, defaultValue int) int {
	if s == "" {
		return defaultValue
	}
	val, err := strconv.Atoi(s)
	if err != nil {
		return defaultValue
	}
	return val
}

func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers already sent; log and move on.
		fmt.Printf("failed to encode JSON response: %v\n", err)
	}
}

func respondError(w http.ResponseWriter, statusCode int, message string, err error) {
	errResp := ErrorResponse{
		Error: message,
		Code:  http.StatusText(statusCode),
	}
	if err != nil {
		errResp.Details = map[string]interface{}{
			"error": err.Error(),
		}
	}
	respondJSON(w, statusCode, errResp)
}

// respondDomainError maps domain sentinel errors onto HTTP statuses.
func respondDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		respondError(w, http.StatusNotFound, message, err)
	case errors.Is(err, storage.ErrInvalidInput), errors.Is(err, types.ErrInvalidQuery):
		respondError(w, http.StatusBadRequest, message, err)
	case errors.Is(err, search.ErrSearchFailed), errors.Is(err, memory.ErrMemoryUnavailable):
		respondError(w, http.StatusServiceUnavailable, message, err)
	default:
		respondError(w, http.StatusInternalServerError, message, err)
	}
}
