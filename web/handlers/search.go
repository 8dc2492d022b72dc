package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/scrypster/recall/internal/search"
	"github.com/scrypster/recall/internal/storage"
	"github.com/scrypster/recall/pkg/types"
)

// SearchHandler handles the unified search and suggestion endpoints.
type SearchHandler struct {
	aggregator *search.Aggregator
	sources    storage.SourceStore
}

// NewSearchHandler creates a new SearchHandler instance.
func NewSearchHandler(aggregator *search.Aggregator, sources storage.SourceStore) *SearchHandler {
	return &SearchHandler{aggregator: aggregator, sources: sources}
}

// Search handles GET /api/search — unified search across all sources.
//
// Query parameters:
//   - q       — search query (optional when entity is set)
//   - sources — comma-separated source types to search (default: all)
//   - entity  — restrict results to items mentioning the entity id
//   - from/to — RFC 3339 timestamp bounds (inclusive)
//   - limit   — merged result cap (default 20, max 100)
//
// A failed or slow source degrades the response; the per-source status map
// in the body tells the client which sources answered.
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")

	filters := types.SearchFilters{
		EntityID: r.URL.Query().Get("entity"),
		Limit:    parseInt(r.URL.Query().Get("limit"), 0),
	}

	if raw := r.URL.Query().Get("sources"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			filters.SourceTypes = append(filters.SourceTypes, types.SourceType(part))
		}
	}

	var err error
	if filters.From, err = parseTime(r.URL.Query().Get("from")); err != nil {
		respondError(w, http.StatusBadRequest, "invalid 'from' timestamp", err)
		return
	}
	if filters.To, err = parseTime(r.URL.Query().Get("to")); err != nil {
		respondError(w, http.StatusBadRequest, "invalid 'to' timestamp", err)
		return
	}

	resp, err := h.aggregator.Search(r.Context(), query, filters)
	if err != nil {
		respondDomainError(w, "search failed", err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// Suggest handles GET /api/suggestions — title-prefix suggestions for the
// search box, covering documents and projects.
func (h *SearchHandler) Suggest(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("q")
	limit := parseInt(r.URL.Query().Get("limit"), 10)

	suggestions, err := h.sources.SuggestTitles(r.Context(), prefix, limit)
	if err != nil {
		respondDomainError(w, "suggestions failed", err)
		return
	}
	if suggestions == nil {
		suggestions = []storage.Suggestion{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"suggestions": suggestions,
	})
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}
