package handlers

import (
	"database/sql"
	"net/http"

	"github.com/scrypster/recall/pkg/types"
)

// StatsHandler serves aggregate counts for the dashboard.
type StatsHandler struct {
	db *sql.DB
}

// NewStatsHandler creates a new StatsHandler instance.
func NewStatsHandler(db *sql.DB) *StatsHandler {
	return &StatsHandler{db: db}
}

// GetStats handles GET /api/stats.
func (h *StatsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats := StatsResponse{Items: make(map[types.SourceType]int)}

	counts := map[string]*int{
		"SELECT COUNT(*) FROM memories":        &stats.Memories,
		"SELECT COUNT(*) FROM entities":        &stats.Entities,
		"SELECT COUNT(*) FROM mentions":        &stats.Mentions,
		"SELECT COUNT(*) FROM knowledge_edges": &stats.Edges,
	}
	for query, dst := range counts {
		if err := h.db.QueryRowContext(r.Context(), query).Scan(dst); err != nil {
			respondError(w, http.StatusInternalServerError, "failed to load stats", err)
			return
		}
	}

	rows, err := h.db.QueryContext(r.Context(),
		"SELECT source_type, COUNT(*) FROM source_items GROUP BY source_type")
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load stats", err)
		return
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			st    string
			count int
		)
		if err := rows.Scan(&st, &count); err != nil {
			respondError(w, http.StatusInternalServerError, "failed to load stats", err)
			return
		}
		stats.Items[types.SourceType(st)] = count
	}
	if err := rows.Err(); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load stats", err)
		return
	}

	respondJSON(w, http.StatusOK, stats)
}
