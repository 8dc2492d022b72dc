package handlers

import (
	"database/sql"
	"encoding/json"
	"net/http"

	"github.com/scrypster/recall/internal/config"
)

// ConfigHandlers serves user-facing configuration endpoints.
type ConfigHandlers struct {
	config *config.Config
	db     *sql.DB
}

// NewConfigHandlers creates a new ConfigHandlers instance.
func NewConfigHandlers(cfg *config.Config, db *sql.DB) *ConfigHandlers {
	return &ConfigHandlers{config: cfg, db: db}
}

// UserConfigRequest is the request body for user config updates.
type UserConfigRequest struct {
	UserName string `json:"user_name"`
}

// UserConfigResponse is the response format for GET /api/config/user.
type UserConfigResponse struct {
	UserName string `json:"user_name"`
}

// GetUserConfig handles GET /api/config/user.
func (h *ConfigHandlers) GetUserConfig(w http.ResponseWriter, r *http.Request) {
	// Read fresh from the settings table so concurrent updates are visible.
	userName := h.config.User.UserName
	if h.db != nil {
		var dbUserName string
		err := h.db.QueryRowContext(r.Context(),
			"SELECT value FROM settings WHERE key = ?", "user_name").Scan(&dbUserName)
		if err == nil {
			userName = dbUserName
		}
	}

	respondJSON(w, http.StatusOK, UserConfigResponse{UserName: userName})
}

// PostUserConfig handles POST /api/config/user.
func (h *ConfigHandlers) PostUserConfig(w http.ResponseWriter, r *http.Request) {
	var req UserConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse request body", err)
		return
	}

	h.config.User.UserName = req.UserName

	if h.db != nil {
		if err := h.config.SaveConfig(h.db); err != nil {
			respondError(w, http.StatusInternalServerError, "failed to save config", err)
			return
		}
	}

	respondJSON(w, http.StatusOK, UserConfigResponse{UserName: h.config.User.UserName})
}
