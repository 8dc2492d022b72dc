package handlers

import (
	"encoding/json"
	"net/http"
	"os"

	"github.com/scrypster/recall/internal/importer"
)

// ImportHandlers serves the Markdown import endpoint.
type ImportHandlers struct {
	importer *importer.Importer
}

// NewImportHandlers creates a new ImportHandlers instance.
func NewImportHandlers(imp *importer.Importer) *ImportHandlers {
	return &ImportHandlers{importer: imp}
}

// ImportRequest is the request body for POST /api/import/markdown.
type ImportRequest struct {
	Path string `json:"path"`
}

// ImportMarkdown handles POST /api/import/markdown - import a directory of
// Markdown files. The path must exist on the server's filesystem.
func (h *ImportHandlers) ImportMarkdown(w http.ResponseWriter, r *http.Request) {
	var req ImportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse request body", err)
		return
	}
	if req.Path == "" {
		respondError(w, http.StatusBadRequest, "path is required", nil)
		return
	}

	info, err := os.Stat(req.Path)
	if err != nil || !info.IsDir() {
		respondError(w, http.StatusBadRequest, "path is not a directory", err)
		return
	}

	summary, err := h.importer.ImportDir(r.Context(), req.Path)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "import failed", err)
		return
	}

	respondJSON(w, http.StatusOK, summary)
}
