package api

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mlindqvist/cryovault/internal/checksum"
	"github.com/mlindqvist/cryovault/internal/store"
)

// BackupHandler serves backup snapshot files for download.
type BackupHandler struct {
	store *store.Store
}

// NewBackupHandler creates a handler rooted at the store's backup dir.
func NewBackupHandler(st *store.Store) *BackupHandler {
	return &BackupHandler{store: st}
}

// safeName validates that the name is a plain filename (no path
// separators, no traversal) and returns the absolute path under the
// backup directory.
func (h *BackupHandler) safeName(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("backup name is required")
	}
	cleaned := filepath.Clean(name)
	if cleaned != filepath.Base(cleaned) || strings.Contains(cleaned, "..") {
		return "", fmt.Errorf("invalid backup name: %s", name)
	}
	dir := h.store.BackupDir()
	abs := filepath.Join(dir, cleaned)
	if !strings.HasPrefix(abs, dir+string(os.PathSeparator)) {
		return "", fmt.Errorf("path escapes backup directory")
	}
	return abs, nil
}

// Download handles GET /api/backups/{name}.
//
//	@Summary		Download one backup snapshot
//	@Tags			backups
//	@Produce		application/yaml
//	@Param			name	path	string	true	"Backup filename"
//	@Success		200		{file}	file
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/backups/{name} [get]
func (h *BackupHandler) Download(w http.ResponseWriter, r *http.Request) {
	abs, err := h.safeName(chi.URLParam(r, "name"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorBody("backup not found"))
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.Header().Set("ETag", `"`+checksum.Sum(data)+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
