package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// handleDeleteAsset removes the asset's file before its row, per
// spec.md section 4.1's cascade ordering (file removal first, to
// avoid an orphaned file if the row delete were to fail first).
func (s *Server) handleDeleteAsset(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	asset, err := s.store.GetAsset(id)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.assets.Delete(asset.FilePath); err != nil {
		writeError(w, err)
		return
	}
	if err := s.store.DeleteAsset(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}
