package api

import (
	"encoding/json"
	"net/http"

	"github.com/brightforge/forge3d-orchestrator/pkg/ferr"
	"github.com/brightforge/forge3d-orchestrator/pkg/types"
	"github.com/go-chi/chi/v5"
)

type createProjectBody struct {
	Name        string `json:"name" validate:"required,max=256"`
	Description string `json:"description"`
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.store.ListProjects()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, projects)
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var body createProjectBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, bodyReadError(err, "request body is not valid JSON"))
		return
	}
	if err := s.validate.Struct(body); err != nil {
		writeError(w, ferr.InvalidArgument(err.Error()))
		return
	}

	project, err := types.NewProject(body.Name, body.Description)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.store.CreateProject(project); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, project)
}

type projectDetail struct {
	*types.Project
	Assets []*types.Asset `json:"assets"`
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	project, err := s.store.GetProject(id)
	if err != nil {
		writeError(w, err)
		return
	}
	assets, err := s.store.ListAssets(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, projectDetail{Project: project, Assets: assets})
}

// handleDeleteProject cascades the delete to every owned asset's file
// before the project row is removed, per spec.md section 4.1's
// "file removal handled by C2 callback before row delete" ordering.
func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	assets, err := s.store.ListAssets(id)
	if err != nil {
		writeError(w, err)
		return
	}
	for _, a := range assets {
		if err := s.assets.Delete(a.FilePath); err != nil {
			writeError(w, err)
			return
		}
	}

	if err := s.store.DeleteProject(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}

func (s *Server) handleListProjectAssets(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	assets, err := s.store.ListAssets(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, assets)
}
