package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/brightforge/forge3d-orchestrator/pkg/ferr"
	"github.com/brightforge/forge3d-orchestrator/pkg/types"
)

// generateBody is the JSON-path request shape for POST /generate
// (spec.md section 6). Raw `image/*` bodies take the mesh path instead
// and never decode through this struct.
type generateBody struct {
	Type      string         `json:"type" validate:"required,oneof=mesh image full"`
	Prompt    string         `json:"prompt"`
	ProjectID string         `json:"projectId"`
	Options   map[string]any `json:"options"`
}

// handleGenerate enqueues a generation request. A JSON body describes
// an image/full request; a raw image/* body is the mesh path's
// uploaded source image, with type fixed to "mesh".
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	ct := r.Header.Get("Content-Type")

	var req types.GenerateRequest
	if isImageContentType(ct) {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, bodyReadError(err, "could not read request body"))
			return
		}
		req = types.GenerateRequest{Kind: types.KindMesh, ImageData: data}
	} else {
		var body generateBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, bodyReadError(err, "request body is not valid JSON"))
			return
		}
		if err := s.validate.Struct(body); err != nil {
			writeError(w, ferr.InvalidArgument(err.Error()))
			return
		}
		req = types.GenerateRequest{
			Kind:      types.Kind(body.Type),
			Prompt:    body.Prompt,
			ProjectID: body.ProjectID,
			Options:   body.Options,
		}
	}

	entry, err := s.scheduler.Enqueue(req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, entry)
}
