package api

import (
	"encoding/json"
	"net/http"

	"github.com/brightforge/forge3d-orchestrator/pkg/ferr"
	"github.com/brightforge/forge3d-orchestrator/pkg/log"
	"github.com/brightforge/forge3d-orchestrator/pkg/types"
)

// errorBody is spec.md section 6's uniform error response shape.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	ErrorID string `json:"errorId,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err to the HTTP status its ferr.Kind implies
// (spec.md section 7) and logs unexpected (fatal-class) failures with
// a correlation id that is also returned to the caller.
func writeError(w http.ResponseWriter, err error) {
	kind := ferr.KindOf(err)
	status := ferr.HTTPStatus(kind)

	body := errorBody{Error: string(kind), Message: err.Error()}
	if kind == ferr.KindFatal {
		body.ErrorID = types.NewID()
		log.Logger.Error().Err(err).Str("error_id", body.ErrorID).Msg("unexpected API handler failure")
	}
	writeJSON(w, status, body)
}
