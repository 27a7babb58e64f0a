package session

// Stage is a Session's position in its own finite-state machine — a
// different, finer-grained state space than types.Status's
// queued/processing/complete/failed, since a Session additionally
// distinguishes which generation stage is in flight (spec section 4.4).
type Stage string

const (
	StageIdle            Stage = "idle"
	StageGeneratingImage Stage = "generating_image"
	StageGeneratingMesh  Stage = "generating_mesh"
	StageComplete        Stage = "complete"
	StageFailed          Stage = "failed"
)

// Terminal reports whether stage is one a Session never leaves.
func (s Stage) Terminal() bool {
	return s == StageComplete || s == StageFailed
}

// CanTransitionTo enforces the table in spec section 4.4:
//
//	idle              -> generating_image | generating_mesh
//	generating_image  -> generating_mesh | complete | failed
//	generating_mesh   -> complete | failed
//
// No transition out of a terminal stage is legal; a Session is
// write-once per run.
func (s Stage) CanTransitionTo(next Stage) bool {
	switch s {
	case StageIdle:
		return next == StageGeneratingImage || next == StageGeneratingMesh
	case StageGeneratingImage:
		return next == StageGeneratingMesh || next == StageComplete || next == StageFailed
	case StageGeneratingMesh:
		return next == StageComplete || next == StageFailed
	default:
		return false
	}
}
