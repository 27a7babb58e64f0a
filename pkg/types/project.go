package types

import (
	"time"
	"unicode/utf8"

	"github.com/brightforge/forge3d-orchestrator/pkg/ferr"
)

// MaxProjectNameBytes is the spec-mandated cap on Project.Name.
const MaxProjectNameBytes = 256

// Project is a named container that owns zero or more Assets.
type Project struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Validate checks the CHECK-constraint-equivalent invariants on a new
// or updated Project before it reaches the store.
func (p *Project) Validate() error {
	if p.Name == "" {
		return ferr.InvalidArgument("project name must not be empty")
	}
	if utf8.RuneCountInString(p.Name) == 0 || len(p.Name) > MaxProjectNameBytes {
		return ferr.InvalidArgumentf("project name must be 1-%d bytes", MaxProjectNameBytes)
	}
	if !utf8.ValidString(p.Name) || !utf8.ValidString(p.Description) {
		return ferr.InvalidArgument("project name and description must be valid UTF-8")
	}
	return nil
}

// NewProject constructs a Project with a fresh ID and timestamps,
// validating the caller-supplied fields.
func NewProject(name, description string) (*Project, error) {
	p := &Project{
		ID:          NewID(),
		Name:        name,
		Description: description,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Touch advances UpdatedAt; the store calls this on every mutation so
// UpdatedAt stays monotone per spec section 3.
func (p *Project) Touch() {
	now := time.Now()
	if now.After(p.UpdatedAt) {
		p.UpdatedAt = now
	} else {
		p.UpdatedAt = p.UpdatedAt.Add(time.Nanosecond)
	}
}
