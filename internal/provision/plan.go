package provision

import (
	"errors"
	"os"
	"time"
)

// ErrUnplannedApply rejects an apply whose plan was not produced by this
// engine's Plan in the same run.
var ErrUnplannedApply = errors.New("apply requires a plan produced by Plan in the same run")

// Plan is the handle to a completed `terraform plan`. An applyable Plan can
// only be obtained from Engine.Plan in the same run.
type Plan struct {
	workspace string
	planFile  string
	vars      map[string]string
	env       []string
	output    string
	createdAt time.Time
	planned   bool
}

// Workspace returns the directory the plan was computed in.
func (p *Plan) Workspace() string {
	return p.workspace
}

// File returns the path of the serialized plan artifact.
func (p *Plan) File() string {
	return p.planFile
}

// Output returns the captured `terraform plan` output.
func (p *Plan) Output() string {
	return p.output
}

// CreatedAt returns when the plan completed.
func (p *Plan) CreatedAt() time.Time {
	return p.createdAt
}

// Cleanup removes the plan artifact from the workspace. The file may not
// exist on paths where terraform never wrote it.
func (p *Plan) Cleanup() error {
	if p == nil || p.planFile == "" {
		return nil
	}
	if err := os.Remove(p.planFile); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
