package pipeline

import (
	"time"

	"github.com/google/uuid"

	"github.com/alvesdmateus/deploy-engine/internal/registry"
)

// Stage names one step of the pipeline state machine.
type Stage string

// Pipeline stages in execution order. Destroy runs take the destroy branch
// instead of plan and apply.
const (
	StageValidate     Stage = "validate"
	StageVerifyLayout Stage = "verify_layout"
	StageBuild        Stage = "build"
	StagePublish      Stage = "publish"
	StagePlan         Stage = "plan"
	StageApply        Stage = "apply"
	StageDestroy      Stage = "destroy"
	StageFinalize     Stage = "finalize"
)

// Stage statuses recorded in the audit trail.
const (
	StageStatusSucceeded = "SUCCEEDED"
	StageStatusFailed    = "FAILED"
)

// Outcome is the terminal status of a run.
type Outcome string

// Run outcomes. Warnings degrade a success, never fail it.
const (
	OutcomeSucceeded             Outcome = "SUCCEEDED"
	OutcomeSucceededWithWarnings Outcome = "SUCCEEDED_WITH_WARNINGS"
	OutcomeFailed                Outcome = "FAILED"
)

// StageResult is one audit trail entry: what ran, how it went, and the
// external tool output it captured.
type StageResult struct {
	Stage      Stage
	Status     string
	Detail     string
	Output     string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration is the stage's wall-clock time.
func (r StageResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Report is the full account of one run: outcome, per-stage audit trail,
// the published image when the publish stage succeeded, and accumulated
// warnings.
type Report struct {
	RunID    uuid.UUID
	Outcome  Outcome
	Stages   []StageResult
	Image    *registry.PublishedImage
	Warnings []string
	Err      error
	Duration time.Duration
}

// FailedStage returns the stage that failed the run, or empty on success.
func (r *Report) FailedStage() Stage {
	for _, stage := range r.Stages {
		if stage.Status == StageStatusFailed {
			return stage.Stage
		}
	}
	return ""
}
