package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alvesdmateus/deploy-engine/internal/state"
)

// Recorder persists the run lifecycle: the transition to running when the
// pipeline begins and the terminal record with its audit trail when it
// finalizes.
type Recorder interface {
	RunStarted(ctx context.Context, req *Request) error
	RunFinished(ctx context.Context, req *Request, report *Report) error
}

// NopRecorder discards everything. Wired where no record store exists.
type NopRecorder struct{}

// RunStarted implements Recorder.
func (NopRecorder) RunStarted(context.Context, *Request) error { return nil }

// RunFinished implements Recorder.
func (NopRecorder) RunFinished(context.Context, *Request, *Report) error { return nil }

// StateRecorder persists runs through the state repository.
type StateRecorder struct {
	repo *state.Repository
}

// NewStateRecorder creates a recorder backed by the given repository.
func NewStateRecorder(repo *state.Repository) *StateRecorder {
	return &StateRecorder{repo: repo}
}

// RunStarted marks a queued run as running, or creates the record when the
// run was invoked directly and never queued.
func (r *StateRecorder) RunStarted(ctx context.Context, req *Request) error {
	exists, err := r.repo.RunExists(ctx, req.RunID)
	if err != nil {
		return err
	}
	if exists {
		return r.repo.MarkRunStarted(ctx, req.RunID)
	}

	now := time.Now()
	run := runFromRequest(req)
	run.Status = state.RunStatusRunning
	run.StartedAt = &now
	return r.repo.CreateRun(ctx, run)
}

// RunFinished writes the terminal status, the stage audit trail, and the
// image record when one was published.
func (r *StateRecorder) RunFinished(ctx context.Context, req *Request, report *Report) error {
	exists, err := r.repo.RunExists(ctx, req.RunID)
	if err != nil {
		return err
	}

	status := string(report.Outcome)
	failedStage := string(report.FailedStage())
	warnings := strings.Join(report.Warnings, "\n")
	errorMessage := runErrorMessage(report.Err)

	if exists {
		err = r.repo.MarkRunFinished(ctx, req.RunID, status, failedStage, errorMessage, warnings)
	} else {
		// Requests rejected by validation never reached RunStarted; the
		// rejection still gets a record so it is auditable.
		now := time.Now()
		run := runFromRequest(req)
		run.Status = status
		run.FailedStage = failedStage
		run.ErrorMessage = errorMessage
		run.Warnings = warnings
		run.FinishedAt = &now
		err = r.repo.CreateRun(ctx, run)
	}
	if err != nil {
		return err
	}

	records := make([]state.StageRecord, 0, len(report.Stages))
	for _, stage := range report.Stages {
		records = append(records, state.StageRecord{
			RunID:      req.RunID,
			Stage:      string(stage.Stage),
			Status:     stage.Status,
			Detail:     stage.Detail,
			Output:     stage.Output,
			StartedAt:  stage.StartedAt,
			FinishedAt: stage.FinishedAt,
		})
	}
	if err := r.repo.CreateStageRecords(ctx, records); err != nil {
		return err
	}

	if report.Image != nil {
		record := &state.ImageRecord{
			RunID:     req.RunID,
			AppName:   req.AppName,
			Version:   req.Version,
			Registry:  string(req.Registry),
			ImageURI:  report.Image.URI,
			AccountID: report.Image.AccountID,
		}
		if err := r.repo.CreateImageRecord(ctx, record); err != nil {
			return err
		}
	}
	return nil
}

// runFromRequest maps request fields onto a run row.
func runFromRequest(req *Request) *state.Run {
	return &state.Run{
		ID:        req.RunID,
		AppName:   req.AppName,
		Version:   req.Version,
		Action:    string(req.Action),
		Provider:  req.Provider,
		Region:    req.Region,
		Registry:  string(req.Registry),
		Workspace: req.WorkspaceDir,
	}
}

// runErrorMessage renders the run's error for the record without duplicating
// the captured tool output, which lives in the stage records.
func runErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var deployment *DeploymentError
	if errors.As(err, &deployment) {
		return fmt.Sprintf("stage %s: %v", deployment.Stage, deployment.Err)
	}
	return err.Error()
}
