// Package models holds the wire representations of deployment runs served
// by the API and printed by the CLI.
package models

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alvesdmateus/deploy-engine/internal/state"
)

// Run is the public view of a deployment run.
type Run struct {
	ID           uuid.UUID  `json:"id"`
	AppName      string     `json:"app_name"`
	Version      string     `json:"version"`
	Action       string     `json:"action"`
	Provider     string     `json:"provider,omitempty"`
	Region       string     `json:"region,omitempty"`
	Registry     string     `json:"registry,omitempty"`
	Workspace    string     `json:"workspace,omitempty"`
	Status       string     `json:"status"`
	FailedStage  string     `json:"failed_stage,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	Warnings     []string   `json:"warnings,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	Stages       []Stage    `json:"stages,omitempty"`
	Image        *Image     `json:"image,omitempty"`
}

// Stage is one audit trail entry of a run.
type Stage struct {
	Stage      string    `json:"stage"`
	Status     string    `json:"status"`
	Detail     string    `json:"detail,omitempty"`
	Output     string    `json:"output,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	DurationMS int64     `json:"duration_ms"`
}

// Image is the durable record of a published image.
type Image struct {
	RunID     uuid.UUID `json:"run_id"`
	AppName   string    `json:"app_name"`
	Version   string    `json:"version"`
	Registry  string    `json:"registry"`
	ImageURI  string    `json:"image_uri"`
	AccountID string    `json:"account_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NewRun converts a stored run into its public form.
func NewRun(run *state.Run) Run {
	out := Run{
		ID:           run.ID,
		AppName:      run.AppName,
		Version:      run.Version,
		Action:       run.Action,
		Provider:     run.Provider,
		Region:       run.Region,
		Registry:     run.Registry,
		Workspace:    run.Workspace,
		Status:       run.Status,
		FailedStage:  run.FailedStage,
		ErrorMessage: run.ErrorMessage,
		CreatedAt:    run.CreatedAt,
		StartedAt:    run.StartedAt,
		FinishedAt:   run.FinishedAt,
	}

	if run.Warnings != "" {
		out.Warnings = strings.Split(run.Warnings, "\n")
	}

	for _, record := range run.Stages {
		out.Stages = append(out.Stages, NewStage(&record))
	}

	if run.Image != nil {
		image := NewImage(run.Image)
		out.Image = &image
	}

	return out
}

// NewRuns converts a list of stored runs.
func NewRuns(runs []state.Run) []Run {
	out := make([]Run, len(runs))
	for i := range runs {
		out[i] = NewRun(&runs[i])
	}
	return out
}

// NewStage converts a stored stage record.
func NewStage(record *state.StageRecord) Stage {
	return Stage{
		Stage:      record.Stage,
		Status:     record.Status,
		Detail:     record.Detail,
		Output:     record.Output,
		StartedAt:  record.StartedAt,
		FinishedAt: record.FinishedAt,
		DurationMS: record.FinishedAt.Sub(record.StartedAt).Milliseconds(),
	}
}

// NewImage converts a stored image record.
func NewImage(record *state.ImageRecord) Image {
	return Image{
		RunID:     record.RunID,
		AppName:   record.AppName,
		Version:   record.Version,
		Registry:  record.Registry,
		ImageURI:  record.ImageURI,
		AccountID: record.AccountID,
		CreatedAt: record.CreatedAt,
	}
}
