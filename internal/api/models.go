package api

import (
	"github.com/google/uuid"

	"github.com/alvesdmateus/deploy-engine/internal/pipeline"
	"github.com/alvesdmateus/deploy-engine/internal/registry"
	"github.com/alvesdmateus/deploy-engine/pkg/models"
)

// SubmitRunRequest represents a request to submit a deployment run
type SubmitRunRequest struct {
	AppName        string `json:"app_name"`
	Version        string `json:"version"`
	Provider       string `json:"provider"`
	Action         string `json:"action"`
	Region         string `json:"region,omitempty"`
	Registry       string `json:"registry"`
	Identity       string `json:"identity,omitempty"`
	CredentialRef  string `json:"credential_ref,omitempty"`
	ConfirmDestroy bool   `json:"confirm_destroy,omitempty"`
	ContextDir     string `json:"context_dir"`
	WorkspaceDir   string `json:"workspace_dir"`
}

// ToRequest converts the body into a pipeline request
func (r *SubmitRunRequest) ToRequest() *pipeline.Request {
	return &pipeline.Request{
		AppName:        r.AppName,
		Version:        r.Version,
		Provider:       r.Provider,
		Action:         pipeline.Action(r.Action),
		Region:         r.Region,
		Registry:       registry.Kind(r.Registry),
		Identity:       r.Identity,
		CredentialRef:  r.CredentialRef,
		ConfirmDestroy: r.ConfirmDestroy,
		ContextDir:     r.ContextDir,
		WorkspaceDir:   r.WorkspaceDir,
	}
}

// SubmitRunResponse confirms an accepted run
type SubmitRunResponse struct {
	RunID  uuid.UUID `json:"run_id"`
	Status string    `json:"status"`
}

// ListRunsResponse represents a paginated list of runs
type ListRunsResponse struct {
	Runs   []models.Run `json:"runs"`
	Total  int          `json:"total"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Queue    string `json:"queue"`
	Version  string `json:"version"`
}
