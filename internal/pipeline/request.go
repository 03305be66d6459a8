// Package pipeline sequences a deployment run through its stages: layout
// verification, image build, registry publish, and infrastructure
// provisioning. Every run finalizes exactly once, whatever path it takes.
package pipeline

import (
	"github.com/google/uuid"

	"github.com/alvesdmateus/deploy-engine/internal/registry"
)

// Action selects what the provisioning stage does after the image is
// published.
type Action string

// Supported actions.
const (
	ActionApply   Action = "apply"
	ActionDestroy Action = "destroy"
)

// Valid reports whether the action is one of the supported values.
func (a Action) Valid() bool {
	return a == ActionApply || a == ActionDestroy
}

// Supported cloud provider tags.
const (
	ProviderAWS   = "aws"
	ProviderGCP   = "gcp"
	ProviderAzure = "azure"
)

func validProvider(provider string) bool {
	switch provider {
	case ProviderAWS, ProviderGCP, ProviderAzure:
		return true
	}
	return false
}

// Request is the immutable input of one pipeline run. It carries references
// to credentials, never secret material.
type Request struct {
	// RunID identifies the run. The pipeline assigns one when it is zero,
	// so pre-queued runs and direct invocations share a record.
	RunID uuid.UUID `json:"run_id"`

	// AppName names the application; it becomes the image repository name.
	AppName string `json:"app_name"`
	// Version tags the image.
	Version string `json:"version"`
	// Provider tags the run and the provisioning variable set.
	Provider string `json:"provider"`
	// Action is apply or destroy.
	Action Action `json:"action"`
	// Region is the cloud region; required for ECR.
	Region string `json:"region"`
	// Registry selects the publisher variant.
	Registry registry.Kind `json:"registry"`
	// Identity is the registry-specific identity: the AWS shared-config
	// profile for ECR, the namespace for Docker Hub.
	Identity string `json:"identity,omitempty"`
	// CredentialRef names the credential to resolve at publish time.
	CredentialRef string `json:"credential_ref,omitempty"`
	// ConfirmDestroy must be set for destroy runs.
	ConfirmDestroy bool `json:"confirm_destroy,omitempty"`

	// ContextDir is the image build context.
	ContextDir string `json:"context_dir"`
	// WorkspaceDir is the provisioning workspace.
	WorkspaceDir string `json:"workspace_dir"`
}

// Validate checks the request before any side effect occurs. The first
// violated rule is returned as a *ValidationError.
func (r *Request) Validate() error {
	if r.AppName == "" {
		return &ValidationError{Field: "app_name", Reason: "is required"}
	}
	if r.Version == "" {
		return &ValidationError{Field: "version", Reason: "is required"}
	}
	if !r.Action.Valid() {
		return &ValidationError{Field: "action", Reason: "must be apply or destroy"}
	}
	if !r.Registry.Valid() {
		return &ValidationError{Field: "registry", Reason: "must be ecr or dockerhub"}
	}
	if !validProvider(r.Provider) {
		return &ValidationError{Field: "provider", Reason: "must be aws, gcp or azure"}
	}
	if r.Registry == registry.KindECR && r.Region == "" {
		return &ValidationError{Field: "region", Reason: "is required for ecr"}
	}
	if r.Registry == registry.KindDockerHub && r.CredentialRef == "" {
		return &ValidationError{Field: "credential_ref", Reason: "is required for dockerhub"}
	}
	if r.ContextDir == "" {
		return &ValidationError{Field: "context_dir", Reason: "is required"}
	}
	if r.WorkspaceDir == "" {
		return &ValidationError{Field: "workspace_dir", Reason: "is required"}
	}
	if r.Action == ActionDestroy && !r.ConfirmDestroy {
		return &ValidationError{Field: "confirm_destroy", Reason: "must be set for destroy"}
	}
	return nil
}
