// Package registry publishes built images to container registries. Publishers
// share one contract: push the versioned tag or fail, push the latest tag or
// warn, and report the canonical image reference the infrastructure templates
// will consume.
package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/docker/docker/client"
	"github.com/rs/zerolog"

	"github.com/alvesdmateus/deploy-engine/internal/builder"
	"github.com/alvesdmateus/deploy-engine/internal/credentials"
)

// Kind identifies a registry family.
type Kind string

const (
	// KindECR is AWS Elastic Container Registry.
	KindECR Kind = "ecr"
	// KindDockerHub is the public Docker Hub.
	KindDockerHub Kind = "dockerhub"
)

// Valid reports whether the kind names a supported registry.
func (k Kind) Valid() bool {
	return k == KindECR || k == KindDockerHub
}

// PublishRequest carries the run-scoped inputs a publisher needs.
type PublishRequest struct {
	AppName string
	Version string
	// Region selects the ECR endpoint; unused for Docker Hub.
	Region string
	// Identity is registry-specific: the Docker Hub namespace, or the AWS
	// shared-config profile for ECR (empty selects the default chain).
	Identity string
	// Credential is the resolved registry credential. ECR ignores it and
	// authenticates through the AWS credential chain instead.
	Credential *credentials.Credential
}

// PublishedImage is the canonical reference of a pushed image.
type PublishedImage struct {
	// URI is the reference infrastructure templates consume,
	// e.g. 123456789012.dkr.ecr.us-east-1.amazonaws.com/demo:2.0.0.
	URI string
	// Registry names the family that holds the image.
	Registry Kind
	// AccountID is the resolved AWS account for ECR, empty otherwise.
	AccountID string
}

// PublishResult reports a completed publish.
type PublishResult struct {
	Image PublishedImage
	// Warnings records non-fatal degradations, such as a failed latest push
	// after the versioned push succeeded.
	Warnings []string
	// LocalTags are the registry-prefixed tags created in the local daemon
	// during the push; the pipeline removes them when the run finalizes.
	LocalTags []string
	Duration  time.Duration
}

// Publisher pushes a built artifact to one registry family.
type Publisher interface {
	Kind() Kind
	Publish(ctx context.Context, artifact *builder.Artifact, req PublishRequest) (*PublishResult, error)
}

// ErrAuthenticationFailed indicates the registry rejected or never received
// usable credentials.
type ErrAuthenticationFailed struct {
	Registry string
	Err      error
}

func (e ErrAuthenticationFailed) Error() string {
	return fmt.Sprintf("authentication with %s failed: %v", e.Registry, e.Err)
}

func (e ErrAuthenticationFailed) Unwrap() error {
	return e.Err
}

// ErrPushFailed indicates a push that must succeed did not.
type ErrPushFailed struct {
	ImageTag string
	Err      error
}

func (e ErrPushFailed) Error() string {
	return fmt.Sprintf("failed to push %s: %v", e.ImageTag, e.Err)
}

func (e ErrPushFailed) Unwrap() error {
	return e.Err
}

// ErrRepositoryProvision indicates the target repository could not be created
// or confirmed.
type ErrRepositoryProvision struct {
	Repository string
	Err        error
}

func (e ErrRepositoryProvision) Error() string {
	return fmt.Sprintf("failed to provision repository %s: %v", e.Repository, e.Err)
}

func (e ErrRepositoryProvision) Unwrap() error {
	return e.Err
}

// Factory creates publishers by kind, sharing one daemon connection for the
// tag and push plumbing.
type Factory struct {
	api    PushAPI
	logger zerolog.Logger
}

// NewFactory creates a publisher factory on top of the given daemon API.
func NewFactory(api PushAPI, logger zerolog.Logger) *Factory {
	return &Factory{api: api, logger: logger}
}

// NewDockerFactory creates a factory connected to the daemon named by the
// environment, the same way the image builder connects.
func NewDockerFactory(logger zerolog.Logger) (*Factory, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return NewFactory(cli, logger), nil
}

// Create returns the publisher for the requested registry kind.
func (f *Factory) Create(kind Kind) (Publisher, error) {
	switch kind {
	case KindECR:
		return NewECRPublisher(f.api, f.logger), nil
	case KindDockerHub:
		return NewDockerHubPublisher(f.api, f.logger), nil
	default:
		return nil, fmt.Errorf("unsupported registry type: %s", kind)
	}
}
