package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	dockerregistry "github.com/docker/docker/api/types/registry"
	"github.com/rs/zerolog"

	"github.com/alvesdmateus/deploy-engine/internal/builder"
)

// dockerHubServerAddress is the auth server address the daemon expects for
// Docker Hub pushes.
const dockerHubServerAddress = "https://index.docker.io/v1/"

// DockerHubPublisher pushes images to Docker Hub under the caller's
// namespace. The secret always arrives through a resolved credential; there
// is no configuration field for it.
type DockerHubPublisher struct {
	pusher imagePusher
	logger zerolog.Logger
}

// NewDockerHubPublisher creates a Docker Hub publisher on top of the daemon
// API.
func NewDockerHubPublisher(api PushAPI, logger zerolog.Logger) *DockerHubPublisher {
	return &DockerHubPublisher{
		pusher: newEnginePusher(api, logger),
		logger: logger.With().Str("component", "registry").Str("registry", string(KindDockerHub)).Logger(),
	}
}

// Kind returns KindDockerHub.
func (p *DockerHubPublisher) Kind() Kind {
	return KindDockerHub
}

// Publish pushes {namespace}/{app}:{version} and the matching latest tag.
func (p *DockerHubPublisher) Publish(ctx context.Context, artifact *builder.Artifact, req PublishRequest) (*PublishResult, error) {
	start := time.Now()

	if req.Credential == nil || req.Credential.Secret == "" {
		return nil, ErrAuthenticationFailed{Registry: string(KindDockerHub), Err: errors.New("no credential resolved for push")}
	}

	username := req.Credential.Identity
	if username == "" {
		username = req.Identity
	}
	namespace := req.Identity
	if namespace == "" {
		namespace = username
	}
	if namespace == "" {
		return nil, ErrAuthenticationFailed{Registry: string(KindDockerHub), Err: errors.New("no namespace identity provided")}
	}

	auth := dockerregistry.AuthConfig{
		Username:      username,
		Password:      req.Credential.Secret,
		ServerAddress: dockerHubServerAddress,
	}

	repo := fmt.Sprintf("%s/%s", namespace, strings.ToLower(req.AppName))
	versionedRef := fmt.Sprintf("%s:%s", repo, req.Version)
	latestRef := repo + ":latest"

	result := &PublishResult{
		Image: PublishedImage{
			URI:      versionedRef,
			Registry: KindDockerHub,
		},
	}

	if err := p.pusher.Tag(ctx, artifact.LocalTag, versionedRef); err != nil {
		return nil, ErrPushFailed{ImageTag: versionedRef, Err: err}
	}
	result.LocalTags = append(result.LocalTags, versionedRef)
	if err := p.pusher.Push(ctx, versionedRef, auth); err != nil {
		return nil, ErrPushFailed{ImageTag: versionedRef, Err: err}
	}

	if err := p.pusher.Tag(ctx, artifact.LocalTag, latestRef); err != nil {
		p.logger.Warn().Err(err).Str("ref", latestRef).Msg("Failed to tag latest")
		result.Warnings = append(result.Warnings, fmt.Sprintf("latest tag not updated: %v", err))
	} else {
		result.LocalTags = append(result.LocalTags, latestRef)
		if err := p.pusher.Push(ctx, latestRef, auth); err != nil {
			p.logger.Warn().Err(err).Str("ref", latestRef).Msg("Failed to push latest")
			result.Warnings = append(result.Warnings, fmt.Sprintf("latest tag not updated: %v", err))
		}
	}

	result.Duration = time.Since(start)
	p.logger.Info().
		Str("uri", versionedRef).
		Int("warnings", len(result.Warnings)).
		Dur("duration", result.Duration).
		Msg("Image published")

	return result, nil
}
