// Package builder produces container images from a build context directory.
// Builds always run from a clean slate: layer caching is disabled so the
// artifact reflects exactly the sources handed to the engine.
package builder

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/rs/zerolog"
)

// dockerAPI is the slice of the Docker Engine client the builder uses.
type dockerAPI interface {
	Ping(ctx context.Context) (types.Ping, error)
	ImageBuild(ctx context.Context, buildContext io.Reader, options types.ImageBuildOptions) (types.ImageBuildResponse, error)
	ImageInspectWithRaw(ctx context.Context, imageID string) (types.ImageInspect, []byte, error)
	ImageRemove(ctx context.Context, imageID string, options image.RemoveOptions) ([]image.DeleteResponse, error)
}

// DockerBuilder builds images through the Docker Engine API.
type DockerBuilder struct {
	api    dockerAPI
	logger zerolog.Logger
}

// NewDockerBuilder creates a builder connected to the daemon named by the
// standard DOCKER_* environment variables.
func NewDockerBuilder(logger zerolog.Logger) (*DockerBuilder, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &DockerBuilder{
		api:    cli,
		logger: logger.With().Str("component", "builder").Logger(),
	}, nil
}

// Build produces an image from the Dockerfile in contextDir and tags it with
// the spec's local tag. The caller owns the artifact and releases it through
// Cleanup once the image is no longer needed locally.
func (b *DockerBuilder) Build(ctx context.Context, contextDir string, spec ImageSpec) (*Artifact, error) {
	start := time.Now()

	if _, err := b.api.Ping(ctx); err != nil {
		return nil, fmt.Errorf("docker daemon not accessible: %w", err)
	}

	if info, err := os.Stat(contextDir); err != nil || !info.IsDir() {
		return nil, &ErrContextMissing{Path: contextDir}
	}
	if _, err := os.Stat(filepath.Join(contextDir, "Dockerfile")); err != nil {
		return nil, &ErrContextMissing{Path: filepath.Join(contextDir, "Dockerfile")}
	}

	localTag := spec.LocalTag()
	b.logger.Info().
		Str("tag", localTag).
		Str("context", contextDir).
		Msg("Building image")

	buildContext, err := createBuildContext(contextDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create build context: %w", err)
	}
	defer buildContext.Close()

	options := types.ImageBuildOptions{
		Tags:        []string{localTag},
		Dockerfile:  "Dockerfile",
		Remove:      true,
		ForceRemove: true,
		PullParent:  true,
		// Every run builds from scratch so the image cannot carry stale layers.
		NoCache: true,
		Labels: map[string]string{
			"deploy-engine.app":     spec.AppName,
			"deploy-engine.version": spec.Version,
			"deploy-engine.run":     spec.RunID,
		},
	}

	response, err := b.api.ImageBuild(ctx, buildContext, options)
	if err != nil {
		return nil, &ErrBuildFailed{Err: fmt.Errorf("docker build request failed: %w", err)}
	}
	defer response.Body.Close()

	var buildLog strings.Builder
	if err := b.streamBuildOutput(ctx, response.Body, &buildLog); err != nil {
		return nil, &ErrBuildFailed{Output: buildLog.String(), Err: err}
	}

	inspect, _, err := b.api.ImageInspectWithRaw(ctx, localTag)
	if err != nil {
		return nil, &ErrBuildFailed{Output: buildLog.String(), Err: fmt.Errorf("failed to inspect built image: %w", err)}
	}

	artifact := &Artifact{
		ImageID:  inspect.ID,
		LocalTag: localTag,
		AppName:  spec.AppName,
		Version:  spec.Version,
		Duration: time.Since(start),
	}

	b.logger.Info().
		Str("tag", localTag).
		Str("image_id", artifact.ImageID).
		Dur("duration", artifact.Duration).
		Msg("Image built")

	return artifact, nil
}

// Cleanup removes the artifact's local tag from the daemon. Registry copies
// are unaffected.
func (b *DockerBuilder) Cleanup(ctx context.Context, artifact *Artifact) error {
	if artifact == nil {
		return nil
	}
	b.logger.Debug().Str("tag", artifact.LocalTag).Msg("Removing local image")

	_, err := b.api.ImageRemove(ctx, artifact.LocalTag, image.RemoveOptions{
		Force:         true,
		PruneChildren: true,
	})
	if err != nil {
		return fmt.Errorf("failed to remove image %s: %w", artifact.LocalTag, err)
	}
	return nil
}

// RemoveTag untags a single reference from the daemon, leaving any other
// tags on the underlying image in place.
func (b *DockerBuilder) RemoveTag(ctx context.Context, tag string) error {
	b.logger.Debug().Str("tag", tag).Msg("Removing local tag")

	_, err := b.api.ImageRemove(ctx, tag, image.RemoveOptions{})
	if err != nil {
		return fmt.Errorf("failed to remove tag %s: %w", tag, err)
	}
	return nil
}

// streamBuildOutput drains the daemon's JSON build stream, accumulating the
// human-readable log and surfacing the first build error.
func (b *DockerBuilder) streamBuildOutput(ctx context.Context, reader io.Reader, buildLog *strings.Builder) error {
	decoder := json.NewDecoder(reader)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		var msg struct {
			Stream      string `json:"stream"`
			Error       string `json:"error"`
			ErrorDetail struct {
				Message string `json:"message"`
			} `json:"errorDetail"`
		}

		if err := decoder.Decode(&msg); err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("failed to decode build output: %w", err)
		}

		if msg.Error != "" {
			buildLog.WriteString(msg.Error)
			if msg.ErrorDetail.Message != "" {
				return fmt.Errorf("build error: %s", msg.ErrorDetail.Message)
			}
			return fmt.Errorf("build error: %s", msg.Error)
		}

		if msg.Stream != "" {
			buildLog.WriteString(msg.Stream)
			b.logger.Debug().Str("output", strings.TrimSpace(msg.Stream)).Msg("Build output")
		}
	}
}
