package registry

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"

	"github.com/docker/docker/api/types/image"
	dockerregistry "github.com/docker/docker/api/types/registry"
	"github.com/rs/zerolog"
)

// PushAPI is the slice of the Docker Engine client publishers need.
type PushAPI interface {
	ImageTag(ctx context.Context, source, target string) error
	ImagePush(ctx context.Context, image string, options image.PushOptions) (io.ReadCloser, error)
}

// imagePusher tags local images and pushes them with registry credentials.
type imagePusher interface {
	Tag(ctx context.Context, source, target string) error
	Push(ctx context.Context, ref string, auth dockerregistry.AuthConfig) error
}

// enginePusher drives the local daemon for tag and push operations.
type enginePusher struct {
	api    PushAPI
	logger zerolog.Logger
}

func newEnginePusher(api PushAPI, logger zerolog.Logger) *enginePusher {
	return &enginePusher{
		api:    api,
		logger: logger.With().Str("component", "registry").Logger(),
	}
}

func (p *enginePusher) Tag(ctx context.Context, source, target string) error {
	p.logger.Debug().Str("source", source).Str("target", target).Msg("Tagging image")
	if err := p.api.ImageTag(ctx, source, target); err != nil {
		return fmt.Errorf("failed to tag %s as %s: %w", source, target, err)
	}
	return nil
}

func (p *enginePusher) Push(ctx context.Context, ref string, auth dockerregistry.AuthConfig) error {
	encodedAuth, err := encodeAuthConfig(auth)
	if err != nil {
		return fmt.Errorf("failed to encode auth config: %w", err)
	}

	p.logger.Info().Str("ref", ref).Msg("Pushing image")
	response, err := p.api.ImagePush(ctx, ref, image.PushOptions{RegistryAuth: encodedAuth})
	if err != nil {
		return err
	}
	defer response.Close()

	return p.streamPushOutput(ctx, response)
}

// encodeAuthConfig encodes credentials the way the Engine API expects:
// JSON, then URL-safe base64 in the X-Registry-Auth header.
func encodeAuthConfig(auth dockerregistry.AuthConfig) (string, error) {
	authJSON, err := json.Marshal(auth)
	if err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(authJSON), nil
}

func (p *enginePusher) streamPushOutput(ctx context.Context, reader io.ReadCloser) error {
	decoder := json.NewDecoder(reader)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		var msg struct {
			Status   string `json:"status"`
			Progress string `json:"progress"`
			Error    string `json:"error"`
		}

		if err := decoder.Decode(&msg); err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("failed to decode push output: %w", err)
		}

		if msg.Error != "" {
			return fmt.Errorf("push error: %s", msg.Error)
		}

		if msg.Status != "" {
			p.logger.Debug().
				Str("status", msg.Status).
				Str("progress", msg.Progress).
				Msg("Push progress")
		}
	}
}
