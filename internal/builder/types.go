package builder

import (
	"fmt"
	"strings"
	"time"
)

// ImageSpec names the image to produce from a build context.
type ImageSpec struct {
	// AppName becomes the repository part of the local tag, lowercased.
	AppName string
	// Version becomes the tag part of the local tag.
	Version string
	// RunID labels the image with the pipeline run that produced it.
	RunID string
}

// LocalTag is the daemon-local tag the image is built under, before any
// registry prefix is applied.
func (s ImageSpec) LocalTag() string {
	return fmt.Sprintf("%s:%s", strings.ToLower(s.AppName), s.Version)
}

// Artifact describes a successfully built image in the local daemon.
type Artifact struct {
	// ImageID is the daemon's content-addressed id of the image.
	ImageID string
	// LocalTag is the tag the image was built under.
	LocalTag string
	// AppName and Version echo the spec that produced the artifact.
	AppName string
	Version string
	// Duration is the wall-clock build time.
	Duration time.Duration
}

// ErrContextMissing indicates the build context directory or its Dockerfile
// does not exist.
type ErrContextMissing struct {
	Path string
}

func (e *ErrContextMissing) Error() string {
	return fmt.Sprintf("build context missing: %s", e.Path)
}

// ErrBuildFailed indicates the daemon rejected or aborted the build. Output
// holds the captured build log up to the failure.
type ErrBuildFailed struct {
	Output string
	Err    error
}

func (e *ErrBuildFailed) Error() string {
	return fmt.Sprintf("image build failed: %v", e.Err)
}

func (e *ErrBuildFailed) Unwrap() error {
	return e.Err
}

// CapturedOutput returns the build log collected before the failure.
func (e *ErrBuildFailed) CapturedOutput() string {
	return e.Output
}
