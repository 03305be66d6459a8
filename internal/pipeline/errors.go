package pipeline

import (
	"context"
	"errors"
	"fmt"
)

// ValidationError rejects a request before any side effect occurs.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid request: %s %s", e.Field, e.Reason)
}

// DeploymentError aggregates a run failure: the stage that failed, the
// underlying error, and the external tool output captured before the
// failure.
type DeploymentError struct {
	Stage  Stage
	Output string
	Err    error
}

func (e *DeploymentError) Error() string {
	if e.Output != "" {
		return fmt.Sprintf("deployment failed at stage %s: %v\n%s", e.Stage, e.Err, e.Output)
	}
	return fmt.Sprintf("deployment failed at stage %s: %v", e.Stage, e.Err)
}

func (e *DeploymentError) Unwrap() error {
	return e.Err
}

// IsCancelled reports whether the error stems from run cancellation rather
// than a stage failing on its own.
func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// capturedOutput extracts external tool output from stage errors that
// carry it.
func capturedOutput(err error) string {
	var carrier interface{ CapturedOutput() string }
	if errors.As(err, &carrier) {
		return carrier.CapturedOutput()
	}
	return ""
}
