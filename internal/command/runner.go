// Package command executes external tools on behalf of the deployment engine.
// It is the single place subprocesses are spawned: callers describe the
// invocation with a Spec and get back a Result with the exit code and the
// captured, size-bounded output.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultMaxCaptureBytes bounds the in-memory output capture of a single
// process when the runner is constructed without an explicit limit.
const DefaultMaxCaptureBytes = 256 * 1024

// TruncationMarker is appended to captured output that exceeded the limit.
const TruncationMarker = "[output truncated]"

// Spec describes a single process invocation.
type Spec struct {
	// Name is the binary to run, resolved through PATH unless absolute.
	Name string
	// Args are passed to the process verbatim.
	Args []string
	// Dir is the working directory; empty means the caller's.
	Dir string
	// Env entries (KEY=VALUE) are appended to the parent environment. This is
	// the only channel through which credentials reach a process; values are
	// never logged and never written to disk.
	Env []string
	// Timeout kills the process after the given duration. Zero means no
	// per-process deadline beyond the caller's context.
	Timeout time.Duration
}

// Result reports how a process ran. A non-zero exit code is data, not an
// error: the runner returns an error only when the process could not be
// launched, timed out, or was canceled.
type Result struct {
	// ExitCode is the process exit status, or -1 if it never ran or was
	// killed by a signal.
	ExitCode int
	// Output is the interleaved stdout/stderr capture, bounded by the
	// runner's limit.
	Output string
	// Truncated reports whether Output hit the capture limit.
	Truncated bool
	// Duration is the wall-clock time from launch to exit.
	Duration time.Duration
}

// Succeeded reports whether the process exited with status zero.
func (r *Result) Succeeded() bool {
	return r.ExitCode == 0
}

// ErrProcessLaunch indicates the binary could not be started at all.
type ErrProcessLaunch struct {
	Command string
	Err     error
}

func (e *ErrProcessLaunch) Error() string {
	return fmt.Sprintf("failed to launch %s: %v", e.Command, e.Err)
}

func (e *ErrProcessLaunch) Unwrap() error {
	return e.Err
}

// ErrProcessTimeout indicates the process exceeded its allotted time and was
// killed by the runner.
type ErrProcessTimeout struct {
	Command string
	Limit   time.Duration
}

func (e *ErrProcessTimeout) Error() string {
	return fmt.Sprintf("process %s timed out after %s", e.Command, e.Limit)
}

// Runner runs external processes. Implementations must report non-zero exits
// through the Result, reserving errors for launch failures, timeouts and
// cancellation.
type Runner interface {
	Run(ctx context.Context, spec Spec) (*Result, error)
}

// ExecRunner is the os/exec backed Runner used in production.
type ExecRunner struct {
	logger          zerolog.Logger
	maxCaptureBytes int
}

// NewExecRunner creates a runner that streams process output to the given
// logger line by line and captures at most maxCaptureBytes of it. A
// non-positive limit selects DefaultMaxCaptureBytes.
func NewExecRunner(logger zerolog.Logger, maxCaptureBytes int) *ExecRunner {
	if maxCaptureBytes <= 0 {
		maxCaptureBytes = DefaultMaxCaptureBytes
	}
	return &ExecRunner{
		logger:          logger.With().Str("component", "command-runner").Logger(),
		maxCaptureBytes: maxCaptureBytes,
	}
}

// Run executes the spec and blocks until the process exits. On timeout and
// cancellation the returned Result still carries the output captured so far,
// so callers can surface partial tool output in their own errors.
func (r *ExecRunner) Run(ctx context.Context, spec Spec) (*Result, error) {
	if spec.Name == "" {
		return nil, &ErrProcessLaunch{Command: spec.Name, Err: errors.New("empty command name")}
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if spec.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	capture := newCaptureWriter(r.logger, r.maxCaptureBytes)

	cmd := exec.CommandContext(runCtx, spec.Name, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Stdout = capture
	cmd.Stderr = capture
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}

	r.logger.Debug().
		Str("command", spec.Name).
		Strs("args", spec.Args).
		Str("dir", spec.Dir).
		Msg("Starting process")

	start := time.Now()
	err := cmd.Run()
	capture.flush()

	result := &Result{
		ExitCode:  -1,
		Output:    capture.String(),
		Truncated: capture.Truncated(),
		Duration:  time.Since(start),
	}
	if cmd.ProcessState != nil {
		result.ExitCode = cmd.ProcessState.ExitCode()
	}

	switch {
	case err == nil:
		r.logger.Debug().
			Str("command", spec.Name).
			Dur("duration", result.Duration).
			Msg("Process finished")
		return result, nil
	case ctx.Err() != nil:
		return result, fmt.Errorf("process %s canceled: %w", spec.Name, ctx.Err())
	case spec.Timeout > 0 && errors.Is(runCtx.Err(), context.DeadlineExceeded):
		return result, &ErrProcessTimeout{Command: spec.Name, Limit: spec.Timeout}
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		r.logger.Debug().
			Str("command", spec.Name).
			Int("exit_code", result.ExitCode).
			Dur("duration", result.Duration).
			Msg("Process finished")
		return result, nil
	}
	return result, &ErrProcessLaunch{Command: spec.Name, Err: err}
}

// captureWriter receives the interleaved stdout/stderr of a process. It logs
// complete lines as they arrive and keeps the first maxBytes of output,
// marking anything beyond as truncated. os/exec serializes writes when the
// same writer backs both streams, but the mutex keeps it safe regardless.
type captureWriter struct {
	mu        sync.Mutex
	logger    zerolog.Logger
	buf       bytes.Buffer
	line      bytes.Buffer
	maxBytes  int
	truncated bool
}

func newCaptureWriter(logger zerolog.Logger, maxBytes int) *captureWriter {
	return &captureWriter{logger: logger, maxBytes: maxBytes}
}

func (w *captureWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, b := range p {
		if b == '\n' {
			w.logger.Debug().Str("stream", "process").Msg(w.line.String())
			w.line.Reset()
			continue
		}
		w.line.WriteByte(b)
	}

	if !w.truncated {
		room := w.maxBytes - w.buf.Len()
		if room >= len(p) {
			w.buf.Write(p)
		} else {
			if room > 0 {
				w.buf.Write(p[:room])
			}
			w.truncated = true
		}
	}
	return len(p), nil
}

// flush logs any trailing output that did not end in a newline.
func (w *captureWriter) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.line.Len() > 0 {
		w.logger.Debug().Str("stream", "process").Msg(w.line.String())
		w.line.Reset()
	}
}

func (w *captureWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.truncated {
		return w.buf.String() + "\n" + TruncationMarker
	}
	return w.buf.String()
}

func (w *captureWriter) Truncated() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.truncated
}
