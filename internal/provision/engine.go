// Package provision drives the terraform CLI to create and destroy the
// infrastructure a deployment needs. Every invocation goes through the
// command runner, so tool output is captured, bounded and attached verbatim
// to any failure.
package provision

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/alvesdmateus/deploy-engine/internal/command"
)

// DefaultBinary is the provisioning tool invoked when none is configured.
const DefaultBinary = "terraform"

// Config tunes the provisioning engine.
type Config struct {
	// Binary is the terraform executable; empty selects DefaultBinary.
	Binary string
	// Per-operation deadlines. Zero disables the deadline for that
	// operation.
	InitTimeout    time.Duration
	PlanTimeout    time.Duration
	ApplyTimeout   time.Duration
	DestroyTimeout time.Duration
}

// Workspace describes one provisioning run: the template directory, the
// rendered variable set, and any extra process environment (cloud credentials
// travel here, never on the command line).
type Workspace struct {
	Dir  string
	Vars map[string]string
	Env  []string
}

// Result reports a completed apply or destroy.
type Result struct {
	Output   string
	Duration time.Duration
}

// ErrInitFailed carries the tool output of a failed `terraform init`.
type ErrInitFailed struct {
	Output   string
	ExitCode int
}

func (e *ErrInitFailed) Error() string {
	return fmt.Sprintf("terraform init failed (exit %d)", e.ExitCode)
}

// CapturedOutput returns the tool output for error reporting.
func (e *ErrInitFailed) CapturedOutput() string { return e.Output }

// ErrPlanFailed carries the tool output of a failed `terraform plan`.
type ErrPlanFailed struct {
	Output   string
	ExitCode int
}

func (e *ErrPlanFailed) Error() string {
	return fmt.Sprintf("terraform plan failed (exit %d)", e.ExitCode)
}

// CapturedOutput returns the tool output for error reporting.
func (e *ErrPlanFailed) CapturedOutput() string { return e.Output }

// ErrApplyFailed carries the tool output of a failed `terraform apply`.
type ErrApplyFailed struct {
	Output   string
	ExitCode int
}

func (e *ErrApplyFailed) Error() string {
	return fmt.Sprintf("terraform apply failed (exit %d)", e.ExitCode)
}

// CapturedOutput returns the tool output for error reporting.
func (e *ErrApplyFailed) CapturedOutput() string { return e.Output }

// ErrDestroyFailed carries the tool output of a failed `terraform destroy`.
type ErrDestroyFailed struct {
	Output   string
	ExitCode int
}

func (e *ErrDestroyFailed) Error() string {
	return fmt.Sprintf("terraform destroy failed (exit %d)", e.ExitCode)
}

// CapturedOutput returns the tool output for error reporting.
func (e *ErrDestroyFailed) CapturedOutput() string { return e.Output }

// Engine sequences terraform operations for a workspace.
type Engine struct {
	runner command.Runner
	config Config
	logger zerolog.Logger
}

// NewEngine creates a provisioning engine on top of the command runner.
func NewEngine(runner command.Runner, config Config, logger zerolog.Logger) *Engine {
	if config.Binary == "" {
		config.Binary = DefaultBinary
	}
	return &Engine{
		runner: runner,
		config: config,
		logger: logger.With().Str("component", "provision").Logger(),
	}
}

// Verify checks that the terraform binary is runnable.
func (e *Engine) Verify(ctx context.Context) error {
	result, err := e.runner.Run(ctx, command.Spec{
		Name:    e.config.Binary,
		Args:    []string{"version"},
		Timeout: e.config.InitTimeout,
	})
	if err != nil {
		return fmt.Errorf("%s CLI not available: %w", e.config.Binary, err)
	}
	if !result.Succeeded() {
		return fmt.Errorf("%s version exited with %d", e.config.Binary, result.ExitCode)
	}
	return nil
}

// Plan initializes the workspace and computes a plan, serialized to a plan
// artifact inside the workspace. The returned Plan is the only token Apply
// accepts.
func (e *Engine) Plan(ctx context.Context, ws Workspace) (*Plan, error) {
	if err := e.init(ctx, ws); err != nil {
		return nil, err
	}

	planFile := filepath.Join(ws.Dir, fmt.Sprintf(".deploy-%s.tfplan", uuid.NewString()[:8]))
	args := []string{"plan", "-input=false", "-no-color", "-out=" + planFile}
	args = append(args, varArgs(ws.Vars)...)

	e.logger.Info().Str("workspace", ws.Dir).Msg("Planning infrastructure changes")
	result, err := e.runner.Run(ctx, command.Spec{
		Name:    e.config.Binary,
		Args:    args,
		Dir:     ws.Dir,
		Env:     ws.Env,
		Timeout: e.config.PlanTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to run terraform plan: %w", err)
	}
	if !result.Succeeded() {
		return nil, &ErrPlanFailed{Output: result.Output, ExitCode: result.ExitCode}
	}

	return &Plan{
		workspace: ws.Dir,
		planFile:  planFile,
		vars:      ws.Vars,
		env:       ws.Env,
		output:    result.Output,
		createdAt: time.Now(),
		planned:   true,
	}, nil
}

// Apply executes exactly the changes the plan recorded. Passing anything but
// a Plan returned by this engine's Plan fails with ErrUnplannedApply before
// any process is launched.
func (e *Engine) Apply(ctx context.Context, plan *Plan) (*Result, error) {
	if plan == nil || !plan.planned {
		return nil, ErrUnplannedApply
	}

	e.logger.Info().Str("workspace", plan.workspace).Msg("Applying planned changes")
	result, err := e.runner.Run(ctx, command.Spec{
		Name:    e.config.Binary,
		Args:    []string{"apply", "-input=false", "-no-color", plan.planFile},
		Dir:     plan.workspace,
		Env:     plan.env,
		Timeout: e.config.ApplyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to run terraform apply: %w", err)
	}
	if !result.Succeeded() {
		return nil, &ErrApplyFailed{Output: result.Output, ExitCode: result.ExitCode}
	}

	return &Result{Output: result.Output, Duration: result.Duration}, nil
}

// Destroy tears down the workspace's infrastructure with the same variable
// set an apply would use. Destruction is not planned; the caller has already
// confirmed the intent explicitly.
func (e *Engine) Destroy(ctx context.Context, ws Workspace) (*Result, error) {
	if err := e.init(ctx, ws); err != nil {
		return nil, err
	}

	args := []string{"destroy", "-auto-approve", "-input=false", "-no-color"}
	args = append(args, varArgs(ws.Vars)...)

	e.logger.Info().Str("workspace", ws.Dir).Msg("Destroying infrastructure")
	result, err := e.runner.Run(ctx, command.Spec{
		Name:    e.config.Binary,
		Args:    args,
		Dir:     ws.Dir,
		Env:     ws.Env,
		Timeout: e.config.DestroyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to run terraform destroy: %w", err)
	}
	if !result.Succeeded() {
		return nil, &ErrDestroyFailed{Output: result.Output, ExitCode: result.ExitCode}
	}

	return &Result{Output: result.Output, Duration: result.Duration}, nil
}

func (e *Engine) init(ctx context.Context, ws Workspace) error {
	e.logger.Debug().Str("workspace", ws.Dir).Msg("Initializing workspace")
	result, err := e.runner.Run(ctx, command.Spec{
		Name:    e.config.Binary,
		Args:    []string{"init", "-input=false", "-no-color"},
		Dir:     ws.Dir,
		Env:     ws.Env,
		Timeout: e.config.InitTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to run terraform init: %w", err)
	}
	if !result.Succeeded() {
		return &ErrInitFailed{Output: result.Output, ExitCode: result.ExitCode}
	}
	return nil
}

// varArgs renders the variable set as -var arguments in a stable order.
// Variables are never secrets; credentials reach the tool through the
// process environment instead.
func varArgs(vars map[string]string) []string {
	if len(vars) == 0 {
		return nil
	}
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args := make([]string, 0, len(keys)*2)
	for _, k := range keys {
		args = append(args, "-var", fmt.Sprintf("%s=%s", k, vars[k]))
	}
	return args
}
