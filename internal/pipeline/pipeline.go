package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/alvesdmateus/deploy-engine/internal/builder"
	"github.com/alvesdmateus/deploy-engine/internal/credentials"
	"github.com/alvesdmateus/deploy-engine/internal/layout"
	"github.com/alvesdmateus/deploy-engine/internal/provision"
	"github.com/alvesdmateus/deploy-engine/internal/registry"
)

// ImageBuilder produces and disposes of local container images.
type ImageBuilder interface {
	Build(ctx context.Context, contextDir string, spec builder.ImageSpec) (*builder.Artifact, error)
	Cleanup(ctx context.Context, artifact *builder.Artifact) error
	RemoveTag(ctx context.Context, tag string) error
}

// PublisherFactory dispatches a registry kind to its publisher.
type PublisherFactory interface {
	Create(kind registry.Kind) (registry.Publisher, error)
}

// Provisioner drives the infrastructure tool against a workspace.
type Provisioner interface {
	Plan(ctx context.Context, ws provision.Workspace) (*provision.Plan, error)
	Apply(ctx context.Context, plan *provision.Plan) (*provision.Result, error)
	Destroy(ctx context.Context, ws provision.Workspace) (*provision.Result, error)
}

// CredentialSource resolves credential references at the moment of use.
type CredentialSource interface {
	Resolve(ctx context.Context, ref string) (*credentials.Credential, error)
}

// Pipeline executes deployment runs. A single Pipeline serves concurrent
// runs; runs sharing an application and workspace are serialized.
type Pipeline struct {
	builder     ImageBuilder
	publishers  PublisherFactory
	provisioner Provisioner
	credentials CredentialSource
	recorder    Recorder
	locks       *runLocks
	logger      zerolog.Logger
}

// NewPipeline creates a pipeline from its collaborators.
func NewPipeline(
	imageBuilder ImageBuilder,
	publishers PublisherFactory,
	provisioner Provisioner,
	creds CredentialSource,
	recorder Recorder,
	logger zerolog.Logger,
) *Pipeline {
	return &Pipeline{
		builder:     imageBuilder,
		publishers:  publishers,
		provisioner: provisioner,
		credentials: creds,
		recorder:    recorder,
		locks:       newRunLocks(),
		logger:      logger.With().Str("component", "pipeline").Logger(),
	}
}

// Run executes one deployment request to a terminal outcome. The report is
// always returned, failed runs additionally return the aggregated error.
// Finalization (local image cleanup, record writing) happens exactly once
// on every path, including validation rejection and cancellation.
func (p *Pipeline) Run(ctx context.Context, req *Request) (*Report, error) {
	if req.RunID == uuid.Nil {
		req.RunID = uuid.New()
	}
	start := time.Now()
	logger := p.logger.With().
		Stringer("run_id", req.RunID).
		Str("app", req.AppName).
		Logger()

	report := &Report{RunID: req.RunID}
	var artifact *builder.Artifact
	var published *registry.PublishResult

	defer func() {
		report.Duration = time.Since(start)
		p.finalize(ctx, logger, req, report, artifact, published)
	}()

	if err := req.Validate(); err != nil {
		logger.Error().Err(err).Msg("Request rejected")
		now := time.Now()
		report.Stages = append(report.Stages, StageResult{
			Stage:      StageValidate,
			Status:     StageStatusFailed,
			Detail:     err.Error(),
			StartedAt:  now,
			FinishedAt: now,
		})
		report.Outcome = OutcomeFailed
		report.Err = err
		return report, err
	}

	logger.Info().
		Str("action", string(req.Action)).
		Str("registry", string(req.Registry)).
		Str("version", req.Version).
		Msg("Run started")

	if err := p.recorder.RunStarted(ctx, req); err != nil {
		// The terminal record is written again at finalize, so a transient
		// store failure here does not abort the run.
		logger.Error().Err(err).Msg("Failed to record run start")
	}

	stageStart := time.Now()
	lay, err := layout.Verify(req.ContextDir, req.WorkspaceDir)
	if err != nil {
		return report, p.fail(logger, report, StageVerifyLayout, stageStart, err)
	}
	p.succeed(logger, report, StageVerifyLayout, stageStart,
		fmt.Sprintf("%d templates in %s", len(lay.Templates), lay.WorkspaceDir), "")

	stageStart = time.Now()
	artifact, err = p.builder.Build(ctx, lay.ContextDir, builder.ImageSpec{
		AppName: req.AppName,
		Version: req.Version,
		RunID:   req.RunID.String(),
	})
	if err != nil {
		return report, p.fail(logger, report, StageBuild, stageStart, err)
	}
	p.succeed(logger, report, StageBuild, stageStart, artifact.ImageID, "")

	stageStart = time.Now()
	published, err = p.publish(ctx, req, artifact)
	if err != nil {
		return report, p.fail(logger, report, StagePublish, stageStart, err)
	}
	report.Image = &published.Image
	report.Warnings = append(report.Warnings, published.Warnings...)
	p.succeed(logger, report, StagePublish, stageStart, published.Image.URI, "")

	err = p.withWorkspaceLock(req, func() error {
		if req.Action == ActionDestroy {
			return p.destroy(ctx, logger, report, req, lay, published)
		}
		return p.apply(ctx, logger, report, req, lay, published)
	})
	if err != nil {
		return report, err
	}

	if len(report.Warnings) > 0 {
		report.Outcome = OutcomeSucceededWithWarnings
	} else {
		report.Outcome = OutcomeSucceeded
	}
	logger.Info().
		Str("outcome", string(report.Outcome)).
		Dur("duration", time.Since(start)).
		Msg("Run finished")
	return report, nil
}

// publish resolves the registry credential and pushes the artifact.
func (p *Pipeline) publish(ctx context.Context, req *Request, artifact *builder.Artifact) (*registry.PublishResult, error) {
	publisher, err := p.publishers.Create(req.Registry)
	if err != nil {
		return nil, err
	}

	var cred *credentials.Credential
	if req.CredentialRef != "" {
		cred, err = p.credentials.Resolve(ctx, req.CredentialRef)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve credential %s: %w", req.CredentialRef, err)
		}
	}

	return publisher.Publish(ctx, artifact, registry.PublishRequest{
		AppName:    req.AppName,
		Version:    req.Version,
		Region:     req.Region,
		Identity:   req.Identity,
		Credential: cred,
	})
}

// apply plans the workspace and applies the resulting plan.
func (p *Pipeline) apply(ctx context.Context, logger zerolog.Logger, report *Report, req *Request, lay *layout.Layout, published *registry.PublishResult) error {
	stageStart := time.Now()
	ws, err := p.workspace(req, lay, published)
	if err != nil {
		return p.fail(logger, report, StagePlan, stageStart, err)
	}

	plan, err := p.provisioner.Plan(ctx, ws)
	if err != nil {
		return p.fail(logger, report, StagePlan, stageStart, err)
	}
	defer func() {
		if err := plan.Cleanup(); err != nil {
			logger.Warn().Err(err).Msg("Failed to remove plan file")
		}
	}()
	p.succeed(logger, report, StagePlan, stageStart, plan.File(), plan.Output())

	stageStart = time.Now()
	result, err := p.provisioner.Apply(ctx, plan)
	if err != nil {
		return p.fail(logger, report, StageApply, stageStart, err)
	}
	p.succeed(logger, report, StageApply, stageStart, "infrastructure applied", result.Output)
	return nil
}

// destroy tears the workspace down. Planning is skipped; the confirmation
// flag was checked during validation.
func (p *Pipeline) destroy(ctx context.Context, logger zerolog.Logger, report *Report, req *Request, lay *layout.Layout, published *registry.PublishResult) error {
	stageStart := time.Now()
	ws, err := p.workspace(req, lay, published)
	if err != nil {
		return p.fail(logger, report, StageDestroy, stageStart, err)
	}

	result, err := p.provisioner.Destroy(ctx, ws)
	if err != nil {
		return p.fail(logger, report, StageDestroy, stageStart, err)
	}
	p.succeed(logger, report, StageDestroy, stageStart, "infrastructure destroyed", result.Output)
	return nil
}

// workspace renders the provisioning variable set and environment for the
// run. Secrets never enter the variable set; cloud credentials reach the
// tool through the process environment.
func (p *Pipeline) workspace(req *Request, lay *layout.Layout, published *registry.PublishResult) (provision.Workspace, error) {
	derived := map[string]string{
		"app_name":  req.AppName,
		"version":   req.Version,
		"provider":  req.Provider,
		"image_uri": published.Image.URI,
	}
	if req.Region != "" {
		derived["region"] = req.Region
	}
	if published.Image.AccountID != "" {
		derived["account_id"] = published.Image.AccountID
	}

	vars, err := provision.BuildVars(lay.VarfilePath, derived)
	if err != nil {
		return provision.Workspace{}, err
	}

	var env []string
	if req.Provider == ProviderAWS {
		if req.Identity != "" {
			env = append(env, "AWS_PROFILE="+req.Identity)
		}
		if req.Region != "" {
			env = append(env, "AWS_REGION="+req.Region)
		}
	}

	return provision.Workspace{Dir: lay.WorkspaceDir, Vars: vars, Env: env}, nil
}

// withWorkspaceLock serializes the provisioning stages of runs that share
// an application and workspace.
func (p *Pipeline) withWorkspaceLock(req *Request, fn func() error) error {
	unlock := p.locks.lock(req.AppName, req.WorkspaceDir)
	defer unlock()
	return fn()
}

// succeed records a completed stage in the report and the log.
func (p *Pipeline) succeed(logger zerolog.Logger, report *Report, stage Stage, started time.Time, detail, output string) {
	finished := time.Now()
	report.Stages = append(report.Stages, StageResult{
		Stage:      stage,
		Status:     StageStatusSucceeded,
		Detail:     detail,
		Output:     output,
		StartedAt:  started,
		FinishedAt: finished,
	})
	logger.Info().
		Str("stage", string(stage)).
		Str("detail", detail).
		Dur("duration", finished.Sub(started)).
		Msg("Stage succeeded")
}

// fail records the failed stage, marks the report failed, and returns the
// aggregated deployment error.
func (p *Pipeline) fail(logger zerolog.Logger, report *Report, stage Stage, started time.Time, err error) error {
	deployment := &DeploymentError{
		Stage:  stage,
		Output: capturedOutput(err),
		Err:    err,
	}
	report.Stages = append(report.Stages, StageResult{
		Stage:      stage,
		Status:     StageStatusFailed,
		Detail:     err.Error(),
		Output:     deployment.Output,
		StartedAt:  started,
		FinishedAt: time.Now(),
	})
	report.Outcome = OutcomeFailed
	report.Err = deployment

	event := logger.Error().Str("stage", string(stage)).Err(err)
	if IsCancelled(err) {
		event.Msg("Run cancelled")
	} else {
		event.Msg("Stage failed")
	}
	return deployment
}

// finalize releases local build artifacts and writes the terminal record.
// It runs exactly once per invocation, on success, failure, rejection and
// cancellation alike, so it works on a context detached from the run's.
func (p *Pipeline) finalize(ctx context.Context, logger zerolog.Logger, req *Request, report *Report, artifact *builder.Artifact, published *registry.PublishResult) {
	ctx = context.WithoutCancel(ctx)

	if published != nil {
		for _, tag := range published.LocalTags {
			if err := p.builder.RemoveTag(ctx, tag); err != nil {
				logger.Warn().Err(err).Str("tag", tag).Msg("Failed to remove local tag")
			}
		}
	}
	if artifact != nil {
		if err := p.builder.Cleanup(ctx, artifact); err != nil {
			logger.Warn().Err(err).Str("tag", artifact.LocalTag).Msg("Failed to remove local image")
		}
	}

	if err := p.recorder.RunFinished(ctx, req, report); err != nil {
		logger.Error().Err(err).Msg("Failed to record run")
	}

	logger.Debug().
		Int("stages", len(report.Stages)).
		Str("outcome", string(report.Outcome)).
		Msg("Run finalized")
}
