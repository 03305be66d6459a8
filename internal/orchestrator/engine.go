// Package orchestrator accepts deployment runs over the queue and executes
// them on a worker pool.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/alvesdmateus/deploy-engine/internal/pipeline"
	"github.com/alvesdmateus/deploy-engine/internal/queue"
	"github.com/alvesdmateus/deploy-engine/internal/state"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// RunQueue is the queue surface the orchestrator needs.
// Implemented by queue.RedisQueue.
type RunQueue interface {
	Enqueue(ctx context.Context, job *queue.Job) error
	Dequeue(ctx context.Context, timeout time.Duration) (*queue.Job, error)
	MarkProcessing(ctx context.Context, runID string) error
	MarkComplete(ctx context.Context, runID string) error
	GetQueueLength(ctx context.Context) (int64, error)
}

// Engine accepts deployment requests and hands them to the worker pool
// through the queue. It is deliberately thin so the API process can carry
// it without the worker's pipeline dependencies.
type Engine struct {
	queue  RunQueue
	repo   *state.Repository
	logger zerolog.Logger
}

// NewEngine creates a new orchestrator engine
func NewEngine(q RunQueue, repo *state.Repository, logger zerolog.Logger) *Engine {
	return &Engine{
		queue:  q,
		repo:   repo,
		logger: logger.With().Str("component", "orchestrator").Logger(),
	}
}

// Submit validates a request, records it as QUEUED, and enqueues it for a
// worker. Invalid requests are rejected before any state is written.
func (e *Engine) Submit(ctx context.Context, req *pipeline.Request) (uuid.UUID, error) {
	if err := req.Validate(); err != nil {
		return uuid.Nil, err
	}

	if req.RunID == uuid.Nil {
		req.RunID = uuid.New()
	}

	run := &state.Run{
		ID:        req.RunID,
		AppName:   req.AppName,
		Version:   req.Version,
		Action:    string(req.Action),
		Provider:  req.Provider,
		Region:    req.Region,
		Registry:  string(req.Registry),
		Workspace: req.WorkspaceDir,
		Status:    state.RunStatusQueued,
	}
	if err := e.repo.CreateRun(ctx, run); err != nil {
		return uuid.Nil, fmt.Errorf("create run record: %w", err)
	}

	job := &queue.Job{
		ID:         req.RunID.String(),
		Request:    req,
		EnqueuedAt: time.Now(),
	}
	if err := e.queue.Enqueue(ctx, job); err != nil {
		e.logger.Error().
			Err(err).
			Str("run_id", job.ID).
			Msg("Failed to enqueue run")

		// The QUEUED record would otherwise dangle forever.
		if markErr := e.repo.MarkRunFinished(ctx, req.RunID, state.RunStatusFailed, "", fmt.Sprintf("enqueue failed: %v", err), ""); markErr != nil {
			e.logger.Error().
				Err(markErr).
				Str("run_id", job.ID).
				Msg("Failed to mark unqueued run as failed")
		}
		return uuid.Nil, fmt.Errorf("enqueue run: %w", err)
	}

	e.logger.Info().
		Str("run_id", job.ID).
		Str("app", req.AppName).
		Str("version", req.Version).
		Str("action", string(req.Action)).
		Msg("Run submitted")

	return req.RunID, nil
}

// QueueDepth returns the number of runs waiting for a worker.
func (e *Engine) QueueDepth(ctx context.Context) (int64, error) {
	return e.queue.GetQueueLength(ctx)
}
