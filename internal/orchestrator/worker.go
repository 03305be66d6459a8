package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/alvesdmateus/deploy-engine/internal/observability"
	"github.com/alvesdmateus/deploy-engine/internal/pipeline"
	"github.com/alvesdmateus/deploy-engine/internal/queue"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// Runner executes one deployment run from start to finish.
// Implemented by pipeline.Pipeline.
type Runner interface {
	Run(ctx context.Context, req *pipeline.Request) (*pipeline.Report, error)
}

// Worker drains the run queue with configurable concurrency. Each run
// executes at most once; failed runs stay failed until someone resubmits.
type Worker struct {
	engine      *Engine
	runner      Runner
	metrics     *observability.Metrics
	concurrency int
	pollTimeout time.Duration
	runTimeout  time.Duration
	logger      zerolog.Logger
}

// NewWorker creates a new worker pool around the engine's queue
func NewWorker(engine *Engine, runner Runner, metrics *observability.Metrics, concurrency int, runTimeout time.Duration, logger zerolog.Logger) *Worker {
	if concurrency < 1 {
		concurrency = 1
	}
	if runTimeout <= 0 {
		runTimeout = 30 * time.Minute
	}

	return &Worker{
		engine:      engine,
		runner:      runner,
		metrics:     metrics,
		concurrency: concurrency,
		pollTimeout: 5 * time.Second, // Blocking poll timeout
		runTimeout:  runTimeout,
		logger:      logger.With().Str("component", "worker").Logger(),
	}
}

// Start runs the worker pool until the context is cancelled
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info().
		Int("concurrency", w.concurrency).
		Dur("run_timeout", w.runTimeout).
		Msg("Starting run worker")

	w.metrics.SetWorkersActive(float64(w.concurrency))

	var wg sync.WaitGroup

	// Start N worker goroutines
	for i := 0; i < w.concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			w.processRuns(ctx, workerID)
		}(i)
	}

	// Queue depth gauge, refreshed in the background
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.reportQueueDepth(ctx)
	}()

	// Wait for all workers to finish (when context is cancelled)
	wg.Wait()

	w.metrics.SetWorkersActive(0)
	w.logger.Info().Msg("Run worker stopped")
	return nil
}

// processRuns is the main worker loop that executes runs from the queue
func (w *Worker) processRuns(ctx context.Context, workerID int) {
	logger := w.logger.With().Int("worker_id", workerID).Logger()
	logger.Info().Msg("Worker goroutine started")

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("Worker goroutine stopped (context cancelled)")
			return
		default:
			job, err := w.engine.queue.Dequeue(ctx, w.pollTimeout)
			if err != nil {
				if ctx.Err() == nil {
					logger.Error().Err(err).Msg("Failed to dequeue run")
					time.Sleep(time.Second)
				}
				continue
			}
			if job == nil {
				// No run available within the poll timeout
				continue
			}

			w.processRun(ctx, logger, job)
		}
	}
}

// processRun executes a single dequeued run through the pipeline
func (w *Worker) processRun(ctx context.Context, logger zerolog.Logger, job *queue.Job) {
	req := job.Request

	logger.Info().
		Str("run_id", job.ID).
		Str("app", req.AppName).
		Str("version", req.Version).
		Str("action", string(req.Action)).
		Msg("Processing run")

	if err := w.engine.queue.MarkProcessing(ctx, job.ID); err != nil {
		logger.Warn().
			Err(err).
			Str("run_id", job.ID).
			Msg("Failed to mark run as processing")
	}

	w.metrics.RecordQueueLatency(queue.QueueRuns, time.Since(job.EnqueuedAt).Seconds())
	w.metrics.IncActiveRuns()
	defer w.metrics.DecActiveRuns()

	runCtx, cancel := context.WithTimeout(ctx, w.runTimeout)
	defer cancel()

	runCtx, span := observability.GetGlobalTracer().StartSpan(runCtx, "run.execute",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(observability.RunSpanAttributes(job.ID, string(req.Action), req.AppName, req.Version)...),
		trace.WithAttributes(observability.JobSpanAttributes(queue.QueueRuns, job.ID)...),
	)

	report, runErr := w.runner.Run(runCtx, req)
	if report == nil {
		report = &pipeline.Report{RunID: req.RunID, Outcome: pipeline.OutcomeFailed, Err: runErr}
	}

	span.SetAttributes(observability.AttrRunOutcome.String(string(report.Outcome)))
	if runErr != nil {
		span.RecordError(runErr)
	}
	span.End()

	for _, stage := range report.Stages {
		w.metrics.RecordStage(string(stage.Stage), stage.Status)
		w.metrics.RecordStageDuration(string(stage.Stage), stage.Status, stage.Duration().Seconds())
		if stage.Stage == pipeline.StagePublish {
			w.metrics.RecordPublish(string(req.Registry), stage.Status)
			w.metrics.RecordPublishDuration(string(req.Registry), stage.Status, stage.Duration().Seconds())
		}
	}
	w.metrics.RecordRun(string(report.Outcome), string(req.Action), string(req.Registry))
	w.metrics.RecordRunDuration(string(req.Action), string(report.Outcome), report.Duration.Seconds())

	if runErr != nil {
		// Failed runs are not requeued. The run record already holds the
		// failed stage and error; resubmission is a human decision.
		logger.Error().
			Err(runErr).
			Str("run_id", job.ID).
			Str("failed_stage", string(report.FailedStage())).
			Msg("Run failed")
	} else {
		logger.Info().
			Str("run_id", job.ID).
			Str("outcome", string(report.Outcome)).
			Msg("Run completed")
	}

	if err := w.engine.queue.MarkComplete(ctx, job.ID); err != nil {
		logger.Error().
			Err(err).
			Str("run_id", job.ID).
			Msg("Failed to mark run as complete")
	}
}

// reportQueueDepth refreshes the queue depth gauge until the context ends
func (w *Worker) reportQueueDepth(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			depth, err := w.engine.QueueDepth(ctx)
			if err != nil {
				w.logger.Warn().Err(err).Msg("Failed to read queue depth")
				continue
			}
			w.metrics.SetQueueDepth(queue.QueueRuns, float64(depth))
		}
	}
}
