//go:build integration

package integration

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alvesdmateus/deploy-engine/internal/pipeline"
	"github.com/alvesdmateus/deploy-engine/internal/queue"
	"github.com/alvesdmateus/deploy-engine/internal/registry"
	"github.com/alvesdmateus/deploy-engine/internal/state"
)

func testRequest(app string) *pipeline.Request {
	return &pipeline.Request{
		RunID:        uuid.New(),
		AppName:      app,
		Version:      "1.0.0",
		Provider:     "aws",
		Action:       pipeline.ActionApply,
		Region:       "us-east-1",
		Registry:     registry.KindECR,
		Identity:     "deployer",
		ContextDir:   "/srv/" + app + "/src",
		WorkspaceDir: "/srv/" + app + "/terraform",
	}
}

func TestRedisQueueRoundTrip(t *testing.T) {
	q := requireRedis(t)
	ctx := context.Background()

	req := testRequest("demo")
	job := &queue.Job{
		ID:         req.RunID.String(),
		Request:    req,
		EnqueuedAt: time.Now(),
	}

	require.NoError(t, q.Enqueue(ctx, job))

	length, err := q.GetQueueLength(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), length)

	got, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, "demo", got.Request.AppName)
	assert.Equal(t, pipeline.ActionApply, got.Request.Action)

	require.NoError(t, q.MarkProcessing(ctx, got.ID))
	processing, err := q.GetProcessingRuns(ctx)
	require.NoError(t, err)
	assert.Contains(t, processing, got.ID)

	require.NoError(t, q.MarkComplete(ctx, got.ID))
	processing, err = q.GetProcessingRuns(ctx)
	require.NoError(t, err)
	assert.NotContains(t, processing, got.ID)
}

func TestRedisQueueDequeueEmptyReturnsNil(t *testing.T) {
	q := requireRedis(t)

	job, err := q.Dequeue(context.Background(), 200*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestRedisQueuePreservesOrder(t *testing.T) {
	q := requireRedis(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		req := testRequest("ordered")
		ids = append(ids, req.RunID.String())
		require.NoError(t, q.Enqueue(ctx, &queue.Job{
			ID:         req.RunID.String(),
			Request:    req,
			EnqueuedAt: time.Now(),
		}))
	}

	for _, want := range ids {
		job, err := q.Dequeue(ctx, time.Second)
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.Equal(t, want, job.ID)
	}
}

func TestEngineSubmitEnqueues(t *testing.T) {
	env := SetupTestEnvironment(t)
	ctx := context.Background()

	req := testRequest("billing")
	req.RunID = uuid.Nil

	runID, err := env.Engine.Submit(ctx, req)
	require.NoError(t, err)

	length, err := env.Queue.GetQueueLength(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), length)

	job, err := env.Queue.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, runID.String(), job.ID)

	run, err := env.Repo.GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, state.RunStatusQueued, run.Status)
}

// TestWorkerExecutesSubmittedRun drives a run through the real queue with a
// stub pipeline: submit, worker pickup, terminal record.
func TestWorkerExecutesSubmittedRun(t *testing.T) {
	env := SetupTestEnvironment(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	worker := orchestratorWorker(t, env)
	go worker.Start(ctx)

	req := testRequest("checkout")
	req.RunID = uuid.Nil

	runID, err := env.Engine.Submit(ctx, req)
	require.NoError(t, err)

	run := env.waitForRunStatus(runID.String(), state.RunStatusSucceeded, 5*time.Second)
	assert.Equal(t, "checkout", run.AppName)
	assert.Empty(t, run.FailedStage)

	processing, err := env.Queue.GetProcessingRuns(ctx)
	require.NoError(t, err)
	assert.NotContains(t, processing, runID.String())
}
