package orchestrator

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/alvesdmateus/deploy-engine/internal/pipeline"
	"github.com/alvesdmateus/deploy-engine/internal/queue"
	"github.com/alvesdmateus/deploy-engine/internal/registry"
	"github.com/alvesdmateus/deploy-engine/internal/state"
)

type fakeQueue struct {
	mu         sync.Mutex
	jobs       chan *queue.Job
	enqueued   []*queue.Job
	enqueueErr error
	processing []string
	completed  []string
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{jobs: make(chan *queue.Job, 16)}
}

func (q *fakeQueue) Enqueue(ctx context.Context, job *queue.Job) error {
	if q.enqueueErr != nil {
		return q.enqueueErr
	}
	q.mu.Lock()
	q.enqueued = append(q.enqueued, job)
	q.mu.Unlock()
	q.jobs <- job
	return nil
}

func (q *fakeQueue) Dequeue(ctx context.Context, timeout time.Duration) (*queue.Job, error) {
	select {
	case job := <-q.jobs:
		return job, nil
	case <-time.After(10 * time.Millisecond):
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *fakeQueue) MarkProcessing(ctx context.Context, runID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.processing = append(q.processing, runID)
	return nil
}

func (q *fakeQueue) MarkComplete(ctx context.Context, runID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.completed = append(q.completed, runID)
	return nil
}

func (q *fakeQueue) GetQueueLength(ctx context.Context) (int64, error) {
	return int64(len(q.jobs)), nil
}

func (q *fakeQueue) completedIDs() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.completed...)
}

func (q *fakeQueue) processingIDs() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.processing...)
}

func newTestEngine(t *testing.T) (*Engine, *state.Repository, *fakeQueue) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "state.db")
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, state.AutoMigrate(db))

	repo := state.NewRepository(db)
	fq := newFakeQueue()
	return NewEngine(fq, repo, zerolog.Nop()), repo, fq
}

func submitRequest() *pipeline.Request {
	return &pipeline.Request{
		AppName:      "demo",
		Version:      "1.4.2",
		Provider:     pipeline.ProviderAWS,
		Action:       pipeline.ActionApply,
		Region:       "us-east-1",
		Registry:     registry.KindECR,
		Identity:     "deployer",
		ContextDir:   "/srv/demo/src",
		WorkspaceDir: "/srv/demo/terraform",
	}
}

func TestSubmitQueuesRun(t *testing.T) {
	engine, repo, fq := newTestEngine(t)

	id, err := engine.Submit(context.Background(), submitRequest())
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, id)

	run, err := repo.GetRun(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, state.RunStatusQueued, run.Status)
	assert.Equal(t, "demo", run.AppName)
	assert.Equal(t, "apply", run.Action)

	require.Len(t, fq.enqueued, 1)
	job := fq.enqueued[0]
	assert.Equal(t, id.String(), job.ID)
	assert.Equal(t, id, job.Request.RunID)
	assert.False(t, job.EnqueuedAt.IsZero())
}

func TestSubmitRejectsInvalidRequest(t *testing.T) {
	engine, repo, fq := newTestEngine(t)

	req := submitRequest()
	req.AppName = ""

	_, err := engine.Submit(context.Background(), req)

	var verr *pipeline.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "app_name", verr.Field)

	// Nothing was recorded or queued
	runs, err := repo.ListRuns(context.Background(), 10, 0)
	require.NoError(t, err)
	assert.Empty(t, runs)
	assert.Empty(t, fq.enqueued)
}

func TestSubmitRejectsUnconfirmedDestroy(t *testing.T) {
	engine, _, fq := newTestEngine(t)

	req := submitRequest()
	req.Action = pipeline.ActionDestroy

	_, err := engine.Submit(context.Background(), req)

	var verr *pipeline.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "confirm_destroy", verr.Field)
	assert.Empty(t, fq.enqueued)
}

func TestSubmitMarksRunFailedWhenEnqueueFails(t *testing.T) {
	engine, repo, fq := newTestEngine(t)
	fq.enqueueErr = errors.New("redis connection refused")

	req := submitRequest()
	_, err := engine.Submit(context.Background(), req)
	require.Error(t, err)

	run, getErr := repo.GetRun(context.Background(), req.RunID)
	require.NoError(t, getErr)
	assert.Equal(t, state.RunStatusFailed, run.Status)
	assert.Contains(t, run.ErrorMessage, "enqueue failed")
}

func TestSubmitKeepsCallerRunID(t *testing.T) {
	engine, _, fq := newTestEngine(t)

	req := submitRequest()
	req.RunID = uuid.New()
	want := req.RunID

	id, err := engine.Submit(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, want, id)
	assert.Equal(t, want.String(), fq.enqueued[0].ID)
}

func TestQueueDepth(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	depth, err := engine.QueueDepth(context.Background())
	require.NoError(t, err)
	assert.Zero(t, depth)

	_, err = engine.Submit(context.Background(), submitRequest())
	require.NoError(t, err)

	depth, err = engine.QueueDepth(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, depth)
}
