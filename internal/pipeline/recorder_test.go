package pipeline

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/alvesdmateus/deploy-engine/internal/registry"
	"github.com/alvesdmateus/deploy-engine/internal/state"
)

func newTestRecorder(t *testing.T) (*StateRecorder, *state.Repository) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "state.db")
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, state.AutoMigrate(db))

	repo := state.NewRepository(db)
	return NewStateRecorder(repo), repo
}

func recorderRequest() *Request {
	return &Request{
		RunID:        uuid.New(),
		AppName:      "demo",
		Version:      "2.0.0",
		Provider:     ProviderAWS,
		Action:       ActionApply,
		Region:       "us-east-1",
		Registry:     registry.KindECR,
		ContextDir:   "/src/demo",
		WorkspaceDir: "/src/infra",
	}
}

func TestStateRecorderDirectRun(t *testing.T) {
	recorder, repo := newTestRecorder(t)
	ctx := context.Background()
	req := recorderRequest()

	require.NoError(t, recorder.RunStarted(ctx, req))

	run, err := repo.GetRun(ctx, req.RunID)
	require.NoError(t, err)
	assert.Equal(t, state.RunStatusRunning, run.Status)
	require.NotNil(t, run.StartedAt)

	started := time.Now()
	report := &Report{
		RunID:   req.RunID,
		Outcome: OutcomeSucceeded,
		Stages: []StageResult{
			{Stage: StageBuild, Status: StageStatusSucceeded, Detail: "sha256:abc123", StartedAt: started, FinishedAt: started.Add(time.Second)},
			{Stage: StagePublish, Status: StageStatusSucceeded, Detail: "123456789012.dkr.ecr.us-east-1.amazonaws.com/demo:2.0.0", StartedAt: started.Add(time.Second), FinishedAt: started.Add(2 * time.Second)},
		},
		Image: &registry.PublishedImage{
			URI:       "123456789012.dkr.ecr.us-east-1.amazonaws.com/demo:2.0.0",
			Registry:  registry.KindECR,
			AccountID: "123456789012",
		},
	}
	require.NoError(t, recorder.RunFinished(ctx, req, report))

	run, err = repo.GetRun(ctx, req.RunID)
	require.NoError(t, err)
	assert.Equal(t, state.RunStatusSucceeded, run.Status)
	require.NotNil(t, run.FinishedAt)
	require.Len(t, run.Stages, 2)
	assert.Equal(t, "build", run.Stages[0].Stage)
	require.NotNil(t, run.Image)
	assert.Equal(t, "123456789012", run.Image.AccountID)
	assert.Equal(t, "123456789012.dkr.ecr.us-east-1.amazonaws.com/demo:2.0.0", run.Image.Values()["IMAGE_URI"])
}

func TestStateRecorderQueuedRunTransition(t *testing.T) {
	recorder, repo := newTestRecorder(t)
	ctx := context.Background()
	req := recorderRequest()

	require.NoError(t, repo.CreateRun(ctx, &state.Run{
		ID:      req.RunID,
		AppName: req.AppName,
		Version: req.Version,
		Action:  string(req.Action),
		Status:  state.RunStatusQueued,
	}))

	require.NoError(t, recorder.RunStarted(ctx, req))

	run, err := repo.GetRun(ctx, req.RunID)
	require.NoError(t, err)
	assert.Equal(t, state.RunStatusRunning, run.Status)

	runs, err := repo.ListRuns(ctx, 10, 0)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestStateRecorderFailedRun(t *testing.T) {
	recorder, repo := newTestRecorder(t)
	ctx := context.Background()
	req := recorderRequest()

	require.NoError(t, recorder.RunStarted(ctx, req))

	started := time.Now()
	report := &Report{
		RunID:   req.RunID,
		Outcome: OutcomeFailed,
		Stages: []StageResult{
			{Stage: StageBuild, Status: StageStatusFailed, Detail: "exit 1", Output: "step 3 failed", StartedAt: started, FinishedAt: started.Add(time.Second)},
		},
		Err: &DeploymentError{Stage: StageBuild, Output: "step 3 failed", Err: assert.AnError},
	}
	require.NoError(t, recorder.RunFinished(ctx, req, report))

	run, err := repo.GetRun(ctx, req.RunID)
	require.NoError(t, err)
	assert.Equal(t, state.RunStatusFailed, run.Status)
	assert.Equal(t, "build", run.FailedStage)
	assert.Contains(t, run.ErrorMessage, "stage build")
	assert.NotContains(t, run.ErrorMessage, "step 3 failed")
	require.Len(t, run.Stages, 1)
	assert.Equal(t, "step 3 failed", run.Stages[0].Output)
	assert.Nil(t, run.Image)
}

func TestStateRecorderRejectedRunIsStillRecorded(t *testing.T) {
	recorder, repo := newTestRecorder(t)
	ctx := context.Background()
	req := recorderRequest()
	req.Action = "deploy"

	validation := req.Validate()
	require.Error(t, validation)

	now := time.Now()
	report := &Report{
		RunID:   req.RunID,
		Outcome: OutcomeFailed,
		Stages: []StageResult{
			{Stage: StageValidate, Status: StageStatusFailed, Detail: validation.Error(), StartedAt: now, FinishedAt: now},
		},
		Err: validation,
	}
	require.NoError(t, recorder.RunFinished(ctx, req, report))

	run, err := repo.GetRun(ctx, req.RunID)
	require.NoError(t, err)
	assert.Equal(t, state.RunStatusFailed, run.Status)
	assert.Contains(t, run.ErrorMessage, "action")
	require.NotNil(t, run.FinishedAt)
	assert.Nil(t, run.StartedAt)
}

func TestStateRecorderWarnings(t *testing.T) {
	recorder, repo := newTestRecorder(t)
	ctx := context.Background()
	req := recorderRequest()

	require.NoError(t, recorder.RunStarted(ctx, req))
	report := &Report{
		RunID:    req.RunID,
		Outcome:  OutcomeSucceededWithWarnings,
		Warnings: []string{"latest tag not updated: denied"},
	}
	require.NoError(t, recorder.RunFinished(ctx, req, report))

	run, err := repo.GetRun(ctx, req.RunID)
	require.NoError(t, err)
	assert.Equal(t, state.RunStatusSucceededWithWarnings, run.Status)
	assert.Equal(t, "latest tag not updated: denied", run.Warnings)
}
