//go:build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/alvesdmateus/deploy-engine/internal/api"
	"github.com/alvesdmateus/deploy-engine/internal/observability"
	"github.com/alvesdmateus/deploy-engine/internal/orchestrator"
	"github.com/alvesdmateus/deploy-engine/internal/pipeline"
	"github.com/alvesdmateus/deploy-engine/internal/queue"
	"github.com/alvesdmateus/deploy-engine/internal/state"
	"github.com/alvesdmateus/deploy-engine/pkg/database"
)

// Integration tests exercise the queue and the API against a real Redis.
// They skip when Redis is unreachable. Point them at another instance with
// INTEGRATION_REDIS_ADDR; they use database 15 to stay clear of development
// data.

const redisTestDB = 15

func redisAddr() string {
	if addr := os.Getenv("INTEGRATION_REDIS_ADDR"); addr != "" {
		return addr
	}
	return "localhost:6379"
}

// requireRedis connects to the test Redis or skips the test. The run queue
// is drained so earlier failures cannot leak into this test.
func requireRedis(t *testing.T) *queue.RedisQueue {
	t.Helper()

	q, err := queue.NewRedisQueue(redisAddr(), os.Getenv("INTEGRATION_REDIS_PASSWORD"), redisTestDB)
	if err != nil {
		t.Skipf("Redis not available at %s: %v", redisAddr(), err)
	}
	t.Cleanup(func() { q.Close() })

	drainQueue(t, q)
	return q
}

func drainQueue(t *testing.T, q *queue.RedisQueue) {
	t.Helper()

	ctx := context.Background()
	for {
		job, err := q.Dequeue(ctx, 100*time.Millisecond)
		if err != nil || job == nil {
			return
		}
	}
}

func testMetrics(t *testing.T) *observability.Metrics {
	t.Helper()

	reg := prometheus.NewRegistry()
	prometheus.DefaultRegisterer = reg
	prometheus.DefaultGatherer = reg
	return observability.NewMetrics("test_integration")
}

// TestEnvironment holds the API server with its real queue and record store.
type TestEnvironment struct {
	Server *httptest.Server
	Queue  *queue.RedisQueue
	Repo   *state.Repository
	Engine *orchestrator.Engine
	t      *testing.T
}

// SetupTestEnvironment builds a server on top of a real Redis queue and a
// throwaway sqlite record store.
func SetupTestEnvironment(t *testing.T) *TestEnvironment {
	t.Helper()

	q := requireRedis(t)

	db, err := database.New(database.Config{Path: filepath.Join(t.TempDir(), "state.db")})
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { database.Close(db) })

	if err := state.AutoMigrate(db); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	repo := state.NewRepository(db)
	engine := orchestrator.NewEngine(q, repo, zerolog.Nop())

	server := api.NewServer(api.ServerOptions{
		DB:        db,
		Engine:    engine,
		Queue:     q,
		RateLimit: api.RateLimitConfig{Enabled: false},
	})

	testServer := httptest.NewServer(server.Handler())
	t.Cleanup(testServer.Close)

	return &TestEnvironment{
		Server: testServer,
		Queue:  q,
		Repo:   repo,
		Engine: engine,
		t:      t,
	}
}

// MakeRequest makes an HTTP request to the test server
func (e *TestEnvironment) MakeRequest(method, path string, body interface{}) *http.Response {
	e.t.Helper()

	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			e.t.Fatalf("Failed to marshal request body: %v", err)
		}
		reqBody = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequest(method, e.Server.URL+path, reqBody)
	if err != nil {
		e.t.Fatalf("Failed to create request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		e.t.Fatalf("Failed to make request: %v", err)
	}
	return resp
}

// GET makes a GET request
func (e *TestEnvironment) GET(path string) *http.Response {
	return e.MakeRequest(http.MethodGet, path, nil)
}

// POST makes a POST request
func (e *TestEnvironment) POST(path string, body interface{}) *http.Response {
	return e.MakeRequest(http.MethodPost, path, body)
}

// DecodeJSON decodes the response body into v and closes it.
func (e *TestEnvironment) DecodeJSON(resp *http.Response, v interface{}) {
	e.t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		e.t.Fatalf("Failed to decode response body: %v", err)
	}
}

// waitForRunStatus polls the repository until the run reaches the wanted
// status or the deadline expires.
func (e *TestEnvironment) waitForRunStatus(runID string, status string, timeout time.Duration) *state.Run {
	e.t.Helper()

	ctx := context.Background()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		run, err := e.Repo.GetRun(ctx, uuidMustParse(e.t, runID))
		if err == nil && run.Status == status {
			return run
		}
		time.Sleep(50 * time.Millisecond)
	}
	e.t.Fatalf("Run %s did not reach status %s within %s", runID, status, timeout)
	return nil
}

func uuidMustParse(t *testing.T, s string) uuid.UUID {
	t.Helper()
	id, err := uuid.Parse(s)
	if err != nil {
		t.Fatalf("Invalid UUID %q: %v", s, err)
	}
	return id
}

// recordingRunner stands in for the pipeline: it writes the run lifecycle
// through the real recorder without building or provisioning anything.
type recordingRunner struct {
	recorder pipeline.Recorder
}

func (r *recordingRunner) Run(ctx context.Context, req *pipeline.Request) (*pipeline.Report, error) {
	if err := r.recorder.RunStarted(ctx, req); err != nil {
		return nil, err
	}

	now := time.Now()
	report := &pipeline.Report{
		RunID:   req.RunID,
		Outcome: pipeline.OutcomeSucceeded,
		Stages: []pipeline.StageResult{
			{Stage: pipeline.StageValidate, Status: pipeline.StageStatusSucceeded, StartedAt: now, FinishedAt: now},
		},
	}
	if err := r.recorder.RunFinished(ctx, req, report); err != nil {
		return nil, err
	}
	return report, nil
}

func orchestratorWorker(t *testing.T, env *TestEnvironment) *orchestrator.Worker {
	t.Helper()

	runner := &recordingRunner{recorder: pipeline.NewStateRecorder(env.Repo)}
	return orchestrator.NewWorker(env.Engine, runner, testMetrics(t), 1, time.Minute, zerolog.Nop())
}
