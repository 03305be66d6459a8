package queue

import (
	"time"

	"github.com/alvesdmateus/deploy-engine/internal/pipeline"
)

// QueueRuns is the name of the queue holding pending deployment runs.
// Workers of every replica drain the same queue.
const QueueRuns = "runs"

// Job represents a queued deployment run awaiting a worker.
//
// The job ID matches the run ID so queue markers and run records line up.
// The request travels whole; it carries credential references, never
// credential values, so serializing it into Redis is safe.
type Job struct {
	ID         string            `json:"id"`
	Request    *pipeline.Request `json:"request"`
	EnqueuedAt time.Time         `json:"enqueued_at"`
}
