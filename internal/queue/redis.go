package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// runQueueKey is the Redis list holding pending runs in FIFO order.
const runQueueKey = "queue:" + QueueRuns

// RedisQueue implements a run queue using Redis
type RedisQueue struct {
	client *redis.Client
}

// NewRedisQueue creates a new Redis-based run queue
func NewRedisQueue(addr, password string, db int) (*RedisQueue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	log.Info().
		Str("addr", addr).
		Int("db", db).
		Msg("Redis queue connected successfully")

	return &RedisQueue{client: client}, nil
}

// Enqueue adds a run to the back of the queue
func (q *RedisQueue) Enqueue(ctx context.Context, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	// Push to the end of the list (FIFO)
	if err := q.client.RPush(ctx, runQueueKey, data).Err(); err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}

	log.Info().
		Str("runID", job.ID).
		Str("app", job.Request.AppName).
		Str("action", string(job.Request.Action)).
		Msg("Run enqueued")

	return nil
}

// Dequeue retrieves and removes the oldest run from the queue (blocking)
func (q *RedisQueue) Dequeue(ctx context.Context, timeout time.Duration) (*Job, error) {
	// Blocking pop from the queue (BLPOP)
	result, err := q.client.BLPop(ctx, timeout, runQueueKey).Result()
	if err != nil {
		if err == redis.Nil {
			// No run available within timeout - this is normal
			return nil, nil
		}
		return nil, fmt.Errorf("failed to dequeue job: %w", err)
	}

	// BLPOP returns [key, value]
	if len(result) < 2 {
		return nil, fmt.Errorf("unexpected redis response: %v", result)
	}

	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	if job.Request == nil {
		return nil, fmt.Errorf("job %s has no request payload", job.ID)
	}

	log.Debug().
		Str("runID", job.ID).
		Str("app", job.Request.AppName).
		Msg("Run dequeued")

	return &job, nil
}

// MarkProcessing marks a run as being processed (for tracking)
func (q *RedisQueue) MarkProcessing(ctx context.Context, runID string) error {
	key := fmt.Sprintf("run:processing:%s", runID)
	timestamp := time.Now().Unix()

	// Set with 1-hour expiration (TTL)
	if err := q.client.Set(ctx, key, timestamp, 1*time.Hour).Err(); err != nil {
		return fmt.Errorf("failed to mark run as processing: %w", err)
	}

	return nil
}

// MarkComplete removes the processing marker for a run
func (q *RedisQueue) MarkComplete(ctx context.Context, runID string) error {
	key := fmt.Sprintf("run:processing:%s", runID)

	if err := q.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to mark run as complete: %w", err)
	}

	return nil
}

// GetProcessingRuns retrieves the IDs of all runs currently being processed
func (q *RedisQueue) GetProcessingRuns(ctx context.Context) ([]string, error) {
	pattern := "run:processing:*"

	keys, err := q.client.Keys(ctx, pattern).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get processing runs: %w", err)
	}

	// Extract run IDs from keys
	runIDs := make([]string, 0, len(keys))
	for _, key := range keys {
		// Remove "run:processing:" prefix
		runID := key[len("run:processing:"):]
		runIDs = append(runIDs, runID)
	}

	return runIDs, nil
}

// GetQueueLength returns the number of runs waiting in the queue
func (q *RedisQueue) GetQueueLength(ctx context.Context) (int64, error) {
	length, err := q.client.LLen(ctx, runQueueKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get queue length: %w", err)
	}

	return length, nil
}

// Close closes the Redis connection
func (q *RedisQueue) Close() error {
	if err := q.client.Close(); err != nil {
		return fmt.Errorf("failed to close redis connection: %w", err)
	}

	log.Info().Msg("Redis queue connection closed")
	return nil
}

// Ping checks if the Redis connection is alive
func (q *RedisQueue) Ping(ctx context.Context) error {
	if err := q.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}

	return nil
}
