// Package queue implements component B (spec §4.B): named Redis-backed
// priority job queues with lease/ack/nack/DLQ semantics. Grounded on the
// QueueBackend/DequeueOptions/BackendStats/HealthStatus shape from
// other_examples/9e590ae5_flyingrobots-go-redis-work-queue, simplified to
// the single-backend (Redis) case this pipeline needs, and on
// github.com/redis/go-redis/v9 per that example's manifest.
//
// A priority queue is a Redis sorted set: score encodes (9-priority) in the
// high bits and enqueue time in the low bits, so ZPOPMIN always returns the
// highest-priority, oldest-enqueued job first (spec §4.B: "Higher priority
// is dequeued first; FIFO within priority"). A dequeued job moves to a
// per-queue "processing" sorted set scored by lease deadline; Reclaim
// sweeps it back onto the queue after the deadline passes unacked
// (spec §4.B failure semantics: crash between work and ack redelivers
// after visibility_timeout).
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// JobType enumerates the stage a job targets (spec §3.1).
type JobType string

const (
	JobTypeLLM        JobType = "LLM"
	JobTypeValidate   JobType = "VALIDATE"
	JobTypeReconcile  JobType = "RECONCILE"
	JobTypeRecord     JobType = "RECORD"
)

// Metadata carries the scraper/priority provenance of a job (spec §3.1).
type Metadata struct {
	ScraperID string    `json:"scraper_id"`
	SourceURL string    `json:"source_url,omitempty"`
	Priority  int       `json:"priority"`
	Attempts  int       `json:"attempts"`
	CreatedAt time.Time `json:"created_at"`
}

// Job is the unit of work moving between queues (spec §3.1, §6.2).
type Job struct {
	ID       string          `json:"job_id"`
	Type     JobType         `json:"type"`
	Payload  json.RawMessage `json:"payload"`
	Metadata Metadata        `json:"metadata"`
	ParentID string          `json:"parent_id,omitempty"`
}

// JobResult is attached to a job on completion (spec §3.1).
type JobResult struct {
	JobID       string          `json:"job_id"`
	Status      string          `json:"status"` // SUCCEEDED, FAILED, REJECTED
	Output      json.RawMessage `json:"output,omitempty"`
	Error       string          `json:"error,omitempty"`
	ProducedAt  time.Time       `json:"produced_at"`
	LatencyMS   int64           `json:"latency_ms"`
	Provider    string          `json:"provider,omitempty"`
	Confidence  *float64        `json:"confidence,omitempty"`
}

// Lease is the exclusive hold on a dequeued job (spec §4.B).
type Lease struct {
	Job      Job
	Queue    string
	Deadline time.Time
}

var (
	// ErrEmpty is returned by Dequeue when the queue has no ready jobs.
	ErrEmpty = errors.New("queue: empty")
	// ErrLeaseNotFound is returned by Ack/Nack for an already-acked or
	// expired lease.
	ErrLeaseNotFound = errors.New("queue: lease not found")
)

// Config bounds queue lifecycle behavior (spec §6.5).
type Config struct {
	MaxAttempts int           // default 3
	ResultTTL   time.Duration // default 30 days
}

// Bus is the component B handle: one Redis connection fronting every named
// queue plus its DLQ.
type Bus struct {
	rdb *redis.Client
	cfg Config
}

// New returns a Bus over rdb. Zero-value Config fields are defaulted.
func New(rdb *redis.Client, cfg Config) *Bus {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 30 * 24 * time.Hour
	}
	return &Bus{rdb: rdb, cfg: cfg}
}

func readyKey(queue string) string      { return "queue:" + queue + ":ready" }
func processingKey(queue string) string { return "queue:" + queue + ":processing" }
func dlqKey(queue string) string        { return "queue:" + queue + ":dlq" }
func jobKey(queue, id string) string    { return "queue:" + queue + ":job:" + id }
func resultKey(queue, id string) string { return "queue:" + queue + ":result:" + id }

// score encodes priority (descending, higher priority first) in the high
// bits and enqueue time in Unix milliseconds (ascending, FIFO) in the low
// bits.
func score(priority int, enqueuedAt time.Time) float64 {
	const bucket = 1e15
	return float64(9-priority)*bucket + float64(enqueuedAt.UnixMilli())
}

// Enqueue places job onto queue at the given priority (0..9, higher first)
// and returns its job ID (spec §4.B).
func (b *Bus) Enqueue(ctx context.Context, queue string, job Job, priority int) (string, error) {
	if job.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return "", fmt.Errorf("queue: generate job id: %w", err)
		}
		job.ID = id.String()
	}
	if job.Metadata.CreatedAt.IsZero() {
		job.Metadata.CreatedAt = time.Now().UTC()
	}
	job.Metadata.Priority = priority

	encoded, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("queue: marshal job: %w", err)
	}

	pipe := b.rdb.TxPipeline()
	pipe.Set(ctx, jobKey(queue, job.ID), encoded, 0)
	pipe.ZAdd(ctx, readyKey(queue), redis.Z{Score: score(priority, job.Metadata.CreatedAt), Member: job.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("queue: enqueue: %w", err)
	}
	return job.ID, nil
}

// Dequeue pops the highest-priority, oldest job from queue and leases it
// exclusively for visibilityTimeout (spec §4.B). Returns ErrEmpty if no job
// is ready.
func (b *Bus) Dequeue(ctx context.Context, queue string, visibilityTimeout time.Duration) (*Lease, error) {
	results, err := b.rdb.ZPopMin(ctx, readyKey(queue), 1).Result()
	if err != nil {
		return nil, fmt.Errorf("queue: dequeue: %w", err)
	}
	if len(results) == 0 {
		return nil, ErrEmpty
	}
	id, _ := results[0].Member.(string)

	raw, err := b.rdb.Get(ctx, jobKey(queue, id)).Bytes()
	if err != nil {
		return nil, fmt.Errorf("queue: dequeue: load job %s: %w", id, err)
	}
	var job Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, fmt.Errorf("queue: dequeue: decode job %s: %w", id, err)
	}

	deadline := time.Now().Add(visibilityTimeout)
	if err := b.rdb.ZAdd(ctx, processingKey(queue), redis.Z{Score: float64(deadline.UnixNano()), Member: id}).Err(); err != nil {
		return nil, fmt.Errorf("queue: dequeue: lease %s: %w", id, err)
	}

	return &Lease{Job: job, Queue: queue, Deadline: deadline}, nil
}

// Ack removes the lease and its job record — the job will never be
// redelivered (spec §4.B).
func (b *Bus) Ack(ctx context.Context, lease *Lease) error {
	removed, err := b.rdb.ZRem(ctx, processingKey(lease.Queue), lease.Job.ID).Result()
	if err != nil {
		return fmt.Errorf("queue: ack: %w", err)
	}
	if removed == 0 {
		return ErrLeaseNotFound
	}
	if err := b.rdb.Del(ctx, jobKey(lease.Queue, lease.Job.ID)).Err(); err != nil {
		return fmt.Errorf("queue: ack: cleanup job record: %w", err)
	}
	return nil
}

// Nack returns the job to the queue with attempts incremented; after
// MaxAttempts it moves to the DLQ instead (spec §4.B).
func (b *Bus) Nack(ctx context.Context, lease *Lease, reason string) error {
	removed, err := b.rdb.ZRem(ctx, processingKey(lease.Queue), lease.Job.ID).Result()
	if err != nil {
		return fmt.Errorf("queue: nack: %w", err)
	}
	if removed == 0 {
		return ErrLeaseNotFound
	}

	job := lease.Job
	job.Metadata.Attempts++

	if job.Metadata.Attempts >= b.cfg.MaxAttempts {
		return b.moveToDLQ(ctx, lease.Queue, job, reason)
	}

	encoded, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("queue: nack: marshal job: %w", err)
	}
	pipe := b.rdb.TxPipeline()
	pipe.Set(ctx, jobKey(lease.Queue, job.ID), encoded, 0)
	pipe.ZAdd(ctx, readyKey(lease.Queue), redis.Z{Score: score(job.Metadata.Priority, time.Now()), Member: job.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue: nack: requeue: %w", err)
	}
	return nil
}

func (b *Bus) moveToDLQ(ctx context.Context, queue string, job Job, reason string) error {
	entry := struct {
		Job    Job    `json:"job"`
		Reason string `json:"reason"`
		At     time.Time `json:"at"`
	}{Job: job, Reason: reason, At: time.Now().UTC()}

	encoded, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("queue: move to dlq: marshal: %w", err)
	}
	pipe := b.rdb.TxPipeline()
	pipe.LPush(ctx, dlqKey(queue), encoded)
	pipe.Del(ctx, jobKey(queue, job.ID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue: move to dlq: %w", err)
	}
	return nil
}

// Complete persists result with the configured result TTL (spec §4.B).
func (b *Bus) Complete(ctx context.Context, queue string, result JobResult) error {
	encoded, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("queue: complete: marshal: %w", err)
	}
	if err := b.rdb.Set(ctx, resultKey(queue, result.JobID), encoded, b.cfg.ResultTTL).Err(); err != nil {
		return fmt.Errorf("queue: complete: %w", err)
	}
	return nil
}

// Length reports the number of ready jobs on queue, used for backpressure
// decisions against queue_highwater (spec §4.I).
func (b *Bus) Length(ctx context.Context, queue string) (int64, error) {
	n, err := b.rdb.ZCard(ctx, readyKey(queue)).Result()
	if err != nil {
		return 0, fmt.Errorf("queue: length: %w", err)
	}
	return n, nil
}

// ReclaimExpired requeues any leases whose visibility deadline has passed
// without an ack — the redelivery half of spec §4.B's crash-recovery
// guarantee. Intended to be run periodically by the maintenance sweep.
func (b *Bus) ReclaimExpired(ctx context.Context, queue string) (int, error) {
	now := float64(time.Now().UnixNano())
	expired, err := b.rdb.ZRangeByScore(ctx, processingKey(queue), &redis.ZRangeBy{Min: "-inf", Max: fmt.Sprintf("%f", now)}).Result()
	if err != nil {
		return 0, fmt.Errorf("queue: reclaim: %w", err)
	}

	reclaimed := 0
	for _, id := range expired {
		raw, err := b.rdb.Get(ctx, jobKey(queue, id)).Bytes()
		if err != nil {
			// Job record is gone (already acked elsewhere); drop the stale lease.
			b.rdb.ZRem(ctx, processingKey(queue), id)
			continue
		}
		var job Job
		if err := json.Unmarshal(raw, &job); err != nil {
			continue
		}
		pipe := b.rdb.TxPipeline()
		pipe.ZRem(ctx, processingKey(queue), id)
		pipe.ZAdd(ctx, readyKey(queue), redis.Z{Score: score(job.Metadata.Priority, time.Now()), Member: id})
		if _, err := pipe.Exec(ctx); err != nil {
			continue
		}
		reclaimed++
	}
	return reclaimed, nil
}

// DLQLength reports the number of entries on queue's DLQ (spec §7: DLQ
// depth is how errors become observable).
func (b *Bus) DLQLength(ctx context.Context, queue string) (int64, error) {
	n, err := b.rdb.LLen(ctx, dlqKey(queue)).Result()
	if err != nil {
		return 0, fmt.Errorf("queue: dlq length: %w", err)
	}
	return n, nil
}

// DLQEntry is one dead-lettered job, as recorded by moveToDLQ.
type DLQEntry struct {
	Job    Job       `json:"job"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// ListDLQ returns up to limit entries from queue's DLQ, oldest first, for
// operator inspection (the "dlq list" CLI command).
func (b *Bus) ListDLQ(ctx context.Context, queue string, limit int64) ([]DLQEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	// LPush writes newest at the head, so the oldest entries sit at the
	// tail; read from there backwards to present FIFO order.
	raw, err := b.rdb.LRange(ctx, dlqKey(queue), -limit, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("queue: list dlq: %w", err)
	}
	entries := make([]DLQEntry, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var e DLQEntry
		if err := json.Unmarshal([]byte(raw[i]), &e); err != nil {
			return nil, fmt.Errorf("queue: list dlq: decode entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// RequeueOldestDLQ pops the oldest DLQ entry for queue and re-enqueues it
// at its original priority with attempts reset to zero (operator-initiated
// recovery — the "dlq requeue" CLI command). Returns false if the DLQ is
// empty.
func (b *Bus) RequeueOldestDLQ(ctx context.Context, queue string) (bool, error) {
	raw, err := b.rdb.RPop(ctx, dlqKey(queue)).Result()
	if err != nil {
		if err == redis.Nil {
			return false, nil
		}
		return false, fmt.Errorf("queue: requeue dlq: %w", err)
	}
	var entry DLQEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return false, fmt.Errorf("queue: requeue dlq: decode entry: %w", err)
	}

	job := entry.Job
	job.Metadata.Attempts = 0
	if _, err := b.Enqueue(ctx, queue, job, job.Metadata.Priority); err != nil {
		return false, fmt.Errorf("queue: requeue dlq: %w", err)
	}
	return true, nil
}
