// Package worker implements component I (spec §4.I): the runtime host
// shared by every stage. Each Worker binds one named queue to one
// processing function; the LLM, Validate, Reconcile and Record stages are
// all the same Worker with a different Processor plugged in.
//
// Grounded on the cooperative-concurrency model spec §5 describes — a
// single goroutine dequeues while a bounded pool of goroutines processes,
// standing in for "cooperative multitasking on an event loop" in Go terms:
// suspension points are wherever the Processor does network I/O, and the
// semaphore channel is the bound on concurrently in-flight jobs.
package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/For-The-Greater-Good/pantry-pirate-radio-sub002/internal/queue"
)

// Processor handles one job dequeued from a Worker's queue. A nil error and
// populated JobResult acks the lease; a returned error nacks it.
type Processor func(ctx context.Context, job queue.Job) (queue.JobResult, error)

// Config tunes a Worker's concurrency and shutdown behavior (spec §4.I,
// §6.5).
type Config struct {
	Queue             string
	Concurrency       int           // in-flight jobs per worker instance
	VisibilityTimeout time.Duration
	PollInterval      time.Duration // backoff between empty dequeues
	GracefulTimeout   time.Duration

	// Highwater, if > 0, throttles dequeues whenever HighwaterQueue's
	// ready length meets or exceeds it (spec §4.I backpressure).
	Highwater      int
	HighwaterQueue string
}

func (c *Config) setDefaults() {
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.VisibilityTimeout <= 0 {
		c.VisibilityTimeout = 60 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 250 * time.Millisecond
	}
	if c.GracefulTimeout <= 0 {
		c.GracefulTimeout = 30 * time.Second
	}
}

// Worker dequeues from one queue and dispatches to a Processor under a
// bounded concurrency pool.
type Worker struct {
	bus     *queue.Bus
	cfg     Config
	process Processor
	log     *zap.Logger
}

// New returns a Worker over bus, draining cfg.Queue into process.
func New(bus *queue.Bus, cfg Config, process Processor, log *zap.Logger) *Worker {
	cfg.setDefaults()
	return &Worker{bus: bus, cfg: cfg, process: process, log: log.With(zap.String("queue", cfg.Queue))}
}

// Run drains the queue until ctx is canceled. On cancellation it stops
// accepting new jobs, waits up to GracefulTimeout for in-flight Processor
// calls to finish, then returns — any lease still outstanding past that
// point is left for its visibility timeout to expire and redeliver
// (spec §4.I: "nacks remaining leases so they redeliver" — achieved here
// passively, since an abandoned lease's deadline already does this; any
// Processor call that returns before the grace period elapses still nacks
// explicitly on error).
func (w *Worker) Run(ctx context.Context) error {
	sem := make(chan struct{}, w.cfg.Concurrency)
	var wg sync.WaitGroup

	for {
		select {
		case <-ctx.Done():
			w.log.Info("worker: shutdown signal received, draining in-flight jobs")
			done := make(chan struct{})
			go func() {
				wg.Wait()
				close(done)
			}()
			select {
			case <-done:
			case <-time.After(w.cfg.GracefulTimeout):
				w.log.Warn("worker: graceful timeout elapsed with jobs still in flight")
			}
			return ctx.Err()
		default:
		}

		if w.backpressured(ctx) {
			time.Sleep(w.cfg.PollInterval)
			continue
		}

		lease, err := w.bus.Dequeue(ctx, w.cfg.Queue, w.cfg.VisibilityTimeout)
		if err != nil {
			if err == queue.ErrEmpty {
				time.Sleep(w.cfg.PollInterval)
				continue
			}
			w.log.Error("worker: dequeue failed", zap.Error(err))
			time.Sleep(w.cfg.PollInterval)
			continue
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			// Put the lease back immediately rather than let it sit until
			// its deadline, since we already know we are shutting down.
			_ = w.bus.Nack(ctx, lease, "worker shutting down")
			continue
		}

		wg.Add(1)
		go func(lease *queue.Lease) {
			defer wg.Done()
			defer func() { <-sem }()
			w.handle(ctx, lease)
		}(lease)
	}
}

func (w *Worker) backpressured(ctx context.Context) bool {
	if w.cfg.Highwater <= 0 || w.cfg.HighwaterQueue == "" {
		return false
	}
	n, err := w.bus.Length(ctx, w.cfg.HighwaterQueue)
	if err != nil {
		return false
	}
	return n >= int64(w.cfg.Highwater)
}

func (w *Worker) handle(ctx context.Context, lease *queue.Lease) {
	jobCtx := ctx
	var cancel context.CancelFunc
	if w.cfg.VisibilityTimeout > 0 {
		// Self-cancel before the lease deadline so a slow Processor nacks
		// instead of racing a silent redelivery (spec §5: "workers MUST
		// self-cancel and nack if they approach the deadline").
		margin := w.cfg.VisibilityTimeout / 10
		jobCtx, cancel = context.WithTimeout(ctx, w.cfg.VisibilityTimeout-margin)
		defer cancel()
	}

	result, err := w.process(jobCtx, lease.Job)
	if err != nil {
		w.log.Warn("worker: job failed", zap.String("job_id", lease.Job.ID), zap.Error(err))
		if nackErr := w.bus.Nack(ctx, lease, err.Error()); nackErr != nil {
			w.log.Error("worker: nack failed", zap.String("job_id", lease.Job.ID), zap.Error(nackErr))
		}
		return
	}

	if err := w.bus.Complete(ctx, w.cfg.Queue, result); err != nil {
		w.log.Error("worker: persist result failed", zap.String("job_id", lease.Job.ID), zap.Error(err))
	}
	if err := w.bus.Ack(ctx, lease); err != nil {
		w.log.Error("worker: ack failed", zap.String("job_id", lease.Job.ID), zap.Error(err))
	}
}
