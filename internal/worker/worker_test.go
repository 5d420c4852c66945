package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/For-The-Greater-Good/pantry-pirate-radio-sub002/internal/queue"
)

func newTestBus(t *testing.T) *queue.Bus {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return queue.New(rdb, queue.Config{})
}

func TestWorker_ProcessesAndAcksJob(t *testing.T) {
	bus := newTestBus(t)
	ctx, cancel := context.WithCancel(context.Background())

	var processed int32
	proc := func(ctx context.Context, job queue.Job) (queue.JobResult, error) {
		atomic.AddInt32(&processed, 1)
		cancel() // stop the worker loop once the one job is handled
		return queue.JobResult{JobID: job.ID, Status: "SUCCEEDED"}, nil
	}

	_, err := bus.Enqueue(context.Background(), "validate", queue.Job{Type: queue.JobTypeValidate}, 5)
	require.NoError(t, err)

	w := New(bus, Config{Queue: "validate", Concurrency: 2, PollInterval: 5 * time.Millisecond}, proc, zap.NewNop())
	_ = w.Run(ctx)

	require.Eventually(t, func() bool { return atomic.LoadInt32(&processed) == 1 }, time.Second, 5*time.Millisecond)
}

func TestWorker_NacksOnProcessorError(t *testing.T) {
	bus := newTestBus(t)
	ctx, cancel := context.WithCancel(context.Background())

	var attempts int32
	proc := func(ctx context.Context, job queue.Job) (queue.JobResult, error) {
		n := atomic.AddInt32(&attempts, 1)
		if n >= 2 {
			cancel()
		}
		return queue.JobResult{}, assertError{}
	}

	_, err := bus.Enqueue(context.Background(), "validate", queue.Job{Type: queue.JobTypeValidate}, 5)
	require.NoError(t, err)

	w := New(bus, Config{Queue: "validate", Concurrency: 1, PollInterval: 5 * time.Millisecond}, proc, zap.NewNop())
	_ = w.Run(ctx)

	require.GreaterOrEqual(t, int(atomic.LoadInt32(&attempts)), 2)
}

func TestWorker_BackpressureSkipsDequeueWhenDownstreamFull(t *testing.T) {
	bus := newTestBus(t)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	// Fill the downstream queue past the highwater mark.
	for i := 0; i < 3; i++ {
		_, err := bus.Enqueue(context.Background(), "reconcile", queue.Job{Type: queue.JobTypeReconcile}, 5)
		require.NoError(t, err)
	}
	_, err := bus.Enqueue(context.Background(), "validate", queue.Job{Type: queue.JobTypeValidate}, 5)
	require.NoError(t, err)

	var processed int32
	proc := func(ctx context.Context, job queue.Job) (queue.JobResult, error) {
		atomic.AddInt32(&processed, 1)
		return queue.JobResult{JobID: job.ID, Status: "SUCCEEDED"}, nil
	}

	w := New(bus, Config{
		Queue:          "validate",
		Concurrency:    1,
		PollInterval:   5 * time.Millisecond,
		Highwater:      2,
		HighwaterQueue: "reconcile",
	}, proc, zap.NewNop())
	_ = w.Run(ctx)

	require.Equal(t, int32(0), atomic.LoadInt32(&processed))
}

type assertError struct{}

func (assertError) Error() string { return "processor failed" }
