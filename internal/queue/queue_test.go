package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return New(rdb, Config{MaxAttempts: 3, ResultTTL: time.Hour})
}

func TestEnqueueDequeueAck(t *testing.T) {
	b := newTestBus(t)
	ctx := context.Background()

	id, err := b.Enqueue(ctx, "llm", Job{Type: JobTypeLLM, Payload: json.RawMessage(`{"hash":"abc"}`)}, 5)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	lease, err := b.Dequeue(ctx, "llm", time.Minute)
	require.NoError(t, err)
	require.Equal(t, id, lease.Job.ID)

	require.NoError(t, b.Ack(ctx, lease))

	_, err = b.Dequeue(ctx, "llm", time.Minute)
	require.ErrorIs(t, err, ErrEmpty)
}

func TestPriorityOrdering(t *testing.T) {
	b := newTestBus(t)
	ctx := context.Background()

	lowID, err := b.Enqueue(ctx, "llm", Job{Type: JobTypeLLM}, 1)
	require.NoError(t, err)
	highID, err := b.Enqueue(ctx, "llm", Job{Type: JobTypeLLM}, 9)
	require.NoError(t, err)

	first, err := b.Dequeue(ctx, "llm", time.Minute)
	require.NoError(t, err)
	require.Equal(t, highID, first.Job.ID)

	second, err := b.Dequeue(ctx, "llm", time.Minute)
	require.NoError(t, err)
	require.Equal(t, lowID, second.Job.ID)
}

func TestNackMovesToDLQAfterMaxAttempts(t *testing.T) {
	b := newTestBus(t)
	ctx := context.Background()

	id, err := b.Enqueue(ctx, "llm", Job{Type: JobTypeLLM}, 5)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		lease, err := b.Dequeue(ctx, "llm", time.Minute)
		require.NoError(t, err)
		require.Equal(t, id, lease.Job.ID)
		require.NoError(t, b.Nack(ctx, lease, "boom"))
	}

	_, err = b.Dequeue(ctx, "llm", time.Minute)
	require.ErrorIs(t, err, ErrEmpty)

	dlqLen, err := b.DLQLength(ctx, "llm")
	require.NoError(t, err)
	require.EqualValues(t, 1, dlqLen)
}

func TestReclaimExpiredRedelivers(t *testing.T) {
	b := newTestBus(t)
	ctx := context.Background()

	id, err := b.Enqueue(ctx, "llm", Job{Type: JobTypeLLM}, 5)
	require.NoError(t, err)

	_, err = b.Dequeue(ctx, "llm", -time.Second) // already expired
	require.NoError(t, err)

	reclaimed, err := b.ReclaimExpired(ctx, "llm")
	require.NoError(t, err)
	require.Equal(t, 1, reclaimed)

	lease, err := b.Dequeue(ctx, "llm", time.Minute)
	require.NoError(t, err)
	require.Equal(t, id, lease.Job.ID)
}

func TestListDLQ_ReturnsEntriesOldestFirst(t *testing.T) {
	b := newTestBus(t)
	ctx := context.Background()

	for _, scraperID := range []string{"first", "second"} {
		id, err := b.Enqueue(ctx, "llm", Job{Type: JobTypeLLM, Metadata: Metadata{ScraperID: scraperID}}, 5)
		require.NoError(t, err)
		for i := 0; i < 3; i++ {
			lease, err := b.Dequeue(ctx, "llm", time.Minute)
			require.NoError(t, err)
			require.Equal(t, id, lease.Job.ID)
			require.NoError(t, b.Nack(ctx, lease, "boom"))
		}
	}

	entries, err := b.ListDLQ(ctx, "llm", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "first", entries[0].Job.Metadata.ScraperID)
	require.Equal(t, "second", entries[1].Job.Metadata.ScraperID)
}

func TestRequeueOldestDLQ_ResetsAttemptsAndReturnsToReady(t *testing.T) {
	b := newTestBus(t)
	ctx := context.Background()

	id, err := b.Enqueue(ctx, "llm", Job{Type: JobTypeLLM}, 5)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		lease, err := b.Dequeue(ctx, "llm", time.Minute)
		require.NoError(t, err)
		require.NoError(t, b.Nack(ctx, lease, "boom"))
	}

	ok, err := b.RequeueOldestDLQ(ctx, "llm")
	require.NoError(t, err)
	require.True(t, ok)

	dlqLen, err := b.DLQLength(ctx, "llm")
	require.NoError(t, err)
	require.EqualValues(t, 0, dlqLen)

	lease, err := b.Dequeue(ctx, "llm", time.Minute)
	require.NoError(t, err)
	require.Equal(t, id, lease.Job.ID)
	require.Equal(t, 0, lease.Job.Metadata.Attempts)
}

func TestRequeueOldestDLQ_EmptyReturnsFalse(t *testing.T) {
	b := newTestBus(t)
	ok, err := b.RequeueOldestDLQ(context.Background(), "llm")
	require.NoError(t, err)
	require.False(t, ok)
}
