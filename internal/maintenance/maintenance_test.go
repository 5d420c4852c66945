package maintenance

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/For-The-Greater-Good/pantry-pirate-radio-sub002/internal/metrics"
	"github.com/For-The-Greater-Good/pantry-pirate-radio-sub002/internal/queue"
)

func newTestBus(t *testing.T) *queue.Bus {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return queue.New(rdb, queue.Config{})
}

func TestReclaimExpired_RequeuesStaleLease(t *testing.T) {
	bus := newTestBus(t)
	ctx := context.Background()

	id, err := bus.Enqueue(ctx, "validate", queue.Job{Type: queue.JobTypeValidate}, 5)
	require.NoError(t, err)

	lease, err := bus.Dequeue(ctx, "validate", 10*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, id, lease.Job.ID)

	time.Sleep(20 * time.Millisecond)

	s, err := New(bus, metrics.New(), Config{Queues: []string{"validate"}}, zap.NewNop())
	require.NoError(t, err)

	s.reclaimExpired(ctx)

	n, err := bus.Length(ctx, "validate")
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

func TestSampleDepths_PopulatesRegistry(t *testing.T) {
	bus := newTestBus(t)
	ctx := context.Background()
	_, err := bus.Enqueue(ctx, "llm", queue.Job{Type: queue.JobTypeLLM}, 5)
	require.NoError(t, err)

	reg := metrics.New()
	s, err := New(bus, reg, Config{Queues: []string{"llm"}}, zap.NewNop())
	require.NoError(t, err)

	s.sampleDepths(ctx)

	require.Equal(t, float64(1), testutil.ToFloat64(reg.QueueDepth.WithLabelValues("llm")))
}

func TestRotateArchive_RemovesOnlyDirsOlderThanRetention(t *testing.T) {
	root := t.TempDir()
	dailyRoot := filepath.Join(root, "daily")
	require.NoError(t, os.MkdirAll(filepath.Join(dailyRoot, "2026-01-01"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dailyRoot, time.Now().UTC().Format("2006-01-02")), 0o755))

	bus := newTestBus(t)
	s, err := New(bus, metrics.New(), Config{
		ArchiveRoot:          root,
		ArchiveRetentionDays: 7,
	}, zap.NewNop())
	require.NoError(t, err)

	s.rotateArchive()

	_, err = os.Stat(filepath.Join(dailyRoot, "2026-01-01"))
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dailyRoot, time.Now().UTC().Format("2006-01-02")))
	require.NoError(t, err)
}
