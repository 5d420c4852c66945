package geocode

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeProvider struct {
	name      string
	result    Result
	err       error
	callCount int
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Geocode(ctx context.Context, address string) (Result, error) {
	f.callCount++
	if f.err != nil {
		return Result{}, f.err
	}
	return f.result, nil
}

func (f *fakeProvider) Reverse(ctx context.Context, lat, lon float64) (Result, error) {
	f.callCount++
	if f.err != nil {
		return Result{}, f.err
	}
	return f.result, nil
}

func newTestSet(t *testing.T, providers []Provider) *Set {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cfgs := make([]ProviderConfig, len(providers))
	for i := range cfgs {
		cfgs[i] = ProviderConfig{
			Timeout:          time.Second,
			MaxAttempts:      1,
			RateLimitQPS:     100,
			BreakerThreshold: 2,
			BreakerCooldown:  50 * time.Millisecond,
		}
	}
	return New(providers, cfgs, rdb, time.Hour, zap.NewNop())
}

func TestGeocode_FallbackToSecondProvider(t *testing.T) {
	p1 := &fakeProvider{name: "p1", err: ErrUnavailable}
	p2 := &fakeProvider{name: "p2", result: Result{Latitude: 37.7917, Longitude: -122.3978, Source: "p2"}}

	set := newTestSet(t, []Provider{p1, p2})
	result, err := set.Geocode(context.Background(), "250 Market St, San Francisco, CA")
	require.NoError(t, err)
	require.Equal(t, "p2", result.Source)
	require.Equal(t, 1, p1.callCount)
	require.Equal(t, 1, p2.callCount)
}

func TestGeocode_CacheHitSkipsProvider(t *testing.T) {
	p1 := &fakeProvider{name: "p1", result: Result{Latitude: 1, Longitude: 2, Source: "p1"}}
	set := newTestSet(t, []Provider{p1})

	first, err := set.Geocode(context.Background(), "addr")
	require.NoError(t, err)
	require.Equal(t, 1, p1.callCount)

	second, err := set.Geocode(context.Background(), "addr")
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, 1, p1.callCount, "cache hit must not touch the provider")
}

func TestGeocode_NotFoundDoesNotRetryAndAdvances(t *testing.T) {
	p1 := &fakeProvider{name: "p1", err: ErrNotFound}
	p2 := &fakeProvider{name: "p2", result: Result{Latitude: 1, Longitude: 2}}

	set := newTestSet(t, []Provider{p1, p2})
	result, err := set.Geocode(context.Background(), "nowhere")
	require.NoError(t, err)
	require.Equal(t, 1.0, result.Latitude)
	require.Equal(t, 1, p1.callCount, "not-found must not be retried")
	require.Equal(t, 1, p2.callCount, "not-found must advance to the next provider")
}

func TestGeocode_AllProvidersExhausted(t *testing.T) {
	p1 := &fakeProvider{name: "p1", err: ErrUnavailable}
	p2 := &fakeProvider{name: "p2", err: ErrUnavailable}

	set := newTestSet(t, []Provider{p1, p2})
	_, err := set.Geocode(context.Background(), "addr")
	require.ErrorIs(t, err, ErrNotGeocoded)
}
