// Package geocode implements component C (spec §4.C): an ordered fallback
// chain of named geocoding providers, each guarded by a rate limiter and a
// circuit breaker, backed by a shared Redis result cache.
//
// Per-provider resilience is grounded in the wider example pack rather than
// the teacher, which has no geocoding analog: github.com/sony/gobreaker for
// the circuit breaker (direct dependency in
// other_examples/manifests/jordigilh-kubernaut and
// other_examples/manifests/nmxmxh-master-ovasabi), golang.org/x/time/rate
// for per-provider QPS limiting (direct dependency in
// _examples/GoogleCloudPlatform-prometheus-engine), and
// github.com/cenkalti/backoff/v4 for jittered retry, replacing the
// hand-rolled backoff constants in
// _examples/arkeep-io-arkeep/agent/internal/connection/manager.go with the
// library equivalent.
package geocode

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Result is a successful geocode or reverse-geocode outcome (spec §4.C).
type Result struct {
	Latitude   float64           `json:"lat"`
	Longitude  float64           `json:"lon"`
	Source     string            `json:"source"`
	Address    string            `json:"address,omitempty"`
	Components map[string]string `json:"components,omitempty"`
}

// Sentinel outcomes (spec §4.C). NotFound does not retry within a provider;
// Unavailable is a transient/circuit-open condition. Both advance to the
// next provider; NotFound is returned only when every provider reported it.
var (
	ErrNotFound    = errors.New("geocode: not found")
	ErrUnavailable = errors.New("geocode: provider unavailable")
	ErrNotGeocoded = errors.New("geocode: exhausted all providers")
)

// Provider is the raw, unwrapped geocoding backend for one named service.
// Implementations return ErrNotFound for a definitive miss and any other
// error for a transient/infrastructure fault.
type Provider interface {
	Name() string
	Geocode(ctx context.Context, address string) (Result, error)
	Reverse(ctx context.Context, lat, lon float64) (Result, error)
}

// ProviderConfig configures resilience around one Provider (spec §4.C, §6.5).
type ProviderConfig struct {
	Timeout          time.Duration
	MaxAttempts      int
	RateLimitQPS     float64
	BreakerThreshold uint32
	BreakerCooldown  time.Duration
}

// Counters tracks the observability counters spec §4.C requires per
// provider; exported fields are read by internal/metrics.
type Counters struct {
	Attempts     int64
	Successes    int64
	Failures     int64
	CacheHits    int64
	BreakerTrips int64
}

type wrapped struct {
	provider Provider
	cfg      ProviderConfig
	limiter  *rate.Limiter
	breaker  *gobreaker.CircuitBreaker
	counters *Counters
}

func newWrapped(p Provider, cfg ProviderConfig) *wrapped {
	counters := &Counters{}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        p.Name(),
		MaxRequests: 1,
		Interval:    0,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				counters.BreakerTrips++
			}
		},
	})
	return &wrapped{
		provider: p,
		cfg:      cfg,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RateLimitQPS), 1),
		breaker:  cb,
		counters: counters,
	}
}

// call invokes op through the rate limiter, circuit breaker, and a bounded
// jittered retry loop (spec §4.C algorithm). ErrNotFound short-circuits the
// retry loop — "on not found do NOT retry; advance to the next provider."
func (w *wrapped) call(ctx context.Context, op func(ctx context.Context) (Result, error)) (Result, error) {
	if err := w.limiter.Wait(ctx); err != nil {
		return Result{}, fmt.Errorf("%w: rate limiter: %v", ErrUnavailable, err)
	}

	var result Result
	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(w.cfg.MaxAttempts-1))
	bo = backoff.WithContext(bo, ctx)

	operation := func() error {
		w.counters.Attempts++
		callCtx, cancel := context.WithTimeout(ctx, w.cfg.Timeout)
		defer cancel()

		out, err := w.breaker.Execute(func() (interface{}, error) {
			return op(callCtx)
		})
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return backoff.Permanent(err)
			}
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(ErrUnavailable)
			}
			w.counters.Failures++
			return err
		}
		result = out.(Result)
		return nil
	}

	if err := backoff.Retry(operation, bo); err != nil {
		return Result{}, err
	}
	w.counters.Successes++
	return result, nil
}

// Set is the component C handle: an ordered fallback chain of providers
// plus a shared Redis cache.
type Set struct {
	providers []*wrapped
	rdb       *redis.Client
	cacheTTL  time.Duration
	log       *zap.Logger
}

// New returns a Set invoking providers in order, each resilience-wrapped
// per cfgs (indexed the same as providers).
func New(providers []Provider, cfgs []ProviderConfig, rdb *redis.Client, cacheTTL time.Duration, log *zap.Logger) *Set {
	wrappedProviders := make([]*wrapped, len(providers))
	for i, p := range providers {
		wrappedProviders[i] = newWrapped(p, cfgs[i])
	}
	return &Set{providers: wrappedProviders, rdb: rdb, cacheTTL: cacheTTL, log: log}
}

// Counters returns the observability counters for the named provider, or
// nil if unknown.
func (s *Set) Counters(name string) *Counters {
	for _, w := range s.providers {
		if w.provider.Name() == name {
			return w.counters
		}
	}
	return nil
}

type cacheEntry struct {
	Found   bool    `json:"found"`
	Result  Result  `json:"result,omitempty"`
}

func cacheKey(kind, key string) string {
	sum := sha256.Sum256([]byte(kind + "|" + key))
	return "geocode:cache:" + hex.EncodeToString(sum[:])
}

func (s *Set) lookupCache(ctx context.Context, kind, key string) (*cacheEntry, bool) {
	raw, err := s.rdb.Get(ctx, cacheKey(kind, key)).Bytes()
	if err != nil {
		return nil, false
	}
	var entry cacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, false
	}
	if entry.Found {
		if c := s.Counters(entry.Result.Source); c != nil {
			c.CacheHits++
		}
	}
	return &entry, true
}

func (s *Set) storeCache(ctx context.Context, kind, key string, entry cacheEntry) {
	encoded, err := json.Marshal(entry)
	if err != nil {
		return
	}
	if err := s.rdb.Set(ctx, cacheKey(kind, key), encoded, s.cacheTTL).Err(); err != nil {
		s.log.Warn("geocode: cache write failed", zap.Error(err))
	}
}

// Geocode resolves address to coordinates (spec §4.C). Every call consults
// the cache first; a cache hit never touches a provider.
func (s *Set) Geocode(ctx context.Context, address string) (Result, error) {
	if entry, ok := s.lookupCache(ctx, "geocode", address); ok {
		if !entry.Found {
			return Result{}, ErrNotFound
		}
		return entry.Result, nil
	}

	result, err := s.run(ctx, func(ctx context.Context, w *wrapped) (Result, error) {
		return w.provider.Geocode(ctx, address)
	})
	s.cacheResultOrSentinel(ctx, "geocode", address, result, err)
	return result, err
}

// Reverse resolves coordinates to an address (spec §4.C).
func (s *Set) Reverse(ctx context.Context, lat, lon float64) (Result, error) {
	key := fmt.Sprintf("%.6f,%.6f", lat, lon)
	if entry, ok := s.lookupCache(ctx, "reverse", key); ok {
		if !entry.Found {
			return Result{}, ErrNotFound
		}
		return entry.Result, nil
	}

	result, err := s.run(ctx, func(ctx context.Context, w *wrapped) (Result, error) {
		return w.provider.Reverse(ctx, lat, lon)
	})
	s.cacheResultOrSentinel(ctx, "reverse", key, result, err)
	return result, err
}

func (s *Set) cacheResultOrSentinel(ctx context.Context, kind, key string, result Result, err error) {
	switch {
	case err == nil:
		s.storeCache(ctx, kind, key, cacheEntry{Found: true, Result: result})
	case errors.Is(err, ErrNotFound):
		s.storeCache(ctx, kind, key, cacheEntry{Found: false})
	}
}

// run walks the provider chain in order, advancing past any provider that
// reports not-found, whose circuit is open, or whose retries are exhausted
// (spec §4.C). It returns ErrNotFound only when every provider reported
// not-found, and ErrNotGeocoded otherwise.
func (s *Set) run(ctx context.Context, op func(context.Context, *wrapped) (Result, error)) (Result, error) {
	notFound := 0
	for _, w := range s.providers {
		result, err := w.call(ctx, func(ctx context.Context) (Result, error) {
			return op(ctx, w)
		})
		if err == nil {
			return result, nil
		}
		if errors.Is(err, ErrNotFound) {
			notFound++
			continue
		}
		s.log.Warn("geocode: provider exhausted, advancing", zap.String("provider", w.provider.Name()), zap.Error(err))
	}
	if notFound > 0 && notFound == len(s.providers) {
		return Result{}, ErrNotFound
	}
	return Result{}, ErrNotGeocoded
}
