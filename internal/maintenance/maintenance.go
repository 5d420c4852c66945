// Package maintenance runs the pipeline's periodic upkeep sweeps:
// expired-lease reclaim, queue/DLQ depth and geocode counter sampling, and
// archive rotation. Grounded on
// the teacher's server/internal/scheduler package — same gocron/v2
// wrapper-with-Start/Stop shape, same singleton-mode job registration —
// retargeted from per-policy backup ticks to the pipeline's fixed set of
// fleet-wide sweeps.
package maintenance

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/For-The-Greater-Good/pantry-pirate-radio-sub002/internal/geocode"
	"github.com/For-The-Greater-Good/pantry-pirate-radio-sub002/internal/metrics"
	"github.com/For-The-Greater-Good/pantry-pirate-radio-sub002/internal/queue"
)

// Config tunes sweep intervals and retention (spec §6.5, §4.B, §4.H).
type Config struct {
	Queues []string // every queue name the pipeline uses, for reclaim + depth sampling

	ReclaimInterval time.Duration // how often to sweep expired leases back to ready
	MetricsInterval time.Duration // how often to sample queue/DLQ depth into Registry

	// Geocoder and GeocodeProviders, if set, are sampled into the metrics
	// registry alongside queue/DLQ depth (spec §4.C: "counters per
	// provider: attempts, successes, failures, cache-hits, breaker-open
	// events"). Left nil in stages that never geocode (reconcile, record).
	Geocoder         *geocode.Set
	GeocodeProviders []string

	ArchiveRoot          string
	ArchiveRetentionDays int           // daily dirs older than this are removed; 0 disables rotation
	ArchiveCheckInterval time.Duration
}

func (c *Config) setDefaults() {
	if c.ReclaimInterval <= 0 {
		c.ReclaimInterval = 30 * time.Second
	}
	if c.MetricsInterval <= 0 {
		c.MetricsInterval = 15 * time.Second
	}
	if c.ArchiveCheckInterval <= 0 {
		c.ArchiveCheckInterval = 24 * time.Hour
	}
}

// Sweeper wraps gocron and runs the fleet-wide housekeeping jobs. The zero
// value is not usable — create instances with New.
type Sweeper struct {
	cron    gocron.Scheduler
	bus     *queue.Bus
	metrics *metrics.Registry
	cfg     Config
	log     *zap.Logger
}

// New creates and configures a Sweeper. Call Start to begin running jobs.
func New(bus *queue.Bus, reg *metrics.Registry, cfg Config, log *zap.Logger) (*Sweeper, error) {
	cfg.setDefaults()
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("maintenance: create gocron scheduler: %w", err)
	}
	return &Sweeper{cron: s, bus: bus, metrics: reg, cfg: cfg, log: log.Named("maintenance")}, nil
}

// Start registers every sweep job and starts the underlying scheduler.
func (s *Sweeper) Start(ctx context.Context) error {
	if _, err := s.cron.NewJob(
		gocron.DurationJob(s.cfg.ReclaimInterval),
		gocron.NewTask(func() { s.reclaimExpired(ctx) }),
		gocron.WithTags("reclaim"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		return fmt.Errorf("maintenance: schedule reclaim sweep: %w", err)
	}

	if _, err := s.cron.NewJob(
		gocron.DurationJob(s.cfg.MetricsInterval),
		gocron.NewTask(func() { s.sampleDepths(ctx) }),
		gocron.WithTags("metrics"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		return fmt.Errorf("maintenance: schedule depth sampling: %w", err)
	}

	if s.cfg.ArchiveRetentionDays > 0 && s.cfg.ArchiveRoot != "" {
		if _, err := s.cron.NewJob(
			gocron.DurationJob(s.cfg.ArchiveCheckInterval),
			gocron.NewTask(func() { s.rotateArchive() }),
			gocron.WithTags("archive-rotation"),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		); err != nil {
			return fmt.Errorf("maintenance: schedule archive rotation: %w", err)
		}
	}

	s.cron.Start()
	s.log.Info("maintenance sweeps started",
		zap.Duration("reclaim_interval", s.cfg.ReclaimInterval),
		zap.Duration("metrics_interval", s.cfg.MetricsInterval),
		zap.Int("archive_retention_days", s.cfg.ArchiveRetentionDays),
	)
	return nil
}

// Stop gracefully shuts down the underlying scheduler, waiting for any
// in-progress sweep to finish.
func (s *Sweeper) Stop() error {
	if err := s.cron.Shutdown(); err != nil {
		return fmt.Errorf("maintenance: shutdown: %w", err)
	}
	s.log.Info("maintenance sweeps stopped")
	return nil
}

// reclaimExpired requeues any lease whose visibility deadline passed
// without an ack, across every configured queue (spec §4.B crash-recovery
// guarantee — this is the periodic half of it, Dequeue/Ack/Nack are the
// inline half).
func (s *Sweeper) reclaimExpired(ctx context.Context) {
	for _, q := range s.cfg.Queues {
		n, err := s.bus.ReclaimExpired(ctx, q)
		if err != nil {
			s.log.Error("maintenance: reclaim sweep failed", zap.String("queue", q), zap.Error(err))
			continue
		}
		if n > 0 {
			s.log.Info("maintenance: reclaimed expired leases", zap.String("queue", q), zap.Int("count", n))
		}
	}
}

// sampleDepths pushes current queue/DLQ lengths into the metrics registry
// so depth is observable between ticks even though the Bus itself holds no
// Prometheus collectors (spec §7: DLQ depth is how errors become
// observable).
func (s *Sweeper) sampleDepths(ctx context.Context) {
	if s.metrics == nil {
		return
	}
	for _, q := range s.cfg.Queues {
		if n, err := s.bus.Length(ctx, q); err == nil {
			s.metrics.QueueDepth.WithLabelValues(q).Set(float64(n))
		}
		if n, err := s.bus.DLQLength(ctx, q); err == nil {
			s.metrics.QueueDLQDepth.WithLabelValues(q).Set(float64(n))
		}
	}

	if s.cfg.Geocoder == nil {
		return
	}
	for _, name := range s.cfg.GeocodeProviders {
		s.metrics.SampleGeocodeCounters(name, s.cfg.Geocoder.Counters(name))
	}
}

// rotateArchive removes daily archive directories older than
// ArchiveRetentionDays. The recorder's latest symlink always points at the
// most recent directory, so rotation never removes the one it targets as
// long as retention is at least 1 day.
func (s *Sweeper) rotateArchive() {
	dailyRoot := filepath.Join(s.cfg.ArchiveRoot, "daily")
	entries, err := os.ReadDir(dailyRoot)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Error("maintenance: read archive root failed", zap.Error(err))
		}
		return
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -s.cfg.ArchiveRetentionDays)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		day, err := time.Parse("2006-01-02", e.Name())
		if err != nil {
			continue
		}
		if day.Before(cutoff) {
			path := filepath.Join(dailyRoot, e.Name())
			if err := os.RemoveAll(path); err != nil {
				s.log.Error("maintenance: archive rotation failed", zap.String("dir", path), zap.Error(err))
				continue
			}
			s.log.Info("maintenance: rotated archive directory", zap.String("dir", path))
		}
	}
}
