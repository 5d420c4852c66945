// Command pipeline runs one stage of the HSDS pipeline as a long-lived
// worker process, plus operator subcommands for migrations and DLQ
// inspection. Structure mirrors the teacher's cmd/server/main.go: a cobra
// root command binding persistent flags to PPR_-prefixed env vars, a thin
// run(ctx, cfg) that wires components in dependency order, and
// signal.NotifyContext-driven graceful shutdown.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/For-The-Greater-Good/pantry-pirate-radio-sub002/internal/config"
	"github.com/For-The-Greater-Good/pantry-pirate-radio-sub002/internal/contentstore"
	"github.com/For-The-Greater-Good/pantry-pirate-radio-sub002/internal/db"
	"github.com/For-The-Greater-Good/pantry-pirate-radio-sub002/internal/geocode"
	"github.com/For-The-Greater-Good/pantry-pirate-radio-sub002/internal/hsds"
	"github.com/For-The-Greater-Good/pantry-pirate-radio-sub002/internal/llm"
	"github.com/For-The-Greater-Good/pantry-pirate-radio-sub002/internal/maintenance"
	"github.com/For-The-Greater-Good/pantry-pirate-radio-sub002/internal/metrics"
	"github.com/For-The-Greater-Good/pantry-pirate-radio-sub002/internal/pipeline"
	"github.com/For-The-Greater-Good/pantry-pirate-radio-sub002/internal/queue"
	"github.com/For-The-Greater-Good/pantry-pirate-radio-sub002/internal/reconcile"
	"github.com/For-The-Greater-Good/pantry-pirate-radio-sub002/internal/recorder"
	"github.com/For-The-Greater-Good/pantry-pirate-radio-sub002/internal/repository"
	"github.com/For-The-Greater-Good/pantry-pirate-radio-sub002/internal/validate"
	"github.com/For-The-Greater-Good/pantry-pirate-radio-sub002/internal/worker"
)

var (
	version = "dev"
	commit  = "none"
)

type rootFlags struct {
	configPath string
	logLevel   string
	healthAddr string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:   "pipeline",
		Short: "pantry-pirate-radio-sub002 pipeline — dedup, align, validate, reconcile, archive",
		Long: `pipeline runs the stages of the content-addressable dedup -> LLM alignment ->
geocoding/validation -> entity reconciliation -> archival pipeline. Each
invocation runs one stage's worker, or an operator subcommand.`,
	}

	root.PersistentFlags().StringVar(&flags.configPath, "config", envOrDefault("PPR_CONFIG", ""), "Path to pipeline config file (optional; falls back to PPR_ env vars)")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", envOrDefault("PPR_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flags.healthAddr, "health-addr", envOrDefault("PPR_HEALTH_ADDR", ":8081"), "Liveness/readiness probe listen address")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newWorkerCmd(flags))
	root.AddCommand(newMigrateCmd(flags))
	root.AddCommand(newDLQCmd(flags))

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("pipeline %s (commit: %s)\n", version, commit)
		},
	}
}

func newWorkerCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "worker <llm|validate|reconcile|record>",
		Short: "Run one stage's worker loop until terminated",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cmd.Context(), flags, args[0])
		},
	}
}

func newMigrateCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(flags)
		},
	}
}

func newDLQCmd(flags *rootFlags) *cobra.Command {
	dlq := &cobra.Command{Use: "dlq", Short: "Inspect and requeue dead-lettered jobs"}

	dlq.AddCommand(&cobra.Command{
		Use:   "list <queue>",
		Short: "List jobs in a queue's dead-letter list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDLQList(flags, args[0])
		},
	})
	dlq.AddCommand(&cobra.Command{
		Use:   "requeue <queue>",
		Short: "Requeue the oldest dead-lettered job on a queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDLQRequeue(flags, args[0])
		},
	})
	return dlq
}

// runWorker wires every component the given stage's Processor needs and
// runs its Worker until the process receives a shutdown signal.
func runWorker(ctx context.Context, flags *rootFlags, queueName string) error {
	log, err := buildLogger(flags.logLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer log.Sync() //nolint:errcheck

	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Info("starting pipeline worker",
		zap.String("queue", queueName),
		zap.String("version", version),
		zap.String("log_level", flags.logLevel),
	)

	// --- Encryption + database ---
	keyBytes := make([]byte, 32)
	copy(keyBytes, []byte(cfg.SecretKey))
	if err := db.InitEncryption(keyBytes); err != nil {
		return fmt.Errorf("failed to initialize encryption: %w", err)
	}

	gormDB, err := db.New(db.Config{
		Driver:   cfg.DatabaseDriver,
		DSN:      cfg.DatabaseDSN,
		Logger:   log,
		LogLevel: gormLogLevel(flags.logLevel),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	defer sqlDB.Close()

	// --- Redis / queue bus ---
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer rdb.Close()

	bus := queue.New(rdb, queue.Config{MaxAttempts: cfg.QueueMaxAttempts, ResultTTL: cfg.ResultTTL})

	// The validate stage is the only one that geocodes; building the set
	// once here lets both the worker and the maintenance sweeper's counter
	// sampling share the same breaker/limiter/cache state.
	var geo *geocode.Set
	if queueName == "validate" {
		geo = buildGeocodeSet(cfg, rdb, log)
	}

	// --- Metrics + maintenance sweeper (shared across every stage process) ---
	reg := metrics.New()
	sweeper, err := maintenance.New(bus, reg, maintenance.Config{
		Queues:               []string{"llm", "validate", "reconcile", "record"},
		Geocoder:             geo,
		GeocodeProviders:     cfg.GeocodingProviders,
		ArchiveRoot:          cfg.ArchiveRoot,
		ArchiveRetentionDays: 0,
	}, log)
	if err != nil {
		return fmt.Errorf("failed to create maintenance sweeper: %w", err)
	}
	if err := sweeper.Start(ctx); err != nil {
		return fmt.Errorf("failed to start maintenance sweeper: %w", err)
	}
	defer func() {
		if err := sweeper.Stop(); err != nil {
			log.Warn("maintenance sweeper shutdown error", zap.Error(err))
		}
	}()

	// --- Health endpoint ---
	health := &worker.HealthServer{DB: gormDB, RDB: rdb, Log: log, Metrics: reg.Collectors()}
	healthSrv := &http.Server{
		Addr:         flags.healthAddr,
		Handler:      health.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("health server listening", zap.String("addr", flags.healthAddr))
		if err := healthSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("health server error", zap.Error(err))
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = healthSrv.Shutdown(shutdownCtx)
	}()

	// --- Stage-specific wiring ---
	process, workerCfg, err := buildStage(queueName, cfg, gormDB, rdb, bus, geo, log)
	if err != nil {
		return fmt.Errorf("failed to build stage %q: %w", queueName, err)
	}

	w := worker.New(bus, workerCfg, process, log)
	if err := w.Run(ctx); err != nil && err != context.Canceled {
		return fmt.Errorf("worker run ended with error: %w", err)
	}

	log.Info("pipeline worker stopped", zap.String("queue", queueName))
	return nil
}

// buildStage constructs the Processor and Worker Config for one named
// queue. Only the components that stage actually needs are built — e.g.
// the record stage never touches geocode, LLM, or the spatial DB.
func buildStage(queueName string, cfg *config.Config, gormDB *gorm.DB, rdb *redis.Client, bus *queue.Bus, geo *geocode.Set, log *zap.Logger) (worker.Processor, worker.Config, error) {
	workerCfg := worker.Config{
		Queue:             queueName,
		VisibilityTimeout: cfg.QueueVisibilityTimeout,
		Highwater:         cfg.QueueHighwater,
	}

	switch queueName {
	case "llm":
		workerCfg.HighwaterQueue = "validate"
		store := contentstore.New(rdb, cfg.ArchiveRoot+"/blobs", log)
		apiKey := os.Getenv("PPR_ANTHROPIC_API_KEY")
		credRepo := repository.NewProviderCredentialRepository(gormDB)
		if cred, err := credRepo.Get(context.Background(), "anthropic", "llm"); err == nil {
			apiKey = string(cred.APIKey)
		} else if !errors.Is(err, repository.ErrNotFound) {
			log.Warn("failed to load anthropic credential from database, falling back to env", zap.Error(err))
		}
		client := llm.NewAnthropicClient(apiKey)
		aligner := hsds.New(client, "hsds-3.1.1", log)
		alignCfg := hsds.Config{
			MinConfidence: cfg.AlignMinConfidence,
			MaxRetries:    cfg.AlignMaxRetries,
			LLM: llm.Config{
				Model:          cfg.LLMModel,
				Temperature:    0,
				MaxTokens:      4096,
				ResponseFormat: "json_object",
			},
		}
		return pipeline.LLMStage(store, aligner, alignCfg, bus, log), workerCfg, nil

	case "validate":
		workerCfg.HighwaterQueue = "reconcile"
		enricher := validate.New(geo, log)
		validateCfg := validate.Config{
			RejectionThreshold:  cfg.ValidationRejectionThreshold,
			VerifiedThreshold:   cfg.ValidationVerifiedThreshold,
			TestPatterns:        cfg.ValidationTestPatterns,
			PlaceholderPatterns: cfg.ValidationPlaceholderPatterns,
		}
		return pipeline.ValidateStage(enricher, validateCfg, bus, log), workerCfg, nil

	case "reconcile":
		workerCfg.HighwaterQueue = "record"
		orgRepo := repository.NewOrganizationRepository(gormDB)
		locRepo := repository.NewLocationRepository(gormDB)
		svcRepo := repository.NewServiceRepository(gormDB)
		versionRepo := repository.NewRecordVersionRepository(gormDB)
		violationRepo := repository.NewConstraintViolationRepository(gormDB)
		lock := reconcile.NewAdvisoryLock(rdb, cfg.AdvisoryLockTimeout)

		reconcileCfg := reconcile.Config{
			OrgProximityThreshold:  cfg.OrgProximityThreshold,
			LocationCoordTolerance: cfg.LocationCoordTolerance,
			DBMaxRetries:           cfg.DBMaxRetries,
		}
		// An operator-managed reconciler_config row, when present, overrides
		// the viper-sourced defaults above without requiring a redeploy.
		if rc, err := repository.NewReconcilerConfigRepository(gormDB).Get(context.Background()); err == nil {
			reconcileCfg.OrgProximityThreshold = rc.OrgProximityThreshold
			reconcileCfg.LocationCoordTolerance = rc.LocationCoordTolerance
			var ranks map[string]int
			if err := json.Unmarshal([]byte(rc.ProvenanceRanks), &ranks); err != nil {
				log.Warn("failed to parse reconciler_config.provenance_ranks, ignoring", zap.Error(err))
			} else {
				reconcileCfg.ProvenanceRanks = ranks
			}
		} else if !errors.Is(err, repository.ErrNotFound) {
			log.Warn("failed to load reconciler config override, using viper defaults", zap.Error(err))
		}

		reconciler := reconcile.New(orgRepo, locRepo, svcRepo, versionRepo, violationRepo, lock, reconcileCfg, log)
		return pipeline.ReconcileStage(reconciler, bus, log), workerCfg, nil

	case "record":
		rec, err := recorder.New(cfg.ArchiveRoot, log)
		if err != nil {
			return nil, workerCfg, fmt.Errorf("failed to create recorder: %w", err)
		}
		return pipeline.RecordStage(rec, log), workerCfg, nil

	default:
		return nil, workerCfg, fmt.Errorf("unknown stage %q (want llm, validate, reconcile, or record)", queueName)
	}
}

func buildGeocodeSet(cfg *config.Config, rdb *redis.Client, log *zap.Logger) *geocode.Set {
	providers := make([]geocode.Provider, 0, len(cfg.GeocodingProviders))
	cfgs := make([]geocode.ProviderConfig, 0, len(cfg.GeocodingProviders))
	for _, name := range cfg.GeocodingProviders {
		var p geocode.Provider
		switch name {
		case "census":
			p = geocode.NewCensusProvider("")
		case "nominatim":
			p = geocode.NewNominatimProvider("", "pantry-pirate-radio-sub002/"+version)
		default:
			log.Warn("ignoring unknown geocoding provider", zap.String("provider", name))
			continue
		}
		providers = append(providers, p)
		cfgs = append(cfgs, geocode.ProviderConfig{
			Timeout:          cfg.GeocodingTimeout,
			MaxAttempts:      cfg.GeocodingMaxAttempts,
			RateLimitQPS:     cfg.GeocodingRateLimitQPS,
			BreakerThreshold: cfg.GeocodingBreakerThreshold,
			BreakerCooldown:  cfg.GeocodingBreakerCooldown,
		})
	}
	return geocode.New(providers, cfgs, rdb, cfg.GeocodingCacheTTL, log)
}

func runMigrate(flags *rootFlags) error {
	log, err := buildLogger(flags.logLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer log.Sync() //nolint:errcheck

	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// db.New applies every pending migration as part of opening the
	// connection; there is nothing further to do once it returns.
	gormDB, err := db.New(db.Config{
		Driver:   cfg.DatabaseDriver,
		DSN:      cfg.DatabaseDSN,
		Logger:   log,
		LogLevel: gormLogLevel(flags.logLevel),
	})
	if err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	defer sqlDB.Close()

	log.Info("migrations applied")
	return nil
}

func runDLQList(flags *rootFlags, queueName string) error {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer rdb.Close()
	bus := queue.New(rdb, queue.Config{MaxAttempts: cfg.QueueMaxAttempts, ResultTTL: cfg.ResultTTL})

	entries, err := bus.ListDLQ(context.Background(), queueName, 100)
	if err != nil {
		return fmt.Errorf("failed to list dlq: %w", err)
	}
	if len(entries) == 0 {
		fmt.Printf("dlq %s is empty\n", queueName)
		return nil
	}
	for _, e := range entries {
		fmt.Printf("%s\tscraper=%s\treason=%q\tat=%s\n", e.Job.ID, e.Job.Metadata.ScraperID, e.Reason, e.At.Format(time.RFC3339))
	}
	return nil
}

func runDLQRequeue(flags *rootFlags, queueName string) error {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer rdb.Close()
	bus := queue.New(rdb, queue.Config{MaxAttempts: cfg.QueueMaxAttempts, ResultTTL: cfg.ResultTTL})

	ok, err := bus.RequeueOldestDLQ(context.Background(), queueName)
	if err != nil {
		return fmt.Errorf("failed to requeue dlq job: %w", err)
	}
	if !ok {
		fmt.Printf("dlq %s is empty, nothing to requeue\n", queueName)
		return nil
	}
	fmt.Printf("requeued oldest dlq job on %s\n", queueName)
	return nil
}

func gormLogLevel(level string) gormlogger.LogLevel {
	switch level {
	case "debug":
		return gormlogger.Info
	case "info":
		return gormlogger.Warn
	default:
		return gormlogger.Error
	}
}

func buildLogger(level string) (*zap.Logger, error) {
	var cfg zap.Config
	if level == "debug" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}

	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	return cfg.Build()
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
