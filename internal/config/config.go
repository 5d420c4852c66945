// Package config loads the pipeline's strongly-typed configuration once at
// startup via viper, with environment-variable fallback for every tunable
// named in spec §6.5. Validation failures surface at Load time, never at
// first use (spec §9: "strongly-typed config struct loaded once at startup;
// validation failures at load time, not at first use").
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the fully-resolved set of tunables for every stage of the
// pipeline (spec §6.5). It is loaded once via Load and passed down through
// each component's environment struct — no component reads viper directly.
type Config struct {
	// Database / queue / content store infrastructure.
	DatabaseDriver string
	DatabaseDSN    string
	RedisAddr      string
	RedisPassword  string
	ArchiveRoot    string
	ContentStoreEnabled bool
	SecretKey      string // 32-byte AES key for db.EncryptedString

	// LLM (spec §4.D, §6.5).
	LLMProvider         string
	LLMModel            string
	LLMTimeout          time.Duration
	LLMMaxRetries       int
	LLMQuotaBaseDelay   time.Duration
	LLMQuotaMaxDelay    time.Duration
	LLMQuotaBackoffMult float64

	// HSDS alignment (spec §4.E).
	AlignMinConfidence float64
	AlignMaxRetries    int

	// Geocoding (spec §4.C).
	GeocodingProviders        []string
	GeocodingTimeout          time.Duration
	GeocodingMaxAttempts      int
	GeocodingRateLimitQPS     float64
	GeocodingCacheTTL         time.Duration
	GeocodingBreakerThreshold uint32
	GeocodingBreakerCooldown  time.Duration

	// Validation (spec §4.F).
	ValidationRejectionThreshold int
	ValidationVerifiedThreshold  int
	ValidationTestPatterns       []string
	ValidationPlaceholderPatterns []string

	// Reconciliation (spec §4.G).
	OrgProximityThreshold  float64
	LocationCoordTolerance float64
	DBMaxRetries           int
	AdvisoryLockTimeout    time.Duration

	// Queue (spec §4.B).
	QueueVisibilityTimeout time.Duration
	QueueMaxAttempts       int
	ResultTTL              time.Duration
	QueueHighwater         int
}

// Load reads configuration from (in ascending priority) defaults, a config
// file if present, and PPR_-prefixed environment variables, then validates
// it. An error here is fatal at startup, never deferred to first use.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("pipeline")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/pantry-pirate-radio")
	}

	v.SetEnvPrefix("PPR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: failed to read config file: %w", err)
		}
	}

	cfg := &Config{
		DatabaseDriver:      v.GetString("database.driver"),
		DatabaseDSN:         v.GetString("database.dsn"),
		RedisAddr:           v.GetString("redis.addr"),
		RedisPassword:       v.GetString("redis.password"),
		ArchiveRoot:         v.GetString("archive_root"),
		ContentStoreEnabled: v.GetBool("content_store_enabled"),
		SecretKey:           v.GetString("secret_key"),

		LLMProvider:         v.GetString("llm_provider"),
		LLMModel:            v.GetString("llm_model"),
		LLMTimeout:          v.GetDuration("llm_timeout_s"),
		LLMMaxRetries:       v.GetInt("llm_max_retries"),
		LLMQuotaBaseDelay:   v.GetDuration("llm_quota_base_delay_s"),
		LLMQuotaMaxDelay:    v.GetDuration("llm_quota_max_delay_s"),
		LLMQuotaBackoffMult: v.GetFloat64("llm_quota_backoff_mult"),

		AlignMinConfidence: v.GetFloat64("align_min_confidence"),
		AlignMaxRetries:    v.GetInt("align_max_retries"),

		GeocodingProviders:        v.GetStringSlice("geocoding_providers"),
		GeocodingTimeout:          v.GetDuration("geocoding_timeout_s"),
		GeocodingMaxAttempts:      v.GetInt("geocoding_max_attempts"),
		GeocodingRateLimitQPS:     v.GetFloat64("geocoding_rate_limit_qps"),
		GeocodingCacheTTL:         v.GetDuration("geocoding_cache_ttl_s"),
		GeocodingBreakerThreshold: uint32(v.GetUint("geocoding_breaker_threshold")),
		GeocodingBreakerCooldown:  v.GetDuration("geocoding_breaker_cooldown_s"),

		ValidationRejectionThreshold:  v.GetInt("validation_rejection_threshold"),
		ValidationVerifiedThreshold:   v.GetInt("validation_verified_threshold"),
		ValidationTestPatterns:        v.GetStringSlice("validation_test_patterns"),
		ValidationPlaceholderPatterns: v.GetStringSlice("validation_placeholder_patterns"),

		OrgProximityThreshold:  v.GetFloat64("org_proximity_threshold"),
		LocationCoordTolerance: v.GetFloat64("location_coord_tolerance"),
		DBMaxRetries:           v.GetInt("db_max_retries"),
		AdvisoryLockTimeout:    v.GetDuration("advisory_lock_timeout_s"),

		QueueVisibilityTimeout: v.GetDuration("queue_visibility_timeout_s"),
		QueueMaxAttempts:       v.GetInt("queue_max_attempts"),
		ResultTTL:              v.GetDuration("result_ttl_s"),
		QueueHighwater:         v.GetInt("queue_highwater"),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: invalid configuration: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "pantry.db")
	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("archive_root", "./archive")
	v.SetDefault("content_store_enabled", true)

	v.SetDefault("llm_timeout_s", "30s")
	v.SetDefault("llm_max_retries", 3)
	v.SetDefault("llm_quota_base_delay_s", "1h")
	v.SetDefault("llm_quota_max_delay_s", "4h")
	v.SetDefault("llm_quota_backoff_mult", 2.0)

	v.SetDefault("align_min_confidence", 0.85)
	v.SetDefault("align_max_retries", 2)

	v.SetDefault("geocoding_timeout_s", "10s")
	v.SetDefault("geocoding_max_attempts", 3)
	v.SetDefault("geocoding_rate_limit_qps", 5.0)
	v.SetDefault("geocoding_cache_ttl_s", "24h")
	v.SetDefault("geocoding_breaker_threshold", 5)
	v.SetDefault("geocoding_breaker_cooldown_s", "30s")

	v.SetDefault("validation_rejection_threshold", 10)
	v.SetDefault("validation_verified_threshold", 70)
	v.SetDefault("validation_test_patterns", []string{"anytown", "unknown", "test", "sample"})
	v.SetDefault("validation_placeholder_patterns", []string{"123 main st"})

	v.SetDefault("org_proximity_threshold", 0.7)
	v.SetDefault("location_coord_tolerance", 0.0001)
	v.SetDefault("db_max_retries", 3)
	v.SetDefault("advisory_lock_timeout_s", "5s")

	v.SetDefault("queue_visibility_timeout_s", "60s")
	v.SetDefault("queue_max_attempts", 3)
	v.SetDefault("result_ttl_s", "720h") // 30 days
	v.SetDefault("queue_highwater", 1000)
}

func (c *Config) validate() error {
	if c.DatabaseDriver != "sqlite" && c.DatabaseDriver != "postgres" {
		return fmt.Errorf("database.driver must be \"sqlite\" or \"postgres\", got %q", c.DatabaseDriver)
	}
	if c.AlignMinConfidence < 0 || c.AlignMinConfidence > 1 {
		return fmt.Errorf("align_min_confidence must be in [0,1], got %v", c.AlignMinConfidence)
	}
	if c.ValidationVerifiedThreshold <= c.ValidationRejectionThreshold {
		return fmt.Errorf("validation_verified_threshold must exceed validation_rejection_threshold")
	}
	if c.QueueMaxAttempts < 1 {
		return fmt.Errorf("queue_max_attempts must be >= 1")
	}
	return nil
}
