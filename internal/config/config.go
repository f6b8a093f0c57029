// Package config loads application configuration via Viper and wires the
// global zap logger, following the same shape the rest of the pipeline's
// ambient stack expects.
package config

import (
	"fmt"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Admission  AdmissionConfig  `yaml:"admission" mapstructure:"admission"`
	Quota      QuotaConfig      `yaml:"quota" mapstructure:"quota"`
	Cleanup    CleanupConfig    `yaml:"cleanup" mapstructure:"cleanup"`
	Enrichment EnrichmentConfig `yaml:"enrichment" mapstructure:"enrichment"`
	Breaker    BreakerConfig    `yaml:"breaker" mapstructure:"breaker"`
	DLQ        DLQConfig        `yaml:"dlq" mapstructure:"dlq"`
	WorkersAI  WorkersAIConfig  `yaml:"workers_ai" mapstructure:"workers_ai"`
	Perplexity PerplexityConfig `yaml:"perplexity" mapstructure:"perplexity"`
	Taplist    TaplistConfig    `yaml:"taplist" mapstructure:"taplist"`
	Secrets    SecretsConfig    `yaml:"secrets" mapstructure:"secrets"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // "sqlite" or "postgres"
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Port          int    `yaml:"port" mapstructure:"port"`
	AllowedOrigin string `yaml:"allowed_origin" mapstructure:"allowed_origin"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// AdmissionConfig configures the fixed-window rate limiter (§4.2).
type AdmissionConfig struct {
	RateLimitRPM int `yaml:"rate_limit_rpm" mapstructure:"rate_limit_rpm"`
}

// QuotaConfig configures the daily/monthly quota reserver (§4.3).
type QuotaConfig struct {
	DailyEnrichmentLimit   int `yaml:"daily_enrichment_limit" mapstructure:"daily_enrichment_limit"`
	MonthlyEnrichmentLimit int `yaml:"monthly_enrichment_limit" mapstructure:"monthly_enrichment_limit"`
	DailyCleanupLimit      int `yaml:"daily_cleanup_limit" mapstructure:"daily_cleanup_limit"`
	// EnrichmentTriggerBatchLimit bounds POST /admin/enrich/trigger when the
	// caller doesn't supply its own limit. 0 falls back to the spec's hard
	// cap of 100.
	EnrichmentTriggerBatchLimit int `yaml:"enrichment_trigger_batch_limit" mapstructure:"enrichment_trigger_batch_limit"`
}

// CleanupConfig configures the bounded-parallel cleanup pipeline (§4.4).
type CleanupConfig struct {
	MaxConcurrency int `yaml:"max_concurrency" mapstructure:"max_concurrency"`
	CallTimeoutMS  int `yaml:"call_timeout_ms" mapstructure:"call_timeout_ms"`
	DBRetryMax     int `yaml:"db_retry_max" mapstructure:"db_retry_max"`
}

// EnrichmentConfig configures the serialized enrichment pipeline (§4.5).
type EnrichmentConfig struct {
	Enabled             bool `yaml:"enabled" mapstructure:"enabled"`
	PacingMS            int  `yaml:"pacing_ms" mapstructure:"pacing_ms"`
	RateLimitRetryMS    int  `yaml:"rate_limit_retry_ms" mapstructure:"rate_limit_retry_ms"`
	DefaultRetryDelayMS int  `yaml:"default_retry_delay_ms" mapstructure:"default_retry_delay_ms"`
}

// BreakerConfig configures the latency-based circuit breaker (§4.6).
type BreakerConfig struct {
	SlowCallLimit    int `yaml:"slow_call_limit" mapstructure:"slow_call_limit"`
	SlowThresholdMS  int `yaml:"slow_threshold_ms" mapstructure:"slow_threshold_ms"`
	ResetTimeoutMS   int `yaml:"reset_timeout_ms" mapstructure:"reset_timeout_ms"`
}

// DLQConfig configures the dead-letter subsystem (§4.7).
type DLQConfig struct {
	PurgeAfterDays int `yaml:"purge_after_days" mapstructure:"purge_after_days"`
	PurgeBatchSize int `yaml:"purge_batch_size" mapstructure:"purge_batch_size"`
}

// WorkersAIConfig holds the cleanup-LLM provider settings.
type WorkersAIConfig struct {
	Model string `yaml:"model" mapstructure:"model"`
}

// PerplexityConfig holds the ABV-search LLM provider settings.
type PerplexityConfig struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// TaplistConfig holds the upstream taplist HTTP client settings.
type TaplistConfig struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	// AllowedStoreIDs is the sid allow-set GET /beers validates against
	// before ever calling upstream.
	AllowedStoreIDs []string `yaml:"allowed_store_ids" mapstructure:"allowed_store_ids"`
}

// SecretsConfig holds opaque credentials, passed straight through to
// collaborators without the core ever interpreting them.
type SecretsConfig struct {
	APIKey           string `yaml:"api_key" mapstructure:"api_key"`
	AdminSecret      string `yaml:"admin_secret" mapstructure:"admin_secret"`
	PerplexityAPIKey string `yaml:"perplexity_api_key" mapstructure:"perplexity_api_key"`
	WorkersAIAPIKey  string `yaml:"workers_ai_api_key" mapstructure:"workers_ai_api_key"`
}

// Validate checks required configuration fields based on run mode.
// Supported modes: "serve", "consume", "migrate".
func (c *Config) Validate(mode string) error {
	var errs []string

	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}

	switch mode {
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		if c.Server.AllowedOrigin == "" {
			errs = append(errs, "server.allowed_origin is required")
		}
		if c.Secrets.APIKey == "" {
			errs = append(errs, "secrets.api_key is required")
		}
		if c.Secrets.AdminSecret == "" {
			errs = append(errs, "secrets.admin_secret is required")
		}
	case "consume":
		if c.Secrets.PerplexityAPIKey == "" {
			errs = append(errs, "secrets.perplexity_api_key is required")
		}
		if c.Secrets.WorkersAIAPIKey == "" {
			errs = append(errs, "secrets.workers_ai_api_key is required")
		}
	case "migrate":
		// store.database_url above is sufficient.
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Admission.RateLimitRPM <= 0 {
		errs = append(errs, "admission.rate_limit_rpm must be > 0")
	}
	if c.Cleanup.MaxConcurrency <= 0 {
		errs = append(errs, "cleanup.max_concurrency must be > 0")
	}

	if len(errs) > 0 {
		return eris.New(fmt.Sprintf("config: validation failed: %s", strings.Join(errs, "; ")))
	}
	return nil
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("BEER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("admission.rate_limit_rpm", 60)
	v.SetDefault("quota.daily_enrichment_limit", 500)
	v.SetDefault("quota.monthly_enrichment_limit", 2000)
	v.SetDefault("quota.daily_cleanup_limit", 1000)
	v.SetDefault("cleanup.max_concurrency", 10)
	v.SetDefault("cleanup.call_timeout_ms", 10_000)
	v.SetDefault("cleanup.db_retry_max", 3)
	v.SetDefault("enrichment.enabled", true)
	v.SetDefault("enrichment.pacing_ms", 2_000)
	v.SetDefault("enrichment.rate_limit_retry_ms", 120_000)
	v.SetDefault("enrichment.default_retry_delay_ms", 30_000)
	v.SetDefault("breaker.slow_call_limit", 3)
	v.SetDefault("breaker.slow_threshold_ms", 5_000)
	v.SetDefault("breaker.reset_timeout_ms", 60_000)
	v.SetDefault("dlq.purge_after_days", 30)
	v.SetDefault("dlq.purge_batch_size", 1000)
	v.SetDefault("workers_ai.model", "@cf/meta/llama-3.1-8b-instruct")
	v.SetDefault("perplexity.base_url", "https://api.perplexity.ai")
	v.SetDefault("perplexity.model", "sonar-pro")
	v.SetDefault("taplist.base_url", "https://api.flyingsaucer.com")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	decodeHook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToSliceHookFunc(","),
		mapstructure.StringToTimeDurationHookFunc(),
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook)); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
