package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/adviseriq/advisor-cli/internal/pipeline"
	"github.com/adviseriq/advisor-cli/internal/resilience"
	"github.com/adviseriq/advisor-cli/internal/store"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Telemetry  TelemetryConfig  `yaml:"telemetry" mapstructure:"telemetry"`
	Knowledge  KnowledgeConfig  `yaml:"knowledge" mapstructure:"knowledge"`
	CRM        CRMConfig        `yaml:"crm" mapstructure:"crm"`
	Safety     SafetyConfig     `yaml:"safety" mapstructure:"safety"`
	Catalog    CatalogConfig    `yaml:"catalog" mapstructure:"catalog"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Resilience ResilienceConfig `yaml:"resilience" mapstructure:"resilience"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// MonitoringConfig configures background health checks and webhook alerts.
type MonitoringConfig struct {
	WebhookURL            string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs     int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours   int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	DeclineRateThreshold  float64 `yaml:"decline_rate_threshold" mapstructure:"decline_rate_threshold"`
	DegradedRateThreshold float64 `yaml:"degraded_rate_threshold" mapstructure:"degraded_rate_threshold"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string           `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string           `yaml:"database_url" mapstructure:"database_url"`
	Pool        store.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// TelemetryConfig holds product usage API settings.
type TelemetryConfig struct {
	Key       string  `yaml:"key" mapstructure:"key"`
	BaseURL   string  `yaml:"base_url" mapstructure:"base_url"`
	RateRPS   float64 `yaml:"rate_rps" mapstructure:"rate_rps"`
	RateBurst int     `yaml:"rate_burst" mapstructure:"rate_burst"`
}

// KnowledgeConfig holds knowledge base API settings.
type KnowledgeConfig struct {
	Key       string  `yaml:"key" mapstructure:"key"`
	BaseURL   string  `yaml:"base_url" mapstructure:"base_url"`
	RateRPS   float64 `yaml:"rate_rps" mapstructure:"rate_rps"`
	RateBurst int     `yaml:"rate_burst" mapstructure:"rate_burst"`
}

// CRMConfig holds CRM API settings.
type CRMConfig struct {
	Key       string  `yaml:"key" mapstructure:"key"`
	BaseURL   string  `yaml:"base_url" mapstructure:"base_url"`
	RateRPS   float64 `yaml:"rate_rps" mapstructure:"rate_rps"`
	RateBurst int     `yaml:"rate_burst" mapstructure:"rate_burst"`
}

// SafetyConfig configures content safety screening. Provider "wordlist"
// screens locally against Blocklist; "api" calls the hosted checker.
type SafetyConfig struct {
	Provider  string   `yaml:"provider" mapstructure:"provider"`
	Key       string   `yaml:"key" mapstructure:"key"`
	BaseURL   string   `yaml:"base_url" mapstructure:"base_url"`
	Blocklist []string `yaml:"blocklist" mapstructure:"blocklist"`
}

// CatalogConfig points at the plan catalog definition.
type CatalogConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// PipelineConfig configures run behavior. Zero values fall back to the
// pipeline package defaults.
type PipelineConfig struct {
	DeadlineMS          int     `yaml:"deadline_ms" mapstructure:"deadline_ms"`
	UsageWindowDays     int     `yaml:"usage_window_days" mapstructure:"usage_window_days"`
	InteractionMonths   int     `yaml:"interaction_months" mapstructure:"interaction_months"`
	KnowledgeTopK       int     `yaml:"knowledge_top_k" mapstructure:"knowledge_top_k"`
	SimilarityThreshold float64 `yaml:"similarity_threshold" mapstructure:"similarity_threshold"`
	MinConfidence       float64 `yaml:"min_confidence" mapstructure:"min_confidence"`
	MaxAdoption         int     `yaml:"max_adoption" mapstructure:"max_adoption"`
	MaxUpsell           int     `yaml:"max_upsell" mapstructure:"max_upsell"`
	SentimentGate       float64 `yaml:"sentiment_gate" mapstructure:"sentiment_gate"`
	UpsellPriceCeiling  float64 `yaml:"upsell_price_ceiling" mapstructure:"upsell_price_ceiling"`
	SafetyParallelism   int     `yaml:"safety_parallelism" mapstructure:"safety_parallelism"`
	DeclinedWindowDays  int     `yaml:"declined_window_days" mapstructure:"declined_window_days"`
	AcceptedWindowDays  int     `yaml:"accepted_window_days" mapstructure:"accepted_window_days"`
	NearMatchWindowDays int     `yaml:"near_match_window_days" mapstructure:"near_match_window_days"`
	ProfileTTLSecs      int     `yaml:"profile_ttl_secs" mapstructure:"profile_ttl_secs"`
	TrendsTTLSecs       int     `yaml:"trends_ttl_secs" mapstructure:"trends_ttl_secs"`
}

// Options converts the config section into pipeline options.
func (c PipelineConfig) Options() pipeline.Options {
	return pipeline.Options{
		Deadline:            time.Duration(c.DeadlineMS) * time.Millisecond,
		UsageWindowDays:     c.UsageWindowDays,
		InteractionMonths:   c.InteractionMonths,
		KnowledgeTopK:       c.KnowledgeTopK,
		SimilarityThreshold: c.SimilarityThreshold,
		MinConfidence:       c.MinConfidence,
		MaxAdoption:         c.MaxAdoption,
		MaxUpsell:           c.MaxUpsell,
		SentimentGate:       c.SentimentGate,
		UpsellPriceCeiling:  c.UpsellPriceCeiling,
		SafetyParallelism:   c.SafetyParallelism,
		DeclinedWindowDays:  c.DeclinedWindowDays,
		AcceptedWindowDays:  c.AcceptedWindowDays,
		NearMatchWindowDays: c.NearMatchWindowDays,
		ProfileTTL:          time.Duration(c.ProfileTTLSecs) * time.Second,
		TrendsTTL:           time.Duration(c.TrendsTTLSecs) * time.Second,
	}
}

// ResilienceConfig configures the shared circuit breaker policy.
type ResilienceConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	CoolDownSecs     int `yaml:"cooldown_secs" mapstructure:"cooldown_secs"`
	CallTimeoutMS    int `yaml:"call_timeout_ms" mapstructure:"call_timeout_ms"`
}

// Breaker converts the config section into a circuit breaker config.
func (c ResilienceConfig) Breaker() resilience.CircuitBreakerConfig {
	return resilience.FromCircuitConfig(c.FailureThreshold, c.CoolDownSecs)
}

// CallTimeout returns the per-call timeout, zero meaning none.
func (c ResilienceConfig) CallTimeout() time.Duration {
	return time.Duration(c.CallTimeoutMS) * time.Millisecond
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port            int `yaml:"port" mapstructure:"port"`
	ShutdownSecs    int `yaml:"shutdown_secs" mapstructure:"shutdown_secs"`
	ReadTimeoutSecs int `yaml:"read_timeout_secs" mapstructure:"read_timeout_secs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Validate checks that the configuration is usable for the given mode.
// Mode "run" covers one-shot pipeline invocations; "serve" additionally
// checks the HTTP server settings; "query" covers read-only store access.
func (c *Config) Validate(mode string) error {
	var problems []string

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		problems = append(problems, fmt.Sprintf("store.driver must be sqlite or postgres, got %q", c.Store.Driver))
	}
	if c.Store.DatabaseURL == "" {
		problems = append(problems, "store.database_url is required")
	}

	switch mode {
	case "query":
		// Store checks above are all a read-only command needs.
	case "run", "serve":
		if c.Telemetry.Key == "" {
			problems = append(problems, "telemetry.key is required")
		}
		if c.Knowledge.Key == "" {
			problems = append(problems, "knowledge.key is required")
		}
		if c.CRM.Key == "" {
			problems = append(problems, "crm.key is required")
		}
		switch c.Safety.Provider {
		case "api":
			if c.Safety.Key == "" {
				problems = append(problems, "safety.key is required when safety.provider is api")
			}
		case "wordlist":
		default:
			problems = append(problems, fmt.Sprintf("safety.provider must be api or wordlist, got %q", c.Safety.Provider))
		}
		if c.Pipeline.MinConfidence < 0 || c.Pipeline.MinConfidence > 1 {
			problems = append(problems, "pipeline.min_confidence must be between 0 and 1")
		}
		if c.Pipeline.SimilarityThreshold < 0 || c.Pipeline.SimilarityThreshold > 1 {
			problems = append(problems, "pipeline.similarity_threshold must be between 0 and 1")
		}
		if c.Pipeline.SentimentGate < -1 || c.Pipeline.SentimentGate > 0 {
			problems = append(problems, "pipeline.sentiment_gate must be between -1 and 0")
		}
		if c.Pipeline.SafetyParallelism < 0 || c.Pipeline.SafetyParallelism > 32 {
			problems = append(problems, "pipeline.safety_parallelism must be between 0 and 32")
		}
		if mode == "serve" && c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("ADVISOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "advisor.db")
	v.SetDefault("store.pool.max_conns", 10)
	v.SetDefault("store.pool.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_secs", 10)
	v.SetDefault("server.read_timeout_secs", 15)
	v.SetDefault("telemetry.base_url", "https://telemetry.adviseriq.io")
	v.SetDefault("telemetry.rate_rps", 10)
	v.SetDefault("telemetry.rate_burst", 20)
	v.SetDefault("knowledge.base_url", "https://kb.adviseriq.io")
	v.SetDefault("knowledge.rate_rps", 10)
	v.SetDefault("knowledge.rate_burst", 20)
	v.SetDefault("crm.base_url", "https://crm.adviseriq.io")
	v.SetDefault("crm.rate_rps", 10)
	v.SetDefault("crm.rate_burst", 20)
	v.SetDefault("safety.provider", "api")
	v.SetDefault("safety.base_url", "https://safety.adviseriq.io")
	v.SetDefault("pipeline.deadline_ms", 2000)
	v.SetDefault("pipeline.usage_window_days", 90)
	v.SetDefault("pipeline.interaction_months", 12)
	v.SetDefault("pipeline.knowledge_top_k", 8)
	v.SetDefault("pipeline.similarity_threshold", 0.8)
	v.SetDefault("pipeline.min_confidence", 0.6)
	v.SetDefault("pipeline.max_adoption", 5)
	v.SetDefault("pipeline.max_upsell", 3)
	v.SetDefault("pipeline.sentiment_gate", -0.3)
	v.SetDefault("pipeline.upsell_price_ceiling", 200)
	v.SetDefault("pipeline.safety_parallelism", 4)
	v.SetDefault("pipeline.declined_window_days", 90)
	v.SetDefault("pipeline.accepted_window_days", 30)
	v.SetDefault("pipeline.near_match_window_days", 30)
	v.SetDefault("pipeline.profile_ttl_secs", 300)
	v.SetDefault("pipeline.trends_ttl_secs", 3600)
	v.SetDefault("resilience.failure_threshold", 5)
	v.SetDefault("resilience.cooldown_secs", 60)
	v.SetDefault("resilience.call_timeout_ms", 0)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.decline_rate_threshold", 0.5)
	v.SetDefault("monitoring.degraded_rate_threshold", 0.5)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
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
