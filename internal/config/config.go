// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper. It is
// built once at startup and passed by value into each constructor; no
// component reads the environment directly.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Source    SourceConfig    `mapstructure:"source"`
	Scrape    ScrapeConfig    `mapstructure:"scrape"`
	DB        DBConfig        `mapstructure:"db"`
	Artifacts ArtifactsConfig `mapstructure:"artifacts"`
	Publisher PublisherConfig `mapstructure:"publisher"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// SourceConfig identifies the content-ranking site being scraped.
type SourceConfig struct {
	BaseURL      string  `mapstructure:"base_url"`
	DefaultCount int     `mapstructure:"default_count"`
	UserAgent    string  `mapstructure:"user_agent"`
	NavQPS       float64 `mapstructure:"nav_qps"`
	TitleMarker  string  `mapstructure:"title_marker"`
}

// ScrapeConfig governs retry ceilings, per-step timeouts, and enrichment
// concurrency for the pipeline.
type ScrapeConfig struct {
	RetryMaxAttempts      int `mapstructure:"retry_max_attempts"`
	SessionTimeoutSeconds int `mapstructure:"session_timeout_seconds"`
	NavTimeoutSeconds     int `mapstructure:"nav_timeout_seconds"`
	ParseTimeoutSeconds   int `mapstructure:"parse_timeout_seconds"`
	EnrichTimeoutSeconds  int `mapstructure:"enrich_timeout_seconds"`
	PersistTimeoutSeconds int `mapstructure:"persist_timeout_seconds"`
	EnrichConcurrency     int `mapstructure:"enrich_concurrency"`
	TopReplyMaxChars      int `mapstructure:"top_reply_max_chars"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	Provider string `mapstructure:"provider"`
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// ArtifactsConfig sets where diagnostic snapshots are written.
type ArtifactsConfig struct {
	Provider  string `mapstructure:"provider"`
	Dir       string `mapstructure:"dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
}

// PublisherConfig holds metadata for run-completion notifications.
type PublisherConfig struct {
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HNINGEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("source.default_count", 10)
	v.SetDefault("source.user_agent", "hn-ingest-bot/0.1")
	v.SetDefault("source.nav_qps", 1.0)
	v.SetDefault("source.title_marker", "Hacker News")
	v.SetDefault("scrape.retry_max_attempts", 3)
	v.SetDefault("scrape.session_timeout_seconds", 60)
	v.SetDefault("scrape.nav_timeout_seconds", 60)
	v.SetDefault("scrape.parse_timeout_seconds", 120)
	v.SetDefault("scrape.enrich_timeout_seconds", 30)
	v.SetDefault("scrape.persist_timeout_seconds", 30)
	v.SetDefault("scrape.enrich_concurrency", 4)
	v.SetDefault("scrape.top_reply_max_chars", 2000)
	v.SetDefault("db.provider", "memory")
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("artifacts.provider", "local")
	v.SetDefault("artifacts.dir", "artifacts")
	v.SetDefault("publisher.provider", "memory")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Source.BaseURL == "" {
		return fmt.Errorf("source.base_url is required")
	}
	if c.Source.DefaultCount <= 0 {
		return fmt.Errorf("source.default_count must be > 0")
	}
	if c.Scrape.RetryMaxAttempts <= 0 {
		return fmt.Errorf("scrape.retry_max_attempts must be > 0")
	}
	if c.Scrape.EnrichConcurrency <= 0 {
		return fmt.Errorf("scrape.enrich_concurrency must be > 0")
	}
	for name, secs := range map[string]int{
		"scrape.session_timeout_seconds": c.Scrape.SessionTimeoutSeconds,
		"scrape.nav_timeout_seconds":     c.Scrape.NavTimeoutSeconds,
		"scrape.parse_timeout_seconds":   c.Scrape.ParseTimeoutSeconds,
		"scrape.enrich_timeout_seconds":  c.Scrape.EnrichTimeoutSeconds,
		"scrape.persist_timeout_seconds": c.Scrape.PersistTimeoutSeconds,
	} {
		if secs <= 0 {
			return fmt.Errorf("%s must be > 0", name)
		}
	}
	switch c.DB.Provider {
	case "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn is required when db.provider is postgres")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown db.provider %q", c.DB.Provider)
	}
	switch c.Artifacts.Provider {
	case "local", "noop":
	case "gcs":
		if c.Artifacts.GCSBucket == "" {
			return fmt.Errorf("artifacts.gcs_bucket is required when artifacts.provider is gcs")
		}
	default:
		return fmt.Errorf("unknown artifacts.provider %q", c.Artifacts.Provider)
	}
	switch c.Publisher.Provider {
	case "memory", "noop":
	case "pubsub":
		if c.Publisher.ProjectID == "" || c.Publisher.Topic == "" {
			return fmt.Errorf("publisher.project_id and publisher.topic are required when publisher.provider is pubsub")
		}
	default:
		return fmt.Errorf("unknown publisher.provider %q", c.Publisher.Provider)
	}
	return nil
}

// SessionTimeout returns the session launch budget as a duration.
func (c ScrapeConfig) SessionTimeout() time.Duration {
	return time.Duration(c.SessionTimeoutSeconds) * time.Second
}

// NavTimeout returns the listing navigation budget as a duration.
func (c ScrapeConfig) NavTimeout() time.Duration {
	return time.Duration(c.NavTimeoutSeconds) * time.Second
}

// ParseTimeout returns the listing collection budget as a duration.
func (c ScrapeConfig) ParseTimeout() time.Duration {
	return time.Duration(c.ParseTimeoutSeconds) * time.Second
}

// EnrichTimeout returns the per-item enrichment budget as a duration.
func (c ScrapeConfig) EnrichTimeout() time.Duration {
	return time.Duration(c.EnrichTimeoutSeconds) * time.Second
}

// PersistTimeout returns the batch persistence budget as a duration.
func (c ScrapeConfig) PersistTimeout() time.Duration {
	return time.Duration(c.PersistTimeoutSeconds) * time.Second
}
