// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Browserless BrowserlessConfig `mapstructure:"browserless"`
	Fetch       FetchConfig       `mapstructure:"fetch"`
	Crawl       CrawlConfig       `mapstructure:"crawl"`
	Store       StoreConfig       `mapstructure:"store"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
	Archive     ArchiveConfig     `mapstructure:"archive"`
	Events      EventsConfig      `mapstructure:"events"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// BrowserlessConfig points at the external rendering service.
type BrowserlessConfig struct {
	Endpoint       string `mapstructure:"endpoint"`
	APIKey         string `mapstructure:"api_key"`
	NavTimeoutSec  int    `mapstructure:"nav_timeout_seconds"`
	MaxRetries     int    `mapstructure:"max_retries"`
	RequestTimeout int    `mapstructure:"request_timeout_seconds"`
}

// FetchConfig selects the rendering tier and the optional static probe.
type FetchConfig struct {
	// Renderer is "browserless" or "chromedp".
	Renderer   string `mapstructure:"renderer"`
	ProbeFirst bool   `mapstructure:"probe_first"`
	UserAgent  string `mapstructure:"user_agent"`
}

// CrawlConfig governs batching and pacing of the page loop.
type CrawlConfig struct {
	PagesPerBatch int `mapstructure:"pages_per_batch"`
	PageDelayMs   int `mapstructure:"page_delay_ms"`
}

// StoreConfig controls access to the durable job/review store.
type StoreConfig struct {
	// Provider is "postgres" or "memory".
	Provider string `mapstructure:"provider"`
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// SchedulerConfig bounds the recurring agent runner.
type SchedulerConfig struct {
	PollIntervalSec int    `mapstructure:"poll_interval_seconds"`
	MaxPollAttempts int    `mapstructure:"max_poll_attempts"`
	Timezone        string `mapstructure:"timezone"`
	Cron            string `mapstructure:"cron"`
}

// ArchiveConfig sets the raw-HTML archive backend.
type ArchiveConfig struct {
	// Provider is "noop", "fs" or "gcs".
	Provider  string `mapstructure:"provider"`
	Dir       string `mapstructure:"dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// EventsConfig holds metadata for crawl lifecycle notifications.
type EventsConfig struct {
	// Provider is "noop", "memory" or "pubsub".
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SHOPIFY")
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
	v.SetDefault("logging.development", true)
	v.SetDefault("browserless.endpoint", "https://chrome.browserless.io/content")
	// Secrets and optional values default empty so AutomaticEnv binds them.
	v.SetDefault("browserless.api_key", "")
	v.SetDefault("store.dsn", "")
	v.SetDefault("archive.dir", "")
	v.SetDefault("archive.gcs_bucket", "")
	v.SetDefault("events.project_id", "")
	v.SetDefault("events.topic_name", "")
	v.SetDefault("browserless.nav_timeout_seconds", 30)
	v.SetDefault("browserless.max_retries", 2)
	v.SetDefault("browserless.request_timeout_seconds", 45)
	v.SetDefault("fetch.renderer", "browserless")
	v.SetDefault("fetch.probe_first", false)
	v.SetDefault("fetch.user_agent", "shopify-review-bot/0.1")
	v.SetDefault("crawl.pages_per_batch", 30)
	v.SetDefault("crawl.page_delay_ms", 1000)
	v.SetDefault("store.provider", "postgres")
	v.SetDefault("store.max_conns", 4)
	v.SetDefault("scheduler.poll_interval_seconds", 5)
	v.SetDefault("scheduler.max_poll_attempts", 120)
	v.SetDefault("scheduler.timezone", "America/New_York")
	v.SetDefault("scheduler.cron", "0 6 * * *")
	v.SetDefault("archive.provider", "noop")
	v.SetDefault("archive.prefix", "pages")
	v.SetDefault("events.provider", "noop")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	switch c.Fetch.Renderer {
	case "browserless", "chromedp":
	default:
		return fmt.Errorf("fetch.renderer must be browserless or chromedp, got %q", c.Fetch.Renderer)
	}
	if c.Crawl.PagesPerBatch <= 0 {
		return fmt.Errorf("crawl.pages_per_batch must be > 0")
	}
	if c.Crawl.PageDelayMs < 0 {
		return fmt.Errorf("crawl.page_delay_ms must be >= 0")
	}
	switch c.Store.Provider {
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required when store.provider is postgres")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown store.provider %q", c.Store.Provider)
	}
	if c.Scheduler.PollIntervalSec <= 0 {
		return fmt.Errorf("scheduler.poll_interval_seconds must be > 0")
	}
	if c.Scheduler.MaxPollAttempts <= 0 {
		return fmt.Errorf("scheduler.max_poll_attempts must be > 0")
	}
	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		return fmt.Errorf("scheduler.timezone: %w", err)
	}
	if c.Archive.Provider == "gcs" && c.Archive.GCSBucket == "" {
		return fmt.Errorf("archive.gcs_bucket is required when archive.provider is gcs")
	}
	if c.Events.Provider == "pubsub" && (c.Events.ProjectID == "" || c.Events.TopicName == "") {
		return fmt.Errorf("events.project_id and events.topic_name are required when events.provider is pubsub")
	}
	return nil
}

// PageDelay converts the inter-page delay config into a duration.
func (c CrawlConfig) PageDelay() time.Duration {
	return time.Duration(c.PageDelayMs) * time.Millisecond
}

// PollInterval converts the completion-poll interval into a duration.
func (c SchedulerConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSec) * time.Second
}
