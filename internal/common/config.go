package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Server      ServerConfig    `toml:"server"`
	Storage     StorageConfig   `toml:"storage"`
	Logging     LoggingConfig   `toml:"logging"`
	Crawler     CrawlerConfig   `toml:"crawler"`
	Robots      RobotsConfig    `toml:"robots"`
	Search      SearchConfig    `toml:"search"`
	Sessions    SessionsConfig  `toml:"sessions"`
	WebSocket   WebSocketConfig `toml:"websocket"`
	Scheduler   SchedulerConfig `toml:"scheduler"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

// CrawlerConfig contains service-level crawl behavior. Per-session limits
// (max pages, max depth, domain restriction) live in models.CrawlConfig and
// are supplied per request.
type CrawlerConfig struct {
	UserAgent          string        `toml:"user_agent"`           // Default user agent string
	RequestTimeout     time.Duration `toml:"request_timeout"`      // HTTP request timeout
	PolitenessDelay    time.Duration `toml:"politeness_delay"`     // Minimum delay between requests to same domain
	MaxBodySize        int           `toml:"max_body_size"`        // Maximum response body size in bytes
	MaxRetries         int           `toml:"max_retries"`          // Maximum retry attempts per URL
	RetryInitialDelay  time.Duration `toml:"retry_initial_delay"`  // Initial backoff duration for retries
	RetryMaxDelay      time.Duration `toml:"retry_max_delay"`      // Backoff cap
	RetryMultiplier    float64       `toml:"retry_multiplier"`     // Exponential backoff multiplier
	RateLimitBaseDelay time.Duration `toml:"rate_limit_base"`      // Base backoff after an HTTP 429
	FailureThreshold   int           `toml:"failure_threshold"`    // Consecutive failures before circuit opens
	CircuitOpenTime    time.Duration `toml:"circuit_open_time"`    // Initial circuit-breaker open duration
	CircuitOpenMax     time.Duration `toml:"circuit_open_max"`     // Circuit-breaker open duration cap
	VerifySSL          bool          `toml:"verify_ssl"`           // TLS certificate verification
	ContentPreviewSize int           `toml:"content_preview_size"` // Bytes of content kept when full storage is off
	BrowserlessURL     string        `toml:"browserless_url"`      // External headless-render endpoint (ws:// or http://)
	RenderTimeout      time.Duration `toml:"render_timeout"`       // Timeout for a single SPA render
	IdleSleep          time.Duration `toml:"idle_sleep"`           // Worker sleep when the frontier has only delayed URLs
	PaceSleep          time.Duration `toml:"pace_sleep"`           // Worker sleep between successful fetches
}

// RobotsConfig controls robots.txt handling
type RobotsConfig struct {
	Respect  bool          `toml:"respect"`   // Honor robots.txt disallow rules
	CacheTTL time.Duration `toml:"cache_ttl"` // Per-host robots.txt cache lifetime
}

// SearchConfig contains the external indexer connection
type SearchConfig struct {
	RedisURI  string `toml:"redis_uri"`  // Indexer connection (redis://host:port)
	IndexName string `toml:"index_name"` // Index key prefix
}

// SessionsConfig bounds concurrent crawl sessions
type SessionsConfig struct {
	MaxConcurrent int           `toml:"max_concurrent"` // Session cap; startCrawl fails fast when hit
	ResultTTL     time.Duration `toml:"result_ttl"`     // How long finished session results are retained
	JanitorPeriod time.Duration `toml:"janitor_period"` // Sweep interval for terminated sessions
}

// WebSocketConfig contains configuration for WebSocket log streaming
type WebSocketConfig struct {
	MinLevel         string `toml:"min_level"`         // Minimum log level to broadcast ("debug", "info", "warning", "error")
	SubscriberBuffer int    `toml:"subscriber_buffer"` // Bounded per-subscriber queue; overflow drops oldest
	ProgressInterval string `toml:"progress_interval"` // Throttle interval for crawl_progress frames
}

// SchedulerConfig controls the background job runner and data retention
type SchedulerConfig struct {
	Enabled          bool          `toml:"enabled"`
	PollInterval     time.Duration `toml:"poll_interval"`     // Job queue poll cadence
	CleanupSchedule  string        `toml:"cleanup_schedule"`  // Cron expression for retention cleanup
	RetentionDays    int           `toml:"retention_days"`    // TTL for crawl logs and finished jobs
	WorkerID         string        `toml:"worker_id"`         // Identifier recorded on dequeued jobs
	DequeueBatchSize int           `toml:"dequeue_batch_size"`
}

// NewDefaultConfig creates a configuration with default values.
// Technical parameters are hardcoded here for production stability; only
// user-facing settings should be exposed in reperio.toml.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 3000,
			Host: "localhost",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout", "file"},
		},
		Crawler: CrawlerConfig{
			UserAgent:          "Mozilla/5.0 (compatible; ReperioBot/1.0; +https://github.com/ternarybob/reperio)",
			RequestTimeout:     30 * time.Second,
			PolitenessDelay:    1 * time.Second,
			MaxBodySize:        10 * 1024 * 1024, // 10MB
			MaxRetries:         3,
			RetryInitialDelay:  1 * time.Second,
			RetryMaxDelay:      5 * time.Minute,
			RetryMultiplier:    2.0,
			RateLimitBaseDelay: 60 * time.Second,
			FailureThreshold:   5,
			CircuitOpenTime:    60 * time.Second,
			CircuitOpenMax:     30 * time.Minute,
			VerifySSL:          true,
			ContentPreviewSize: 500,
			BrowserlessURL:     "",
			RenderTimeout:      45 * time.Second,
			IdleSleep:          500 * time.Millisecond,
			PaceSleep:          50 * time.Millisecond,
		},
		Robots: RobotsConfig{
			Respect:  true,
			CacheTTL: 24 * time.Hour,
		},
		Search: SearchConfig{
			RedisURI:  "redis://localhost:6379",
			IndexName: "search_index",
		},
		Sessions: SessionsConfig{
			MaxConcurrent: 8,
			ResultTTL:     1 * time.Hour,
			JanitorPeriod: 1 * time.Minute,
		},
		WebSocket: WebSocketConfig{
			MinLevel:         "info",
			SubscriberBuffer: 256,
			ProgressInterval: "1s",
		},
		Scheduler: SchedulerConfig{
			Enabled:          true,
			PollInterval:     1 * time.Second,
			CleanupSchedule:  "0 0 3 * * *", // 03:00 daily
			RetentionDays:    90,
			WorkerID:         "",
			DequeueBatchSize: 1,
		},
	}
}

// LoadFromFiles loads configuration from defaults, then TOML files in order
// (later files override earlier ones), then environment variables.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides maps recognized environment variables onto the config
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			config.Server.Port = port
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		config.Storage.Badger.Path = v
	}
	if v := os.Getenv("SEARCH_REDIS_URI"); v != "" {
		config.Search.RedisURI = v
	}
	if v := os.Getenv("SEARCH_INDEX_NAME"); v != "" {
		config.Search.IndexName = v
	}
	if v := os.Getenv("BROWSERLESS_URL"); v != "" {
		config.Crawler.BrowserlessURL = v
	}
	if v := os.Getenv("CRAWL_MAX_SESSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.Sessions.MaxConcurrent = n
		}
	}
	if v := os.Getenv("CRAWL_DEFAULT_UA"); v != "" {
		config.Crawler.UserAgent = v
	}
	if v := os.Getenv("ROBOTS_CACHE_TTL_SECONDS"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			config.Robots.CacheTTL = time.Duration(secs) * time.Second
		}
	}
}

// ApplyFlagOverrides applies command-line flag values (highest priority)
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port != 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// Validate checks configuration invariants that would otherwise surface as
// confusing runtime failures.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port out of range: %d", c.Server.Port)
	}
	if c.Storage.Badger.Path == "" {
		return fmt.Errorf("storage path is required")
	}
	if c.Crawler.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be >= 0")
	}
	if c.Crawler.RetryMultiplier < 1.0 {
		return fmt.Errorf("retry_multiplier must be >= 1.0")
	}
	if c.Sessions.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent sessions must be >= 1")
	}
	return nil
}
