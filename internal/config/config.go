// Package config loads crawler configuration from file, environment and defaults.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/gamesdb-crawler/internal/crawler"
)

// EnvPrefix namespaces environment overrides, e.g. GAMESDB_CRAWL_CONCURRENCY.
const EnvPrefix = "GAMESDB"

// DefaultTargetName and DefaultStartURL describe the target used when none are configured.
const (
	DefaultTargetName = "nes"
	DefaultStartURL   = "https://thegamesdb.net/list_games.php?platform_id=7"
)

// Fetcher modes.
const (
	FetcherModeColly    = "colly"
	FetcherModeHeadless = "headless"
)

// Checkpoint backends.
const (
	CheckpointFile     = "file"
	CheckpointPostgres = "postgres"
	CheckpointRedis    = "redis"
	CheckpointMemory   = "memory"
)

// Sink formats.
const (
	SinkCSV    = "csv"
	SinkJSONL  = "jsonl"
	SinkPubSub = "pubsub"
)

// Storage backends for the raw page archive.
const (
	StorageLocal  = "local"
	StorageGCS    = "gcs"
	StorageMemory = "memory"
)

// Config captures all runtime settings.
type Config struct {
	Logging    LoggingConfig           `mapstructure:"logging"`
	Fetcher    FetcherConfig           `mapstructure:"fetcher"`
	Crawl      CrawlConfig             `mapstructure:"crawl"`
	Checkpoint CheckpointConfig        `mapstructure:"checkpoint"`
	Sink       SinkConfig              `mapstructure:"sink"`
	Storage    StorageConfig           `mapstructure:"storage"`
	Metrics    MetricsConfig           `mapstructure:"metrics"`
	Targets    map[string]TargetConfig `mapstructure:"targets"`
}

// LoggingConfig controls zap setup.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// FetcherConfig controls the transport, retry policy and politeness limiter.
type FetcherConfig struct {
	Mode           string        `mapstructure:"mode"`
	UserAgent      string        `mapstructure:"user_agent"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	BackoffBase    time.Duration `mapstructure:"backoff_base"`
	BackoffMax     time.Duration `mapstructure:"backoff_max"`
	RatePerSecond  float64       `mapstructure:"rate_per_second"`
	Burst          int           `mapstructure:"burst"`
	RespectRobots  bool          `mapstructure:"respect_robots"`
	MaxBodyBytes   int           `mapstructure:"max_body_bytes"`
	HeadlessTabs   int           `mapstructure:"headless_tabs"`
}

// CrawlConfig controls the orchestrator.
type CrawlConfig struct {
	Concurrency    int    `mapstructure:"concurrency"`
	StateDir       string `mapstructure:"state_dir"`
	OutputDir      string `mapstructure:"output_dir"`
	EmitFailedRows bool   `mapstructure:"emit_failed_rows"`
	ReuseListing   bool   `mapstructure:"reuse_listing"`
	MaxPages       int    `mapstructure:"max_pages"`
	ArchiveRaw     bool   `mapstructure:"archive_raw"`
}

// CheckpointConfig selects the checkpoint backend.
type CheckpointConfig struct {
	Backend       string `mapstructure:"backend"`
	DSN           string `mapstructure:"dsn"`
	Table         string `mapstructure:"table"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
}

// SinkConfig selects where records are written.
type SinkConfig struct {
	Formats       []string `mapstructure:"formats"`
	PubSubProject string   `mapstructure:"pubsub_project"`
	PubSubTopic   string   `mapstructure:"pubsub_topic"`
}

// StorageConfig controls the raw page archive.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// MetricsConfig controls the metrics and status listener.
type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// TargetConfig describes one crawl target. Zero-valued knobs inherit the
// global fetcher and crawl settings.
type TargetConfig struct {
	StartURL       string        `mapstructure:"start_url"`
	PageParam      string        `mapstructure:"page_param"`
	Concurrency    int           `mapstructure:"concurrency"`
	MaxPages       int           `mapstructure:"max_pages"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	BackoffBase    time.Duration `mapstructure:"backoff_base"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// Target is a TargetConfig with global defaults applied.
type Target struct {
	Name           string
	StartURL       string
	PageParam      string
	Concurrency    int
	MaxPages       int
	MaxAttempts    int
	BackoffBase    time.Duration
	BackoffMax     time.Duration
	RequestTimeout time.Duration
}

// Load reads configuration from file (optional), env, and defaults.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
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
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if len(cfg.Targets) == 0 {
		cfg.Targets = map[string]TargetConfig{
			DefaultTargetName: {StartURL: DefaultStartURL},
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")

	v.SetDefault("fetcher.mode", FetcherModeColly)
	v.SetDefault("fetcher.user_agent", "gamesdb-crawler/1.0 (+https://github.com/JakeFAU/gamesdb-crawler)")
	v.SetDefault("fetcher.request_timeout", 15*time.Second)
	v.SetDefault("fetcher.max_attempts", 3)
	v.SetDefault("fetcher.backoff_base", time.Second)
	v.SetDefault("fetcher.backoff_max", 30*time.Second)
	v.SetDefault("fetcher.rate_per_second", 3.0)
	v.SetDefault("fetcher.burst", 1)
	v.SetDefault("fetcher.respect_robots", true)
	v.SetDefault("fetcher.max_body_bytes", 5*1024*1024)
	v.SetDefault("fetcher.headless_tabs", 2)

	v.SetDefault("crawl.concurrency", 10)
	v.SetDefault("crawl.state_dir", "state")
	v.SetDefault("crawl.output_dir", "data")
	v.SetDefault("crawl.emit_failed_rows", false)
	v.SetDefault("crawl.reuse_listing", false)
	v.SetDefault("crawl.max_pages", 0)
	v.SetDefault("crawl.archive_raw", false)

	v.SetDefault("checkpoint.backend", CheckpointFile)
	v.SetDefault("checkpoint.dsn", "")
	v.SetDefault("checkpoint.table", "crawl_checkpoints")
	v.SetDefault("checkpoint.redis_addr", "localhost:6379")
	v.SetDefault("checkpoint.redis_password", "")
	v.SetDefault("checkpoint.redis_db", 0)

	v.SetDefault("sink.formats", []string{SinkCSV})
	v.SetDefault("sink.pubsub_project", "")
	v.SetDefault("sink.pubsub_topic", "")

	v.SetDefault("storage.backend", StorageLocal)
	v.SetDefault("storage.base_dir", "data/raw")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.prefix", "pages")

	v.SetDefault("metrics.listen_addr", "")
}

// Validate performs basic sanity checks.
func (c Config) Validate() error {
	var errs []error
	switch c.Fetcher.Mode {
	case FetcherModeColly:
	case FetcherModeHeadless:
		if c.Fetcher.HeadlessTabs <= 0 {
			errs = append(errs, errors.New("fetcher.headless_tabs must be > 0 in headless mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("fetcher.mode %q must be %q or %q", c.Fetcher.Mode, FetcherModeColly, FetcherModeHeadless))
	}
	if c.Fetcher.RequestTimeout <= 0 {
		errs = append(errs, errors.New("fetcher.request_timeout must be > 0"))
	}
	if c.Fetcher.MaxAttempts < 1 {
		errs = append(errs, errors.New("fetcher.max_attempts must be >= 1"))
	}
	if c.Fetcher.BackoffBase < 0 || c.Fetcher.BackoffMax < 0 {
		errs = append(errs, errors.New("fetcher.backoff_base and fetcher.backoff_max must be >= 0"))
	}
	if c.Fetcher.RatePerSecond < 0 {
		errs = append(errs, errors.New("fetcher.rate_per_second must be >= 0"))
	}
	if c.Fetcher.RatePerSecond > 0 && c.Fetcher.Burst < 1 {
		errs = append(errs, errors.New("fetcher.burst must be >= 1 when rate limiting"))
	}

	if c.Crawl.Concurrency <= 0 {
		errs = append(errs, errors.New("crawl.concurrency must be > 0"))
	}
	if c.Crawl.MaxPages < 0 {
		errs = append(errs, errors.New("crawl.max_pages must be >= 0"))
	}

	switch c.Checkpoint.Backend {
	case CheckpointFile, CheckpointMemory:
		if c.Checkpoint.Backend == CheckpointFile && c.Crawl.StateDir == "" {
			errs = append(errs, errors.New("crawl.state_dir is required for the file checkpoint backend"))
		}
	case CheckpointPostgres:
		if c.Checkpoint.DSN == "" {
			errs = append(errs, errors.New("checkpoint.dsn is required for the postgres backend"))
		}
	case CheckpointRedis:
		if c.Checkpoint.RedisAddr == "" {
			errs = append(errs, errors.New("checkpoint.redis_addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("checkpoint.backend %q is not supported", c.Checkpoint.Backend))
	}

	if len(c.Sink.Formats) == 0 {
		errs = append(errs, errors.New("sink.formats must list at least one format"))
	}
	for _, format := range c.Sink.Formats {
		switch format {
		case SinkCSV, SinkJSONL:
			if c.Crawl.OutputDir == "" {
				errs = append(errs, fmt.Errorf("crawl.output_dir is required for the %s sink", format))
			}
		case SinkPubSub:
			if c.Sink.PubSubProject == "" || c.Sink.PubSubTopic == "" {
				errs = append(errs, errors.New("sink.pubsub_project and sink.pubsub_topic are required for the pubsub sink"))
			}
		default:
			errs = append(errs, fmt.Errorf("sink.formats: unknown format %q", format))
		}
	}

	if c.Crawl.ArchiveRaw {
		switch c.Storage.Backend {
		case StorageLocal:
			if c.Storage.BaseDir == "" {
				errs = append(errs, errors.New("storage.base_dir is required for the local archive"))
			}
		case StorageGCS:
			if c.Storage.GCSBucket == "" {
				errs = append(errs, errors.New("storage.gcs_bucket is required for the gcs archive"))
			}
		case StorageMemory:
		default:
			errs = append(errs, fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend))
		}
	}

	for name, target := range c.Targets {
		errs = append(errs, validateTarget(name, target)...)
	}
	return errors.Join(errs...)
}

func validateTarget(name string, target TargetConfig) []error {
	var errs []error
	if err := crawler.ValidateTarget(name); err != nil {
		errs = append(errs, fmt.Errorf("targets.%s: %w", name, err))
	}
	u, err := url.Parse(target.StartURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("targets.%s.start_url must be an absolute http(s) URL", name))
	}
	if target.Concurrency < 0 || target.MaxPages < 0 || target.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("targets.%s: concurrency, max_pages and max_attempts must be >= 0", name))
	}
	if target.BackoffBase < 0 || target.RequestTimeout < 0 {
		errs = append(errs, fmt.Errorf("targets.%s: durations must be >= 0", name))
	}
	return errs
}

// TargetNames returns configured target names in sorted order.
func (c Config) TargetNames() []string {
	names := make([]string, 0, len(c.Targets))
	for name := range c.Targets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Target resolves a named target against the global settings.
func (c Config) Target(name string) (Target, error) {
	tc, ok := c.Targets[name]
	if !ok {
		// viper lowercases map keys.
		tc, ok = c.Targets[strings.ToLower(name)]
		name = strings.ToLower(name)
	}
	if !ok {
		return Target{}, fmt.Errorf("unknown target %q (configured: %s)", name, strings.Join(c.TargetNames(), ", "))
	}
	t := Target{
		Name:           name,
		StartURL:       tc.StartURL,
		PageParam:      tc.PageParam,
		Concurrency:    firstPositive(tc.Concurrency, c.Crawl.Concurrency),
		MaxPages:       firstPositive(tc.MaxPages, c.Crawl.MaxPages),
		MaxAttempts:    firstPositive(tc.MaxAttempts, c.Fetcher.MaxAttempts),
		BackoffBase:    firstPositive(tc.BackoffBase, c.Fetcher.BackoffBase),
		BackoffMax:     c.Fetcher.BackoffMax,
		RequestTimeout: firstPositive(tc.RequestTimeout, c.Fetcher.RequestTimeout),
	}
	return t, nil
}

func firstPositive[T int | time.Duration](values ...T) T {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	var zero T
	return zero
}
