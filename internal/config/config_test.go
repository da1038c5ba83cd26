package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, FetcherModeColly, cfg.Fetcher.Mode)
	assert.Equal(t, 15*time.Second, cfg.Fetcher.RequestTimeout)
	assert.Equal(t, 3, cfg.Fetcher.MaxAttempts)
	assert.Equal(t, 10, cfg.Crawl.Concurrency)
	assert.Equal(t, CheckpointFile, cfg.Checkpoint.Backend)
	assert.Equal(t, []string{SinkCSV}, cfg.Sink.Formats)
	assert.Equal(t, []string{DefaultTargetName}, cfg.TargetNames())

	target, err := cfg.Target(DefaultTargetName)
	require.NoError(t, err)
	assert.Equal(t, DefaultStartURL, target.StartURL)
	assert.Equal(t, 10, target.Concurrency)
	assert.Equal(t, 3, target.MaxAttempts)
}

func TestLoadFileOverrides(t *testing.T) {
	path := writeConfig(t, `
fetcher:
  mode: headless
  request_timeout: 20s
  max_attempts: 5
  backoff_base: 250ms
crawl:
  concurrency: 6
  emit_failed_rows: true
checkpoint:
  backend: redis
  redis_addr: "127.0.0.1:6380"
sink:
  formats: [csv, jsonl]
targets:
  snes:
    start_url: "https://thegamesdb.net/list_games.php?platform_id=6"
    concurrency: 2
    request_timeout: 5s
  nes:
    start_url: "https://thegamesdb.net/list_games.php?platform_id=7"
    page_param: p
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, FetcherModeHeadless, cfg.Fetcher.Mode)
	assert.True(t, cfg.Crawl.EmitFailedRows)
	assert.Equal(t, CheckpointRedis, cfg.Checkpoint.Backend)
	assert.Equal(t, []string{SinkCSV, SinkJSONL}, cfg.Sink.Formats)
	assert.Equal(t, []string{"nes", "snes"}, cfg.TargetNames())

	snes, err := cfg.Target("snes")
	require.NoError(t, err)
	assert.Equal(t, 2, snes.Concurrency)
	assert.Equal(t, 5*time.Second, snes.RequestTimeout)
	assert.Equal(t, 5, snes.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, snes.BackoffBase)

	nes, err := cfg.Target("NES")
	require.NoError(t, err)
	assert.Equal(t, "nes", nes.Name)
	assert.Equal(t, "p", nes.PageParam)
	assert.Equal(t, 6, nes.Concurrency)
	assert.Equal(t, 20*time.Second, nes.RequestTimeout)

	_, err = cfg.Target("genesis")
	require.ErrorContains(t, err, "unknown target")
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("GAMESDB_CRAWL_CONCURRENCY", "7")
	t.Setenv("GAMESDB_FETCHER_MAX_ATTEMPTS", "2")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Crawl.Concurrency)
	assert.Equal(t, 2, cfg.Fetcher.MaxAttempts)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "read config")
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	path := writeConfig(t, `
crawl:
  concurrency: 0
`)
	_, err := Load(path)
	require.ErrorContains(t, err, "crawl.concurrency")
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Fetcher: FetcherConfig{
			Mode:           FetcherModeColly,
			RequestTimeout: time.Second,
			MaxAttempts:    1,
		},
		Crawl:      CrawlConfig{Concurrency: 1, StateDir: "state", OutputDir: "data"},
		Checkpoint: CheckpointConfig{Backend: CheckpointFile},
		Sink:       SinkConfig{Formats: []string{SinkCSV}},
		Targets: map[string]TargetConfig{
			"nes": {StartURL: DefaultStartURL},
		},
	}
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{
			name:   "unknown fetcher mode",
			mutate: func(c *Config) { c.Fetcher.Mode = "curl" },
			want:   "fetcher.mode",
		},
		{
			name: "headless without tabs",
			mutate: func(c *Config) {
				c.Fetcher.Mode = FetcherModeHeadless
				c.Fetcher.HeadlessTabs = 0
			},
			want: "fetcher.headless_tabs",
		},
		{
			name:   "zero attempts",
			mutate: func(c *Config) { c.Fetcher.MaxAttempts = 0 },
			want:   "fetcher.max_attempts",
		},
		{
			name:   "zero timeout",
			mutate: func(c *Config) { c.Fetcher.RequestTimeout = 0 },
			want:   "fetcher.request_timeout",
		},
		{
			name:   "rate without burst",
			mutate: func(c *Config) { c.Fetcher.RatePerSecond = 2 },
			want:   "fetcher.burst",
		},
		{
			name:   "zero concurrency",
			mutate: func(c *Config) { c.Crawl.Concurrency = 0 },
			want:   "crawl.concurrency",
		},
		{
			name:   "postgres without dsn",
			mutate: func(c *Config) { c.Checkpoint.Backend = CheckpointPostgres },
			want:   "checkpoint.dsn",
		},
		{
			name:   "unknown checkpoint backend",
			mutate: func(c *Config) { c.Checkpoint.Backend = "sqlite" },
			want:   "checkpoint.backend",
		},
		{
			name:   "pubsub without topic",
			mutate: func(c *Config) { c.Sink.Formats = []string{SinkPubSub} },
			want:   "sink.pubsub_topic",
		},
		{
			name:   "unknown sink",
			mutate: func(c *Config) { c.Sink.Formats = []string{"xml"} },
			want:   "unknown format",
		},
		{
			name: "gcs archive without bucket",
			mutate: func(c *Config) {
				c.Crawl.ArchiveRaw = true
				c.Storage.Backend = StorageGCS
			},
			want: "storage.gcs_bucket",
		},
		{
			name: "target name with path separator",
			mutate: func(c *Config) {
				c.Targets = map[string]TargetConfig{"../nes": {StartURL: DefaultStartURL}}
			},
			want: "targets.../nes",
		},
		{
			name: "relative start url",
			mutate: func(c *Config) {
				c.Targets = map[string]TargetConfig{"nes": {StartURL: "/list_games.php"}}
			},
			want: "targets.nes.start_url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			cfg.Sink.Formats = append([]string(nil), base.Sink.Formats...)
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.want)
		})
	}
}
