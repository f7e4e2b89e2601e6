// Package config loads the application configuration of the convpath
// service from defaults, an optional TOML file and CONVPATH_ environment
// variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/compaction"
	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/maintenance"
)

// EnvPrefix prefixes every environment override. A double underscore
// separates sections: CONVPATH_DATABASE__URL sets database.url.
const EnvPrefix = "CONVPATH_"

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid configuration")

// Database drivers
const (
	DriverPgx         = "pgx"
	DriverDatabaseSQL = "database_sql"
)

// Config represents the application configuration
type Config struct {
	Database   DatabaseConfig   `koanf:"database"`
	Server     ServerConfig     `koanf:"server"`
	Log        LogConfig        `koanf:"log"`
	Anthropic  AnthropicConfig  `koanf:"anthropic"`
	Compaction CompactionConfig `koanf:"compaction"`
	Jobs       JobsConfig       `koanf:"jobs"`
	Redis      RedisConfig      `koanf:"redis"`
	Queue      QueueConfig      `koanf:"queue"`
}

type DatabaseConfig struct {
	URL         string        `koanf:"url"`
	Driver      string        `koanf:"driver"`
	MaxConns    int           `koanf:"max_conns"`
	LockTimeout time.Duration `koanf:"lock_timeout"`
	// Notify broadcasts change events over Postgres LISTEN/NOTIFY.
	Notify bool `koanf:"notify"`
}

type ServerConfig struct {
	Addr            string        `koanf:"addr"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	MetricsPath     string        `koanf:"metrics_path"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type AnthropicConfig struct {
	APIKey              string  `koanf:"api_key"`
	SummarizerModel     string  `koanf:"summarizer_model"`
	SummarizerMaxTokens int     `koanf:"summarizer_max_tokens"`
	SummarizerRateLimit float64 `koanf:"summarizer_rate_limit"`
	UseTokenCountingAPI bool    `koanf:"use_token_counting_api"`
}

type CompactionConfig struct {
	Strategy         string  `koanf:"strategy"`
	TokenThreshold   int     `koanf:"token_threshold"`
	TargetTokenRatio float64 `koanf:"target_token_ratio"`
	WindowSize       int     `koanf:"window_size"`
	PreserveLastN    int     `koanf:"preserve_last_n"`
	MinClusterSize   int     `koanf:"min_cluster_size"`
	ClusterMaxTokens int     `koanf:"cluster_max_tokens"`
	Model            string  `koanf:"model"`
	CreateSnapshots  bool    `koanf:"create_snapshots"`
}

type JobsConfig struct {
	// CompactionSchedule is a duration or cron expression. Empty disables the job.
	CompactionSchedule string        `koanf:"compaction_schedule"`
	ReapSchedule       string        `koanf:"reap_schedule"`
	BatchSize          int           `koanf:"batch_size"`
	Concurrency        int           `koanf:"concurrency"`
	AllPaths           bool          `koanf:"all_paths"`
	DryRun             bool          `koanf:"dry_run"`
	SnapshotRetention  time.Duration `koanf:"snapshot_retention"`
	LeaderTTL          time.Duration `koanf:"leader_ttl"`
	Timezone           string        `koanf:"timezone"`
}

type RedisConfig struct {
	// URL enables the Redis broadcaster when set.
	URL     string `koanf:"url"`
	Channel string `koanf:"channel"`
}

type QueueConfig struct {
	// Enabled runs river workers and the threshold trigger. Requires the pgx driver.
	Enabled    bool   `koanf:"enabled"`
	Name       string `koanf:"name"`
	MaxWorkers int    `koanf:"max_workers"`
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"database.driver":       DriverPgx,
		"database.max_conns":    10,
		"database.lock_timeout": "10s",
		"database.notify":       true,

		"server.addr":             ":8080",
		"server.read_timeout":     "15s",
		"server.write_timeout":    "0s",
		"server.shutdown_timeout": "15s",
		"server.metrics_path":     "/metrics",

		"log.level":  "info",
		"log.format": "json",

		"anthropic.summarizer_model":       compaction.DefaultSummarizerModel,
		"anthropic.summarizer_max_tokens":  compaction.DefaultSummarizerMaxTokens,
		"anthropic.summarizer_rate_limit":  compaction.DefaultSummarizerRateLimit,
		"anthropic.use_token_counting_api": compaction.DefaultUseTokenCountingAPI,

		"compaction.strategy":           string(compaction.DefaultStrategy),
		"compaction.token_threshold":    compaction.DefaultTokenThreshold,
		"compaction.target_token_ratio": compaction.DefaultTargetTokenRatio,
		"compaction.window_size":        compaction.DefaultWindowSize,
		"compaction.preserve_last_n":    compaction.DefaultPreserveLastN,
		"compaction.min_cluster_size":   compaction.DefaultMinClusterSize,
		"compaction.cluster_max_tokens": compaction.DefaultClusterMaxTokens,
		"compaction.model":              compaction.DefaultModel,
		"compaction.create_snapshots":   compaction.DefaultCreateSnapshots,

		"jobs.compaction_schedule": "0 * * * *",
		"jobs.reap_schedule":       "0 3 * * *",
		"jobs.batch_size":          maintenance.DefaultBatchSize,
		"jobs.concurrency":         maintenance.DefaultConcurrency,
		"jobs.snapshot_retention":  maintenance.DefaultSnapshotRetention.String(),
		"jobs.leader_ttl":          "30s",
		"jobs.timezone":            "UTC",

		"redis.channel": "convpath_events",

		"queue.name":        "compaction",
		"queue.max_workers": 4,
	}
}

// Load builds the configuration. An empty path falls back to ./convpath.toml
// when it exists.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("error loading defaults: %w", err)
	}

	if path == "" {
		if _, err := os.Stat("convpath.toml"); err == nil {
			path = "convpath.toml"
		}
	}
	if path != "" {
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return nil, fmt.Errorf("error loading config %s: %w", path, err)
		}
	}

	err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("error loading environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	return &cfg, nil
}

// Validate checks the fields every command relies on. Database and
// credential requirements are checked by the commands that need them.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverPgx, DriverDatabaseSQL:
	default:
		return fmt.Errorf("%w: unknown database driver %q", ErrInvalidConfig, c.Database.Driver)
	}
	if c.Queue.Enabled && c.Database.Driver != DriverPgx {
		return fmt.Errorf("%w: queue requires the %s driver", ErrInvalidConfig, DriverPgx)
	}

	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("%w: unknown log format %q", ErrInvalidConfig, c.Log.Format)
	}

	if _, err := time.LoadLocation(c.Jobs.Timezone); err != nil {
		return fmt.Errorf("%w: timezone: %w", ErrInvalidConfig, err)
	}
	for name, schedule := range map[string]string{
		"jobs.compaction_schedule": c.Jobs.CompactionSchedule,
		"jobs.reap_schedule":       c.Jobs.ReapSchedule,
	} {
		if schedule == "" {
			continue
		}
		if err := maintenance.ValidateSchedule(schedule); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalidConfig, name, err)
		}
	}

	if err := c.CompactionConfig().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// RequireDatabase reports a missing database URL.
func (c *Config) RequireDatabase() error {
	if c.Database.URL == "" {
		return fmt.Errorf("%w: database.url is required (set %sDATABASE__URL)", ErrInvalidConfig, EnvPrefix)
	}
	return nil
}

// CompactionConfig returns the compaction engine configuration.
func (c *Config) CompactionConfig() *compaction.Config {
	return &compaction.Config{
		Strategy:            compaction.Strategy(c.Compaction.Strategy),
		TokenThreshold:      c.Compaction.TokenThreshold,
		TargetTokenRatio:    c.Compaction.TargetTokenRatio,
		WindowSize:          c.Compaction.WindowSize,
		PreserveLastN:       c.Compaction.PreserveLastN,
		MinClusterSize:      c.Compaction.MinClusterSize,
		ClusterMaxTokens:    c.Compaction.ClusterMaxTokens,
		Model:               c.Compaction.Model,
		SummarizerModel:     c.Anthropic.SummarizerModel,
		SummarizerMaxTokens: c.Anthropic.SummarizerMaxTokens,
		SummarizerRateLimit: c.Anthropic.SummarizerRateLimit,
		CreateSnapshots:     c.Compaction.CreateSnapshots,
		UseTokenCountingAPI: c.Anthropic.UseTokenCountingAPI,
	}
}

// JobConfig returns the scheduled compaction sweep configuration. The
// compaction fields are left to the client's compactor.
func (c *Config) JobConfig() *maintenance.JobConfig {
	cfg := maintenance.DefaultJobConfig()
	cfg.BatchSize = c.Jobs.BatchSize
	cfg.Concurrency = c.Jobs.Concurrency
	cfg.AllPaths = c.Jobs.AllPaths
	cfg.DryRun = c.Jobs.DryRun
	cfg.CreateSnapshots = c.Compaction.CreateSnapshots
	return cfg
}

// ReaperConfig returns the reaper configuration.
func (c *Config) ReaperConfig() *maintenance.ReaperConfig {
	return &maintenance.ReaperConfig{SnapshotRetention: c.Jobs.SnapshotRetention}
}

// Location returns the scheduler time zone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Jobs.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
