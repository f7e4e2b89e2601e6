package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/compaction"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "convpath.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, DriverPgx, cfg.Database.Driver)
	assert.Equal(t, 10*time.Second, cfg.Database.LockTimeout)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, string(compaction.DefaultStrategy), cfg.Compaction.Strategy)
	assert.Equal(t, compaction.DefaultTokenThreshold, cfg.Compaction.TokenThreshold)
	assert.Equal(t, 30*24*time.Hour, cfg.Jobs.SnapshotRetention)
	assert.True(t, cfg.Compaction.CreateSnapshots)
	assert.Error(t, cfg.RequireDatabase())
}

func TestLoad_FileAndEnvironment(t *testing.T) {
	path := writeConfig(t, `
[database]
url = "postgres://localhost/convpath"
driver = "database_sql"

[compaction]
strategy = "sliding_window"
token_threshold = 2000

[jobs]
compaction_schedule = "15m"
`)
	t.Setenv("CONVPATH_COMPACTION__TOKEN_THRESHOLD", "3000")
	t.Setenv("CONVPATH_LOG__FORMAT", "console")
	t.Setenv("CONVPATH_JOBS__SNAPSHOT_RETENTION", "72h")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	require.NoError(t, cfg.RequireDatabase())

	assert.Equal(t, "postgres://localhost/convpath", cfg.Database.URL)
	assert.Equal(t, DriverDatabaseSQL, cfg.Database.Driver)
	assert.Equal(t, "sliding_window", cfg.Compaction.Strategy)
	assert.Equal(t, 3000, cfg.Compaction.TokenThreshold, "environment overrides the file")
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, "15m", cfg.Jobs.CompactionSchedule)
	assert.Equal(t, 72*time.Hour, cfg.Jobs.SnapshotRetention)

	cc := cfg.CompactionConfig()
	assert.Equal(t, compaction.StrategySlidingWindow, cc.Strategy)
	assert.Equal(t, 3000, cc.TokenThreshold)
	assert.Equal(t, compaction.DefaultSummarizerModel, cc.SummarizerModel)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Chdir(t.TempDir())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }},
		{"queue without pgx", func(c *Config) {
			c.Database.Driver = DriverDatabaseSQL
			c.Queue.Enabled = true
		}},
		{"unknown log format", func(c *Config) { c.Log.Format = "xml" }},
		{"bad timezone", func(c *Config) { c.Jobs.Timezone = "Mars/Olympus" }},
		{"bad schedule", func(c *Config) { c.Jobs.ReapSchedule = "sometimes" }},
		{"bad strategy", func(c *Config) { c.Compaction.Strategy = "shred" }},
		{"bad ratio", func(c *Config) { c.Compaction.TargetTokenRatio = 1.5 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("")
			require.NoError(t, err)
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}

	t.Run("empty schedules disable jobs", func(t *testing.T) {
		cfg, err := Load("")
		require.NoError(t, err)
		cfg.Jobs.CompactionSchedule = ""
		cfg.Jobs.ReapSchedule = ""
		assert.NoError(t, cfg.Validate())
	})
}

func TestJobConfig(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CONVPATH_JOBS__BATCH_SIZE", "25")
	t.Setenv("CONVPATH_JOBS__ALL_PATHS", "true")

	cfg, err := Load("")
	require.NoError(t, err)

	job := cfg.JobConfig()
	assert.Equal(t, 25, job.BatchSize)
	assert.True(t, job.AllPaths)
	assert.True(t, job.CreateSnapshots)
	assert.Zero(t, job.TokenThreshold)

	assert.Equal(t, cfg.Jobs.SnapshotRetention, cfg.ReaperConfig().SnapshotRetention)
	assert.Equal(t, time.UTC, cfg.Location())
}
