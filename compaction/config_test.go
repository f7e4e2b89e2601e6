package compaction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, StrategyHybrid, cfg.Strategy)
	assert.Equal(t, 50000, cfg.TargetTokens())
	assert.True(t, cfg.CreateSnapshots)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"unknown strategy", func(c *Config) { c.Strategy = "lossy" }},
		{"zero threshold", func(c *Config) { c.TokenThreshold = 0 }},
		{"ratio above one", func(c *Config) { c.TargetTokenRatio = 1.5 }},
		{"negative ratio", func(c *Config) { c.TargetTokenRatio = -0.1 }},
		{"zero window", func(c *Config) { c.WindowSize = 0 }},
		{"negative preserve", func(c *Config) { c.PreserveLastN = -1 }},
		{"preserve above window", func(c *Config) { c.PreserveLastN = c.WindowSize + 1 }},
		{"zero cluster size", func(c *Config) { c.MinClusterSize = 0 }},
		{"zero cluster tokens", func(c *Config) { c.ClusterMaxTokens = 0 }},
		{"no model", func(c *Config) { c.Model = "" }},
		{"no summarizer model", func(c *Config) { c.SummarizerModel = "" }},
		{"zero summarizer tokens", func(c *Config) { c.SummarizerMaxTokens = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestConfigApplyDefaults(t *testing.T) {
	cfg := &Config{WindowSize: 4, CreateSnapshots: false}
	cfg.ApplyDefaults()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultStrategy, cfg.Strategy)
	assert.Equal(t, DefaultTokenThreshold, cfg.TokenThreshold)
	assert.Equal(t, 4, cfg.PreserveLastN)
	assert.Equal(t, DefaultSummarizerRateLimit, cfg.SummarizerRateLimit)
	assert.False(t, cfg.CreateSnapshots)
}

func TestStrategyValid(t *testing.T) {
	for _, s := range []Strategy{StrategySlidingWindow, StrategySemantic, StrategyHybrid, StrategyNone} {
		assert.True(t, s.Valid(), s)
	}
	assert.False(t, Strategy("").Valid())
	assert.False(t, Strategy("summarize").Valid())
}
