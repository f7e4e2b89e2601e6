package compaction

import (
	"fmt"
)

// Strategy represents a compaction strategy.
type Strategy string

const (
	// StrategySlidingWindow keeps the most recent messages plus protected ones.
	StrategySlidingWindow Strategy = "sliding_window"

	// StrategySemantic replaces clusters of older messages with summaries.
	StrategySemantic Strategy = "semantic"

	// StrategyHybrid summarizes the oldest block and keeps a sliding window.
	StrategyHybrid Strategy = "hybrid"

	// StrategyNone leaves the path unchanged.
	StrategyNone Strategy = "none"
)

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	switch s {
	case StrategySlidingWindow, StrategySemantic, StrategyHybrid, StrategyNone:
		return true
	}
	return false
}

// Trigger records what started a compaction.
type Trigger string

const (
	TriggerManual    Trigger = "manual"
	TriggerScheduled Trigger = "scheduled"
	TriggerThreshold Trigger = "threshold"
)

// Default configuration values.
const (
	DefaultStrategy            = StrategyHybrid
	DefaultTokenThreshold      = 100000 // Compact above 100K tokens
	DefaultTargetTokenRatio    = 0.5    // Aim for half the threshold after compaction
	DefaultWindowSize          = 20     // Keep the last 20 messages
	DefaultPreserveLastN       = 6      // Never shrink the window below 6 messages
	DefaultMinClusterSize      = 3      // Smaller clusters are not worth a summary
	DefaultClusterMaxTokens    = 8000   // Upper bound of one summarized cluster
	DefaultModel               = "claude-sonnet-4-5"
	DefaultSummarizerModel     = "claude-3-5-haiku-20241022"
	DefaultSummarizerMaxTokens = 2048
	DefaultSummarizerRateLimit = 2.0 // summarizer requests per second
	DefaultCreateSnapshots     = true
	DefaultUseTokenCountingAPI = true
)

// Config holds compaction configuration.
type Config struct {
	// Strategy is the compaction strategy to use.
	// Default: StrategyHybrid
	Strategy Strategy

	// TokenThreshold is the visible token count above which a path needs compaction.
	// Default: 100000
	TokenThreshold int

	// TargetTokenRatio is the share of TokenThreshold the window strategies
	// shrink towards. The window never goes below PreserveLastN messages.
	// Default: 0.5
	TargetTokenRatio float64

	// WindowSize is the maximum number of recent unprotected messages kept
	// verbatim by the sliding window and hybrid strategies.
	// Default: 20
	WindowSize int

	// PreserveLastN is the number of most recent messages that are never
	// removed or summarized.
	// Default: 6
	PreserveLastN int

	// MinClusterSize is the smallest cluster the semantic strategy summarizes.
	// Default: 3
	MinClusterSize int

	// ClusterMaxTokens caps the size of one semantic cluster.
	// Default: 8000
	ClusterMaxTokens int

	// Model is the model the conversation is sent to. It selects the tokenizer.
	// Default: "claude-sonnet-4-5"
	Model string

	// SummarizerModel is the Claude model used to write summaries.
	// Default: "claude-3-5-haiku-20241022"
	SummarizerModel string

	// SummarizerMaxTokens is the maximum tokens for one summary.
	// Default: 2048
	SummarizerMaxTokens int

	// SummarizerRateLimit bounds summarizer calls per second across the process.
	// Default: 2
	SummarizerRateLimit float64

	// CreateSnapshots writes a CompactionSnapshot with every compaction.
	// Default: true (DefaultConfig only; a zero Config disables snapshots)
	CreateSnapshots bool

	// UseTokenCountingAPI enables Claude's token counting API for Claude models.
	// If false or the API fails, tiktoken or the approximation is used.
	// Default: true (DefaultConfig only)
	UseTokenCountingAPI bool
}

// DefaultConfig returns a Config with every default applied.
func DefaultConfig() *Config {
	return &Config{
		Strategy:            DefaultStrategy,
		TokenThreshold:      DefaultTokenThreshold,
		TargetTokenRatio:    DefaultTargetTokenRatio,
		WindowSize:          DefaultWindowSize,
		PreserveLastN:       DefaultPreserveLastN,
		MinClusterSize:      DefaultMinClusterSize,
		ClusterMaxTokens:    DefaultClusterMaxTokens,
		Model:               DefaultModel,
		SummarizerModel:     DefaultSummarizerModel,
		SummarizerMaxTokens: DefaultSummarizerMaxTokens,
		SummarizerRateLimit: DefaultSummarizerRateLimit,
		CreateSnapshots:     DefaultCreateSnapshots,
		UseTokenCountingAPI: DefaultUseTokenCountingAPI,
	}
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if !c.Strategy.Valid() {
		return fmt.Errorf("%w: unknown strategy %q, must be one of %q, %q, %q or %q",
			ErrInvalidConfig, c.Strategy, StrategySlidingWindow, StrategySemantic, StrategyHybrid, StrategyNone)
	}

	if c.TokenThreshold <= 0 {
		return fmt.Errorf("%w: token_threshold must be positive, got %d", ErrInvalidConfig, c.TokenThreshold)
	}

	if c.TargetTokenRatio <= 0 || c.TargetTokenRatio > 1.0 {
		return fmt.Errorf("%w: target_token_ratio must be between 0 and 1, got %f", ErrInvalidConfig, c.TargetTokenRatio)
	}

	if c.WindowSize <= 0 {
		return fmt.Errorf("%w: window_size must be positive, got %d", ErrInvalidConfig, c.WindowSize)
	}

	if c.PreserveLastN < 0 {
		return fmt.Errorf("%w: preserve_last_n must be non-negative, got %d", ErrInvalidConfig, c.PreserveLastN)
	}

	if c.PreserveLastN > c.WindowSize {
		return fmt.Errorf("%w: preserve_last_n (%d) must not exceed window_size (%d)",
			ErrInvalidConfig, c.PreserveLastN, c.WindowSize)
	}

	if c.MinClusterSize < 1 {
		return fmt.Errorf("%w: min_cluster_size must be at least 1, got %d", ErrInvalidConfig, c.MinClusterSize)
	}

	if c.ClusterMaxTokens <= 0 {
		return fmt.Errorf("%w: cluster_max_tokens must be positive, got %d", ErrInvalidConfig, c.ClusterMaxTokens)
	}

	if c.Model == "" {
		return fmt.Errorf("%w: model is required", ErrInvalidConfig)
	}

	if c.SummarizerModel == "" {
		return fmt.Errorf("%w: summarizer_model is required", ErrInvalidConfig)
	}

	if c.SummarizerMaxTokens <= 0 {
		return fmt.Errorf("%w: summarizer_max_tokens must be positive, got %d", ErrInvalidConfig, c.SummarizerMaxTokens)
	}

	return nil
}

// ApplyDefaults fills in zero values with defaults.
func (c *Config) ApplyDefaults() {
	if c.Strategy == "" {
		c.Strategy = DefaultStrategy
	}
	if c.TokenThreshold == 0 {
		c.TokenThreshold = DefaultTokenThreshold
	}
	if c.TargetTokenRatio == 0 {
		c.TargetTokenRatio = DefaultTargetTokenRatio
	}
	if c.WindowSize == 0 {
		c.WindowSize = DefaultWindowSize
	}
	if c.PreserveLastN == 0 {
		c.PreserveLastN = min(DefaultPreserveLastN, c.WindowSize)
	}
	if c.MinClusterSize == 0 {
		c.MinClusterSize = DefaultMinClusterSize
	}
	if c.ClusterMaxTokens == 0 {
		c.ClusterMaxTokens = DefaultClusterMaxTokens
	}
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.SummarizerModel == "" {
		c.SummarizerModel = DefaultSummarizerModel
	}
	if c.SummarizerMaxTokens == 0 {
		c.SummarizerMaxTokens = DefaultSummarizerMaxTokens
	}
	if c.SummarizerRateLimit == 0 {
		c.SummarizerRateLimit = DefaultSummarizerRateLimit
	}
	// CreateSnapshots and UseTokenCountingAPI keep the caller's value
}

// TargetTokens returns the visible token count the window strategies aim for.
func (c *Config) TargetTokens() int {
	return int(float64(c.TokenThreshold) * c.TargetTokenRatio)
}
