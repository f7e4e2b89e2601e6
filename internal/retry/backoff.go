// Package retry runs operations with exponential backoff.
package retry

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// Config configures retry behavior with exponential backoff.
type Config struct {
	MaxRetries int           // Retries after the first attempt (default: 3)
	BaseDelay  time.Duration // Delay before the first retry (default: 500ms)
	MaxDelay   time.Duration // Upper bound of one delay (default: 30s)
	Multiplier float64       // Growth factor per retry (default: 2.0)
	Jitter     bool          // Spread delays by up to 10% either way
}

// DefaultConfig returns the backoff used for transport failures.
func DefaultConfig() Config {
	return Config{
		MaxRetries: 3,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   30 * time.Second,
		Multiplier: 2.0,
		Jitter:     true,
	}
}

// Result describes a finished Do call.
type Result struct {
	Attempts      int
	TotalDuration time.Duration
}

// Do calls op until it succeeds, returns an error retryable rejects, or the
// retries are used up. The last error is returned; a context cancelled
// while waiting returns the context error.
func Do(ctx context.Context, cfg Config, retryable func(error) bool, op func(ctx context.Context) error) (Result, error) {
	start := time.Now()
	var result Result

	for attempt := 0; ; attempt++ {
		result.Attempts = attempt + 1

		err := op(ctx)
		if err == nil || attempt >= cfg.MaxRetries || !retryable(err) {
			result.TotalDuration = time.Since(start)
			return result, err
		}

		select {
		case <-ctx.Done():
			result.TotalDuration = time.Since(start)
			return result, ctx.Err()
		case <-time.After(Delay(cfg, attempt)):
		}
	}
}

// Delay returns the wait before retry number attempt+1.
func Delay(cfg Config, attempt int) time.Duration {
	multiplier := cfg.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}
	delay := float64(cfg.BaseDelay) * math.Pow(multiplier, float64(attempt))

	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}

	if cfg.Jitter {
		jitterRange := delay * 0.1
		delay += (rand.Float64() - 0.5) * 2 * jitterRange
		if delay < 0 {
			delay = float64(cfg.BaseDelay)
		}
	}

	return time.Duration(delay)
}
