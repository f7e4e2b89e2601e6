package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var errTransient = errors.New("connection reset")

func fastConfig() Config {
	return Config{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
}

func always(error) bool { return true }

func TestDoSucceedsAfterRetries(t *testing.T) {
	calls := 0
	result, err := Do(context.Background(), fastConfig(), always, func(context.Context) error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, result.Attempts)
}

func TestDoGivesUp(t *testing.T) {
	result, err := Do(context.Background(), fastConfig(), always, func(context.Context) error {
		return errTransient
	})

	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 4, result.Attempts)
}

func TestDoStopsOnPermanentError(t *testing.T) {
	permanent := errors.New("not found")
	result, err := Do(context.Background(), fastConfig(), func(err error) bool { return errors.Is(err, errTransient) }, func(context.Context) error {
		return permanent
	})

	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, result.Attempts)
}

func TestDoHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := fastConfig()
	cfg.BaseDelay = time.Hour
	cfg.MaxDelay = time.Hour

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	result, err := Do(ctx, cfg, always, func(context.Context) error { return errTransient })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, result.Attempts)
}

func TestDelay(t *testing.T) {
	cfg := Config{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}

	assert.Equal(t, 100*time.Millisecond, Delay(cfg, 0))
	assert.Equal(t, 400*time.Millisecond, Delay(cfg, 2))
	assert.Equal(t, time.Second, Delay(cfg, 10))

	cfg.Jitter = true
	for i := 0; i < 20; i++ {
		d := Delay(cfg, 1)
		assert.InDelta(t, float64(200*time.Millisecond), float64(d), float64(20*time.Millisecond))
	}
}
