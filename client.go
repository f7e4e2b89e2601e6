package convpath

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/patrickmn/go-cache"

	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/compaction"
	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/internal/pathlock"
	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/metrics"
	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/notifier"
	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/storage"
	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/types"
)

// Version is the current convpath version
const Version = "1.0.0"

// Default configuration values
const (
	DefaultLockTimeout      = 10 * time.Second
	DefaultTokenEstimateTTL = 30 * time.Minute

	// PrimaryPathName is the name of the path created with a conversation.
	PrimaryPathName = "main"
)

// Logger receives the client's structured logs as key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(msg string, args ...any) {}
func (noopLogger) Info(msg string, args ...any)  {}
func (noopLogger) Warn(msg string, args ...any)  {}
func (noopLogger) Error(msg string, args ...any) {}

// CompactionTrigger schedules a compaction of one path outside the caller's
// request, e.g. by enqueueing a job.
type CompactionTrigger interface {
	TriggerCompaction(ctx context.Context, conversationID, pathID string) error
}

// Config holds configuration for the Client.
type Config struct {
	// Store persists the path graph (required)
	Store storage.Store

	// Compactor is used as is when set. Otherwise one is built from
	// Compaction and the Anthropic client.
	Compactor *compaction.Compactor

	// AnthropicClient is an existing Anthropic client (takes precedence over APIKey)
	AnthropicClient *anthropic.Client

	// APIKey is the Anthropic API key, used when neither Compactor nor
	// AnthropicClient is set
	APIKey string

	// Compaction configures the compactor built by New.
	// Default: compaction.DefaultConfig()
	Compaction *compaction.Config

	// Notifier receives path and message change events (optional)
	Notifier *notifier.Notifier

	// Trigger is fired after an append pushes the running token estimate of
	// a path past the compaction threshold (optional)
	Trigger CompactionTrigger

	// Metrics records operation outcomes (optional)
	Metrics *metrics.Metrics

	// Logger for client operations (optional)
	Logger Logger

	// LockTimeout bounds the wait for the in-process path lock.
	// Default: 10 seconds
	LockTimeout time.Duration

	// TokenEstimateTTL is how long an idle path keeps its running token estimate.
	// Default: 30 minutes
	TokenEstimateTTL time.Duration
}

// Client is the entry point to the path graph and the compaction engine.
// It is safe for concurrent use.
type Client struct {
	store     storage.Store
	compactor *compaction.Compactor
	notifier  *notifier.Notifier
	trigger   CompactionTrigger
	metrics   *metrics.Metrics
	logger    Logger
	locks     *pathlock.Locker

	// running token estimate per path id, only kept when trigger is set
	estimates *cache.Cache

	now func() time.Time
}

// New creates a Client.
//
// Example:
//
//	client, err := convpath.New(&convpath.Config{
//	    Store:  storage.NewPostgresStore(pgxv5.New(pool)),
//	    APIKey: os.Getenv("ANTHROPIC_API_KEY"),
//	})
func New(config *Config) (*Client, error) {
	if config == nil {
		return nil, fmt.Errorf("%w: config is required", ErrInvalidConfig)
	}
	if config.Store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidConfig)
	}

	logger := config.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	compactor := config.Compactor
	if compactor == nil {
		if config.Compaction != nil {
			cc := *config.Compaction
			cc.ApplyDefaults()
			if err := cc.Validate(); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
			}
		}

		var client *anthropic.Client
		switch {
		case config.AnthropicClient != nil:
			client = config.AnthropicClient
		case config.APIKey != "":
			c := anthropic.NewClient(option.WithAPIKey(config.APIKey))
			client = &c
		default:
			return nil, fmt.Errorf("%w: one of Compactor, AnthropicClient or APIKey is required", ErrInvalidConfig)
		}
		compactor = compaction.New(config.Store, client, config.Compaction, logger)
	}

	lockTimeout := config.LockTimeout
	if lockTimeout == 0 {
		lockTimeout = DefaultLockTimeout
	}
	estimateTTL := config.TokenEstimateTTL
	if estimateTTL == 0 {
		estimateTTL = DefaultTokenEstimateTTL
	}

	return &Client{
		store:     config.Store,
		compactor: compactor,
		notifier:  config.Notifier,
		trigger:   config.Trigger,
		metrics:   config.Metrics,
		logger:    logger,
		locks:     pathlock.New(lockTimeout),
		estimates: cache.New(estimateTTL, 2*estimateTTL),
		now:       time.Now,
	}, nil
}

// Store returns the underlying store.
func (c *Client) Store() storage.Store {
	return c.store
}

// Compactor returns the compactor used by Compact.
func (c *Client) Compactor() *compaction.Compactor {
	return c.compactor
}

// withPathLock runs fn in a transaction that holds both the in-process and
// the store lock of pathID.
func (c *Client) withPathLock(ctx context.Context, pathID string, fn func(ctx context.Context) error) error {
	start := time.Now()
	release, err := c.locks.Acquire(ctx, pathID)
	c.metrics.RecordLockWait(time.Since(start))
	if err != nil {
		return err
	}
	defer release()

	return c.store.RunInTx(ctx, func(ctx context.Context) error {
		if err := c.store.LockPath(ctx, pathID); err != nil {
			return err
		}
		return fn(ctx)
	})
}

// pathInConversation loads a path and hides paths of other conversations.
// An empty conversationID accepts any path.
func (c *Client) pathInConversation(ctx context.Context, conversationID, pathID string) (*types.Path, error) {
	if pathID == "" {
		return nil, types.InvalidState("get path", "path id is required")
	}
	path, err := c.store.GetPath(ctx, pathID)
	if err != nil {
		return nil, err
	}
	if conversationID != "" && path.ConversationID != conversationID {
		return nil, types.NotFound("get path", "path", pathID)
	}
	return path, nil
}

// publish sends a change event after commit. Delivery failures are logged.
func (c *Client) publish(ctx context.Context, kind notifier.EventKind, conversationID, pathID string, messageIDs []string) {
	if c.notifier == nil {
		return
	}
	err := c.notifier.Publish(ctx, &notifier.Event{
		Kind:           kind,
		ConversationID: conversationID,
		PathID:         pathID,
		MessageIDs:     messageIDs,
	})
	if err != nil {
		c.logger.Warn("failed to publish event",
			"kind", kind,
			"conversation_id", conversationID,
			"path_id", pathID,
			"error", err,
		)
	}
}

func (c *Client) recordOperation(op string, err error) {
	c.metrics.RecordOperation(op, outcome(err))
}

func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.Is(err, types.ErrConcurrencyConflict):
		return metrics.OutcomeConflict
	default:
		return metrics.OutcomeError
	}
}
