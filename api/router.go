// Package api exposes a convpath client over HTTP.
//
// Every JSON response uses the envelope {data, error, meta}. Conversation
// events are streamed as server-sent events, and a path can be rendered as
// a sanitized HTML transcript.
package api

import (
	"net/http"
	"time"

	convpath "github.com/airnub-labs/regulatory-intelligence-copilot-sub000"
	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/maintenance"
	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/metrics"
	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/notifier"
)

// Default router values
const (
	DefaultPageSize  = 25
	MaxPageSize      = 100
	DefaultKeepAlive = 15 * time.Second
)

// Config holds API router configuration.
type Config struct {
	// Notifier backs the events stream. Without it the route returns 501.
	Notifier *notifier.Notifier

	// JobConfig is the base configuration of POST /jobs/compaction.
	// Default: maintenance.DefaultJobConfig()
	JobConfig *maintenance.JobConfig

	// KeepAlive is the interval of SSE comment pings.
	// Default: 15 seconds
	KeepAlive time.Duration

	// PageSize for pagination.
	PageSize int

	Metrics *metrics.Metrics

	// Logger for structured logging.
	Logger convpath.Logger
}

func (c *Config) applyDefaults() {
	if c.JobConfig == nil {
		c.JobConfig = maintenance.DefaultJobConfig()
	}
	if c.KeepAlive <= 0 {
		c.KeepAlive = DefaultKeepAlive
	}
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if c.Logger == nil {
		c.Logger = noopLogger{}
	}
}

// router holds the API router state.
type router struct {
	client *convpath.Client
	config *Config
}

// NewRouter creates a new API router.
func NewRouter(client *convpath.Client, cfg *Config) http.Handler {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.applyDefaults()

	r := &router{
		client: client,
		config: cfg,
	}

	mux := http.NewServeMux()

	// Conversations
	mux.HandleFunc("GET /conversations", r.handleListConversations)
	mux.HandleFunc("POST /conversations", r.handleCreateConversation)
	mux.HandleFunc("GET /conversations/{id}", r.handleGetConversation)

	// Paths
	mux.HandleFunc("GET /conversations/{id}/paths", r.handleListPaths)
	mux.HandleFunc("GET /conversations/{id}/paths/tree", r.handleGetPathTree)
	mux.HandleFunc("GET /conversations/{id}/paths/{pathID}/lineage", r.handleGetPathLineage)
	mux.HandleFunc("GET /conversations/{id}/active-path", r.handleGetActivePath)
	mux.HandleFunc("PUT /conversations/{id}/active-path", r.handleSetActivePath)

	// Branching
	mux.HandleFunc("POST /conversations/{id}/branches", r.handleCreateBranch)
	mux.HandleFunc("POST /conversations/{id}/edits", r.handleEditAsBranch)

	// Messages
	mux.HandleFunc("GET /conversations/{id}/paths/{pathID}/messages", r.handleListMessages)
	mux.HandleFunc("POST /conversations/{id}/paths/{pathID}/messages", r.handleAppendMessage)
	mux.HandleFunc("PUT /conversations/{id}/messages/{messageID}/pin", r.handlePinMessage)
	mux.HandleFunc("GET /conversations/{id}/messages/{messageID}/chain", r.handleEditChain)

	// Compaction
	mux.HandleFunc("POST /conversations/{id}/paths/{pathID}/compact", r.handleCompactPath)
	mux.HandleFunc("GET /conversations/{id}/paths/{pathID}/compaction-stats", r.handleCompactionStats)
	mux.HandleFunc("GET /conversations/{id}/paths/{pathID}/snapshots", r.handleListSnapshots)
	mux.HandleFunc("POST /jobs/compaction", r.handleRunCompactionJob)

	// Events and rendering
	mux.HandleFunc("GET /conversations/{id}/events", r.handleEvents)
	mux.HandleFunc("GET /conversations/{id}/paths/{pathID}/transcript", r.handleTranscript)

	return withMiddleware(mux, cfg)
}

// withMiddleware wraps the handler with common middleware.
func withMiddleware(handler http.Handler, cfg *Config) http.Handler {
	handler = jsonMiddleware(handler)
	handler = recoveryMiddleware(handler, cfg.Logger)
	return handler
}

// jsonMiddleware sets JSON content type for all responses.
// Streaming and HTML handlers override it.
func jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// recoveryMiddleware recovers from panics and returns 500.
func recoveryMiddleware(next http.Handler, logger convpath.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error("panic recovered", "error", err, "path", r.URL.Path)
				http.Error(w, `{"error":{"code":"internal_error","message":"internal server error"}}`, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type noopLogger struct{}

func (noopLogger) Debug(msg string, args ...any) {}
func (noopLogger) Info(msg string, args ...any)  {}
func (noopLogger) Warn(msg string, args ...any)  {}
func (noopLogger) Error(msg string, args ...any) {}
