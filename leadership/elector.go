// Package leadership elects one convpath node to run the scheduled sweeps.
//
// The compaction job and the snapshot reaper must not run on every node at
// once, so they run only while this node holds the lease. The lease is a
// TTL row in the store: the leader renews it before it expires, otherwise
// another node takes over on its next election attempt.
package leadership

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/storage"
)

// Default configuration values
const (
	DefaultLeaderTTL       = 30 * time.Second
	DefaultElectionPeriod  = 10 * time.Second
	DefaultReelectionDelay = 5 * time.Second
)

// LeaseStore is the part of storage.Store the elector uses.
type LeaseStore interface {
	LeaderAttemptElect(ctx context.Context, params *storage.LeaderElectParams) (bool, error)
	LeaderAttemptReelect(ctx context.Context, params *storage.LeaderElectParams) (bool, error)
	LeaderResign(ctx context.Context, leaderID string) error
}

// Config holds configuration for the leader election system.
type Config struct {
	// LeaderTTL is how long a leader's lease is valid.
	// Default: 30 seconds
	LeaderTTL time.Duration

	// ElectionPeriod is how often a follower tries to take the lease.
	// Default: 10 seconds
	ElectionPeriod time.Duration

	// ReelectionDelay is how often the leader renews. Must be below LeaderTTL.
	// Default: 5 seconds
	ReelectionDelay time.Duration

	// OnError is called when a lease query fails. The loop keeps going.
	OnError func(err error)
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		LeaderTTL:       DefaultLeaderTTL,
		ElectionPeriod:  DefaultElectionPeriod,
		ReelectionDelay: DefaultReelectionDelay,
	}
}

func (c *Config) applyDefaults() {
	if c.LeaderTTL == 0 {
		c.LeaderTTL = DefaultLeaderTTL
	}
	if c.ElectionPeriod == 0 {
		c.ElectionPeriod = DefaultElectionPeriod
	}
	if c.ReelectionDelay == 0 {
		c.ReelectionDelay = min(DefaultReelectionDelay, c.LeaderTTL/2)
	}
}

// Callbacks are called when leadership status changes.
type Callbacks struct {
	// OnBecameLeader is called with the context passed to Start.
	OnBecameLeader func(ctx context.Context)

	// OnLostLeadership is called when renewal fails, on Resign, and on Stop
	// while leading.
	OnLostLeadership func(ctx context.Context)
}

// Elector competes for the lease on behalf of one node.
type Elector struct {
	store     LeaseStore
	nodeID    string
	config    Config
	callbacks Callbacks

	// mu protects isLeader
	mu       sync.RWMutex
	isLeader bool

	started atomic.Bool
	done    chan struct{}
	cancel  context.CancelFunc
}

// NewElector creates a new leader elector for nodeID.
func NewElector(store LeaseStore, nodeID string, config *Config, callbacks Callbacks) *Elector {
	cfg := Config{}
	if config != nil {
		cfg = *config
	}
	cfg.applyDefaults()

	return &Elector{
		store:     store,
		nodeID:    nodeID,
		config:    cfg,
		callbacks: callbacks,
	}
}

// NodeID returns the id this elector holds the lease under.
func (e *Elector) NodeID() string {
	return e.nodeID
}

// Start runs the election loop in a goroutine until Stop.
func (e *Elector) Start(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})
	go e.runElectionLoop(ctx)

	return nil
}

// Stop ends the election loop and resigns if this node leads.
func (e *Elector) Stop(ctx context.Context) error {
	if !e.started.Load() {
		return ErrNotStarted
	}

	e.cancel()
	<-e.done

	if e.setLeader(false) {
		// Best effort resignation
		resignCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := e.store.LeaderResign(resignCtx, e.nodeID); err != nil {
			e.reportError(err)
		}

		if e.callbacks.OnLostLeadership != nil {
			e.callbacks.OnLostLeadership(ctx)
		}
	}

	e.started.Store(false)
	return nil
}

// IsLeader returns true if this node currently holds the lease.
func (e *Elector) IsLeader() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.isLeader
}

// IsRunning returns true if the elector is running.
func (e *Elector) IsRunning() bool {
	return e.started.Load()
}

// Resign gives up the lease. The loop may take it again on a later attempt.
func (e *Elector) Resign(ctx context.Context) error {
	if !e.setLeader(false) {
		return nil
	}

	if err := e.store.LeaderResign(ctx, e.nodeID); err != nil {
		return err
	}

	if e.callbacks.OnLostLeadership != nil {
		e.callbacks.OnLostLeadership(ctx)
	}

	return nil
}

// setLeader stores v and reports the previous value.
func (e *Elector) setLeader(v bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	was := e.isLeader
	e.isLeader = v
	return was
}

func (e *Elector) runElectionLoop(ctx context.Context) {
	defer close(e.done)

	e.attemptElection(ctx)

	for {
		delay := e.config.ElectionPeriod
		if e.IsLeader() {
			delay = e.config.ReelectionDelay
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
			if e.IsLeader() {
				e.attemptReelection(ctx)
			} else {
				e.attemptElection(ctx)
			}
		}
	}
}

func (e *Elector) params() *storage.LeaderElectParams {
	return &storage.LeaderElectParams{
		LeaderID: e.nodeID,
		TTL:      e.config.LeaderTTL,
	}
}

func (e *Elector) attemptElection(ctx context.Context) {
	elected, err := e.store.LeaderAttemptElect(ctx, e.params())
	if err != nil {
		if ctx.Err() == nil {
			e.reportError(err)
		}
		return
	}

	if elected && !e.setLeader(true) && e.callbacks.OnBecameLeader != nil {
		e.callbacks.OnBecameLeader(ctx)
	}
}

func (e *Elector) attemptReelection(ctx context.Context) {
	reelected, err := e.store.LeaderAttemptReelect(ctx, e.params())
	if err != nil && ctx.Err() == nil {
		e.reportError(err)
	}
	if err == nil && reelected {
		return
	}

	e.setLeader(false)
	if e.callbacks.OnLostLeadership != nil {
		e.callbacks.OnLostLeadership(ctx)
	}
}

func (e *Elector) reportError(err error) {
	if e.config.OnError != nil {
		e.config.OnError(err)
	}
}
