package compaction

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/types"
)

// StrategyExecutor defines the interface for compaction strategy implementations.
type StrategyExecutor interface {
	// Name returns the strategy name.
	Name() Strategy

	// Execute computes the new sequence of a path. It must not touch storage.
	Execute(ctx context.Context, in *StrategyInput) (*StrategyResult, error)
}

// StrategyInput is everything a strategy sees.
type StrategyInput struct {
	ConversationID string
	PathID         string

	// Messages is every row of the path in sequence order, superseded included.
	Messages  []*types.Message
	Partition *MessagePartition
	Config    *Config

	now func() time.Time
}

// StrategyResult contains the result of executing a compaction strategy.
type StrategyResult struct {
	// Messages is the complete new sequence, renumbered from zero.
	Messages []*types.Message

	// Removed holds the original rows that are not part of Messages.
	Removed []*types.Message

	// Summaries holds the new summary rows, also present in Messages.
	Summaries []*types.Message
}

// StrategyFactory creates strategy executors based on configuration.
type StrategyFactory struct {
	config     *Config
	summarizer Summarizer
}

// NewStrategyFactory creates a new strategy factory.
func NewStrategyFactory(config *Config, summarizer Summarizer) *StrategyFactory {
	return &StrategyFactory{
		config:     config,
		summarizer: summarizer,
	}
}

// Create returns the appropriate strategy executor for the configured strategy.
func (f *StrategyFactory) Create() StrategyExecutor {
	switch f.config.Strategy {
	case StrategySlidingWindow:
		return &SlidingWindowStrategy{}
	case StrategySemantic:
		return &SemanticStrategy{summarizer: f.summarizer}
	case StrategyNone:
		return noneStrategy{}
	default:
		return &HybridStrategy{summarizer: f.summarizer}
	}
}

type noneStrategy struct{}

func (noneStrategy) Name() Strategy { return StrategyNone }

func (noneStrategy) Execute(_ context.Context, in *StrategyInput) (*StrategyResult, error) {
	return &StrategyResult{Messages: rebuild(in.Messages, nil, nil)}, nil
}

// selectWindow returns the unprotected messages the window strategies keep:
// at most WindowSize of the newest, shrunk towards TargetTokens but never
// below the Recent partition.
func selectWindow(in *StrategyInput) map[string]bool {
	candidates := in.Partition.Unprotected()
	size := min(in.Config.WindowSize, len(candidates))
	floor := len(in.Partition.Recent)
	if size < floor {
		size = floor
	}

	window := candidates[len(candidates)-size:]
	tokens := in.Partition.Stats.ProtectedTokens
	for _, msg := range window {
		tokens += in.Partition.Tokens(msg.ID)
	}

	target := in.Config.TargetTokens()
	for tokens > target && len(window) > floor {
		tokens -= in.Partition.Tokens(window[0].ID)
		window = window[1:]
	}

	keep := make(map[string]bool, len(window))
	for _, msg := range window {
		keep[msg.ID] = true
	}
	return keep
}

// rebuild returns the new sequence: rows in remove are dropped, and a
// summary keyed by a row id is emitted in place of that row. Every
// returned message is a copy renumbered to its index.
func rebuild(messages []*types.Message, remove map[string]bool, summaryAt map[string]*types.Message) []*types.Message {
	out := make([]*types.Message, 0, len(messages))
	for _, msg := range messages {
		if summary, ok := summaryAt[msg.ID]; ok {
			s := summary.Clone()
			s.SequenceInPath = len(out)
			out = append(out, s)
		}
		if remove[msg.ID] {
			continue
		}
		c := msg.Clone()
		c.SequenceInPath = len(out)
		out = append(out, c)
	}
	return out
}

// newSummaryMessage builds the synthetic system row that replaces summarized.
func newSummaryMessage(in *StrategyInput, text string, summarized []*types.Message) *types.Message {
	now := time.Now
	if in.now != nil {
		now = in.now
	}
	return &types.Message{
		ID:             uuid.New().String(),
		ConversationID: in.ConversationID,
		PathID:         in.PathID,
		Role:           types.RoleSystem,
		Content:        text,
		Metadata: map[string]any{
			types.MetadataCompactionSummary: true,
			"summarized_message_ids":        types.MessageIDs(summarized),
			"summarized_from_sequence":      summarized[0].SequenceInPath,
			"summarized_to_sequence":        summarized[len(summarized)-1].SequenceInPath,
			"strategy":                      string(in.Config.Strategy),
		},
		CreatedAt: now(),
	}
}

// protectedBefore returns the protected messages that precede seq, newest last.
func protectedBefore(in *StrategyInput, seq int) []*types.Message {
	var out []*types.Message
	for _, msg := range in.Partition.Protected {
		if msg.SequenceInPath < seq {
			out = append(out, msg)
		}
	}
	return out
}
