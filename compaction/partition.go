package compaction

import (
	"context"

	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/types"
)

// MessagePartition categorizes the rows of one path for compaction.
// Every row lands in exactly one category.
type MessagePartition struct {
	// Protected messages are pinned or branch points. They are never removed.
	Protected []*types.Message

	// Recent messages are the unprotected ones among the last PreserveLastN
	// visible messages. They are never removed or summarized.
	Recent []*types.Message

	// Superseded rows are hidden edits. They keep their place and are not counted.
	Superseded []*types.Message

	// Compactable messages are visible, unprotected and older than Recent.
	Compactable []*types.Message

	// Stats contains token counts for each partition.
	Stats PartitionStats

	tokens    map[string]int
	protected map[string]bool
}

// PartitionStats contains token statistics for each partition.
type PartitionStats struct {
	ProtectedTokens   int
	RecentTokens      int
	CompactableTokens int
	SummaryMessages   int
	TotalTokens       int
}

// Partitioner handles the logic of partitioning messages for compaction.
type Partitioner struct {
	tokenCounter *TokenCounter
	config       *Config
}

// NewPartitioner creates a new Partitioner with the given configuration.
func NewPartitioner(tokenCounter *TokenCounter, config *Config) *Partitioner {
	return &Partitioner{
		tokenCounter: tokenCounter,
		config:       config,
	}
}

// Partition categorizes messages, which must be in sequence order.
// pinnedIDs adds to the messages already flagged as pinned.
func (p *Partitioner) Partition(ctx context.Context, messages []*types.Message, pinnedIDs []string) (*MessagePartition, error) {
	partition := &MessagePartition{
		tokens:    make(map[string]int, len(messages)),
		protected: make(map[string]bool),
	}
	if len(messages) == 0 {
		return partition, nil
	}

	pinned := make(map[string]bool, len(pinnedIDs))
	for _, id := range pinnedIDs {
		pinned[id] = true
	}

	visible := types.VisibleMessages(messages)
	perMessage, total, err := p.tokenCounter.CountMessages(ctx, p.config.Model, visible)
	if err != nil {
		return nil, err
	}
	for i, msg := range visible {
		partition.tokens[msg.ID] = perMessage[i]
	}
	partition.Stats.TotalTokens = total

	recentFrom := len(visible) - p.config.PreserveLastN
	visibleIdx := 0
	for _, msg := range messages {
		if msg.IsSuperseded() {
			partition.Superseded = append(partition.Superseded, msg)
			continue
		}

		tokens := partition.tokens[msg.ID]
		if msg.IsSummary() {
			partition.Stats.SummaryMessages++
		}

		switch {
		case msg.IsProtected() || pinned[msg.ID]:
			partition.protected[msg.ID] = true
			partition.Protected = append(partition.Protected, msg)
			partition.Stats.ProtectedTokens += tokens
		case visibleIdx >= recentFrom:
			partition.Recent = append(partition.Recent, msg)
			partition.Stats.RecentTokens += tokens
		default:
			partition.Compactable = append(partition.Compactable, msg)
			partition.Stats.CompactableTokens += tokens
		}
		visibleIdx++
	}

	return partition, nil
}

// CanCompact returns true if there are messages eligible for compaction.
func (p *MessagePartition) CanCompact() bool {
	return len(p.Compactable) > 0
}

// IsProtected reports whether the message with id may not be removed.
func (p *MessagePartition) IsProtected(id string) bool {
	return p.protected[id]
}

// Tokens returns the counted tokens of a visible message.
func (p *MessagePartition) Tokens(id string) int {
	return p.tokens[id]
}

// CompactableIDs returns the IDs of all compactable messages.
func (p *MessagePartition) CompactableIDs() []string {
	return types.MessageIDs(p.Compactable)
}

// Unprotected returns the compactable and recent messages in sequence order.
func (p *MessagePartition) Unprotected() []*types.Message {
	out := make([]*types.Message, 0, len(p.Compactable)+len(p.Recent))
	out = append(out, p.Compactable...)
	out = append(out, p.Recent...)
	return out
}
