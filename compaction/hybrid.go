package compaction

import (
	"context"

	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/types"
)

// HybridStrategy summarizes everything older than the sliding window into a
// single summary message placed where that block began.
// Step 1: choose the window (no API call)
// Step 2: summarize the unprotected messages before it
type HybridStrategy struct {
	summarizer Summarizer
}

func (h *HybridStrategy) Name() Strategy {
	return StrategyHybrid
}

func (h *HybridStrategy) Execute(ctx context.Context, in *StrategyInput) (*StrategyResult, error) {
	keep := selectWindow(in)

	var block []*types.Message
	for _, msg := range in.Partition.Unprotected() {
		if !keep[msg.ID] {
			block = append(block, msg)
		}
	}
	if len(block) == 0 {
		return &StrategyResult{Messages: rebuild(in.Messages, nil, nil)}, nil
	}

	contextMsgs := protectedBefore(in, block[len(block)-1].SequenceInPath)
	text, err := h.summarizer.Summarize(ctx, contextMsgs, block)
	if err != nil {
		return nil, NewCompactionError("Summarize", err).
			WithPath(in.PathID).
			WithContext("messages", len(block))
	}

	summary := newSummaryMessage(in, text, block)
	remove := make(map[string]bool, len(block))
	for _, msg := range block {
		remove[msg.ID] = true
	}

	return &StrategyResult{
		Messages:  rebuild(in.Messages, remove, map[string]*types.Message{block[0].ID: summary}),
		Removed:   block,
		Summaries: []*types.Message{summary},
	}, nil
}
