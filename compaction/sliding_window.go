package compaction

import (
	"context"

	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/types"
)

// SlidingWindowStrategy keeps the most recent messages plus every protected
// one and drops the rest. It never calls the summarizer.
type SlidingWindowStrategy struct{}

func (s *SlidingWindowStrategy) Name() Strategy {
	return StrategySlidingWindow
}

func (s *SlidingWindowStrategy) Execute(_ context.Context, in *StrategyInput) (*StrategyResult, error) {
	keep := selectWindow(in)

	remove := make(map[string]bool)
	var removed []*types.Message
	for _, msg := range in.Partition.Unprotected() {
		if !keep[msg.ID] {
			remove[msg.ID] = true
			removed = append(removed, msg)
		}
	}

	return &StrategyResult{
		Messages: rebuild(in.Messages, remove, nil),
		Removed:  removed,
	}, nil
}
