package compaction

import (
	"context"

	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/types"
)

// SemanticStrategy replaces clusters of older messages with one summary each.
// A cluster is a contiguous run of compactable messages; protected and recent
// messages end it, and so does reaching ClusterMaxTokens. Clusters smaller
// than MinClusterSize are left alone.
type SemanticStrategy struct {
	summarizer Summarizer
}

func (s *SemanticStrategy) Name() Strategy {
	return StrategySemantic
}

func (s *SemanticStrategy) Execute(ctx context.Context, in *StrategyInput) (*StrategyResult, error) {
	clusters := s.clusters(in)

	remove := make(map[string]bool)
	summaryAt := make(map[string]*types.Message)
	var removed, summaries []*types.Message

	for _, cluster := range clusters {
		if len(cluster) < in.Config.MinClusterSize {
			continue
		}

		contextMsgs := protectedBefore(in, cluster[0].SequenceInPath)
		text, err := s.summarizer.Summarize(ctx, contextMsgs, cluster)
		if err != nil {
			return nil, NewCompactionError("Summarize", err).
				WithPath(in.PathID).
				WithContext("cluster_start", cluster[0].SequenceInPath).
				WithContext("messages", len(cluster))
		}

		summary := newSummaryMessage(in, text, cluster)
		summaryAt[cluster[0].ID] = summary
		summaries = append(summaries, summary)
		for _, msg := range cluster {
			remove[msg.ID] = true
			removed = append(removed, msg)
		}
	}

	return &StrategyResult{
		Messages:  rebuild(in.Messages, remove, summaryAt),
		Removed:   removed,
		Summaries: summaries,
	}, nil
}

func (s *SemanticStrategy) clusters(in *StrategyInput) [][]*types.Message {
	compactable := make(map[string]bool, len(in.Partition.Compactable))
	for _, msg := range in.Partition.Compactable {
		compactable[msg.ID] = true
	}

	var (
		clusters [][]*types.Message
		current  []*types.Message
		tokens   int
	)
	flush := func() {
		if len(current) > 0 {
			clusters = append(clusters, current)
		}
		current, tokens = nil, 0
	}

	for _, msg := range in.Messages {
		if msg.IsSuperseded() {
			continue
		}
		if !compactable[msg.ID] {
			flush()
			continue
		}
		n := in.Partition.Tokens(msg.ID)
		if len(current) > 0 && tokens+n > in.Config.ClusterMaxTokens {
			flush()
		}
		current = append(current, msg)
		tokens += n
	}
	flush()

	return clusters
}
