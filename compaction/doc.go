// Package compaction keeps a path's message sequence inside a token budget.
//
// A Compactor reads the full sequence of one path, asks the configured
// strategy for a shorter but equivalent sequence, and commits the result
// together with a CompactionSnapshot of everything it removed. Either the
// snapshot and the rewritten sequence both exist afterwards, or the path is
// exactly as it was.
//
// # Strategies
//
//   - Sliding window (StrategySlidingWindow): keeps the most recent WindowSize
//     messages plus every protected message and drops the rest.
//
//   - Semantic (StrategySemantic): groups older messages into clusters bounded
//     by protected messages and ClusterMaxTokens, and replaces each cluster of
//     at least MinClusterSize messages with one summary message.
//
//   - Hybrid (StrategyHybrid): summarizes the whole block before the sliding
//     window into a single summary message. This is the default.
//
//   - None (StrategyNone): succeeds without changing anything.
//
// # Protected Messages
//
// Pinned messages and branch points are never removed. Superseded rows are
// carried through untouched and do not count towards the token budget.
//
// # Usage
//
//	compactor := compaction.New(store, anthropicClient, &compaction.Config{
//	    Strategy:       compaction.StrategyHybrid,
//	    TokenThreshold: 100000,
//	    WindowSize:     20,
//	}, logger)
//
//	needs, err := compactor.NeedsCompaction(ctx, messages, pinnedIDs)
//	if err != nil || !needs {
//	    return err
//	}
//	result, err := compactor.CompactPath(ctx, compaction.Request{
//	    ConversationID: conversationID,
//	    PathID:         pathID,
//	    Messages:       messages,
//	    Trigger:        compaction.TriggerManual,
//	})
//
// # Token Counting
//
// Claude models are counted with the Messages.CountTokens API, OpenAI-family
// models with tiktoken, and anything else (or any failure) with a ~4
// characters per token approximation. Per-message counts are cached.
package compaction
