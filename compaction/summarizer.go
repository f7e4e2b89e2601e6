package compaction

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"golang.org/x/time/rate"

	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/types"
)

// Summarizer condenses a run of messages into one summary text.
// contextMsgs are protected messages near the run; they inform the summary
// but are not themselves replaced.
type Summarizer interface {
	Summarize(ctx context.Context, contextMsgs, toSummarize []*types.Message) (string, error)
}

// AnthropicSummarizer writes summaries with Claude's streaming API.
type AnthropicSummarizer struct {
	client    *anthropic.Client
	model     string
	maxTokens int
	limiter   *rate.Limiter
}

// NewAnthropicSummarizer creates a summarizer. Calls are limited to
// ratePerSecond across all goroutines sharing it; zero disables the limit.
func NewAnthropicSummarizer(client *anthropic.Client, model string, maxTokens int, ratePerSecond float64) *AnthropicSummarizer {
	limit := rate.Inf
	if ratePerSecond > 0 {
		limit = rate.Limit(ratePerSecond)
	}
	return &AnthropicSummarizer{
		client:    client,
		model:     model,
		maxTokens: maxTokens,
		limiter:   rate.NewLimiter(limit, 1),
	}
}

// Summarize generates a summary of toSummarize, informed by contextMsgs.
func (s *AnthropicSummarizer) Summarize(ctx context.Context, contextMsgs, toSummarize []*types.Message) (string, error) {
	if len(toSummarize) == 0 {
		return "", ErrNoMessagesToCompact
	}
	if s.client == nil {
		return "", fmt.Errorf("%w: no anthropic client configured", ErrSummarizationFailed)
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("%w: %v", ErrSummarizationFailed, err)
	}

	conversationText := FormatMessagesAsText(toSummarize)
	var userPrompt string
	if len(contextMsgs) > 0 {
		userPrompt = BuildSummarizationUserPromptWithContext(FormatMessagesAsText(contextMsgs), conversationText)
	} else {
		userPrompt = BuildSummarizationUserPrompt(conversationText)
	}

	stream := s.client.Messages.NewStreaming(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(s.model),
		MaxTokens: int64(s.maxTokens),
		System: []anthropic.TextBlockParam{
			{Text: SummarizationSystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})

	message := anthropic.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			return "", fmt.Errorf("%w: failed to accumulate stream: %v", ErrSummarizationFailed, err)
		}
	}
	if err := stream.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrSummarizationFailed, err)
	}

	var summary strings.Builder
	for _, block := range message.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			summary.WriteString(text.Text)
		}
	}
	if summary.Len() == 0 {
		return "", fmt.Errorf("%w: empty response from summarizer", ErrSummarizationFailed)
	}

	return strings.TrimSpace(summary.String()), nil
}

// Compile-time check
var _ Summarizer = (*AnthropicSummarizer)(nil)
