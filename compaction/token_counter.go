package compaction

import (
	"context"
	"crypto/sha256"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	gocache "github.com/patrickmn/go-cache"
	"github.com/pkoukk/tiktoken-go"

	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/types"
)

// messageOverhead approximates the role and framing tokens of one message.
const messageOverhead = 4

// TokenCounter counts message tokens for a given model. Claude models use
// the token counting API, OpenAI-family models use tiktoken, and everything
// else falls back to a character approximation. Counts are cached per model
// and content.
type TokenCounter struct {
	client *anthropic.Client
	useAPI bool
	cache  *gocache.Cache

	// fallback is set after the first API failure so later calls skip it
	fallback atomic.Bool

	encMu     sync.Mutex
	encodings map[string]*tiktoken.Tiktoken
}

// NewTokenCounter creates a new TokenCounter. client may be nil, in which
// case Claude models are approximated.
func NewTokenCounter(client *anthropic.Client, useAPI bool) *TokenCounter {
	return &TokenCounter{
		client:    client,
		useAPI:    useAPI,
		cache:     gocache.New(time.Hour, 10*time.Minute),
		encodings: make(map[string]*tiktoken.Tiktoken),
	}
}

// CountMessages returns the token count of every message and their total.
func (tc *TokenCounter) CountMessages(ctx context.Context, model string, messages []*types.Message) ([]int, int, error) {
	perMessage := make([]int, len(messages))
	total := 0
	for i, msg := range messages {
		n, err := tc.countMessage(ctx, model, msg)
		if err != nil {
			return nil, 0, err
		}
		perMessage[i] = n
		total += n
	}
	return perMessage, total, nil
}

// CountText returns the token count of a single text as if sent as one message.
func (tc *TokenCounter) CountText(ctx context.Context, model, text string) (int, error) {
	return tc.countMessage(ctx, model, &types.Message{Role: types.RoleUser, Content: text})
}

func (tc *TokenCounter) countMessage(ctx context.Context, model string, msg *types.Message) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrTokenCountingFailed, err)
	}

	key := tc.cacheKey(model, msg)
	if v, ok := tc.cache.Get(key); ok {
		return v.(int), nil
	}

	var n int
	switch {
	case isOpenAIModel(model):
		n = tc.countWithTiktoken(model, msg.Content)
	case tc.useAPI && tc.client != nil && !tc.fallback.Load() && msg.Content != "":
		count, err := tc.countWithAPI(ctx, model, msg.Content)
		if err != nil {
			if ctx.Err() != nil {
				return 0, fmt.Errorf("%w: %w", ErrTokenCountingFailed, ctx.Err())
			}
			tc.fallback.Store(true)
			n = ApproximateMessageTokens(msg)
		} else {
			n = count
		}
	default:
		n = ApproximateMessageTokens(msg)
	}

	tc.cache.Set(key, n, gocache.DefaultExpiration)
	return n, nil
}

// countWithAPI uses the Claude token counting API. Summaries are counted as
// user text since the API only accepts user and assistant turns.
func (tc *TokenCounter) countWithAPI(ctx context.Context, model, content string) (int, error) {
	result, err := tc.client.Messages.CountTokens(ctx, anthropic.MessageCountTokensParams{
		Model: anthropic.Model(model),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(content)),
		},
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrTokenCountingFailed, err)
	}
	return int(result.InputTokens), nil
}

func (tc *TokenCounter) countWithTiktoken(model, content string) int {
	enc := tc.encoding(model)
	if enc == nil {
		return ApproximateTokens(content) + messageOverhead
	}
	return len(enc.Encode(content, nil, nil)) + messageOverhead
}

// encoding loads the tiktoken encoding for model once, falling back to
// cl100k_base for unknown names. It returns nil when no encoding loads.
func (tc *TokenCounter) encoding(model string) *tiktoken.Tiktoken {
	tc.encMu.Lock()
	defer tc.encMu.Unlock()

	if enc, ok := tc.encodings[model]; ok {
		return enc
	}
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			enc = nil
		}
	}
	tc.encodings[model] = enc
	return enc
}

func (tc *TokenCounter) cacheKey(model string, msg *types.Message) string {
	hash := sha256.Sum256([]byte(msg.Content))
	return fmt.Sprintf("%s:%x", model, hash[:12])
}

func isOpenAIModel(model string) bool {
	for _, prefix := range []string{"gpt-", "o1", "o3", "o4", "text-embedding-", "chatgpt-"} {
		if strings.HasPrefix(model, prefix) {
			return true
		}
	}
	return false
}

// ApproximateTokens estimates token count from character count.
// Uses ~4 characters per token with a minimum of 1 for non-empty text.
func ApproximateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	return (len(text) + 3) / 4
}

// ApproximateMessageTokens is ApproximateTokens of the content plus the
// per-message overhead.
func ApproximateMessageTokens(msg *types.Message) int {
	return ApproximateTokens(msg.Content) + messageOverhead
}
