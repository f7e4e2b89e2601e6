package compaction

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/types"
)

func TestApproximateTokens(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 2},
		{strings.Repeat("x", 400), 100},
		{strings.Repeat("x", 401), 101},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ApproximateTokens(tt.text), "len %d", len(tt.text))
	}
}

func TestTokenCounter_Approximation(t *testing.T) {
	tc := NewTokenCounter(nil, false)
	msgs := []*types.Message{
		{ID: "a", Role: types.RoleUser, Content: strings.Repeat("x", 40)},
		{ID: "b", Role: types.RoleAssistant, Content: strings.Repeat("y", 80)},
	}

	per, total, err := tc.CountMessages(context.Background(), "claude-sonnet-4-5", msgs)
	require.NoError(t, err)
	assert.Equal(t, []int{14, 24}, per)
	assert.Equal(t, 38, total)

	// cached results are stable
	again, _, err := tc.CountMessages(context.Background(), "claude-sonnet-4-5", msgs)
	require.NoError(t, err)
	assert.Equal(t, per, again)
}

func TestTokenCounter_CountText(t *testing.T) {
	tc := NewTokenCounter(nil, true)
	n, err := tc.CountText(context.Background(), "claude-sonnet-4-5", strings.Repeat("z", 8))
	require.NoError(t, err)
	assert.Equal(t, 6, n)
}

func TestTokenCounter_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := NewTokenCounter(nil, false).CountMessages(ctx, "claude-sonnet-4-5", []*types.Message{{ID: "a", Content: "hi"}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIsOpenAIModel(t *testing.T) {
	assert.True(t, isOpenAIModel("gpt-4o"))
	assert.True(t, isOpenAIModel("o3-mini"))
	assert.False(t, isOpenAIModel("claude-sonnet-4-5"))
	assert.False(t, isOpenAIModel("test-model"))
}
