package compaction

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/types"
)

func TestFormatMessagesAsText(t *testing.T) {
	msgs := []*types.Message{
		{Role: types.RoleUser, Content: "Does VAT apply?"},
		{Role: types.RoleAssistant, Content: "Yes, at 23%."},
		{Role: types.RoleAssistant, Content: ""},
		{Role: types.RoleSystem, Content: "Earlier turns", Metadata: map[string]any{types.MetadataCompactionSummary: true}},
	}

	got := FormatMessagesAsText(msgs)
	assert.Equal(t, "User:\nDoes VAT apply?\n\nAssistant:\nYes, at 23%.\n\nEarlier summary:\nEarlier turns\n\n", got)
}

func TestBuildSummarizationUserPromptWithContext(t *testing.T) {
	withContext := BuildSummarizationUserPromptWithContext("User:\npinned\n\n", "User:\nold\n\n")
	assert.Contains(t, withContext, "<kept_messages>\nUser:\npinned\n\n</kept_messages>")
	assert.Contains(t, withContext, "<conversation_to_summarize>\nUser:\nold\n\n</conversation_to_summarize>")

	without := BuildSummarizationUserPromptWithContext("", "User:\nold\n\n")
	assert.NotContains(t, without, "kept_messages")
}
