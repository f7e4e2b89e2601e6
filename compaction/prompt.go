package compaction

import (
	"strings"

	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/types"
)

// SummarizationSystemPrompt instructs the summarizer. The summary replaces
// the original turns on the path, so it must carry every fact a later turn
// could depend on.
const SummarizationSystemPrompt = `You condense part of a conversation between a user and an assistant. Your summary replaces the original turns in the conversation history, so anything you leave out is gone for the rest of the conversation.

Write the summary under these headings. Write "None" under a heading with nothing to report.

## Questions Asked
- What the user asked, in their own terms
- Constraints the user stated (jurisdiction, dates, entity type, scope)

## Answers Given
- The substance of each answer, including figures, thresholds and deadlines
- Sources, rules or documents the assistant relied on, cited as in the original

## Decisions and Conclusions
- Anything the user accepted, rejected or decided
- Open disagreements

## Open Items
- Questions left unanswered
- Follow-ups the user or the assistant promised

## Guidelines
- Keep exact numbers, names, identifiers and quotations
- Keep the chronological order within each heading
- Do not add facts, advice or commentary that is not in the conversation
- Prefer short bullet points over prose`

// BuildSummarizationUserPrompt creates the user message for summarization.
func BuildSummarizationUserPrompt(conversationText string) string {
	return `Summarize the following part of the conversation using the headings from your instructions.

<conversation>
` + conversationText + `</conversation>`
}

// BuildSummarizationUserPromptWithContext adds pinned context that stays in
// the conversation next to the summary.
func BuildSummarizationUserPromptWithContext(contextText, conversationText string) string {
	var b strings.Builder
	b.WriteString("Summarize the following part of the conversation using the headings from your instructions.\n\n")
	if contextText != "" {
		b.WriteString("<kept_messages>\n")
		b.WriteString(contextText)
		b.WriteString("</kept_messages>\n\n")
		b.WriteString("The kept messages stay in the conversation verbatim. Do not repeat them; refer to them only where needed to make the summary understandable.\n\n")
	}
	b.WriteString("<conversation_to_summarize>\n")
	b.WriteString(conversationText)
	b.WriteString("</conversation_to_summarize>")
	return b.String()
}

// FormatMessagesAsText renders messages as a labelled plain-text transcript.
func FormatMessagesAsText(messages []*types.Message) string {
	var b strings.Builder
	for _, msg := range messages {
		if msg.Content == "" {
			continue
		}
		b.WriteString(roleLabel(msg))
		b.WriteString(":\n")
		b.WriteString(msg.Content)
		b.WriteString("\n\n")
	}
	return b.String()
}

func roleLabel(msg *types.Message) string {
	switch {
	case msg.IsSummary():
		return "Earlier summary"
	case msg.Role == types.RoleAssistant:
		return "Assistant"
	case msg.Role == types.RoleSystem:
		return "System"
	default:
		return "User"
	}
}
