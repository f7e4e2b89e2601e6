package types

import (
	"time"
)

// Role represents the message role
type Role string

const (
	// RoleUser represents a user message
	RoleUser Role = "user"

	// RoleAssistant represents an assistant message
	RoleAssistant Role = "assistant"

	// RoleSystem is only used for synthetic compaction summaries
	RoleSystem Role = "system"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// MetadataCompactionSummary marks a message created by compaction.
const MetadataCompactionSummary = "compaction_summary"

// Message is one turn on exactly one path.
type Message struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	PathID         string         `json:"path_id"`
	Role           Role           `json:"role"`
	Content        string         `json:"content"`
	SequenceInPath int            `json:"sequence_in_path"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`

	// Pinned messages are never removed by compaction.
	Pinned bool `json:"pinned"`

	// Branch bookkeeping. BranchedToPaths holds every path that diverged here.
	IsBranchPoint   bool     `json:"is_branch_point"`
	BranchedToPaths []string `json:"branched_to_paths,omitempty"`

	// Same-path edit chain
	SupersededBy *string    `json:"superseded_by,omitempty"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`
}

// IsSummary reports whether the message was produced by compaction.
func (m *Message) IsSummary() bool {
	if m.Metadata == nil {
		return false
	}
	v, _ := m.Metadata[MetadataCompactionSummary].(bool)
	return v
}

// IsSuperseded reports whether the message is hidden from the default view.
func (m *Message) IsSuperseded() bool {
	return m.SupersededBy != nil || m.DeletedAt != nil
}

// IsProtected reports whether compaction must keep the message.
// Branch points count as pinned so later branches always find their origin.
func (m *Message) IsProtected() bool {
	return m.Pinned || m.IsBranchPoint
}

// Clone returns a deep copy of the message.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	if m.BranchedToPaths != nil {
		c.BranchedToPaths = append([]string(nil), m.BranchedToPaths...)
	}
	if m.Metadata != nil {
		c.Metadata = make(map[string]any, len(m.Metadata))
		for k, v := range m.Metadata {
			c.Metadata[k] = v
		}
	}
	if m.SupersededBy != nil {
		s := *m.SupersededBy
		c.SupersededBy = &s
	}
	if m.DeletedAt != nil {
		t := *m.DeletedAt
		c.DeletedAt = &t
	}
	return &c
}

// VisibleMessages drops superseded rows, keeping order.
func VisibleMessages(messages []*Message) []*Message {
	out := make([]*Message, 0, len(messages))
	for _, m := range messages {
		if !m.IsSuperseded() {
			out = append(out, m)
		}
	}
	return out
}

// MessageIDs returns the ids of messages in order.
func MessageIDs(messages []*Message) []string {
	ids := make([]string, len(messages))
	for i, m := range messages {
		ids[i] = m.ID
	}
	return ids
}
