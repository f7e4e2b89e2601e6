// Package types holds the domain model shared by the store, the compaction
// engine and the client: conversations, paths, messages and compaction
// snapshots, plus the error taxonomy every layer reports with.
package types

import "time"

// Conversation owns a forest of paths and points at the one being viewed.
type Conversation struct {
	ID           string         `json:"id"`
	TenantID     string         `json:"tenant_id"`
	UserID       string         `json:"user_id,omitempty"`
	Title        string         `json:"title,omitempty"`
	ActivePathID *string        `json:"active_path_id,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Path is one linear timeline inside a conversation.
//
// The primary path has no parent and no branch origin. Every other path
// points at its parent and at the parent message it diverged from.
type Path struct {
	ID                  string         `json:"id"`
	ConversationID      string         `json:"conversation_id"`
	ParentPathID        *string        `json:"parent_path_id,omitempty"`
	BranchFromMessageID *string        `json:"branch_from_message_id,omitempty"`
	Name                string         `json:"name"`
	IsPrimary           bool           `json:"is_primary"`
	Metadata            map[string]any `json:"metadata,omitempty"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

// Clone returns a copy of the path that shares no pointers with p.
func (p *Path) Clone() *Path {
	if p == nil {
		return nil
	}
	c := *p
	if p.ParentPathID != nil {
		s := *p.ParentPathID
		c.ParentPathID = &s
	}
	if p.BranchFromMessageID != nil {
		s := *p.BranchFromMessageID
		c.BranchFromMessageID = &s
	}
	if p.Metadata != nil {
		c.Metadata = make(map[string]any, len(p.Metadata))
		for k, v := range p.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// Clone returns a copy of the conversation.
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	cp := *c
	if c.ActivePathID != nil {
		s := *c.ActivePathID
		cp.ActivePathID = &s
	}
	if c.Metadata != nil {
		cp.Metadata = make(map[string]any, len(c.Metadata))
		for k, v := range c.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}
