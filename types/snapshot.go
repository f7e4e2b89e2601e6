package types

import (
	"sort"
	"time"
)

// SnapshotMessage is a message removed by compaction, as it was before removal.
type SnapshotMessage struct {
	ID             string         `json:"id"`
	Role           Role           `json:"role"`
	Content        string         `json:"content"`
	SequenceInPath int            `json:"sequence_in_path"`
	Pinned         bool           `json:"pinned,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// SnapshotRef records where a retained message sat before renumbering.
type SnapshotRef struct {
	ID               string `json:"id"`
	OriginalSequence int    `json:"original_sequence"`
}

// CompactionSnapshot is the durable record of what one compaction removed.
type CompactionSnapshot struct {
	ID                string            `json:"id"`
	ConversationID    string            `json:"conversation_id"`
	PathID            string            `json:"path_id"`
	Strategy          string            `json:"strategy"`
	Trigger           string            `json:"trigger"`
	TokensBefore      int               `json:"tokens_before"`
	TokensAfter       int               `json:"tokens_after"`
	RemovedMessages   []SnapshotMessage `json:"removed_messages"`
	RetainedMessages  []SnapshotRef     `json:"retained_messages"`
	SummaryMessageIDs []string          `json:"summary_message_ids,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
}

// RemovedMessageIDs returns the ids of every removed message.
func (s *CompactionSnapshot) RemovedMessageIDs() []string {
	ids := make([]string, len(s.RemovedMessages))
	for i, m := range s.RemovedMessages {
		ids[i] = m.ID
	}
	return ids
}

// Reconstruct rebuilds the transcript the path had right before this
// compaction, using current for the retained rows. Retained rows that have
// since disappeared (a later compaction removed them) are skipped; summary
// messages written by this compaction are excluded.
func (s *CompactionSnapshot) Reconstruct(current []*Message) []*Message {
	byID := make(map[string]*Message, len(current))
	for _, m := range current {
		byID[m.ID] = m
	}

	out := make([]*Message, 0, len(s.RetainedMessages)+len(s.RemovedMessages))
	for _, ref := range s.RetainedMessages {
		m, ok := byID[ref.ID]
		if !ok {
			continue
		}
		c := m.Clone()
		c.SequenceInPath = ref.OriginalSequence
		out = append(out, c)
	}
	for _, r := range s.RemovedMessages {
		out = append(out, &Message{
			ID:             r.ID,
			ConversationID: s.ConversationID,
			PathID:         s.PathID,
			Role:           r.Role,
			Content:        r.Content,
			SequenceInPath: r.SequenceInPath,
			Pinned:         r.Pinned,
			Metadata:       r.Metadata,
			CreatedAt:      r.CreatedAt,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].SequenceInPath < out[j].SequenceInPath
	})
	return out
}
