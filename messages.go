package convpath

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/compaction"
	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/notifier"
	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/storage"
	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/types"
)

// MetadataSupersedes records on a new version the id of the message it replaced.
const MetadataSupersedes = "supersedes"

// ListMessagesOptions controls ListMessages.
type ListMessagesOptions struct {
	// IncludeSuperseded also returns replaced versions.
	IncludeSuperseded bool
}

// AppendMessageParams describes a message to append.
type AppendMessageParams struct {
	// ConversationID is created with a primary path when it does not exist
	// and PathID is empty. An empty ConversationID then gets a new id.
	ConversationID string

	// PathID defaults to the conversation's active path.
	PathID string

	Role     types.Role
	Content  string
	Pinned   bool
	Metadata map[string]any
}

// SupersedeParams describes a same-path replacement of the latest message.
type SupersedeParams struct {
	ConversationID string
	// PathID is optional; when set the message must be on it.
	PathID     string
	MessageID  string
	NewContent string
}

// ListMessages returns the transcript of a path in sequence order.
func (c *Client) ListMessages(ctx context.Context, conversationID, pathID string, opts ListMessagesOptions) ([]*types.Message, error) {
	if _, err := c.pathInConversation(ctx, conversationID, pathID); err != nil {
		return nil, err
	}
	return c.store.ListMessages(ctx, pathID, storage.ListMessagesParams{IncludeSuperseded: opts.IncludeSuperseded})
}

// GetMessage returns a message of the conversation.
func (c *Client) GetMessage(ctx context.Context, conversationID, messageID string) (*types.Message, error) {
	msg, err := c.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if conversationID != "" && msg.ConversationID != conversationID {
		return nil, types.NotFound("get message", "message", messageID)
	}
	return msg, nil
}

// AppendMessage adds a message at the end of a path. The sequence number is
// assigned while the path is locked.
func (c *Client) AppendMessage(ctx context.Context, params AppendMessageParams) (*types.Message, error) {
	msg, err := c.appendMessage(ctx, params)
	c.recordOperation("append_message", err)
	if err != nil {
		return nil, err
	}

	c.publish(ctx, notifier.EventMessagesChanged, msg.ConversationID, msg.PathID, []string{msg.ID})
	c.trackTokens(ctx, msg)
	return msg, nil
}

func (c *Client) appendMessage(ctx context.Context, params AppendMessageParams) (*types.Message, error) {
	const op = "AppendMessage"
	if !params.Role.Valid() {
		return nil, types.InvalidState(op, "unknown role %q", params.Role)
	}
	if params.Role == types.RoleSystem {
		return nil, types.InvalidState(op, "role %q is reserved for compaction summaries", params.Role)
	}

	path, err := c.resolveAppendPath(ctx, params)
	if err != nil {
		return nil, err
	}

	msg := &types.Message{
		ID:             uuid.New().String(),
		ConversationID: path.ConversationID,
		PathID:         path.ID,
		Role:           params.Role,
		Content:        params.Content,
		Pinned:         params.Pinned,
		Metadata:       params.Metadata,
		CreatedAt:      c.now(),
	}

	err = c.withPathLock(ctx, path.ID, func(ctx context.Context) error {
		seq, err := c.store.CountMessages(ctx, path.ID)
		if err != nil {
			return err
		}
		msg.SequenceInPath = seq
		return c.store.InsertMessages(ctx, []*types.Message{msg})
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// resolveAppendPath finds the target path, creating the conversation when
// the caller names none.
func (c *Client) resolveAppendPath(ctx context.Context, params AppendMessageParams) (*types.Path, error) {
	if params.PathID != "" {
		return c.pathInConversation(ctx, params.ConversationID, params.PathID)
	}

	if params.ConversationID != "" {
		path, err := c.GetActivePath(ctx, params.ConversationID)
		if err == nil || !errors.Is(err, types.ErrNotFound) {
			return path, err
		}
		if _, convErr := c.store.GetConversation(ctx, params.ConversationID); !errors.Is(convErr, types.ErrNotFound) {
			return nil, err
		}
	}

	conv, path, err := c.createConversation(ctx, CreateConversationParams{ID: params.ConversationID})
	if err != nil {
		return nil, err
	}
	c.logger.Info("conversation created on first message", "conversation_id", conv.ID)
	c.publish(ctx, notifier.EventPathChanged, conv.ID, path.ID, nil)
	return path, nil
}

// trackTokens adds msg to the running estimate of its path and fires the
// trigger once the estimate crosses the compaction threshold.
func (c *Client) trackTokens(ctx context.Context, msg *types.Message) {
	if c.trigger == nil {
		return
	}

	total, err := c.estimates.IncrementInt(msg.PathID, compaction.ApproximateMessageTokens(msg))
	if err != nil {
		visible, err := c.store.ListMessages(ctx, msg.PathID, storage.ListMessagesParams{})
		if err != nil {
			c.logger.Warn("failed to seed token estimate", "path_id", msg.PathID, "error", err)
			return
		}
		total = 0
		for _, m := range visible {
			total += compaction.ApproximateMessageTokens(m)
		}
		c.estimates.SetDefault(msg.PathID, total)
	}

	if total <= c.compactor.Config().TokenThreshold {
		return
	}

	c.estimates.Delete(msg.PathID)
	c.logger.Debug("token estimate crossed threshold",
		"conversation_id", msg.ConversationID,
		"path_id", msg.PathID,
		"estimate", total,
	)
	if err := c.trigger.TriggerCompaction(ctx, msg.ConversationID, msg.PathID); err != nil {
		c.logger.Warn("failed to trigger compaction",
			"conversation_id", msg.ConversationID,
			"path_id", msg.PathID,
			"error", err,
		)
	}
}

// PinMessage sets or clears the compaction exemption of a message. It holds
// the path lock, so a compaction commit sees the pin either before or after.
func (c *Client) PinMessage(ctx context.Context, conversationID, messageID string, pinned bool) error {
	msg, err := c.GetMessage(ctx, conversationID, messageID)
	if err == nil {
		err = c.withPathLock(ctx, msg.PathID, func(ctx context.Context) error {
			return c.store.SetPinned(ctx, messageID, pinned)
		})
	}
	c.recordOperation("pin_message", err)
	if err != nil {
		return err
	}

	c.publish(ctx, notifier.EventMessagesChanged, msg.ConversationID, msg.PathID, []string{msg.ID})
	return nil
}

// SupersedeMessage replaces the latest visible message of its path with a
// new version appended at the next sequence number. The old row keeps its
// content and is hidden from the default transcript. Earlier messages can
// only be edited by branching.
func (c *Client) SupersedeMessage(ctx context.Context, params SupersedeParams) (*types.Message, error) {
	old, next, err := c.supersedeMessage(ctx, params)
	c.recordOperation("supersede_message", err)
	if err != nil {
		return nil, err
	}

	c.publish(ctx, notifier.EventMessagesChanged, next.ConversationID, next.PathID, []string{old.ID, next.ID})
	c.trackTokens(ctx, next)
	return next, nil
}

func (c *Client) supersedeMessage(ctx context.Context, params SupersedeParams) (*types.Message, *types.Message, error) {
	const op = "SupersedeMessage"
	old, err := c.GetMessage(ctx, params.ConversationID, params.MessageID)
	if err != nil {
		return nil, nil, err
	}
	if params.PathID != "" && old.PathID != params.PathID {
		return nil, nil, types.InvalidState(op, "message %s is not on path %s", old.ID, params.PathID)
	}

	var next *types.Message
	err = c.withPathLock(ctx, old.PathID, func(ctx context.Context) error {
		current, err := c.store.GetMessage(ctx, old.ID)
		if err != nil {
			return err
		}
		if current.IsSuperseded() {
			return types.InvalidState(op, "message %s is already superseded", current.ID)
		}

		visible, err := c.store.ListMessages(ctx, current.PathID, storage.ListMessagesParams{})
		if err != nil {
			return err
		}
		if len(visible) == 0 || visible[len(visible)-1].ID != current.ID {
			return types.InvalidState(op, "message %s is not the latest message of its path, branch from it to edit it", current.ID)
		}

		seq, err := c.store.CountMessages(ctx, current.PathID)
		if err != nil {
			return err
		}

		metadata := make(map[string]any, len(current.Metadata)+1)
		for k, v := range current.Metadata {
			metadata[k] = v
		}
		metadata[MetadataSupersedes] = current.ID

		now := c.now()
		next = &types.Message{
			ID:             uuid.New().String(),
			ConversationID: current.ConversationID,
			PathID:         current.PathID,
			Role:           current.Role,
			Content:        params.NewContent,
			SequenceInPath: seq,
			Pinned:         current.Pinned,
			Metadata:       metadata,
			CreatedAt:      now,
		}
		if err := c.store.InsertMessages(ctx, []*types.Message{next}); err != nil {
			return err
		}
		return c.store.MarkSuperseded(ctx, current.ID, next.ID, now)
	})
	if err != nil {
		return nil, nil, err
	}
	return old, next, nil
}

// EditChain returns every version of a message on its path, oldest first.
// Any version in the chain may be passed.
func (c *Client) EditChain(ctx context.Context, conversationID, messageID string) ([]*types.Message, error) {
	msg, err := c.GetMessage(ctx, conversationID, messageID)
	if err != nil {
		return nil, err
	}

	rows, err := c.store.ListMessages(ctx, msg.PathID, storage.ListMessagesParams{IncludeSuperseded: true})
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*types.Message, len(rows))
	previous := make(map[string]string, len(rows))
	for _, m := range rows {
		byID[m.ID] = m
		if m.SupersededBy != nil {
			previous[*m.SupersededBy] = m.ID
		}
	}

	first := msg.ID
	for steps := 0; steps < len(rows); steps++ {
		prev, ok := previous[first]
		if !ok {
			break
		}
		first = prev
	}

	var chain []*types.Message
	for id := first; len(chain) <= len(rows); {
		m, ok := byID[id]
		if !ok {
			break
		}
		chain = append(chain, m)
		if m.SupersededBy == nil {
			break
		}
		id = *m.SupersededBy
	}
	return chain, nil
}
