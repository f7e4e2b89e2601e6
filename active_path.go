package convpath

import (
	"context"
	"errors"

	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/notifier"
	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/types"
)

// GetActivePath returns the path the conversation is viewed on. A conversation
// without a usable pointer falls back to its primary path.
func (c *Client) GetActivePath(ctx context.Context, conversationID string) (*types.Path, error) {
	conv, err := c.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	if conv.ActivePathID != nil {
		path, err := c.pathInConversation(ctx, conversationID, *conv.ActivePathID)
		if err == nil {
			return path, nil
		}
		if !errors.Is(err, types.ErrNotFound) {
			return nil, err
		}
		c.logger.Warn("active path not found, using primary path",
			"conversation_id", conversationID,
			"active_path_id", *conv.ActivePathID,
		)
	}

	return c.store.GetPrimaryPath(ctx, conversationID)
}

// SetActivePath points the conversation at pathID. It fails with
// ErrNotFound when the path belongs to another conversation.
func (c *Client) SetActivePath(ctx context.Context, conversationID, pathID string) error {
	err := c.store.SetActivePath(ctx, conversationID, pathID)
	c.recordOperation("set_active_path", err)
	if err != nil {
		return err
	}

	c.publish(ctx, notifier.EventPathChanged, conversationID, pathID, nil)
	return nil
}
