package convpath

import (
	"context"

	"github.com/google/uuid"

	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/notifier"
	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/storage"
	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/types"
)

// CreateConversationParams describes a new conversation.
type CreateConversationParams struct {
	// ID is generated when empty.
	ID       string
	TenantID string
	UserID   string
	Title    string
	Metadata map[string]any
}

// ListConversationsParams filters and pages ListConversations.
type ListConversationsParams = storage.ListConversationsParams

// CreateConversation creates a conversation with its primary path and makes
// that path active, in one transaction.
func (c *Client) CreateConversation(ctx context.Context, params CreateConversationParams) (*types.Conversation, *types.Path, error) {
	conv, path, err := c.createConversation(ctx, params)
	c.recordOperation("create_conversation", err)
	if err != nil {
		return nil, nil, err
	}

	c.publish(ctx, notifier.EventPathChanged, conv.ID, path.ID, nil)
	return conv, path, nil
}

func (c *Client) createConversation(ctx context.Context, params CreateConversationParams) (*types.Conversation, *types.Path, error) {
	id := params.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := c.now()

	conv := &types.Conversation{
		ID:        id,
		TenantID:  params.TenantID,
		UserID:    params.UserID,
		Title:     params.Title,
		Metadata:  params.Metadata,
		CreatedAt: now,
	}
	path := &types.Path{
		ID:             uuid.New().String(),
		ConversationID: id,
		Name:           PrimaryPathName,
		IsPrimary:      true,
		CreatedAt:      now,
	}

	err := c.store.RunInTx(ctx, func(ctx context.Context) error {
		if err := c.store.CreateConversation(ctx, conv); err != nil {
			return err
		}
		if err := c.store.CreatePath(ctx, path); err != nil {
			return err
		}
		return c.store.SetActivePath(ctx, conv.ID, path.ID)
	})
	if err != nil {
		return nil, nil, err
	}

	conv.ActivePathID = types.StringPtr(path.ID)
	return conv, path, nil
}

// GetConversation returns a conversation by id.
func (c *Client) GetConversation(ctx context.Context, id string) (*types.Conversation, error) {
	return c.store.GetConversation(ctx, id)
}

// ListConversations returns one page of conversations ordered by id.
func (c *Client) ListConversations(ctx context.Context, params ListConversationsParams) ([]*types.Conversation, error) {
	return c.store.ListConversations(ctx, params)
}
