package convpath

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/notifier"
	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/storage"
	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/types"
)

// CreateBranchParams describes a branch from an existing message.
type CreateBranchParams struct {
	ConversationID  string
	SourceMessageID string

	// Name defaults to "Branch N".
	Name      string
	SetActive bool
	Metadata  map[string]any
}

// BranchResult is the outcome of CreateBranch.
type BranchResult struct {
	Path *types.Path `json:"path"`

	// BranchPointMessage is the origin message as it was before the branch,
	// i.e. without the branch point flag this call set.
	BranchPointMessage *types.Message `json:"branch_point_message"`

	// Messages is the inherited transcript of the new path.
	Messages []*types.Message `json:"messages"`
}

// EditParams describes an edit of an earlier message as a new branch.
type EditParams struct {
	ConversationID string
	MessageID      string
	NewContent     string
	Name           string
	SetActive      bool
}

// CreateBranch creates a path that diverges after SourceMessageID.
//
// The new path inherits a copy of every message up to and including the
// source message, at the same sequence numbers. The source path is never modified apart from marking
// the source message as a branch point. Everything happens in one
// transaction while the source path is locked.
func (c *Client) CreateBranch(ctx context.Context, params CreateBranchParams) (*BranchResult, error) {
	result, err := c.createBranch(ctx, params)
	c.recordOperation("create_branch", err)
	if err != nil {
		return nil, err
	}

	c.logger.Info("branch created",
		"conversation_id", params.ConversationID,
		"path_id", result.Path.ID,
		"parent_path_id", *result.Path.ParentPathID,
		"branch_from_message_id", result.BranchPointMessage.ID,
		"inherited", len(result.Messages),
	)
	c.publish(ctx, notifier.EventPathChanged, params.ConversationID, result.Path.ID, nil)
	c.publish(ctx, notifier.EventMessagesChanged, params.ConversationID, result.Path.ID, types.MessageIDs(result.Messages))
	return result, nil
}

func (c *Client) createBranch(ctx context.Context, params CreateBranchParams) (*BranchResult, error) {
	const op = "CreateBranch"
	if params.SourceMessageID == "" {
		return nil, types.InvalidState(op, "source message id is required")
	}

	source, err := c.store.GetMessage(ctx, params.SourceMessageID)
	if err != nil {
		return nil, err
	}
	if source.ConversationID != params.ConversationID {
		return nil, types.InvalidState(op, "message %s belongs to conversation %s, not %s",
			source.ID, source.ConversationID, params.ConversationID)
	}

	var result *BranchResult
	err = c.withPathLock(ctx, source.PathID, func(ctx context.Context) error {
		// compaction may have removed the source since it was read
		origin, err := c.store.GetMessage(ctx, source.ID)
		if err != nil {
			return err
		}

		name := params.Name
		if name == "" {
			paths, err := c.store.ListPaths(ctx, origin.ConversationID)
			if err != nil {
				return err
			}
			n := 1
			for _, p := range paths {
				if !p.IsPrimary {
					n++
				}
			}
			name = fmt.Sprintf("Branch %d", n)
		}

		path := &types.Path{
			ID:                  uuid.New().String(),
			ConversationID:      origin.ConversationID,
			ParentPathID:        types.StringPtr(origin.PathID),
			BranchFromMessageID: types.StringPtr(origin.ID),
			Name:                name,
			Metadata:            params.Metadata,
			CreatedAt:           c.now(),
		}
		if err := c.store.CreatePath(ctx, path); err != nil {
			return err
		}

		prefix, err := c.store.ListMessages(ctx, origin.PathID, storage.ListMessagesParams{
			IncludeSuperseded: true,
			MaxSequence:       &origin.SequenceInPath,
		})
		if err != nil {
			return err
		}
		copies := inheritMessages(prefix, origin.ID, path.ID)
		if err := c.store.InsertMessages(ctx, copies); err != nil {
			return err
		}

		if err := c.store.MarkBranchPoint(ctx, origin.ID, path.ID); err != nil {
			return err
		}
		if params.SetActive {
			if err := c.store.SetActivePath(ctx, origin.ConversationID, path.ID); err != nil {
				return err
			}
		}

		result = &BranchResult{Path: path, BranchPointMessage: origin, Messages: copies}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// inheritMessages copies every row of prefix onto pathID with its sequence
// number unchanged. Supersession links inside the prefix are remapped to the
// copies; a link to a version past the origin is dropped, so the copy of the
// older version is visible on the branch. Branch point flags stay with the
// source.
func inheritMessages(prefix []*types.Message, originID, pathID string) []*types.Message {
	ids := make(map[string]string, len(prefix))
	for _, m := range prefix {
		ids[m.ID] = uuid.New().String()
	}

	copies := make([]*types.Message, 0, len(prefix))
	for _, m := range prefix {
		cp := m.Clone()
		cp.ID = ids[m.ID]
		cp.PathID = pathID
		cp.IsBranchPoint = false
		cp.BranchedToPaths = nil

		newer, inPrefix := "", false
		if m.SupersededBy != nil {
			newer, inPrefix = ids[*m.SupersededBy]
		}
		if m.ID == originID || !inPrefix {
			cp.SupersededBy = nil
			cp.DeletedAt = nil
		} else {
			cp.SupersededBy = types.StringPtr(newer)
		}
		if older, ok := cp.Metadata[MetadataSupersedes].(string); ok {
			if id, ok := ids[older]; ok {
				cp.Metadata[MetadataSupersedes] = id
			}
		}
		copies = append(copies, cp)
	}
	return copies
}

// EditAsBranch edits an earlier message without touching its path: it
// branches from the message and appends NewContent on the new path.
func (c *Client) EditAsBranch(ctx context.Context, params EditParams) (*BranchResult, *types.Message, error) {
	branch, err := c.CreateBranch(ctx, CreateBranchParams{
		ConversationID:  params.ConversationID,
		SourceMessageID: params.MessageID,
		Name:            params.Name,
		SetActive:       params.SetActive,
	})
	if err != nil {
		return nil, nil, err
	}

	msg, err := c.AppendMessage(ctx, AppendMessageParams{
		ConversationID: params.ConversationID,
		PathID:         branch.Path.ID,
		Role:           branch.BranchPointMessage.Role,
		Content:        params.NewContent,
	})
	if err != nil {
		return branch, nil, err
	}
	return branch, msg, nil
}
