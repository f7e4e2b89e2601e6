package convpath

import (
	"context"

	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/types"
)

// PathNode is one path of a conversation with its child branches.
type PathNode struct {
	Path     *types.Path `json:"path"`
	Children []*PathNode `json:"children,omitempty"`
}

// ListPaths returns every path of a conversation ordered by creation.
func (c *Client) ListPaths(ctx context.Context, conversationID string) ([]*types.Path, error) {
	if _, err := c.store.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}
	return c.store.ListPaths(ctx, conversationID)
}

// GetPath returns a path of the conversation.
func (c *Client) GetPath(ctx context.Context, conversationID, pathID string) (*types.Path, error) {
	return c.pathInConversation(ctx, conversationID, pathID)
}

// GetPathLineage returns the chain of paths from the root of the tree down
// to pathID, pathID last.
func (c *Client) GetPathLineage(ctx context.Context, pathID string) ([]*types.Path, error) {
	path, err := c.store.GetPath(ctx, pathID)
	if err != nil {
		return nil, err
	}

	paths, err := c.store.ListPaths(ctx, path.ConversationID)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*types.Path, len(paths))
	for _, p := range paths {
		byID[p.ID] = p
	}

	lineage := []*types.Path{path}
	for cur := path; cur.ParentPathID != nil; {
		parent, ok := byID[*cur.ParentPathID]
		if !ok {
			return nil, types.NotFound("GetPathLineage", "path", *cur.ParentPathID)
		}
		if len(lineage) > len(paths) {
			return nil, types.InvalidState("GetPathLineage", "path %s has a cyclic lineage", pathID)
		}
		lineage = append(lineage, parent)
		cur = parent
	}

	for i, j := 0, len(lineage)-1; i < j; i, j = i+1, j-1 {
		lineage[i], lineage[j] = lineage[j], lineage[i]
	}
	return lineage, nil
}

// GetPathTree returns the conversation's paths as a tree rooted at the
// primary path. Children are ordered by creation.
func (c *Client) GetPathTree(ctx context.Context, conversationID string) (*PathNode, error) {
	paths, err := c.ListPaths(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	nodes := make(map[string]*PathNode, len(paths))
	var root *PathNode
	for _, p := range paths {
		nodes[p.ID] = &PathNode{Path: p}
		if p.IsPrimary {
			root = nodes[p.ID]
		}
	}
	if root == nil {
		return nil, types.NotFound("GetPathTree", "primary path of conversation", conversationID)
	}

	// paths are in creation order, so appending keeps children ordered
	for _, p := range paths {
		if p.IsPrimary {
			continue
		}
		parent := root
		if p.ParentPathID != nil {
			if n, ok := nodes[*p.ParentPathID]; ok {
				parent = n
			}
		}
		parent.Children = append(parent.Children, nodes[p.ID])
	}
	return root, nil
}
