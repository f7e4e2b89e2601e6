package convpath

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/notifier"
	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/types"
)

// ignoreBranchFlags drops the only fields branching may change on the source path.
var ignoreBranchFlags = cmpopts.IgnoreFields(types.Message{}, "IsBranchPoint", "BranchedToPaths")

func TestCreateBranch_NonDestructive(t *testing.T) {
	for _, pos := range []struct {
		name  string
		index int
	}{
		{"first", 0},
		{"middle", 4},
		{"last", 9},
	} {
		t.Run(pos.name, func(t *testing.T) {
			env := newTestEnv(t)
			conv, main := env.newConversation(t)
			msgs := env.seed(t, main.ID, 10, 0)
			before := env.list(t, main.ID, true)

			res, err := env.client.CreateBranch(context.Background(), CreateBranchParams{
				ConversationID:  conv.ID,
				SourceMessageID: msgs[pos.index].ID,
			})
			require.NoError(t, err)

			after := env.list(t, main.ID, true)
			require.Len(t, after, 10)
			if diff := cmp.Diff(before, after, ignoreBranchFlags); diff != "" {
				t.Errorf("source path changed (-before +after):\n%s", diff)
			}

			origin := after[pos.index]
			assert.True(t, origin.IsBranchPoint)
			assert.Equal(t, []string{res.Path.ID}, origin.BranchedToPaths)

			// returned as it was before the branch
			assert.False(t, res.BranchPointMessage.IsBranchPoint)
			assert.Equal(t, msgs[pos.index].Content, res.BranchPointMessage.Content)
			assert.Equal(t, pos.index, res.BranchPointMessage.SequenceInPath)
		})
	}
}

func TestCreateBranch_Inheritance(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	conv, main := env.newConversation(t)
	msgs := env.seed(t, main.ID, 6, 0)
	require.NoError(t, env.client.PinMessage(ctx, conv.ID, msgs[1].ID, true))

	res, err := env.client.CreateBranch(ctx, CreateBranchParams{ConversationID: conv.ID, SourceMessageID: msgs[3].ID})
	require.NoError(t, err)

	path := res.Path
	assert.False(t, path.IsPrimary)
	assert.Equal(t, "Branch 1", path.Name)
	require.NotNil(t, path.ParentPathID)
	assert.Equal(t, main.ID, *path.ParentPathID)
	require.NotNil(t, path.BranchFromMessageID)
	assert.Equal(t, msgs[3].ID, *path.BranchFromMessageID)

	inherited := env.list(t, path.ID, true)
	require.Len(t, inherited, 4)
	assertDense(t, inherited)
	assert.Equal(t, contents(msgs[:4]), contents(inherited))
	for i, m := range inherited {
		assert.NotEqual(t, msgs[i].ID, m.ID)
		assert.Equal(t, path.ID, m.PathID)
		assert.Equal(t, msgs[i].Role, m.Role)
		assert.False(t, m.IsBranchPoint)
	}
	assert.True(t, inherited[1].Pinned)
	assert.Equal(t, types.MessageIDs(inherited), types.MessageIDs(res.Messages))
}

func TestCreateBranch_PathIsolation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	conv, main := env.newConversation(t)
	msgs := env.seed(t, main.ID, 4, 0)

	res, err := env.client.CreateBranch(ctx, CreateBranchParams{ConversationID: conv.ID, SourceMessageID: msgs[1].ID})
	require.NoError(t, err)

	env.seed(t, res.Path.ID, 3, 0)
	env.seed(t, main.ID, 2, 0)

	for _, pathID := range []string{main.ID, res.Path.ID} {
		got, err := env.client.ListMessages(ctx, conv.ID, pathID, ListMessagesOptions{IncludeSuperseded: true})
		require.NoError(t, err)
		assertDense(t, got)
		for _, m := range got {
			assert.Equal(t, pathID, m.PathID)
		}
	}
	assert.Len(t, env.list(t, main.ID, true), 6)
	assert.Len(t, env.list(t, res.Path.ID, true), 5)
}

func TestCreateBranch_ParallelBranchesAreIndependent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	conv, main := env.newConversation(t)
	msgs := env.seed(t, main.ID, 5, 0)

	seen := make(map[string]string)
	var pathIDs []string
	for i := 0; i < 3; i++ {
		res, err := env.client.CreateBranch(ctx, CreateBranchParams{ConversationID: conv.ID, SourceMessageID: msgs[2].ID})
		require.NoError(t, err)
		pathIDs = append(pathIDs, res.Path.ID)

		got := env.list(t, res.Path.ID, true)
		assert.Equal(t, contents(msgs[:3]), contents(got))
		for _, m := range got {
			owner, dup := seen[m.ID]
			assert.False(t, dup, "message %s shared with path %s", m.ID, owner)
			seen[m.ID] = res.Path.ID
		}
	}

	paths, err := env.client.ListPaths(ctx, conv.ID)
	require.NoError(t, err)
	var names []string
	for _, p := range paths {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{"main", "Branch 1", "Branch 2", "Branch 3"}, names)

	origin, err := env.client.GetMessage(ctx, conv.ID, msgs[2].ID)
	require.NoError(t, err)
	assert.Equal(t, pathIDs, origin.BranchedToPaths)

	// appending to one sibling leaves the others alone
	env.seed(t, pathIDs[0], 1, 0)
	assert.Len(t, env.list(t, pathIDs[0], true), 4)
	assert.Len(t, env.list(t, pathIDs[1], true), 3)
	assert.Len(t, env.list(t, pathIDs[2], true), 3)
}

func TestCreateBranch_MainScenario(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	conv, main := env.newConversation(t)
	msgs := env.seed(t, main.ID, 10, 0)

	// the 5th message is the 3rd user question
	source := msgs[4]
	require.Equal(t, types.RoleUser, source.Role)

	res, err := env.client.CreateBranch(ctx, CreateBranchParams{ConversationID: conv.ID, SourceMessageID: source.ID})
	require.NoError(t, err)

	branch := env.list(t, res.Path.ID, false)
	assert.Equal(t, contents(msgs[:5]), contents(branch))
	for _, m := range branch {
		assert.LessOrEqual(t, m.SequenceInPath, 4)
	}

	assert.Equal(t, contents(msgs), contents(env.list(t, main.ID, false)))
}

func TestCreateBranch_Nested(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	conv, main := env.newConversation(t)
	mainMsgs := env.seed(t, main.ID, 6, 0)
	mainBefore := env.list(t, main.ID, true)

	b1, err := env.client.CreateBranch(ctx, CreateBranchParams{ConversationID: conv.ID, SourceMessageID: mainMsgs[2].ID})
	require.NoError(t, err)
	b1Own := env.seed(t, b1.Path.ID, 3, 0)
	b1Before := env.list(t, b1.Path.ID, true)

	// branch from a message B1 appended itself
	b2, err := env.client.CreateBranch(ctx, CreateBranchParams{ConversationID: conv.ID, SourceMessageID: b1Own[0].ID})
	require.NoError(t, err)
	b2Own := env.seed(t, b2.Path.ID, 2, 0)

	if diff := cmp.Diff(mainBefore, env.list(t, main.ID, true), ignoreBranchFlags); diff != "" {
		t.Errorf("main changed (-before +after):\n%s", diff)
	}
	if diff := cmp.Diff(b1Before, env.list(t, b1.Path.ID, true), ignoreBranchFlags); diff != "" {
		t.Errorf("B1 changed (-before +after):\n%s", diff)
	}

	want := append(contents(mainMsgs[:3]), b1Own[0].Content)
	want = append(want, contents(b2Own)...)
	got := env.list(t, b2.Path.ID, false)
	assert.Equal(t, want, contents(got))
	assertDense(t, got)

	for _, m := range got {
		assert.NotContains(t, contents(mainMsgs[3:]), m.Content)
		assert.NotContains(t, contents(b1Own[1:]), m.Content)
	}

	lineage, err := env.client.GetPathLineage(ctx, b2.Path.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{main.ID, b1.Path.ID, b2.Path.ID}, pathIDs(lineage))
}

func TestCreateBranch_InheritsSupersededRows(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	conv, main := env.newConversation(t)
	msgs := env.seed(t, main.ID, 2, 0)

	v2, err := env.client.SupersedeMessage(ctx, SupersedeParams{ConversationID: conv.ID, MessageID: msgs[1].ID, NewContent: "rewritten"})
	require.NoError(t, err)
	tail := env.seed(t, main.ID, 2, 0)
	source := env.list(t, main.ID, true)
	require.Len(t, source, 5)

	t.Run("after the edit", func(t *testing.T) {
		res, err := env.client.CreateBranch(ctx, CreateBranchParams{ConversationID: conv.ID, SourceMessageID: tail[1].ID})
		require.NoError(t, err)

		got := env.list(t, res.Path.ID, true)
		require.Len(t, got, len(source))
		assertDense(t, got)
		assert.Equal(t, contents(source), contents(got))
		for i, m := range got {
			assert.NotEqual(t, source[i].ID, m.ID)
			assert.Equal(t, res.Path.ID, m.PathID)
		}

		// the chain points at the branch's own copy of the newer version
		require.NotNil(t, got[1].SupersededBy)
		assert.Equal(t, got[2].ID, *got[1].SupersededBy)
		assert.NotNil(t, got[1].DeletedAt)
		assert.Equal(t, got[1].ID, got[2].Metadata[MetadataSupersedes])

		chain, err := env.client.EditChain(ctx, conv.ID, got[1].ID)
		require.NoError(t, err)
		assert.Equal(t, []string{got[1].ID, got[2].ID}, types.MessageIDs(chain))

		visible := env.list(t, res.Path.ID, false)
		assert.Equal(t, []string{msgs[0].Content, "rewritten", tail[0].Content, tail[1].Content}, contents(visible))

		next, err := env.client.AppendMessage(ctx, AppendMessageParams{ConversationID: conv.ID, PathID: res.Path.ID, Role: types.RoleAssistant, Content: "more"})
		require.NoError(t, err)
		assert.Equal(t, 5, next.SequenceInPath)
	})

	t.Run("from the superseded version", func(t *testing.T) {
		res, err := env.client.CreateBranch(ctx, CreateBranchParams{ConversationID: conv.ID, SourceMessageID: msgs[1].ID})
		require.NoError(t, err)

		got := env.list(t, res.Path.ID, true)
		assert.Equal(t, []string{msgs[0].Content, msgs[1].Content}, contents(got))
		assertDense(t, got)
		for _, m := range got {
			assert.False(t, m.IsSuperseded())
		}
		assert.Equal(t, v2.ID, *env.list(t, main.ID, true)[1].SupersededBy)
	})
}

func TestCreateBranch_Errors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	conv, main := env.newConversation(t)
	other, _ := env.newConversation(t)
	msgs := env.seed(t, main.ID, 2, 0)

	_, err := env.client.CreateBranch(ctx, CreateBranchParams{ConversationID: conv.ID, SourceMessageID: "missing"})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = env.client.CreateBranch(ctx, CreateBranchParams{ConversationID: other.ID, SourceMessageID: msgs[0].ID})
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = env.client.CreateBranch(ctx, CreateBranchParams{ConversationID: conv.ID})
	assert.ErrorIs(t, err, ErrInvalidState)

	paths, err := env.client.ListPaths(ctx, conv.ID)
	require.NoError(t, err)
	assert.Len(t, paths, 1)
}

func TestCreateBranch_SetActiveAndEvents(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	conv, main := env.newConversation(t)
	msgs := env.seed(t, main.ID, 2, 0)
	pathEvents := env.events.count(notifier.EventPathChanged)

	res, err := env.client.CreateBranch(ctx, CreateBranchParams{ConversationID: conv.ID, SourceMessageID: msgs[1].ID, Name: "what if", SetActive: true})
	require.NoError(t, err)
	assert.Equal(t, "what if", res.Path.Name)

	active, err := env.client.GetActivePath(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Path.ID, active.ID)
	assert.Equal(t, pathEvents+1, env.events.count(notifier.EventPathChanged))
}

func TestEditAsBranch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	conv, main := env.newConversation(t)
	msgs := env.seed(t, main.ID, 6, 0)

	res, edited, err := env.client.EditAsBranch(ctx, EditParams{
		ConversationID: conv.ID,
		MessageID:      msgs[2].ID,
		NewContent:     "edited question",
		SetActive:      true,
	})
	require.NoError(t, err)

	assert.Equal(t, msgs[2].Role, edited.Role)
	assert.Equal(t, res.Path.ID, edited.PathID)
	assert.Equal(t, 3, edited.SequenceInPath)

	want := append(contents(msgs[:3]), "edited question")
	assert.Equal(t, want, contents(env.list(t, res.Path.ID, false)))
	assert.Equal(t, contents(msgs), contents(env.list(t, main.ID, false)))

	// editing the same message again makes a sibling, not a mutation
	res2, _, err := env.client.EditAsBranch(ctx, EditParams{ConversationID: conv.ID, MessageID: msgs[2].ID, NewContent: "again"})
	require.NoError(t, err)
	assert.NotEqual(t, res.Path.ID, res2.Path.ID)
	assert.Equal(t, want, contents(env.list(t, res.Path.ID, false)))
}
