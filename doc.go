// Package convpath keeps conversations as a graph of paths and shrinks paths
// that outgrow their token budget.
//
// A conversation owns a forest of paths. The primary path is created with the
// conversation; every other path is a branch that diverged from a message of
// its parent path. Branching copies the inherited prefix into new rows, so a
// branch never changes the path it came from and each path reads as one
// gap-free transcript ordered by SequenceInPath.
//
// # Quick Start
//
//	store := storage.NewPostgresStore(pgxv5.New(pool))
//	client, err := convpath.New(&convpath.Config{
//	    Store:  store,
//	    APIKey: os.Getenv("ANTHROPIC_API_KEY"),
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	conv, main, _ := client.CreateConversation(ctx, convpath.CreateConversationParams{TenantID: "1"})
//	msg, _ := client.AppendMessage(ctx, convpath.AppendMessageParams{
//	    ConversationID: conv.ID,
//	    PathID:         main.ID,
//	    Role:           types.RoleUser,
//	    Content:        "How is VAT applied to digital services?",
//	})
//
// # Branching
//
// To edit an earlier turn without losing the original, branch from it and
// append the new version on the branch:
//
//	res, msg, err := client.EditAsBranch(ctx, convpath.EditParams{
//	    ConversationID: conv.ID,
//	    MessageID:      msg.ID,
//	    NewContent:     "How is VAT applied to e-books?",
//	    SetActive:      true,
//	})
//
// SupersedeMessage replaces the latest message of a path in place instead:
// the old row stays, hidden, and EditChain walks its versions.
//
// # Compaction
//
// Compact runs the configured compaction strategy on one path. Pinned
// messages and branch points are never removed. With a CompactionTrigger
// configured, AppendMessage schedules a compaction once the running token
// estimate of a path crosses the threshold; the maintenance package runs the
// same operation as a periodic sweep.
package convpath
