package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/driver"
	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/types"
)

// DefaultLockTimeout bounds how long LockPath waits for another writer.
const DefaultLockTimeout = 5 * time.Second

// PostgresConfig configures a PostgresStore.
type PostgresConfig struct {
	// LockTimeout is applied with SET LOCAL lock_timeout to every transaction.
	// Lock waits that exceed it fail with types.ErrConcurrencyConflict.
	// Default: 5 seconds
	LockTimeout time.Duration
}

// PostgresStore implements Store on top of a driver.Driver.
type PostgresStore struct {
	driver      driver.Driver
	lockTimeout time.Duration
}

// NewPostgresStore creates a new PostgreSQL store.
func NewPostgresStore(drv driver.Driver, cfg *PostgresConfig) *PostgresStore {
	s := &PostgresStore{driver: drv, lockTimeout: DefaultLockTimeout}
	if cfg != nil && cfg.LockTimeout > 0 {
		s.lockTimeout = cfg.LockTimeout
	}
	return s
}

// getExecutor returns the transaction from context if present, otherwise the pool.
func (s *PostgresStore) getExecutor(ctx context.Context) driver.Executor {
	if exec := driver.ExecutorFromContext(ctx); exec != nil {
		return exec
	}
	return s.driver.GetExecutor()
}

// RunInTx runs fn in a new transaction, or a savepoint if ctx already has one.
func (s *PostgresStore) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	var (
		execTx driver.ExecutorTx
		err    error
		outer  = driver.ExecutorFromContext(ctx)
	)
	if outer != nil {
		execTx, err = outer.Begin(ctx)
	} else {
		execTx, err = s.driver.Begin(ctx)
	}
	if err != nil {
		return mapError("begin transaction", "", "", err)
	}

	committed := false
	defer func() {
		if !committed {
			_ = execTx.Rollback(ctx)
		}
	}()

	if outer == nil {
		ms := s.lockTimeout.Milliseconds()
		if _, err := execTx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = %d", ms)); err != nil {
			return mapError("set lock timeout", "", "", err)
		}
	}

	if err := fn(driver.WithExecutor(ctx, execTx)); err != nil {
		return err
	}

	if err := execTx.Commit(ctx); err != nil {
		return mapError("commit transaction", "", "", err)
	}
	committed = true
	return nil
}

// =============================================================================
// Conversations
// =============================================================================

const conversationColumns = `id, tenant_id, user_id, title, active_path_id, metadata, created_at, updated_at`

// CreateConversation inserts a conversation row.
func (s *PostgresStore) CreateConversation(ctx context.Context, conv *types.Conversation) error {
	metadataJSON, err := marshalJSON(conv.Metadata, "{}")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		INSERT INTO convpath_conversations (id, tenant_id, user_id, title, active_path_id, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $7)
	`
	_, err = s.getExecutor(ctx).Exec(ctx, query,
		conv.ID, conv.TenantID, conv.UserID, conv.Title, conv.ActivePathID, metadataJSON, conv.CreatedAt)
	if err != nil {
		return mapError("create conversation", "conversation", conv.ID, err)
	}
	conv.UpdatedAt = conv.CreatedAt
	return nil
}

// GetConversation retrieves a conversation by ID.
func (s *PostgresStore) GetConversation(ctx context.Context, id string) (*types.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM convpath_conversations WHERE id = $1`
	conv, err := scanConversation(s.getExecutor(ctx).QueryRow(ctx, query, id))
	if err != nil {
		return nil, mapError("get conversation", "conversation", id, err)
	}
	return conv, nil
}

// ListConversations pages through conversations ordered by id.
func (s *PostgresStore) ListConversations(ctx context.Context, params ListConversationsParams) ([]*types.Conversation, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT ` + conversationColumns + `
		FROM convpath_conversations
		WHERE ($1 = '' OR tenant_id = $1) AND updated_at >= $2
		ORDER BY id
		LIMIT $3 OFFSET $4
	`
	rows, err := s.getExecutor(ctx).Query(ctx, query, params.TenantID, params.UpdatedSince, limit, params.Offset)
	if err != nil {
		return nil, mapError("list conversations", "", "", err)
	}
	defer rows.Close()

	var convs []*types.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, mapError("scan conversation", "", "", err)
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("list conversations", "", "", err)
	}
	return convs, nil
}

// SetActivePath moves the active pointer if the path belongs to the conversation.
func (s *PostgresStore) SetActivePath(ctx context.Context, conversationID, pathID string) error {
	query := `
		UPDATE convpath_conversations
		SET active_path_id = $2, updated_at = NOW()
		WHERE id = $1
		  AND EXISTS (SELECT 1 FROM convpath_paths p WHERE p.id = $2 AND p.conversation_id = $1)
	`
	n, err := s.getExecutor(ctx).Exec(ctx, query, conversationID, pathID)
	if err != nil {
		return mapError("set active path", "conversation", conversationID, err)
	}
	if n == 0 {
		if _, err := s.GetConversation(ctx, conversationID); err != nil {
			return err
		}
		return types.NotFound("set active path", "path", pathID)
	}
	return nil
}

// =============================================================================
// Paths
// =============================================================================

const pathColumns = `id, conversation_id, parent_path_id, branch_from_message_id, name, is_primary, metadata, created_at, updated_at`

// CreatePath inserts a path row.
func (s *PostgresStore) CreatePath(ctx context.Context, path *types.Path) error {
	metadataJSON, err := marshalJSON(path.Metadata, "{}")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		INSERT INTO convpath_paths (id, conversation_id, parent_path_id, branch_from_message_id, name, is_primary, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8, $8)
	`
	_, err = s.getExecutor(ctx).Exec(ctx, query,
		path.ID, path.ConversationID, path.ParentPathID, path.BranchFromMessageID,
		path.Name, path.IsPrimary, metadataJSON, path.CreatedAt)
	if err != nil {
		return mapError("create path", "path", path.ID, err)
	}
	path.UpdatedAt = path.CreatedAt
	return nil
}

// GetPath retrieves a path by ID.
func (s *PostgresStore) GetPath(ctx context.Context, id string) (*types.Path, error) {
	query := `SELECT ` + pathColumns + ` FROM convpath_paths WHERE id = $1`
	path, err := scanPath(s.getExecutor(ctx).QueryRow(ctx, query, id))
	if err != nil {
		return nil, mapError("get path", "path", id, err)
	}
	return path, nil
}

// ListPaths returns every path of a conversation in creation order.
func (s *PostgresStore) ListPaths(ctx context.Context, conversationID string) ([]*types.Path, error) {
	query := `
		SELECT ` + pathColumns + `
		FROM convpath_paths
		WHERE conversation_id = $1
		ORDER BY created_at, id
	`
	rows, err := s.getExecutor(ctx).Query(ctx, query, conversationID)
	if err != nil {
		return nil, mapError("list paths", "conversation", conversationID, err)
	}
	defer rows.Close()

	var paths []*types.Path
	for rows.Next() {
		path, err := scanPath(rows)
		if err != nil {
			return nil, mapError("scan path", "", "", err)
		}
		paths = append(paths, path)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("list paths", "conversation", conversationID, err)
	}
	return paths, nil
}

// GetPrimaryPath returns the root path of a conversation.
func (s *PostgresStore) GetPrimaryPath(ctx context.Context, conversationID string) (*types.Path, error) {
	query := `SELECT ` + pathColumns + ` FROM convpath_paths WHERE conversation_id = $1 AND is_primary`
	path, err := scanPath(s.getExecutor(ctx).QueryRow(ctx, query, conversationID))
	if err != nil {
		return nil, mapError("get primary path", "conversation", conversationID, err)
	}
	return path, nil
}

// LockPath takes a row lock on the path until the transaction ends.
func (s *PostgresStore) LockPath(ctx context.Context, pathID string) error {
	exec := driver.ExecutorFromContext(ctx)
	if exec == nil {
		return ErrTxRequired
	}
	var id string
	err := exec.QueryRow(ctx, `SELECT id FROM convpath_paths WHERE id = $1 FOR UPDATE`, pathID).Scan(&id)
	if err != nil {
		return mapError("lock path", "path", pathID, err)
	}
	return nil
}

// =============================================================================
// Messages
// =============================================================================

const messageColumns = `id, conversation_id, path_id, role, content, sequence_in_path, pinned,
	is_branch_point, branched_to_paths, superseded_by, deleted_at, metadata, created_at`

const insertMessageQuery = `
	INSERT INTO convpath_messages (id, conversation_id, path_id, role, content, sequence_in_path, pinned,
		is_branch_point, branched_to_paths, superseded_by, deleted_at, metadata, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, $10, $11, $12::jsonb, $13)
`

// InsertMessages inserts messages as one batch and bumps the conversation.
func (s *PostgresStore) InsertMessages(ctx context.Context, messages []*types.Message) error {
	if len(messages) == 0 {
		return nil
	}

	items := make([]driver.BatchItem, 0, len(messages)+1)
	for _, msg := range messages {
		args, err := messageArgs(msg)
		if err != nil {
			return err
		}
		items = append(items, driver.BatchItem{Query: insertMessageQuery, Args: args})
	}
	items = append(items, driver.BatchItem{
		Query: `UPDATE convpath_conversations SET updated_at = NOW() WHERE id = $1`,
		Args:  []any{messages[0].ConversationID},
	})

	if _, err := driver.ExecBatch(ctx, s.getExecutor(ctx), items); err != nil {
		return mapError("insert messages", "path", messages[0].PathID, err)
	}
	return nil
}

// GetMessage retrieves a message by ID.
func (s *PostgresStore) GetMessage(ctx context.Context, id string) (*types.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM convpath_messages WHERE id = $1`
	msg, err := scanMessage(s.getExecutor(ctx).QueryRow(ctx, query, id))
	if err != nil {
		return nil, mapError("get message", "message", id, err)
	}
	return msg, nil
}

// ListMessages returns the messages of a path ordered by sequence.
func (s *PostgresStore) ListMessages(ctx context.Context, pathID string, params ListMessagesParams) ([]*types.Message, error) {
	maxSeq := -1
	if params.MaxSequence != nil {
		maxSeq = *params.MaxSequence
	}

	query := `
		SELECT ` + messageColumns + `
		FROM convpath_messages
		WHERE path_id = $1
		  AND ($2 OR (superseded_by IS NULL AND deleted_at IS NULL))
		  AND ($3 < 0 OR sequence_in_path <= $3)
		ORDER BY sequence_in_path
	`
	rows, err := s.getExecutor(ctx).Query(ctx, query, pathID, params.IncludeSuperseded, maxSeq)
	if err != nil {
		return nil, mapError("list messages", "path", pathID, err)
	}
	defer rows.Close()

	var messages []*types.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, mapError("scan message", "", "", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("list messages", "path", pathID, err)
	}
	return messages, nil
}

// CountMessages counts all rows on a path.
func (s *PostgresStore) CountMessages(ctx context.Context, pathID string) (int, error) {
	var count int
	err := s.getExecutor(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM convpath_messages WHERE path_id = $1`, pathID,
	).Scan(&count)
	if err != nil {
		return 0, mapError("count messages", "path", pathID, err)
	}
	return count, nil
}

// MarkBranchPoint flags a message and records the branch that left from it.
func (s *PostgresStore) MarkBranchPoint(ctx context.Context, messageID, branchPathID string) error {
	query := `
		UPDATE convpath_messages
		SET is_branch_point = TRUE,
		    branched_to_paths = CASE
		        WHEN branched_to_paths @> jsonb_build_array($2::text) THEN branched_to_paths
		        ELSE branched_to_paths || jsonb_build_array($2::text)
		    END
		WHERE id = $1
	`
	n, err := s.getExecutor(ctx).Exec(ctx, query, messageID, branchPathID)
	if err != nil {
		return mapError("mark branch point", "message", messageID, err)
	}
	if n == 0 {
		return types.NotFound("mark branch point", "message", messageID)
	}
	return nil
}

// MarkSuperseded hides a message behind its newer version.
func (s *PostgresStore) MarkSuperseded(ctx context.Context, messageID, supersededBy string, at time.Time) error {
	n, err := s.getExecutor(ctx).Exec(ctx,
		`UPDATE convpath_messages SET superseded_by = $2, deleted_at = $3 WHERE id = $1`,
		messageID, supersededBy, at)
	if err != nil {
		return mapError("mark superseded", "message", messageID, err)
	}
	if n == 0 {
		return types.NotFound("mark superseded", "message", messageID)
	}
	return nil
}

// SetPinned toggles the compaction exemption of a message.
func (s *PostgresStore) SetPinned(ctx context.Context, messageID string, pinned bool) error {
	n, err := s.getExecutor(ctx).Exec(ctx,
		`UPDATE convpath_messages SET pinned = $2 WHERE id = $1`, messageID, pinned)
	if err != nil {
		return mapError("set pinned", "message", messageID, err)
	}
	if n == 0 {
		return types.NotFound("set pinned", "message", messageID)
	}
	return nil
}

// ReplacePathMessages rewrites the sequence of a path. Call it inside
// RunInTx so the delete, insert and renumber steps commit together. It
// fails with a conflict rather than delete a pinned or branch point row.
func (s *PostgresStore) ReplacePathMessages(ctx context.Context, pathID string, messages []*types.Message) error {
	exec := s.getExecutor(ctx)

	keepIDs := make([]string, len(messages))
	for i, msg := range messages {
		keepIDs[i] = msg.ID
	}
	keepJSON, err := json.Marshal(keepIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal ids: %w", err)
	}

	keep := make(map[string]bool, len(messages))
	for _, msg := range messages {
		keep[msg.ID] = true
	}

	existing := make(map[string]bool)
	var removing int64
	rows, err := exec.Query(ctx, `SELECT id FROM convpath_messages WHERE path_id = $1`, pathID)
	if err != nil {
		return mapError("replace path messages", "path", pathID, err)
	}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return mapError("replace path messages", "path", pathID, err)
		}
		existing[id] = true
		if !keep[id] {
			removing++
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return mapError("replace path messages", "path", pathID, err)
	}

	// A row pinned since it was read is skipped here and the count no
	// longer matches, which rolls the whole replacement back.
	deleted, err := exec.Exec(ctx, `
		DELETE FROM convpath_messages
		WHERE path_id = $1
		  AND id NOT IN (SELECT jsonb_array_elements_text($2::jsonb))
		  AND NOT pinned
		  AND NOT is_branch_point
	`, pathID, string(keepJSON))
	if err != nil {
		return mapError("delete compacted messages", "path", pathID, err)
	}
	if deleted != removing {
		return types.Conflict("replace path messages", "path", pathID, ErrProtectedMessage)
	}

	// Move every surviving row out of the way of the unique sequence index.
	_, err = exec.Exec(ctx,
		`UPDATE convpath_messages SET sequence_in_path = -1 - sequence_in_path WHERE path_id = $1`, pathID)
	if err != nil {
		return mapError("renumber messages", "path", pathID, err)
	}

	var inserts []*types.Message
	for i, msg := range messages {
		msg.SequenceInPath = i
		msg.PathID = pathID
		if !existing[msg.ID] {
			inserts = append(inserts, msg)
		}
	}
	if err := s.InsertMessages(ctx, inserts); err != nil {
		return err
	}

	_, err = exec.Exec(ctx, `
		UPDATE convpath_messages m
		SET sequence_in_path = o.ord - 1
		FROM jsonb_array_elements_text($2::jsonb) WITH ORDINALITY AS o(id, ord)
		WHERE m.path_id = $1 AND m.id = o.id
	`, pathID, string(keepJSON))
	if err != nil {
		return mapError("renumber messages", "path", pathID, err)
	}
	return nil
}

// =============================================================================
// Compaction snapshots
// =============================================================================

const snapshotColumns = `id, conversation_id, path_id, strategy, trigger, tokens_before, tokens_after,
	removed_messages, retained_messages, summary_message_ids, created_at`

// CreateSnapshot stores a compaction snapshot.
func (s *PostgresStore) CreateSnapshot(ctx context.Context, snap *types.CompactionSnapshot) error {
	removedJSON, err := marshalJSON(snap.RemovedMessages, "[]")
	if err != nil {
		return fmt.Errorf("failed to marshal removed messages: %w", err)
	}
	retainedJSON, err := marshalJSON(snap.RetainedMessages, "[]")
	if err != nil {
		return fmt.Errorf("failed to marshal retained messages: %w", err)
	}
	summaryJSON, err := marshalJSON(snap.SummaryMessageIDs, "[]")
	if err != nil {
		return fmt.Errorf("failed to marshal summary ids: %w", err)
	}

	query := `
		INSERT INTO convpath_compaction_snapshots (id, conversation_id, path_id, strategy, trigger,
			tokens_before, tokens_after, removed_messages, retained_messages, summary_message_ids, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9::jsonb, $10::jsonb, $11)
	`
	_, err = s.getExecutor(ctx).Exec(ctx, query,
		snap.ID, snap.ConversationID, snap.PathID, snap.Strategy, snap.Trigger,
		snap.TokensBefore, snap.TokensAfter, removedJSON, retainedJSON, summaryJSON, snap.CreatedAt)
	if err != nil {
		return mapError("create snapshot", "snapshot", snap.ID, err)
	}
	return nil
}

// GetSnapshot retrieves a snapshot by ID.
func (s *PostgresStore) GetSnapshot(ctx context.Context, id string) (*types.CompactionSnapshot, error) {
	query := `SELECT ` + snapshotColumns + ` FROM convpath_compaction_snapshots WHERE id = $1`
	snap, err := scanSnapshot(s.getExecutor(ctx).QueryRow(ctx, query, id))
	if err != nil {
		return nil, mapError("get snapshot", "snapshot", id, err)
	}
	return snap, nil
}

// ListSnapshots returns the snapshots of a path, newest first.
func (s *PostgresStore) ListSnapshots(ctx context.Context, pathID string) ([]*types.CompactionSnapshot, error) {
	query := `
		SELECT ` + snapshotColumns + `
		FROM convpath_compaction_snapshots
		WHERE path_id = $1
		ORDER BY created_at DESC, id
	`
	rows, err := s.getExecutor(ctx).Query(ctx, query, pathID)
	if err != nil {
		return nil, mapError("list snapshots", "path", pathID, err)
	}
	defer rows.Close()

	var snaps []*types.CompactionSnapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, mapError("scan snapshot", "", "", err)
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("list snapshots", "path", pathID, err)
	}
	return snaps, nil
}

// DeleteSnapshotsBefore removes snapshots created before the cutoff.
func (s *PostgresStore) DeleteSnapshotsBefore(ctx context.Context, before time.Time) (int64, error) {
	n, err := s.getExecutor(ctx).Exec(ctx,
		`DELETE FROM convpath_compaction_snapshots WHERE created_at < $1`, before)
	if err != nil {
		return 0, mapError("delete snapshots", "", "", err)
	}
	return n, nil
}

// =============================================================================
// Leader election
// =============================================================================

// LeaderAttemptElect takes the lease if it is free or expired.
func (s *PostgresStore) LeaderAttemptElect(ctx context.Context, params *LeaderElectParams) (bool, error) {
	query := `
		INSERT INTO convpath_leader (name, leader_id, elected_at, expires_at)
		VALUES ('default', $1, NOW(), NOW() + make_interval(secs => $2))
		ON CONFLICT (name) DO UPDATE
		SET leader_id = EXCLUDED.leader_id, elected_at = EXCLUDED.elected_at, expires_at = EXCLUDED.expires_at
		WHERE convpath_leader.expires_at < NOW() OR convpath_leader.leader_id = EXCLUDED.leader_id
	`
	n, err := s.getExecutor(ctx).Exec(ctx, query, params.LeaderID, params.TTL.Seconds())
	if err != nil {
		return false, mapError("elect leader", "", "", err)
	}
	return n > 0, nil
}

// LeaderAttemptReelect extends the lease held by params.LeaderID.
func (s *PostgresStore) LeaderAttemptReelect(ctx context.Context, params *LeaderElectParams) (bool, error) {
	query := `
		UPDATE convpath_leader
		SET expires_at = NOW() + make_interval(secs => $2)
		WHERE name = 'default' AND leader_id = $1 AND expires_at >= NOW()
	`
	n, err := s.getExecutor(ctx).Exec(ctx, query, params.LeaderID, params.TTL.Seconds())
	if err != nil {
		return false, mapError("reelect leader", "", "", err)
	}
	return n > 0, nil
}

// LeaderResign releases the lease if leaderID holds it.
func (s *PostgresStore) LeaderResign(ctx context.Context, leaderID string) error {
	_, err := s.getExecutor(ctx).Exec(ctx,
		`DELETE FROM convpath_leader WHERE name = 'default' AND leader_id = $1`, leaderID)
	if err != nil {
		return mapError("resign leader", "", "", err)
	}
	return nil
}

// =============================================================================
// Row scanning
// =============================================================================

func scanConversation(row driver.Row) (*types.Conversation, error) {
	var conv types.Conversation
	var metadataJSON []byte
	err := row.Scan(
		&conv.ID,
		&conv.TenantID,
		&conv.UserID,
		&conv.Title,
		&conv.ActivePathID,
		&metadataJSON,
		&conv.CreatedAt,
		&conv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := unmarshalJSON(metadataJSON, &conv.Metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return &conv, nil
}

func scanPath(row driver.Row) (*types.Path, error) {
	var path types.Path
	var metadataJSON []byte
	err := row.Scan(
		&path.ID,
		&path.ConversationID,
		&path.ParentPathID,
		&path.BranchFromMessageID,
		&path.Name,
		&path.IsPrimary,
		&metadataJSON,
		&path.CreatedAt,
		&path.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := unmarshalJSON(metadataJSON, &path.Metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return &path, nil
}

func scanMessage(row driver.Row) (*types.Message, error) {
	var msg types.Message
	var role string
	var branchedJSON, metadataJSON []byte
	err := row.Scan(
		&msg.ID,
		&msg.ConversationID,
		&msg.PathID,
		&role,
		&msg.Content,
		&msg.SequenceInPath,
		&msg.Pinned,
		&msg.IsBranchPoint,
		&branchedJSON,
		&msg.SupersededBy,
		&msg.DeletedAt,
		&metadataJSON,
		&msg.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	msg.Role = types.Role(role)
	if err := unmarshalJSON(branchedJSON, &msg.BranchedToPaths); err != nil {
		return nil, fmt.Errorf("failed to unmarshal branched_to_paths: %w", err)
	}
	if len(msg.BranchedToPaths) == 0 {
		msg.BranchedToPaths = nil
	}
	if err := unmarshalJSON(metadataJSON, &msg.Metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return &msg, nil
}

func scanSnapshot(row driver.Row) (*types.CompactionSnapshot, error) {
	var snap types.CompactionSnapshot
	var removedJSON, retainedJSON, summaryJSON []byte
	err := row.Scan(
		&snap.ID,
		&snap.ConversationID,
		&snap.PathID,
		&snap.Strategy,
		&snap.Trigger,
		&snap.TokensBefore,
		&snap.TokensAfter,
		&removedJSON,
		&retainedJSON,
		&summaryJSON,
		&snap.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := unmarshalJSON(removedJSON, &snap.RemovedMessages); err != nil {
		return nil, fmt.Errorf("failed to unmarshal removed messages: %w", err)
	}
	if err := unmarshalJSON(retainedJSON, &snap.RetainedMessages); err != nil {
		return nil, fmt.Errorf("failed to unmarshal retained messages: %w", err)
	}
	if err := unmarshalJSON(summaryJSON, &snap.SummaryMessageIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal summary ids: %w", err)
	}
	return &snap, nil
}

func messageArgs(msg *types.Message) ([]any, error) {
	branchedJSON, err := marshalJSON(msg.BranchedToPaths, "[]")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal branched_to_paths: %w", err)
	}
	metadataJSON, err := marshalJSON(msg.Metadata, "{}")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return []any{
		msg.ID, msg.ConversationID, msg.PathID, string(msg.Role), msg.Content, msg.SequenceInPath,
		msg.Pinned, msg.IsBranchPoint, branchedJSON, msg.SupersededBy, msg.DeletedAt,
		metadataJSON, msg.CreatedAt,
	}, nil
}

// marshalJSON returns v as a JSON string, or empty when v is nil/empty.
// Strings (not []byte) are passed so lib/pq sends text for the ::jsonb casts.
func marshalJSON[T any](v T, empty string) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	if string(b) == "null" {
		return empty, nil
	}
	return string(b), nil
}

func unmarshalJSON(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

// Compile-time check
var _ Store = (*PostgresStore)(nil)
