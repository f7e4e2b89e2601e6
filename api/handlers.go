package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	convpath "github.com/airnub-labs/regulatory-intelligence-copilot-sub000"
	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/compaction"
	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/maintenance"
	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/types"
)

// Conversation handlers

type createConversationRequest struct {
	ID       string         `json:"id"`
	TenantID string         `json:"tenant_id"`
	UserID   string         `json:"user_id"`
	Title    string         `json:"title"`
	Metadata map[string]any `json:"metadata"`
}

type conversationResponse struct {
	Conversation *types.Conversation `json:"conversation"`
	PrimaryPath  *types.Path         `json:"primary_path"`
}

func (rt *router) handleListConversations(w http.ResponseWriter, r *http.Request) {
	limit := parseInt(r, "limit", rt.config.PageSize, MaxPageSize)
	offset := parseInt(r, "offset", 0, 0)

	// one extra row tells whether another page exists
	list, err := rt.client.ListConversations(r.Context(), convpath.ListConversationsParams{
		TenantID: r.URL.Query().Get("tenant_id"),
		Limit:    limit + 1,
		Offset:   offset,
	})
	if err != nil {
		writeErr(w, err)
		return
	}

	hasMore := len(list) > limit
	if hasMore {
		list = list[:limit]
	}
	writeJSONWithMeta(w, http.StatusOK, list, &Meta{
		TotalCount: len(list),
		HasMore:    hasMore,
		Limit:      limit,
		Offset:     offset,
	})
}

func (rt *router) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req createConversationRequest
	if err := decodeBody(r, &req, true); err != nil {
		writeErr(w, err)
		return
	}

	conv, path, err := rt.client.CreateConversation(r.Context(), convpath.CreateConversationParams{
		ID:       req.ID,
		TenantID: req.TenantID,
		UserID:   req.UserID,
		Title:    req.Title,
		Metadata: req.Metadata,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, conversationResponse{Conversation: conv, PrimaryPath: path})
}

func (rt *router) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := rt.client.GetConversation(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

// Path handlers

func (rt *router) handleListPaths(w http.ResponseWriter, r *http.Request) {
	paths, err := rt.client.ListPaths(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSONWithMeta(w, http.StatusOK, paths, &Meta{TotalCount: len(paths)})
}

func (rt *router) handleGetPathTree(w http.ResponseWriter, r *http.Request) {
	tree, err := rt.client.GetPathTree(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tree)
}

func (rt *router) handleGetPathLineage(w http.ResponseWriter, r *http.Request) {
	path, err := rt.client.GetPath(r.Context(), r.PathValue("id"), r.PathValue("pathID"))
	if err != nil {
		writeErr(w, err)
		return
	}
	lineage, err := rt.client.GetPathLineage(r.Context(), path.ID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lineage)
}

func (rt *router) handleGetActivePath(w http.ResponseWriter, r *http.Request) {
	path, err := rt.client.GetActivePath(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, path)
}

type setActivePathRequest struct {
	PathID string `json:"path_id"`
}

func (rt *router) handleSetActivePath(w http.ResponseWriter, r *http.Request) {
	var req setActivePathRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeErr(w, err)
		return
	}
	if req.PathID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "path_id is required")
		return
	}

	conversationID := r.PathValue("id")
	if err := rt.client.SetActivePath(r.Context(), conversationID, req.PathID); err != nil {
		writeErr(w, err)
		return
	}
	path, err := rt.client.GetActivePath(r.Context(), conversationID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, path)
}

// Branch handlers

type createBranchRequest struct {
	SourceMessageID string         `json:"source_message_id"`
	Name            string         `json:"name"`
	SetActive       bool           `json:"set_active"`
	Metadata        map[string]any `json:"metadata"`
}

func (rt *router) handleCreateBranch(w http.ResponseWriter, r *http.Request) {
	var req createBranchRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeErr(w, err)
		return
	}

	result, err := rt.client.CreateBranch(r.Context(), convpath.CreateBranchParams{
		ConversationID:  r.PathValue("id"),
		SourceMessageID: req.SourceMessageID,
		Name:            req.Name,
		SetActive:       req.SetActive,
		Metadata:        req.Metadata,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

type editRequest struct {
	MessageID  string `json:"message_id"`
	NewContent string `json:"new_content"`
	Name       string `json:"name"`
	SetActive  bool   `json:"set_active"`
}

type editResponse struct {
	*convpath.BranchResult
	Message *types.Message `json:"message"`
}

func (rt *router) handleEditAsBranch(w http.ResponseWriter, r *http.Request) {
	var req editRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeErr(w, err)
		return
	}

	branch, msg, err := rt.client.EditAsBranch(r.Context(), convpath.EditParams{
		ConversationID: r.PathValue("id"),
		MessageID:      req.MessageID,
		NewContent:     req.NewContent,
		Name:           req.Name,
		SetActive:      req.SetActive,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, editResponse{BranchResult: branch, Message: msg})
}

// Message handlers

func (rt *router) handleListMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := rt.client.ListMessages(r.Context(), r.PathValue("id"), r.PathValue("pathID"), convpath.ListMessagesOptions{
		IncludeSuperseded: parseBool(r, "include_superseded"),
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSONWithMeta(w, http.StatusOK, msgs, &Meta{TotalCount: len(msgs)})
}

type appendMessageRequest struct {
	Role     types.Role     `json:"role"`
	Content  string         `json:"content"`
	Pinned   bool           `json:"pinned"`
	Metadata map[string]any `json:"metadata"`
}

func (rt *router) handleAppendMessage(w http.ResponseWriter, r *http.Request) {
	var req appendMessageRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeErr(w, err)
		return
	}

	msg, err := rt.client.AppendMessage(r.Context(), convpath.AppendMessageParams{
		ConversationID: r.PathValue("id"),
		PathID:         r.PathValue("pathID"),
		Role:           req.Role,
		Content:        req.Content,
		Pinned:         req.Pinned,
		Metadata:       req.Metadata,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

type pinRequest struct {
	Pinned *bool `json:"pinned"`
}

func (rt *router) handlePinMessage(w http.ResponseWriter, r *http.Request) {
	var req pinRequest
	if err := decodeBody(r, &req, true); err != nil {
		writeErr(w, err)
		return
	}
	pinned := req.Pinned == nil || *req.Pinned

	conversationID, messageID := r.PathValue("id"), r.PathValue("messageID")
	if err := rt.client.PinMessage(r.Context(), conversationID, messageID, pinned); err != nil {
		writeErr(w, err)
		return
	}
	msg, err := rt.client.GetMessage(r.Context(), conversationID, messageID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (rt *router) handleEditChain(w http.ResponseWriter, r *http.Request) {
	chain, err := rt.client.EditChain(r.Context(), r.PathValue("id"), r.PathValue("messageID"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSONWithMeta(w, http.StatusOK, chain, &Meta{TotalCount: len(chain)})
}

// Compaction handlers

type compactRequest struct {
	Strategy compaction.Strategy `json:"strategy"`
	DryRun   bool                `json:"dry_run"`
	IfNeeded bool                `json:"if_needed"`
}

type compactionResponse struct {
	Success          bool             `json:"success"`
	Strategy         string           `json:"strategy"`
	Trigger          string           `json:"trigger"`
	TokensBefore     int              `json:"tokens_before"`
	TokensAfter      int              `json:"tokens_after"`
	TokensSaved      int              `json:"tokens_saved"`
	MessagesRemoved  int              `json:"messages_removed"`
	SummariesCreated int              `json:"summaries_created"`
	SnapshotID       string           `json:"snapshot_id,omitempty"`
	DryRun           bool             `json:"dry_run,omitempty"`
	DurationMs       int64            `json:"duration_ms"`
	Messages         []*types.Message `json:"messages,omitempty"`
}

func newCompactionResponse(res *compaction.Result, dryRun bool) compactionResponse {
	return compactionResponse{
		Success:          res.Success,
		Strategy:         string(res.Strategy),
		Trigger:          string(res.Trigger),
		TokensBefore:     res.TokensBefore,
		TokensAfter:      res.TokensAfter,
		TokensSaved:      res.TokensSaved(),
		MessagesRemoved:  res.MessagesRemoved,
		SummariesCreated: res.SummariesCreated,
		SnapshotID:       res.SnapshotID,
		DryRun:           dryRun,
		DurationMs:       res.Duration.Milliseconds(),
		Messages:         res.Messages,
	}
}

func (rt *router) handleCompactPath(w http.ResponseWriter, r *http.Request) {
	var req compactRequest
	if err := decodeBody(r, &req, true); err != nil {
		writeErr(w, err)
		return
	}

	params := convpath.CompactParams{
		ConversationID: r.PathValue("id"),
		PathID:         r.PathValue("pathID"),
		Trigger:        compaction.TriggerManual,
		IfNeeded:       req.IfNeeded,
		DryRun:         req.DryRun,
	}
	if req.Strategy != "" {
		if !req.Strategy.Valid() {
			writeError(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("unknown strategy %q", req.Strategy))
			return
		}
		cfg := rt.client.Compactor().Config()
		cfg.Strategy = req.Strategy
		params.Compactor = rt.client.Compactor().WithConfig(&cfg)
	}

	result, err := rt.client.Compact(r.Context(), params)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newCompactionResponse(result, req.DryRun))
}

func (rt *router) handleCompactionStats(w http.ResponseWriter, r *http.Request) {
	stats, err := rt.client.CompactionStats(r.Context(), r.PathValue("id"), r.PathValue("pathID"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total_messages":       stats.TotalMessages,
		"visible_messages":     stats.VisibleMessages,
		"total_tokens":         stats.TotalTokens,
		"usage_percent":        stats.UsagePercent,
		"protected_messages":   stats.ProtectedMessages,
		"summary_messages":     stats.SummaryMessages,
		"compactable_messages": stats.CompactableMessages,
		"needs_compaction":     stats.NeedsCompaction,
	})
}

func (rt *router) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	snaps, err := rt.client.ListSnapshots(r.Context(), r.PathValue("id"), r.PathValue("pathID"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSONWithMeta(w, http.StatusOK, snaps, &Meta{TotalCount: len(snaps)})
}

type compactionJobRequest struct {
	TokenThreshold   int                 `json:"token_threshold"`
	TargetTokenRatio float64             `json:"target_token_ratio"`
	Strategy         compaction.Strategy `json:"strategy"`
	BatchSize        int                 `json:"batch_size"`
	Model            string              `json:"model"`
	CreateSnapshots  *bool               `json:"create_snapshots"`
	DryRun           bool                `json:"dry_run"`
	AllPaths         bool                `json:"all_paths"`
	TenantID         string              `json:"tenant_id"`
}

func (rt *router) handleRunCompactionJob(w http.ResponseWriter, r *http.Request) {
	var req compactionJobRequest
	if err := decodeBody(r, &req, true); err != nil {
		writeErr(w, err)
		return
	}

	cfg := *rt.config.JobConfig
	if req.TokenThreshold > 0 {
		cfg.TokenThreshold = req.TokenThreshold
	}
	if req.TargetTokenRatio > 0 {
		cfg.TargetTokenRatio = req.TargetTokenRatio
	}
	if req.Strategy != "" {
		cfg.Strategy = req.Strategy
	}
	if req.BatchSize > 0 {
		cfg.BatchSize = req.BatchSize
	}
	if req.Model != "" {
		cfg.Model = req.Model
	}
	if req.CreateSnapshots != nil {
		cfg.CreateSnapshots = *req.CreateSnapshots
	}
	cfg.DryRun = cfg.DryRun || req.DryRun
	cfg.AllPaths = cfg.AllPaths || req.AllPaths
	if req.TenantID != "" {
		cfg.TenantID = req.TenantID
	}

	start := time.Now()
	result, err := maintenance.NewCompactionJob(rt.client, &cfg, rt.config.Logger, rt.config.Metrics).Run(r.Context())
	if err != nil {
		if errors.Is(err, maintenance.ErrInvalidJobConfig) {
			writeError(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
		writeErr(w, err)
		return
	}

	rt.config.Logger.Info("compaction job run over HTTP",
		"processed", result.ProcessedConversations,
		"compacted", result.CompactedConversations,
		"duration", time.Since(start),
	)
	writeJSON(w, http.StatusOK, result)
}
