package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/notifier"
)

// eventBuffer bounds the events queued for one slow SSE client. Events past
// it are dropped; clients resynchronize by re-reading the path.
const eventBuffer = 64

func (rt *router) handleEvents(w http.ResponseWriter, r *http.Request) {
	if rt.config.Notifier == nil {
		writeError(w, http.StatusNotImplemented, "not_implemented", "event streaming is not configured")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "sse_not_supported", "SSE not supported")
		return
	}

	conversationID := r.PathValue("id")
	if _, err := rt.client.GetConversation(r.Context(), conversationID); err != nil {
		writeErr(w, err)
		return
	}

	events := make(chan *notifier.Event, eventBuffer)
	unsubscribe := rt.config.Notifier.SubscribeConversation(conversationID, func(e *notifier.Event) {
		select {
		case events <- e:
		default:
			rt.config.Logger.Warn("dropping event for slow SSE client",
				"conversation_id", conversationID,
				"kind", e.Kind,
			)
		}
	})
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	_, _ = fmt.Fprintf(w, "event: ready\ndata: {\"conversation_id\":%q}\n\n", conversationID)
	flusher.Flush()

	ticker := time.NewTicker(rt.config.KeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		case e := <-events:
			data, err := json.Marshal(e)
			if err != nil {
				rt.config.Logger.Error("failed to encode event", "error", err)
				continue
			}
			_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Kind, data)
			flusher.Flush()
		}
	}
}
