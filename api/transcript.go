package api

import (
	"bytes"
	"html/template"
	"net/http"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	convpath "github.com/airnub-labs/regulatory-intelligence-copilot-sub000"
	"github.com/airnub-labs/regulatory-intelligence-copilot-sub000/types"
)

var (
	markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))
	policy   = bluemonday.UGCPolicy()
)

var transcriptTemplate = template.Must(template.New("transcript").Funcs(template.FuncMap{
	"formatTime": func(t time.Time) string { return t.UTC().Format(time.RFC3339) },
}).Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="UTF-8">
<title>{{.Path.Name}}</title>
<style>
body { font-family: sans-serif; line-height: 1.5; max-width: 800px; margin: 0 auto; padding: 24px; color: #222; }
.message { border-left: 3px solid #ccc; margin: 16px 0; padding: 4px 12px; }
.message.user { border-color: #3b82f6; }
.message.assistant { border-color: #10b981; }
.message.summary { border-color: #f59e0b; background: #fffbeb; }
.message.superseded { opacity: 0.5; }
.meta { font-size: 12px; color: #666; }
pre { background: #f4f4f4; padding: 12px; overflow-x: auto; }
</style>
</head>
<body>
<h1>{{.Path.Name}}</h1>
<p class="meta">conversation {{.Path.ConversationID}} &middot; path {{.Path.ID}}</p>
{{range .Messages}}
<div class="message {{.Role}}{{if .Summary}} summary{{end}}{{if .Superseded}} superseded{{end}}" id="m{{.Sequence}}">
<p class="meta">#{{.Sequence}} {{.Role}} &middot; {{formatTime .CreatedAt}}{{if .Pinned}} &middot; pinned{{end}}{{if .BranchPoint}} &middot; branch point{{end}}</p>
{{.HTML}}
</div>
{{end}}
</body>
</html>
`))

type transcriptMessage struct {
	Sequence    int
	Role        types.Role
	CreatedAt   time.Time
	Pinned      bool
	BranchPoint bool
	Summary     bool
	Superseded  bool
	HTML        template.HTML
}

type transcriptPage struct {
	Path     *types.Path
	Messages []transcriptMessage
}

// renderMarkdown converts message content to sanitized HTML.
func renderMarkdown(content string) (template.HTML, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(content), &buf); err != nil {
		return "", err
	}
	return template.HTML(policy.SanitizeBytes(buf.Bytes())), nil
}

func (rt *router) handleTranscript(w http.ResponseWriter, r *http.Request) {
	conversationID, pathID := r.PathValue("id"), r.PathValue("pathID")

	path, err := rt.client.GetPath(r.Context(), conversationID, pathID)
	if err != nil {
		writeErr(w, err)
		return
	}
	msgs, err := rt.client.ListMessages(r.Context(), conversationID, pathID, convpath.ListMessagesOptions{
		IncludeSuperseded: parseBool(r, "include_superseded"),
	})
	if err != nil {
		writeErr(w, err)
		return
	}

	page := transcriptPage{Path: path, Messages: make([]transcriptMessage, 0, len(msgs))}
	for _, m := range msgs {
		html, err := renderMarkdown(m.Content)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "render_failed", err.Error())
			return
		}
		page.Messages = append(page.Messages, transcriptMessage{
			Sequence:    m.SequenceInPath,
			Role:        m.Role,
			CreatedAt:   m.CreatedAt,
			Pinned:      m.Pinned,
			BranchPoint: m.IsBranchPoint,
			Summary:     m.IsSummary(),
			Superseded:  m.IsSuperseded(),
			HTML:        html,
		})
	}

	var buf bytes.Buffer
	if err := transcriptTemplate.Execute(&buf, page); err != nil {
		rt.config.Logger.Error("failed to render transcript", "path_id", pathID, "error", err)
		writeError(w, http.StatusInternalServerError, "render_failed", err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
