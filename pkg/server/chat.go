package server

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/helicon-ai/helicon/pkg/agent"
	"github.com/helicon-ai/helicon/pkg/auth"
	"github.com/helicon-ai/helicon/pkg/model"
	"github.com/helicon-ai/helicon/pkg/store"
)

type chatRequest struct {
	Messages    []model.ChatMessage `json:"messages"`
	Message     string              `json:"message"`
	SessionID   string              `json:"session_id"`
	EnableTools *bool               `json:"enable_tools"`
	Think       string              `json:"think"`
}

// incoming normalizes the two request shapes to a message list.
func (r *chatRequest) incoming() []model.ChatMessage {
	if len(r.Messages) > 0 {
		msgs := make([]model.ChatMessage, len(r.Messages))
		for i, m := range r.Messages {
			msgs[i] = model.ChatMessage{Role: m.Role, Content: model.SanitizeContent(m.Content)}
		}
		return msgs
	}
	if r.Message != "" {
		return []model.ChatMessage{model.UserMessage(r.Message)}
	}
	return nil
}

// handleChat streams one agent run as server-sent events. Disconnecting the
// consumer cancels the run through the request context.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := auth.UserID(ctx)

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	incoming := req.incoming()
	if len(incoming) == 0 {
		writeError(w, http.StatusBadRequest, "message or messages is required")
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	if _, err := s.deps.History.EnsureSession(ctx, sessionID, userID); err != nil {
		s.log.Warn("session persistence unavailable", "session_id", sessionID, "error", err)
	}

	conversation := s.loadHistory(r, sessionID, userID)
	conversation = append(conversation, incoming...)

	enableTools := true
	if req.EnableTools != nil {
		enableTools = *req.EnableTools
	}

	w.Header().Set("X-Session-ID", sessionID)
	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	events, record := s.deps.Agent.Run(ctx, conversation, agent.RunOptions{
		EnableTools: enableTools,
		Think:       req.Think,
	})

	for ev := range events {
		if ev.Type == model.EventToken || ev.Type == model.EventDone {
			sse.pad()
		}
		if err := sse.send(string(ev.Type), ev.Payload()); err != nil {
			// Consumer went away; context cancellation stops the run.
			break
		}
	}

	// The record is complete once the event channel closes.
	s.persistRun(sessionID, userID, incoming, record)
}

// loadHistory replays the stored conversation for an existing session.
func (s *Server) loadHistory(r *http.Request, sessionID, userID string) []model.ChatMessage {
	stored, err := s.deps.History.ListMessages(r.Context(), sessionID, userID)
	if err != nil {
		if err != store.ErrSessionNotFound {
			s.log.Warn("loading session history failed", "session_id", sessionID, "error", err)
		}
		return nil
	}

	msgs := make([]model.ChatMessage, 0, len(stored))
	for _, m := range stored {
		msgs = append(msgs, model.ChatMessage{
			Role:     model.Role(m.Role),
			Content:  m.Content,
			ToolName: m.ToolName,
		})
	}
	return msgs
}

// persistRun appends the run's messages and tool executions, best effort.
// Uses a background-scoped context: the request context is already cancelled
// when the consumer disconnected.
func (s *Server) persistRun(sessionID, userID string, incoming []model.ChatMessage, record *agent.RunRecord) {
	ctx, cancel := persistContext()
	defer cancel()

	msgs := append(append([]model.ChatMessage{}, incoming...), record.Messages...)
	if record.FinalText != "" {
		msgs = append(msgs, model.AssistantMessage(record.FinalText))
	}
	if err := s.deps.History.AppendMessages(ctx, sessionID, msgs); err != nil {
		s.log.Warn("persisting chat messages failed", "session_id", sessionID, "error", err)
	}

	if len(record.ToolRuns) == 0 {
		return
	}
	runs := make([]store.ToolRun, len(record.ToolRuns))
	for i, tr := range record.ToolRuns {
		args, _ := json.Marshal(tr.Args)
		runs[i] = store.ToolRun{
			SessionID: sessionID,
			Tool:      tr.Tool,
			ArgsJSON:  string(args),
			Error:     tr.Error,
			LatencyMS: tr.LatencyMS,
			StartedAt: tr.StartedAt,
		}
	}
	if err := s.deps.History.RecordToolRuns(ctx, runs); err != nil {
		s.log.Warn("persisting tool runs failed", "session_id", sessionID, "error", err)
	}
}
