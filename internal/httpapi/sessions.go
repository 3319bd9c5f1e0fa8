package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/deepagents-dev/deepagents/internal/store"
	apperrors "github.com/deepagents-dev/deepagents/pkg/errors"
	"github.com/deepagents-dev/deepagents/pkg/llm"
)

type createSessionRequest struct {
	Agent string `json:"agent"`
}

type sessionView struct {
	ID             string `json:"id"`
	Agent          string `json:"agent"`
	Status         string `json:"status"`
	SandboxPod     string `json:"sandbox_pod,omitempty"`
	CreatedAt      string `json:"created_at"`
	LastActivityAt string `json:"last_activity_at"`
}

func toSessionView(s *store.Session) sessionView {
	return sessionView{
		ID:             s.ID,
		Agent:          s.AgentName,
		Status:         s.Status,
		SandboxPod:     s.SandboxPod,
		CreatedAt:      s.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		LastActivityAt: s.LastActivityAt.UTC().Format("2006-01-02T15:04:05Z"),
	}
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Agent == "" {
		s.writeError(w, apperrors.New(apperrors.ErrCodeInvalidInput, "agent name is required", err))
		return
	}

	record, err := s.store.GetAgentByName(r.Context(), req.Agent)
	if err != nil {
		s.writeError(w, err)
		return
	}
	def, err := record.Definition()
	if err != nil {
		s.writeError(w, err)
		return
	}

	session, err := s.store.CreateSession(r.Context(), record)
	if err != nil {
		s.writeError(w, err)
		return
	}

	// Sandbox provisioning is best effort: a session without a workspace is
	// still usable for tools that need none, so a cluster hiccup does not
	// fail creation.
	if def.Features.Filesystem {
		start := time.Now()
		handle, err := s.sandbox.Create(r.Context(), session.ID)
		if err != nil {
			s.log.Error(err, "sandbox provisioning failed", "session", session.ID)
		} else {
			if s.metrics != nil {
				s.metrics.ProvisionDuration.Observe(time.Since(start).Seconds())
			}
			if err := s.store.SetSessionSandbox(r.Context(), session.ID, handle.Pod, handle.PVC); err != nil {
				s.writeError(w, err)
				return
			}
			session.SandboxPod = handle.Pod
		}
	}

	writeJSON(w, http.StatusCreated, toSessionView(session))
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.store.ListSessions(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]sessionView, 0, len(sessions))
	for i := range sessions {
		out = append(out, toSessionView(&sessions[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

type messageView struct {
	Role       string          `json:"role"`
	Content    string          `json:"content"`
	ToolCalls  json.RawMessage `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
}

type todoView struct {
	ID          uint   `json:"id"`
	Description string `json:"description"`
	Status      string `json:"status"`
}

type fileView struct {
	Path        string `json:"path"`
	IsDirectory bool   `json:"is_directory,omitempty"`
	Content     string `json:"content"`
}

type sessionDetail struct {
	sessionView
	SandboxPhase string        `json:"sandbox_phase,omitempty"`
	Messages     []messageView `json:"messages"`
	Todos        []todoView    `json:"todos"`
	Files        []fileView    `json:"files"`
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	session, err := s.store.GetSession(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}

	messages, err := s.store.ListMessages(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	todos, err := s.store.ListTodos(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	files, err := s.store.ListFiles(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}

	detail := sessionDetail{
		sessionView: toSessionView(session),
		Messages:    make([]messageView, 0, len(messages)),
		Todos:       make([]todoView, 0, len(todos)),
		Files:       make([]fileView, 0, len(files)),
	}
	if session.SandboxPod != "" {
		phase, err := s.sandbox.PodPhase(r.Context(), id)
		if err != nil {
			s.log.V(1).Info("sandbox phase probe failed", "session", id, "error", err)
		} else {
			detail.SandboxPhase = string(phase)
		}
	}
	for _, m := range messages {
		detail.Messages = append(detail.Messages, messageView{
			Role:       m.Role,
			Content:    m.Content,
			ToolCalls:  m.ToolCalls,
			ToolCallID: m.ToolCallID,
		})
	}
	for _, t := range todos {
		detail.Todos = append(detail.Todos, todoView{ID: t.ID, Description: t.Description, Status: t.Status})
	}
	for _, f := range files {
		detail.Files = append(detail.Files, fileView{Path: f.Path, IsDirectory: f.IsDirectory, Content: f.Content})
	}

	writeJSON(w, http.StatusOK, detail)
}

type sendMessageRequest struct {
	Content string `json:"content"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Content == "" {
		s.writeError(w, apperrors.New(apperrors.ErrCodeInvalidInput, "content is required", err))
		return
	}

	session, err := s.store.GetSession(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if session.Status != store.SessionActive {
		s.writeError(w, apperrors.New(apperrors.ErrCodeSessionNotActive,
			"session is "+session.Status, nil))
		return
	}

	if err := s.store.AppendMessage(r.Context(), &store.Message{
		SessionID: id,
		Role:      llm.RoleUser,
		Content:   req.Content,
	}); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.store.TouchSession(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.runner.Submit(id); err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "processing"})
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	session, err := s.store.GetSession(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.runner.Forget(id)

	if session.Status == store.SessionActive {
		if err := s.store.SetSessionStatus(r.Context(), id, store.SessionCompleted); err != nil {
			s.writeError(w, err)
			return
		}
	}

	// Sandbox teardown never blocks ending a session.
	if session.SandboxPod != "" {
		s.sandbox.Cleanup(r.Context(), id)
	}
	s.sync.Forget(id)

	if r.URL.Query().Get("purge") == "true" {
		if err := s.store.DeleteSession(r.Context(), id); err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "purged"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "completed"})
}

type updateTodoRequest struct {
	Status string `json:"status"`
}

var patchableStatuses = map[string]bool{
	store.TodoPending:    true,
	store.TodoInProgress: true,
	store.TodoCompleted:  true,
}

func (s *Server) handleUpdateTodo(w http.ResponseWriter, r *http.Request) {
	idStr := mux.Vars(r)["id"]
	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		s.writeError(w, apperrors.New(apperrors.ErrCodeInvalidInput, "invalid todo id", err))
		return
	}

	var req updateTodoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !patchableStatuses[req.Status] {
		s.writeError(w, apperrors.New(apperrors.ErrCodeInvalidInput,
			"status must be pending, in_progress or completed", err))
		return
	}

	record, err := s.store.UpdateTodoStatus(r.Context(), uint(id), req.Status)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.sync.PublishTodoSnapshot(r.Context(), record.SessionID); err != nil {
		s.log.Error(err, "todo snapshot after manual update failed", "session", record.SessionID)
	}

	writeJSON(w, http.StatusOK, todoView{ID: record.ID, Description: record.Description, Status: record.Status})
}
