package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/smallnest/hilagent/memory"
	"github.com/smallnest/hilagent/schema"
	"github.com/smallnest/hilagent/session"
	"github.com/smallnest/hilagent/worker"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, format string, args ...any) {
	writeJSON(w, status, schema.ErrorResponse{Detail: fmt.Sprintf(format, args...)})
}

// validator is implemented by the request bodies in schema.
type validator interface {
	Validate() error
}

func decodeBody(w http.ResponseWriter, r *http.Request, v validator) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return false
	}
	if err := v.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return false
	}
	return true
}

func (s *Server) internalError(w http.ResponseWriter, what string, err error) {
	s.logger.Error("%s: %v", what, err)
	writeError(w, http.StatusInternalServerError, "%s: %v", what, err)
}

func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	var req schema.AgentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ctx := r.Context()
	s.logger.Info("invoke request %s:%s:%s", req.UserID, req.SessionID, req.TaskID)

	exists, err := s.sessions.TaskExists(ctx, req.UserID, req.SessionID, req.TaskID)
	if err != nil {
		s.internalError(w, "check task", err)
		return
	}
	if !exists {
		_, err := s.sessions.CreateSession(ctx, session.CreateOptions{
			UserID:      req.UserID,
			SessionID:   req.SessionID,
			TaskID:      req.TaskID,
			Status:      schema.StatusIdle,
			LastUpdated: schema.Now(),
			TTL:         s.sessionTTL,
		})
		if errors.Is(err, session.ErrInvalidID) {
			writeError(w, http.StatusBadRequest, "%v", err)
			return
		}
		if err != nil {
			s.internalError(w, "create session", err)
			return
		}
	}

	prompt := req.SystemMessage
	if prompt == "" {
		prompt = s.systemPrompt
	}
	if !s.enqueue(w, r, req.UserID, req.SessionID, req.TaskID, worker.TaskInvoke, worker.InvokePayload{
		UserID:       req.UserID,
		SessionID:    req.SessionID,
		TaskID:       req.TaskID,
		Query:        req.Query,
		SystemPrompt: prompt,
	}) {
		return
	}

	writeJSON(w, http.StatusOK, schema.InvokeResponse{UserID: req.UserID, SessionID: req.SessionID, TaskID: req.TaskID})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	var req schema.InterruptResponse
	if !decodeBody(w, r, &req) {
		return
	}
	ctx := r.Context()
	id := req.UserID + ":" + req.SessionID + ":" + req.TaskID
	s.logger.Info("resume request %s with %s", id, req.ResponseType)

	sess, err := s.sessions.GetSession(ctx, req.UserID, req.SessionID, req.TaskID)
	if err != nil {
		s.internalError(w, "get session", err)
		return
	}
	if sess == nil {
		writeError(w, http.StatusNotFound, "task %s does not exist", id)
		return
	}
	if sess.Status != schema.StatusInterrupted {
		writeError(w, http.StatusBadRequest, "task %s is %s; only interrupted tasks can be resumed", id, sess.Status)
		return
	}

	running := schema.StatusRunning
	now := schema.Now()
	if _, err := s.sessions.UpdateSession(ctx, req.UserID, req.SessionID, req.TaskID, session.Update{
		Status:      &running,
		LastUpdated: &now,
		TTL:         s.sessionTTL,
	}); err != nil {
		s.internalError(w, "update session", err)
		return
	}

	cmd := req.Command()
	if sess.LastResponse != nil && sess.LastResponse.InterruptData != nil {
		cmd.InterruptID = sess.LastResponse.InterruptData.ID
	}
	if !s.enqueue(w, r, req.UserID, req.SessionID, req.TaskID, worker.TaskResume, worker.ResumePayload{
		UserID:    req.UserID,
		SessionID: req.SessionID,
		TaskID:    req.TaskID,
		Command:   cmd,
	}) {
		return
	}

	writeJSON(w, http.StatusOK, schema.InvokeResponse{UserID: req.UserID, SessionID: req.SessionID, TaskID: req.TaskID})
}

// enqueue records the task as pending and queues it. The pending record is
// written first so a fast worker's outcome is never overwritten.
func (s *Server) enqueue(w http.ResponseWriter, r *http.Request, user, sessionID, task, name string, payload any) bool {
	ctx := r.Context()
	rec := schema.TaskRecord{
		TaskID:    task,
		Status:    schema.TaskPending,
		UserID:    user,
		SessionID: sessionID,
	}
	if err := s.sessions.SetTaskStatus(ctx, rec); err != nil {
		s.internalError(w, "set task status", err)
		return false
	}
	if _, err := s.queue.Enqueue(ctx, name, payload); err != nil {
		rec.Status = schema.TaskFailed
		rec.Error = fmt.Sprintf("enqueue: %v", err)
		if serr := s.sessions.SetTaskStatus(context.WithoutCancel(ctx), rec); serr != nil {
			s.logger.Error("mark task %s failed: %v", task, serr)
		}
		s.internalError(w, "enqueue "+name, err)
		return false
	}
	return true
}

func (s *Server) handleSystemInfo(w http.ResponseWriter, r *http.Request) {
	users, err := s.sessions.AllUsersSessionIDs(r.Context())
	if err != nil {
		s.internalError(w, "list sessions", err)
		return
	}
	count := 0
	for _, ids := range users {
		count += len(ids)
	}
	writeJSON(w, http.StatusOK, schema.SystemInfoResponse{SessionsCount: count, ActiveUsers: users})
}

func (s *Server) handleActiveSession(w http.ResponseWriter, r *http.Request) {
	user := r.PathValue("user_id")
	id, err := s.sessions.ActiveSessionID(r.Context(), user)
	if err != nil {
		s.internalError(w, "active session", err)
		return
	}
	if id == "" {
		s.logger.Debug("user %s has no active session", user)
	}
	writeJSON(w, http.StatusOK, schema.ActiveSessionInfoResponse{ActiveSessionID: id})
}

func (s *Server) handleSessionIDs(w http.ResponseWriter, r *http.Request) {
	ids, err := s.sessions.SessionIDs(r.Context(), r.PathValue("user_id"))
	if err != nil {
		s.internalError(w, "list session ids", err)
		return
	}
	writeJSON(w, http.StatusOK, schema.SessionInfoResponse{SessionIDs: ids})
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, sessionID := r.PathValue("user_id"), r.PathValue("session_id")

	exists, err := s.sessions.SessionExists(ctx, user, sessionID)
	if err != nil {
		s.internalError(w, "check session", err)
		return
	}
	ids := []string{}
	if exists {
		if ids, err = s.sessions.TaskStatuses(ctx, user, sessionID); err != nil {
			s.internalError(w, "list tasks", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, schema.TaskInfoResponse{TaskIDs: ids})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	user, sessionID, task := r.PathValue("user_id"), r.PathValue("session_id"), r.PathValue("task_id")

	sess, err := s.sessions.GetSession(r.Context(), user, sessionID, task)
	if err != nil {
		s.internalError(w, "get session", err)
		return
	}
	if sess == nil {
		writeJSON(w, http.StatusOK, schema.SessionStatusResponse{
			UserID:    user,
			SessionID: sessionID,
			TaskID:    task,
			Status:    schema.StatusNotFound,
			Message:   fmt.Sprintf("session %s:%s:%s does not exist", user, sessionID, task),
		})
		return
	}
	writeJSON(w, http.StatusOK, schema.SessionStatusResponse{
		UserID:       user,
		SessionID:    sessionID,
		TaskID:       task,
		Status:       sess.Status,
		LastQuery:    sess.LastQuery,
		LastUpdated:  sess.LastUpdated,
		LastResponse: sess.LastResponse,
	})
}

func (s *Server) handleWriteLongTerm(w http.ResponseWriter, r *http.Request) {
	var req schema.LongMemRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ctx := r.Context()

	exists, err := s.sessions.UserExists(ctx, req.UserID)
	if err != nil {
		s.internalError(w, "check user", err)
		return
	}
	if !exists {
		writeError(w, http.StatusNotFound, "user %s does not exist", req.UserID)
		return
	}
	if s.memory == nil {
		writeError(w, http.StatusInternalServerError, "long-term memory is not configured")
		return
	}

	info := memory.SanitizeText(req.MemoryInfo)
	if info == "" {
		writeError(w, http.StatusBadRequest, "memory_info is empty after sanitizing")
		return
	}
	id, err := memory.WriteUserMemory(ctx, s.memory, req.UserID, info)
	if err != nil {
		s.internalError(w, "store memory", err)
		return
	}
	s.logger.Info("stored memory %s for user %s", id, req.UserID)
	writeJSON(w, http.StatusOK, schema.WriteMemoryResponse{Status: "success", MemoryID: id, Message: "memory stored"})
}

func (s *Server) handleReadLongTerm(w http.ResponseWriter, r *http.Request) {
	user := r.PathValue("user_id")
	if s.memory == nil {
		writeError(w, http.StatusInternalServerError, "long-term memory is not configured")
		return
	}
	info, err := memory.ReadUserMemory(r.Context(), s.memory, user)
	if err != nil {
		s.internalError(w, "read memory", err)
		return
	}
	writeJSON(w, http.StatusOK, schema.LongTermMemoryResponse{UserID: user, LongTermInfo: info})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, sessionID := r.PathValue("user_id"), r.PathValue("session_id")

	exists, err := s.sessions.SessionExists(ctx, user, sessionID)
	if err != nil {
		s.internalError(w, "check session", err)
		return
	}
	if !exists {
		writeError(w, http.StatusNotFound, "session %s:%s does not exist", user, sessionID)
		return
	}

	tasks, err := s.sessions.TaskIDs(ctx, user, sessionID)
	if err != nil {
		s.internalError(w, "list tasks", err)
		return
	}
	if _, err := s.sessions.DeleteSession(ctx, user, sessionID); err != nil {
		s.internalError(w, "delete session", err)
		return
	}
	for _, task := range tasks {
		s.clearCheckpoints(ctx, task)
	}

	writeJSON(w, http.StatusOK, schema.DeleteResponse{
		Status:  "success",
		Message: fmt.Sprintf("session %s:%s deleted", user, sessionID),
	})
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, sessionID, task := r.PathValue("user_id"), r.PathValue("session_id"), r.PathValue("task_id")

	exists, err := s.sessions.TaskExists(ctx, user, sessionID, task)
	if err != nil {
		s.internalError(w, "check task", err)
		return
	}
	if !exists {
		writeError(w, http.StatusNotFound, "task %s:%s:%s does not exist", user, sessionID, task)
		return
	}
	if _, err := s.sessions.DeleteTask(ctx, user, sessionID, task); err != nil {
		s.internalError(w, "delete task", err)
		return
	}
	s.clearCheckpoints(ctx, task)

	writeJSON(w, http.StatusOK, schema.DeleteResponse{
		Status:  "success",
		Message: fmt.Sprintf("task %s:%s:%s deleted", user, sessionID, task),
	})
}

// clearCheckpoints drops the short-term memory of a task thread. Failures are
// logged only; the session records are already gone.
func (s *Server) clearCheckpoints(ctx context.Context, task string) {
	if s.checkpoints == nil {
		return
	}
	if err := s.checkpoints.Clear(ctx, task); err != nil {
		s.logger.Warn("clear checkpoints of task %s: %v", task, err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	checks := map[string]any{"sessions": s.sessions, "memory": s.memory, "checkpoints": s.checkpoints}
	for name, c := range checks {
		p, ok := c.(Pinger)
		if !ok {
			continue
		}
		if err := p.Ping(ctx); err != nil {
			writeError(w, http.StatusServiceUnavailable, "%s: %v", name, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
