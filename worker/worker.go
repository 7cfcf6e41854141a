// Package worker holds the queue handlers that run the agent for a task and
// publish the outcome on the session and task records.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/smallnest/hilagent/agent"
	"github.com/smallnest/hilagent/log"
	"github.com/smallnest/hilagent/memory"
	"github.com/smallnest/hilagent/queue"
	"github.com/smallnest/hilagent/schema"
	"github.com/smallnest/hilagent/session"
)

// Task names on the queue.
const (
	TaskInvoke = "agent.invoke"
	TaskResume = "agent.resume"
)

// InvokePayload starts a task.
type InvokePayload struct {
	UserID       string `json:"user_id"`
	SessionID    string `json:"session_id"`
	TaskID       string `json:"task_id"`
	Query        string `json:"query"`
	SystemPrompt string `json:"system_prompt"`
}

// ResumePayload answers an interrupted task.
type ResumePayload struct {
	UserID    string               `json:"user_id"`
	SessionID string               `json:"session_id"`
	TaskID    string               `json:"task_id"`
	Command   schema.ResumeCommand `json:"command"`
}

// Runner is the part of the agent the handlers drive.
type Runner interface {
	Invoke(ctx context.Context, threadID string, in agent.InvokeInput) (*agent.Result, error)
	Resume(ctx context.Context, threadID string, cmd schema.ResumeCommand) (*agent.Result, error)
	Messages(ctx context.Context, threadID string) ([]schema.Message, error)
}

// Options configures Handlers.
type Options struct {
	Sessions *session.Manager
	Agent    Runner
	Memory   memory.Store
	// SessionTTL is applied whenever a session record is updated.
	SessionTTL time.Duration
	// CarryHistory seeds a new task with the conversation of the latest
	// completed task of the same session.
	CarryHistory bool
	Logger       log.Logger
}

// Handlers runs queued agent tasks.
type Handlers struct {
	sessions     *session.Manager
	agent        Runner
	memory       memory.Store
	sessionTTL   time.Duration
	carryHistory bool
	logger       log.Logger
}

// New creates the handlers.
func New(opts Options) *Handlers {
	if opts.Logger == nil {
		opts.Logger = log.GetDefaultLogger()
	}
	return &Handlers{
		sessions:     opts.Sessions,
		agent:        opts.Agent,
		memory:       opts.Memory,
		sessionTTL:   opts.SessionTTL,
		carryHistory: opts.CarryHistory,
		logger:       opts.Logger,
	}
}

// Register installs the handlers on w.
func (h *Handlers) Register(w *queue.Worker) {
	w.Handle(TaskInvoke, h.Invoke)
	w.Handle(TaskResume, h.Resume)
}

// Invoke runs a new task.
func (h *Handlers) Invoke(ctx context.Context, t *queue.Task) error {
	var p InvokePayload
	if err := h.decode(ctx, t, &p); err != nil {
		return err
	}
	h.logger.Info("invoke %s:%s:%s", p.UserID, p.SessionID, p.TaskID)

	running := schema.StatusRunning
	now := schema.Now()
	if _, err := h.sessions.UpdateSession(ctx, p.UserID, p.SessionID, p.TaskID, session.Update{
		Status:      &running,
		LastQuery:   &p.Query,
		LastUpdated: &now,
		TTL:         h.sessionTTL,
	}); err != nil {
		return h.fail(ctx, p.UserID, p.SessionID, p.TaskID, err)
	}

	in := agent.InvokeInput{
		SystemPrompt: agent.SystemPromptWithMemory(p.SystemPrompt, h.longTermInfo(ctx, p.UserID)),
		Query:        p.Query,
	}
	if h.carryHistory {
		in.History = h.history(ctx, p.UserID, p.SessionID, p.TaskID)
	}

	res, err := h.agent.Invoke(ctx, p.TaskID, in)
	if err != nil {
		return h.fail(ctx, p.UserID, p.SessionID, p.TaskID, err)
	}
	return h.finish(ctx, p.UserID, p.SessionID, p.TaskID, res)
}

// Resume continues an interrupted task with the reviewer's command.
func (h *Handlers) Resume(ctx context.Context, t *queue.Task) error {
	var p ResumePayload
	if err := h.decode(ctx, t, &p); err != nil {
		return err
	}
	h.logger.Info("resume %s:%s:%s with %s", p.UserID, p.SessionID, p.TaskID, p.Command.Type)

	res, err := h.agent.Resume(ctx, p.TaskID, p.Command)
	if err != nil {
		return h.fail(ctx, p.UserID, p.SessionID, p.TaskID, err)
	}
	return h.finish(ctx, p.UserID, p.SessionID, p.TaskID, res)
}

// decode reads the payload of t into v. A payload that does not decode is
// recorded as a failure on its task when the ids can still be read.
func (h *Handlers) decode(ctx context.Context, t *queue.Task, v any) error {
	err := t.Decode(v)
	if err == nil {
		return nil
	}
	err = fmt.Errorf("decode %s payload: %w", t.Name, err)

	var ids map[string]any
	if json.Unmarshal(t.Payload, &ids) != nil {
		h.logger.Error("task %s: %v", t.ID, err)
		return err
	}
	user, _ := ids["user_id"].(string)
	sessionID, _ := ids["session_id"].(string)
	task, _ := ids["task_id"].(string)
	if user == "" || sessionID == "" || task == "" {
		h.logger.Error("task %s: %v", t.ID, err)
		return err
	}
	return h.fail(ctx, user, sessionID, task, err)
}

func (h *Handlers) longTermInfo(ctx context.Context, user string) string {
	if h.memory == nil {
		return ""
	}
	info, err := memory.ReadUserMemory(ctx, h.memory, user)
	if err != nil {
		h.logger.Warn("read long-term memory of %s: %v", user, err)
		return ""
	}
	if info != "" {
		h.logger.Debug("long-term memory of %s: %d chars", user, len(info))
	}
	return info
}

// history returns the conversation of the latest completed task of the
// session, without its system prompt.
func (h *Handlers) history(ctx context.Context, user, sessionID, current string) []schema.Message {
	records, err := h.sessions.Sessions(ctx, user, sessionID)
	if err != nil {
		h.logger.Warn("list tasks of %s:%s: %v", user, sessionID, err)
		return nil
	}
	sort.Slice(records, func(i, j int) bool { return records[i].LastUpdated > records[j].LastUpdated })

	for _, rec := range records {
		if rec.TaskID == current || rec.Status != schema.StatusCompleted {
			continue
		}
		msgs, err := h.agent.Messages(ctx, rec.TaskID)
		if err != nil {
			h.logger.Warn("load history of task %s: %v", rec.TaskID, err)
			return nil
		}
		out := make([]schema.Message, 0, len(msgs))
		for _, m := range msgs {
			if m.Type != schema.MessageSystem {
				out = append(out, m)
			}
		}
		return out
	}
	return nil
}

func (h *Handlers) finish(ctx context.Context, user, sessionID, task string, res *agent.Result) error {
	resp := ProcessResult(sessionID, task, res)
	h.logger.Info("task %s %s", task, resp.Status)

	exists, err := h.sessions.SessionExists(ctx, user, sessionID)
	if err != nil {
		return h.fail(ctx, user, sessionID, task, err)
	}
	if exists {
		if _, err := h.sessions.UpdateSession(ctx, user, sessionID, task, session.Update{
			Status:       &resp.Status,
			LastResponse: resp,
			LastUpdated:  &resp.Timestamp,
			TTL:          h.sessionTTL,
		}); err != nil {
			return h.fail(ctx, user, sessionID, task, err)
		}
	}

	return h.sessions.SetTaskStatus(ctx, schema.TaskRecord{
		TaskID:    task,
		Status:    schema.TaskCompleted,
		Result:    FilterLastHumanConversation(resp),
		UserID:    user,
		SessionID: sessionID,
	})
}

// fail records err on the session and task. A cancelled context means the
// worker is stopping; the task will be redelivered so nothing is recorded.
func (h *Handlers) fail(ctx context.Context, user, sessionID, task string, err error) error {
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return err
	}
	h.logger.Error("task %s failed: %v", task, err)

	status := schema.StatusError
	now := schema.Now()
	resp := &schema.AgentResponse{
		SessionID: sessionID,
		TaskID:    task,
		Status:    status,
		Timestamp: now,
		Message:   fmt.Sprintf("Error processing request: %v", err),
	}
	if _, uerr := h.sessions.UpdateSession(ctx, user, sessionID, task, session.Update{
		Status:       &status,
		LastResponse: resp,
		LastUpdated:  &now,
		TTL:          h.sessionTTL,
	}); uerr != nil {
		h.logger.Error("record failure on session %s:%s:%s: %v", user, sessionID, task, uerr)
	}
	if serr := h.sessions.SetTaskStatus(ctx, schema.TaskRecord{
		TaskID:    task,
		Status:    schema.TaskFailed,
		Error:     err.Error(),
		UserID:    user,
		SessionID: sessionID,
	}); serr != nil {
		h.logger.Error("record failure on task %s: %v", task, serr)
	}
	return err
}

// ProcessResult turns an agent result into the response stored on the session.
func ProcessResult(sessionID, taskID string, res *agent.Result) *schema.AgentResponse {
	resp := &schema.AgentResponse{
		SessionID: sessionID,
		TaskID:    taskID,
		Timestamp: schema.Now(),
	}
	switch {
	case res == nil:
		resp.Status = schema.StatusError
		resp.Message = "Error processing agent result: empty result"
	case res.Interrupted():
		data := *res.Interrupt
		if data.InterruptType == "" {
			data.InterruptType = "unknown"
		}
		resp.Status = schema.StatusInterrupted
		resp.InterruptData = &data
	default:
		resp.Status = schema.StatusCompleted
		resp.Result = &schema.AgentResult{Messages: res.Messages}
	}
	return resp
}

// FilterLastHumanConversation keeps the last human message and everything
// after it, or the interrupt data of an interrupted run.
func FilterLastHumanConversation(resp *schema.AgentResponse) *schema.TaskResult {
	if resp.Result != nil {
		last := -1
		for i, m := range resp.Result.Messages {
			if m.Type == schema.MessageHuman {
				last = i
			}
		}
		if last < 0 {
			return &schema.TaskResult{Messages: []schema.Message{}}
		}
		return &schema.TaskResult{Messages: resp.Result.Messages[last:]}
	}
	if resp.InterruptData != nil {
		return &schema.TaskResult{InterruptData: resp.InterruptData}
	}
	return &schema.TaskResult{Messages: []schema.Message{}}
}
