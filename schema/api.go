package schema

import (
	"errors"
	"time"
)

// AgentRequest starts a new task in a session.
type AgentRequest struct {
	UserID        string `json:"user_id"`
	SessionID     string `json:"session_id"`
	TaskID        string `json:"task_id"`
	Query         string `json:"query"`
	SystemMessage string `json:"system_message,omitempty"`
}

func (r *AgentRequest) Validate() error {
	switch {
	case r.UserID == "":
		return errors.New("user_id is required")
	case r.SessionID == "":
		return errors.New("session_id is required")
	case r.TaskID == "":
		return errors.New("task_id is required")
	case r.Query == "":
		return errors.New("query is required")
	}
	return nil
}

// InterruptResponse resumes an interrupted task with a reviewer decision.
type InterruptResponse struct {
	UserID       string         `json:"user_id"`
	SessionID    string         `json:"session_id"`
	TaskID       string         `json:"task_id"`
	ResponseType ResponseType   `json:"response_type"`
	Args         map[string]any `json:"args,omitempty"`
}

func (r *InterruptResponse) Validate() error {
	switch {
	case r.UserID == "":
		return errors.New("user_id is required")
	case r.SessionID == "":
		return errors.New("session_id is required")
	case r.TaskID == "":
		return errors.New("task_id is required")
	case !r.ResponseType.Valid():
		return errors.New("response_type must be one of accept, edit, response, reject")
	}
	return nil
}

// Command converts the request into the command handed to the agent.
func (r *InterruptResponse) Command() ResumeCommand {
	cmd := ResumeCommand{Type: r.ResponseType}
	if r.Args != nil {
		cmd.Args = r.Args
	}
	return cmd
}

// LongMemRequest appends a fact to a user's long-term memory.
type LongMemRequest struct {
	UserID     string `json:"user_id"`
	MemoryInfo string `json:"memory_info"`
}

func (r *LongMemRequest) Validate() error {
	if r.UserID == "" {
		return errors.New("user_id is required")
	}
	if r.MemoryInfo == "" {
		return errors.New("memory_info is required")
	}
	return nil
}

// AgentResult is the message list of a finished run.
type AgentResult struct {
	Messages []Message `json:"messages"`
}

// AgentResponse is the outcome of one agent run as stored on the session.
type AgentResponse struct {
	SessionID     string          `json:"session_id"`
	TaskID        string          `json:"task_id"`
	Status        Status          `json:"status"`
	Timestamp     float64         `json:"timestamp"`
	Message       string          `json:"message,omitempty"`
	Result        *AgentResult    `json:"result,omitempty"`
	InterruptData *HumanInterrupt `json:"interrupt_data,omitempty"`
}

// Now returns the current time in the float seconds format used by
// timestamps and last_updated fields.
func Now() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// TaskResult is the filtered conversation stored with a completed task.
// Either Messages or InterruptData is set.
type TaskResult struct {
	Messages      []Message       `json:"messages,omitempty"`
	InterruptData *HumanInterrupt `json:"interrupt_data,omitempty"`
}

// Session is the per-task session record kept in Redis.
type Session struct {
	SessionID    string         `json:"session_id"`
	TaskID       string         `json:"task_id"`
	Status       Status         `json:"status"`
	LastResponse *AgentResponse `json:"last_response"`
	LastQuery    string         `json:"last_query"`
	LastUpdated  float64        `json:"last_updated"`
}

// TaskRecord is the queue-side status of a task.
type TaskRecord struct {
	TaskID    string      `json:"task_id"`
	Status    TaskState   `json:"status"`
	Result    *TaskResult `json:"result"`
	Error     string      `json:"error"`
	UserID    string      `json:"user_id"`
	SessionID string      `json:"session_id"`
}

type InvokeResponse struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	TaskID    string `json:"task_id"`
}

type SystemInfoResponse struct {
	SessionsCount int                 `json:"sessions_count"`
	ActiveUsers   map[string][]string `json:"active_users"`
}

type SessionInfoResponse struct {
	SessionIDs []string `json:"session_ids"`
}

// TaskInfoResponse lists tasks as "task_id:status" entries.
type TaskInfoResponse struct {
	TaskIDs []string `json:"task_ids"`
}

type ActiveSessionInfoResponse struct {
	ActiveSessionID string `json:"active_session_id"`
}

type SessionStatusResponse struct {
	UserID       string         `json:"user_id"`
	SessionID    string         `json:"session_id,omitempty"`
	TaskID       string         `json:"task_id"`
	Status       Status         `json:"status"`
	Message      string         `json:"message,omitempty"`
	LastQuery    string         `json:"last_query,omitempty"`
	LastUpdated  float64        `json:"last_updated,omitempty"`
	LastResponse *AgentResponse `json:"last_response,omitempty"`
}

type LongTermMemoryResponse struct {
	UserID       string `json:"user_id"`
	LongTermInfo string `json:"long_term_info"`
}

type WriteMemoryResponse struct {
	Status   string `json:"status"`
	MemoryID string `json:"memory_id"`
	Message  string `json:"message"`
}

type DeleteResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// ErrorResponse is the body of every non-2xx API reply.
type ErrorResponse struct {
	Detail string `json:"detail"`
}
