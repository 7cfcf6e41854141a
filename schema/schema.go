// Package schema holds the data exchanged between the HTTP API, the task
// worker, the agent runtime and the session store. JSON field names are part of
// the public API and of the records persisted in Redis.
package schema

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Status is the lifecycle state of a session task.
type Status string

const (
	StatusIdle        Status = "idle"
	StatusRunning     Status = "running"
	StatusInterrupted Status = "interrupted"
	StatusCompleted   Status = "completed"
	StatusError       Status = "error"
	StatusNotFound    Status = "not_found"
)

// TaskState is the state of a queued task record.
type TaskState string

const (
	TaskPending   TaskState = "pending"
	TaskCompleted TaskState = "completed"
	TaskFailed    TaskState = "failed"
)

// ResponseType is the human decision on an interrupted tool call.
type ResponseType string

const (
	ResponseAccept   ResponseType = "accept"
	ResponseEdit     ResponseType = "edit"
	ResponseReject   ResponseType = "reject"
	ResponseFeedback ResponseType = "response"
)

// Valid reports whether r is one of the known response types.
func (r ResponseType) Valid() bool {
	switch r {
	case ResponseAccept, ResponseEdit, ResponseReject, ResponseFeedback:
		return true
	}
	return false
}

// ActionRequest names the tool call a human is asked to review.
type ActionRequest struct {
	Action string         `json:"action"`
	Args   map[string]any `json:"args"`
}

// InterruptConfig lists the decisions a reviewer may take.
type InterruptConfig struct {
	AllowAccept  bool `json:"allow_accept"`
	AllowEdit    bool `json:"allow_edit"`
	AllowRespond bool `json:"allow_respond"`
	AllowReject  bool `json:"allow_reject"`
}

// AllowAll permits every decision.
func AllowAll() InterruptConfig {
	return InterruptConfig{AllowAccept: true, AllowEdit: true, AllowRespond: true, AllowReject: true}
}

// Permits reports whether the config allows the response type.
func (c InterruptConfig) Permits(t ResponseType) bool {
	switch t {
	case ResponseAccept:
		return c.AllowAccept
	case ResponseEdit:
		return c.AllowEdit
	case ResponseFeedback:
		return c.AllowRespond
	case ResponseReject:
		return c.AllowReject
	}
	return false
}

// HumanInterrupt is the payload surfaced to the client when a tool call waits
// for review.
type HumanInterrupt struct {
	// ID identifies this pause of the thread.
	ID            string          `json:"id,omitempty"`
	ActionRequest ActionRequest   `json:"action_request"`
	Config        InterruptConfig `json:"config"`
	Description   string          `json:"description"`
	InterruptType string          `json:"interrupt_type,omitempty"`
}

// ResumeCommand carries the reviewer decision back into the agent.
//
// For edit, Args holds {"args": {...new tool arguments...}}. For response,
// Args is the feedback handed to the model as the tool result.
type ResumeCommand struct {
	Type ResponseType `json:"type"`
	Args any          `json:"args,omitempty"`
	// InterruptID names the interrupt being answered. Empty answers whichever
	// interrupt is pending.
	InterruptID string `json:"interrupt_id,omitempty"`
}

// EditedArgs extracts the replacement tool arguments of an edit command.
func (c ResumeCommand) EditedArgs() (map[string]any, error) {
	m, ok := c.Args.(map[string]any)
	if !ok {
		return nil, errors.New("edit command requires an object with an args field")
	}
	inner, ok := m["args"].(map[string]any)
	if !ok {
		return nil, errors.New("edit command args.args must be an object")
	}
	return inner, nil
}

// Feedback renders the args of a response command as text. Clients send
// {"args": "text"}; the inner text is used when present.
func (c ResumeCommand) Feedback() string {
	switch v := c.Args.(type) {
	case nil:
		return ""
	case string:
		return v
	case map[string]any:
		if s, ok := v["args"].(string); ok {
			return s
		}
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(data)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(data)
	}
}
