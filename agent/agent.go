// Package agent runs a ReAct tool-calling loop whose progress is checkpointed
// per thread, so a run can pause for human review of a tool call and continue
// later, possibly in another process.
//
// The loop has two nodes. The agent node sends the (trimmed) conversation and
// the tool definitions to the model; when the reply requests tools the tools
// node runs them one by one and hands control back to the agent node. A
// checkpoint is written after every node.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/tools"

	"github.com/smallnest/hilagent/log"
	"github.com/smallnest/hilagent/schema"
	"github.com/smallnest/hilagent/store"
	"github.com/smallnest/hilagent/store/memory"
)

const (
	nodeAgent = "agent"
	nodeTools = "tools"
	nodeEnd   = "__end__"
)

// MaxIterationsMessage ends a run that exceeded the iteration limit.
const MaxIterationsMessage = "Maximum iterations reached. Please try a simpler query."

var (
	// ErrNoCheckpoint is returned when a thread has never run.
	ErrNoCheckpoint = errors.New("no checkpoint for thread")
	// ErrNotInterrupted is returned when resuming a thread that is not waiting for review.
	ErrNotInterrupted = errors.New("thread is not waiting for human input")
)

// State is the checkpointed state of one thread.
type State struct {
	Messages   []schema.Message       `json:"messages"`
	Iterations int                    `json:"iterations"`
	Interrupt  *schema.HumanInterrupt `json:"interrupt,omitempty"`
}

// Result is the outcome of Invoke or Resume.
type Result struct {
	Messages  []schema.Message
	Interrupt *schema.HumanInterrupt
}

// Interrupted reports whether the run paused for review.
func (r *Result) Interrupted() bool {
	return r.Interrupt != nil
}

// InvokeInput starts a thread.
type InvokeInput struct {
	SystemPrompt string
	Query        string
	// History is prepended after the system prompt, e.g. an earlier conversation.
	History []schema.Message
}

// Agent is a checkpointed ReAct agent. It is safe for concurrent use on
// distinct threads.
type Agent struct {
	model         llms.Model
	tools         map[string]tools.Tool
	toolDefs      []llms.Tool
	checkpointer  store.CheckpointStore
	maxIterations int
	trim          TrimOptions
	temperature   *float64
	logger        log.Logger
}

// Option configures an Agent.
type Option func(*Agent)

// WithTools registers tools the model may call.
func WithTools(ts ...tools.Tool) Option {
	return func(a *Agent) {
		for _, t := range ts {
			if _, dup := a.tools[t.Name()]; !dup {
				a.toolDefs = append(a.toolDefs, toolDefinition(t))
			}
			a.tools[t.Name()] = t
		}
	}
}

// WithCheckpointer sets the checkpoint store; defaults to an in-memory store.
func WithCheckpointer(s store.CheckpointStore) Option {
	return func(a *Agent) { a.checkpointer = s }
}

// WithMaxIterations bounds the number of model calls per thread; defaults to 20.
func WithMaxIterations(n int) Option {
	return func(a *Agent) { a.maxIterations = n }
}

// WithTrim sets the history window sent to the model.
func WithTrim(opts TrimOptions) Option {
	return func(a *Agent) { a.trim = opts }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(a *Agent) { a.temperature = &t }
}

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option {
	return func(a *Agent) { a.logger = l }
}

// New creates an agent around model.
func New(model llms.Model, opts ...Option) (*Agent, error) {
	if model == nil {
		return nil, errors.New("agent: model is required")
	}
	a := &Agent{
		model:         model,
		tools:         make(map[string]tools.Tool),
		maxIterations: 20,
		trim:          TrimOptions{MaxMessages: 20, KeepSystem: true},
		logger:        log.GetDefaultLogger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.checkpointer == nil {
		a.checkpointer = memory.NewMemoryCheckpointStore()
	}
	if a.maxIterations <= 0 {
		a.maxIterations = 20
	}
	return a, nil
}

// Invoke starts a run on threadID. When the thread already has checkpoints,
// as after a redelivered task, it continues from the latest one instead.
func (a *Agent) Invoke(ctx context.Context, threadID string, in InvokeInput) (*Result, error) {
	cp, st, err := a.latest(ctx, threadID)
	switch {
	case err == nil:
		a.logger.Warn("thread %s already started, continuing from %s (v%d)", threadID, cp.NodeName, cp.Version)
		if st.Interrupt != nil {
			return st.result(), nil
		}
		return a.run(ctx, threadID, st, cp.NodeName, cp.Version)
	case !errors.Is(err, ErrNoCheckpoint):
		return nil, err
	}

	st = &State{}
	if in.SystemPrompt != "" {
		st.append(schema.NewSystemMessage(in.SystemPrompt))
	}
	for _, m := range in.History {
		st.append(m)
	}
	st.append(schema.NewHumanMessage(in.Query))

	if err := a.save(ctx, threadID, st, nodeAgent, 1, "input"); err != nil {
		return nil, err
	}
	return a.run(ctx, threadID, st, nodeAgent, 1)
}

// Resume continues an interrupted thread with the reviewer's decision.
//
// A command whose interrupt was already answered, as after a redelivered
// task, is not applied again: the run continues from the latest checkpoint,
// or returns its result when the thread has finished or paused again.
func (a *Agent) Resume(ctx context.Context, threadID string, cmd schema.ResumeCommand) (*Result, error) {
	cp, st, err := a.latest(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if st.Interrupt != nil && (cmd.InterruptID == "" || cmd.InterruptID == st.Interrupt.ID) {
		st.Interrupt = nil
		return a.run(WithResumeValue(ctx, cmd), threadID, st, cp.NodeName, cp.Version)
	}

	answered, err := a.answered(ctx, threadID, cmd.InterruptID)
	if err != nil {
		return nil, err
	}
	if !answered {
		return nil, fmt.Errorf("%w: %s", ErrNotInterrupted, threadID)
	}
	a.logger.Warn("thread %s already resumed, continuing from %s (v%d)", threadID, cp.NodeName, cp.Version)
	if st.Interrupt != nil {
		return st.result(), nil
	}
	return a.run(ctx, threadID, st, cp.NodeName, cp.Version)
}

// answered reports whether threadID paused on interruptID earlier (any pause
// when interruptID is empty).
func (a *Agent) answered(ctx context.Context, threadID, interruptID string) (bool, error) {
	cps, err := a.checkpointer.List(ctx, threadID)
	if err != nil {
		return false, fmt.Errorf("list checkpoints of %s: %w", threadID, err)
	}
	for _, cp := range cps {
		if interrupted, _ := cp.Metadata["interrupted"].(bool); !interrupted {
			continue
		}
		if interruptID == "" || cp.Metadata["interrupt_id"] == interruptID {
			return true, nil
		}
	}
	return false, nil
}

// Messages returns the conversation stored for threadID.
func (a *Agent) Messages(ctx context.Context, threadID string) ([]schema.Message, error) {
	_, st, err := a.latest(ctx, threadID)
	if err != nil {
		return nil, err
	}
	return st.Messages, nil
}

// State returns the latest checkpointed state of threadID.
func (a *Agent) State(ctx context.Context, threadID string) (*State, error) {
	_, st, err := a.latest(ctx, threadID)
	return st, err
}

// Forget removes every checkpoint of threadID.
func (a *Agent) Forget(ctx context.Context, threadID string) error {
	return a.checkpointer.Clear(ctx, threadID)
}

func (a *Agent) run(ctx context.Context, threadID string, st *State, next string, version int) (*Result, error) {
	for next != nodeEnd {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		switch next {
		case nodeAgent:
			msg, err := a.agentNode(ctx, st)
			if err != nil {
				return nil, fmt.Errorf("agent node: %w", err)
			}
			st.append(msg)
			next = nodeEnd
			if msg.HasToolCalls() {
				next = nodeTools
			}

		case nodeTools:
			if err := a.toolsNode(ctx, st); err != nil {
				return nil, fmt.Errorf("tools node: %w", err)
			}
			if st.Interrupt == nil {
				next = nodeAgent
			}

		default:
			return nil, fmt.Errorf("unknown node %q in thread %s", next, threadID)
		}

		version++
		if err := a.save(ctx, threadID, st, next, version, "loop"); err != nil {
			return nil, err
		}
		if st.Interrupt != nil {
			a.logger.Info("thread %s interrupted for review of %s", threadID, st.Interrupt.ActionRequest.Action)
			break
		}
	}
	return st.result(), nil
}

func (a *Agent) agentNode(ctx context.Context, st *State) (schema.Message, error) {
	if st.Iterations >= a.maxIterations {
		a.logger.Warn("max iterations (%d) reached", a.maxIterations)
		return schema.NewAIMessage(MaxIterationsMessage), nil
	}
	st.Iterations++

	var opts []llms.CallOption
	if len(a.toolDefs) > 0 {
		opts = append(opts, llms.WithTools(a.toolDefs))
	}
	if a.temperature != nil {
		opts = append(opts, llms.WithTemperature(*a.temperature))
	}

	window := TrimMessages(st.Messages, a.trim)
	resp, err := a.model.GenerateContent(ctx, toMessageContent(window), opts...)
	if err != nil {
		return schema.Message{}, err
	}
	if resp == nil || len(resp.Choices) == 0 {
		return schema.Message{}, errors.New("model returned no choices")
	}
	return fromChoice(resp.Choices[0]), nil
}

// toolsNode answers the tool calls of the latest AI message that have no
// result yet. It stops at the first call that interrupts.
func (a *Agent) toolsNode(ctx context.Context, st *State) error {
	idx := -1
	for i := len(st.Messages) - 1; i >= 0; i-- {
		if st.Messages[i].Type == schema.MessageAI {
			idx = i
			break
		}
	}
	if idx < 0 || !st.Messages[idx].HasToolCalls() {
		return errors.New("last AI message has no tool calls")
	}

	answered := make(map[string]bool)
	for _, m := range st.Messages[idx+1:] {
		if m.Type == schema.MessageTool {
			answered[m.ToolCallID] = true
		}
	}

	for _, call := range st.Messages[idx].ToolCalls {
		if answered[call.ID] {
			continue
		}
		content, err := a.execute(ctx, call)

		var ni *NodeInterrupt
		if errors.As(err, &ni) {
			hi, cerr := humanInterrupt(ni.Value)
			if cerr != nil {
				return cerr
			}
			if hi.ID == "" {
				hi.ID = uuid.NewString()
			}
			st.Interrupt = hi
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			content = fmt.Sprintf("Error: %v", err)
		}
		st.append(schema.NewToolMessage(call.ID, call.Name, content))
	}
	return nil
}

func (a *Agent) execute(ctx context.Context, call schema.ToolCall) (string, error) {
	t, ok := a.tools[call.Name]
	if !ok {
		return "", fmt.Errorf("tool %s not found", call.Name)
	}
	a.logger.Debug("tool %s(%v)", call.Name, call.Args)
	return t.Call(ctx, toolInput(t, call.Args))
}

func humanInterrupt(v any) (*schema.HumanInterrupt, error) {
	switch hi := v.(type) {
	case schema.HumanInterrupt:
		return &hi, nil
	case *schema.HumanInterrupt:
		return hi, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode interrupt value: %w", err)
	}
	return &schema.HumanInterrupt{Description: string(data)}, nil
}

func (a *Agent) latest(ctx context.Context, threadID string) (*store.Checkpoint, *State, error) {
	cp, err := a.checkpointer.Latest(ctx, threadID)
	if err != nil {
		if errors.Is(err, store.ErrCheckpointNotFound) {
			return nil, nil, fmt.Errorf("%w: %s", ErrNoCheckpoint, threadID)
		}
		return nil, nil, fmt.Errorf("load checkpoint of %s: %w", threadID, err)
	}
	var st State
	if err := json.Unmarshal(cp.State, &st); err != nil {
		return nil, nil, fmt.Errorf("decode checkpoint %s: %w", cp.ID, err)
	}
	return cp, &st, nil
}

func (a *Agent) save(ctx context.Context, threadID string, st *State, next string, version int, source string) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	meta := map[string]any{
		"source":      source,
		"step":        version,
		"interrupted": st.Interrupt != nil,
	}
	if st.Interrupt != nil {
		meta["interrupt_id"] = st.Interrupt.ID
	}
	cp := &store.Checkpoint{
		ID:        uuid.NewString(),
		ThreadID:  threadID,
		NodeName:  next,
		State:     data,
		Metadata:  meta,
		Timestamp: time.Now(),
		Version:   version,
	}
	if err := a.checkpointer.Save(ctx, cp); err != nil {
		return fmt.Errorf("save checkpoint of %s: %w", threadID, err)
	}
	return nil
}

func (st *State) append(m schema.Message) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	st.Messages = append(st.Messages, m)
}

func (st *State) result() *Result {
	return &Result{Messages: st.Messages, Interrupt: st.Interrupt}
}

// SystemPromptWithMemory appends the user's long-term information to prompt.
func SystemPromptWithMemory(prompt, info string) string {
	if info == "" {
		return prompt
	}
	return prompt + " My additional information: " + info
}
