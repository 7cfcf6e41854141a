package schema

// MessageType is the author of a conversation message.
type MessageType string

const (
	MessageSystem MessageType = "system"
	MessageHuman  MessageType = "human"
	MessageAI     MessageType = "ai"
	MessageTool   MessageType = "tool"
)

// ToolCall is a function call requested by the model.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// Message is one conversation turn as persisted in checkpoints and returned to
// clients.
type Message struct {
	ID         string      `json:"id,omitempty"`
	Type       MessageType `json:"type"`
	Content    string      `json:"content"`
	ToolCalls  []ToolCall  `json:"tool_calls,omitempty"`
	ToolCallID string      `json:"tool_call_id,omitempty"`
	Name       string      `json:"name,omitempty"`
}

func NewSystemMessage(content string) Message {
	return Message{Type: MessageSystem, Content: content}
}

func NewHumanMessage(content string) Message {
	return Message{Type: MessageHuman, Content: content}
}

func NewAIMessage(content string, calls ...ToolCall) Message {
	return Message{Type: MessageAI, Content: content, ToolCalls: calls}
}

func NewToolMessage(callID, name, content string) Message {
	return Message{Type: MessageTool, ToolCallID: callID, Name: name, Content: content}
}

// HasToolCalls reports whether m is an AI message requesting tools.
func (m Message) HasToolCalls() bool {
	return m.Type == MessageAI && len(m.ToolCalls) > 0
}
