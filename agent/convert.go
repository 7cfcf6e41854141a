package agent

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/llms"

	"github.com/smallnest/hilagent/schema"
)

func toMessageContent(msgs []schema.Message) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(msgs))
	for _, m := range msgs {
		switch m.Type {
		case schema.MessageSystem:
			out = append(out, llms.TextParts(llms.ChatMessageTypeSystem, m.Content))
		case schema.MessageHuman:
			out = append(out, llms.TextParts(llms.ChatMessageTypeHuman, m.Content))
		case schema.MessageAI:
			mc := llms.MessageContent{Role: llms.ChatMessageTypeAI}
			if m.Content != "" {
				mc.Parts = append(mc.Parts, llms.TextPart(m.Content))
			}
			for _, tc := range m.ToolCalls {
				args, err := json.Marshal(tc.Args)
				if err != nil || tc.Args == nil {
					args = []byte("{}")
				}
				mc.Parts = append(mc.Parts, llms.ToolCall{
					ID:   tc.ID,
					Type: "function",
					FunctionCall: &llms.FunctionCall{
						Name:      tc.Name,
						Arguments: string(args),
					},
				})
			}
			out = append(out, mc)
		case schema.MessageTool:
			out = append(out, llms.MessageContent{
				Role: llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{
					llms.ToolCallResponse{
						ToolCallID: m.ToolCallID,
						Name:       m.Name,
						Content:    m.Content,
					},
				},
			})
		}
	}
	return out
}

func fromChoice(choice *llms.ContentChoice) schema.Message {
	msg := schema.NewAIMessage(choice.Content)
	for _, tc := range choice.ToolCalls {
		if tc.FunctionCall == nil {
			continue
		}
		id := tc.ID
		if id == "" {
			id = "call_" + uuid.NewString()
		}
		msg.ToolCalls = append(msg.ToolCalls, schema.ToolCall{
			ID:   id,
			Name: tc.FunctionCall.Name,
			Args: parseArgs(tc.FunctionCall.Arguments),
		})
	}
	return msg
}
