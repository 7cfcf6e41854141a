package agent

import (
	"encoding/json"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/tools"
)

// SchemaTool is a tool that declares its parameters as a JSON schema object.
// It receives the model's arguments as a JSON object string.
type SchemaTool interface {
	tools.Tool
	Parameters() map[string]any
}

// inputParameters is the schema of tools that take a single free-form string.
func inputParameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"input": map[string]any{
				"type":        "string",
				"description": "The input query for the tool",
			},
		},
		"required":             []string{"input"},
		"additionalProperties": false,
	}
}

func parameters(t tools.Tool) map[string]any {
	if st, ok := t.(SchemaTool); ok {
		if p := st.Parameters(); p != nil {
			return p
		}
	}
	return inputParameters()
}

func toolDefinition(t tools.Tool) llms.Tool {
	return llms.Tool{
		Type: "function",
		Function: &llms.FunctionDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  parameters(t),
		},
	}
}

// toolInput renders call arguments as the string handed to Tool.Call.
func toolInput(t tools.Tool, args map[string]any) string {
	if _, ok := t.(SchemaTool); !ok {
		if s, ok := args["input"].(string); ok {
			return s
		}
	}
	if args == nil {
		args = map[string]any{}
	}
	data, err := json.Marshal(args)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// parseArgs is the inverse of toolInput for wrappers that receive the raw input.
func parseArgs(input string) map[string]any {
	var args map[string]any
	if err := json.Unmarshal([]byte(input), &args); err != nil || args == nil {
		return map[string]any{"input": input}
	}
	return args
}
