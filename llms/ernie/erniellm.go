// Package ernie implements llms.Model for Baidu Qianfan (Ernie) chat models
// with function calling.
package ernie

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"github.com/smallnest/hilagent/llms/ernie/client"
)

var ErrCodeResponse = errors.New("has error code")

// LLM is a client for Baidu Qianfan (Ernie) LLM.
type LLM struct {
	client *client.Client
	model  ModelName
}

var _ llms.Model = (*LLM)(nil)

// New returns a new Ernie LLM client. The API key falls back to ERNIE_API_KEY.
func New(opts ...Option) (*LLM, error) {
	options := &options{
		apiKey:    getEnvOrDefault("ERNIE_API_KEY", ""),
		modelName: ModelNameERNIE45Turbo128K,
		baseURL:   "https://qianfan.baidubce.com",
	}
	for _, opt := range opts {
		opt(options)
	}
	if options.apiKey == "" {
		return nil, fmt.Errorf("ernie: %w (pass WithAPIKey or set ERNIE_API_KEY)", client.ErrNotSetAuth)
	}

	clientOpts := []client.Option{
		client.WithAPIKey(options.apiKey),
		client.WithBaseURL(options.baseURL),
	}
	if options.httpClient != nil {
		clientOpts = append(clientOpts, client.WithHTTPClient(options.httpClient))
	}
	c, err := client.New(clientOpts...)
	if err != nil {
		return nil, err
	}
	return &LLM{client: c, model: options.modelName}, nil
}

// Call generates a response from the LLM for the given prompt.
func (o *LLM) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, o, prompt, options...)
}

// GenerateContent implements the Model interface.
func (o *LLM) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	opts := &llms.CallOptions{}
	for _, opt := range options {
		opt(opts)
	}

	req := &client.CompletionRequest{
		Messages:     convertMessages(messages),
		Temperature:  opts.Temperature,
		TopP:         opts.TopP,
		PenaltyScore: opts.RepetitionPenalty,
		MaxTokens:    opts.MaxTokens,
	}
	for _, t := range opts.Tools {
		if t.Function == nil {
			continue
		}
		req.Tools = append(req.Tools, client.Tool{
			Type: "function",
			Function: client.FunctionDefinition{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				Parameters:  t.Function.Parameters,
			},
		})
	}
	if opts.ToolChoice != nil {
		req.ToolChoice = opts.ToolChoice
	}

	model := o.model
	if opts.Model != "" {
		model = ModelName(opts.Model)
	}

	result, err := o.client.CreateCompletion(ctx, string(model), req)
	if err != nil {
		return nil, err
	}
	if result.ErrorCode > 0 {
		return nil, fmt.Errorf("%w, error_code:%v, error_msg:%v, id:%v",
			ErrCodeResponse, result.ErrorCode, result.ErrorMsg, result.ID)
	}

	resp := &llms.ContentResponse{}
	for _, ch := range result.Choices {
		choice := &llms.ContentChoice{
			Content:    ch.Message.Content,
			StopReason: ch.FinishReason,
			GenerationInfo: map[string]any{
				"prompt_tokens":     result.Usage.PromptTokens,
				"completion_tokens": result.Usage.CompletionTokens,
				"total_tokens":      result.Usage.TotalTokens,
			},
		}
		for _, tc := range ch.Message.ToolCalls {
			choice.ToolCalls = append(choice.ToolCalls, llms.ToolCall{
				ID:   tc.ID,
				Type: "function",
				FunctionCall: &llms.FunctionCall{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}
		resp.Choices = append(resp.Choices, choice)
	}
	return resp, nil
}

func convertMessages(messages []llms.MessageContent) []client.Message {
	out := make([]client.Message, 0, len(messages))
	for _, msg := range messages {
		var role string
		switch msg.Role {
		case llms.ChatMessageTypeAI:
			role = "assistant"
		case llms.ChatMessageTypeSystem:
			role = "system"
		case llms.ChatMessageTypeTool:
			role = "tool"
		default:
			role = "user"
		}

		var content strings.Builder
		var calls []client.ToolCall
		for _, part := range msg.Parts {
			switch p := part.(type) {
			case llms.TextContent:
				content.WriteString(p.Text)
			case llms.ToolCall:
				if p.FunctionCall == nil {
					continue
				}
				calls = append(calls, client.ToolCall{
					ID:   p.ID,
					Type: "function",
					Function: client.FunctionCall{
						Name:      p.FunctionCall.Name,
						Arguments: p.FunctionCall.Arguments,
					},
				})
			case llms.ToolCallResponse:
				// One message per tool result.
				out = append(out, client.Message{
					Role:       "tool",
					Content:    p.Content,
					Name:       p.Name,
					ToolCallID: p.ToolCallID,
				})
			}
		}
		if role == "tool" {
			continue
		}
		out = append(out, client.Message{Role: role, Content: content.String(), ToolCalls: calls})
	}
	return out
}
