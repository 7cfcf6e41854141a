package ernie

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tmc/langchaingo/llms"

	"github.com/smallnest/hilagent/llms/ernie/client"
)

// TestLLM_Create tests the LLM creation with various options.
func TestLLM_Create(t *testing.T) {
	t.Setenv("ERNIE_API_KEY", "")

	if _, err := New(); !errors.Is(err, client.ErrNotSetAuth) {
		t.Errorf("New() without key error = %v", err)
	}
	llm, err := New(WithAPIKey("test-key"), WithModel(ModelNameERNIESpeed128K))
	if err != nil || llm == nil {
		t.Fatalf("New() = %v, %v", llm, err)
	}
	if llm.model != ModelNameERNIESpeed128K {
		t.Errorf("model = %s", llm.model)
	}
}

func TestLLM_GenerateContent_RoundTripsToolCalls(t *testing.T) {
	var got client.CompletionRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		w.Write([]byte(`{"id":"x","choices":[{"index":0,"message":{"role":"assistant","content":"","tool_calls":[{"id":"call_9","type":"function","function":{"name":"book_hotel","arguments":"{\"hotel_name\":\"Hilton\"}"}}]},"finish_reason":"tool_calls"}],"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}`))
	}))
	defer server.Close()

	llm, err := New(WithAPIKey("k"), WithBaseURL(server.URL))
	if err != nil {
		t.Fatal(err)
	}

	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, "sys"),
		llms.TextParts(llms.ChatMessageTypeHuman, "hi"),
		{
			Role: llms.ChatMessageTypeAI,
			Parts: []llms.ContentPart{llms.ToolCall{
				ID: "call_1", Type: "function",
				FunctionCall: &llms.FunctionCall{Name: "multiply", Arguments: `{"a":1,"b":2}`},
			}},
		},
		{
			Role: llms.ChatMessageTypeTool,
			Parts: []llms.ContentPart{llms.ToolCallResponse{
				ToolCallID: "call_1", Name: "multiply", Content: "2",
			}},
		},
	}
	tools := []llms.Tool{{
		Type: "function",
		Function: &llms.FunctionDefinition{
			Name:       "book_hotel",
			Parameters: map[string]any{"type": "object"},
		},
	}}

	resp, err := llm.GenerateContent(context.Background(), messages, llms.WithTools(tools), llms.WithTemperature(0.2))
	if err != nil {
		t.Fatalf("GenerateContent() error = %v", err)
	}

	if len(got.Messages) != 4 {
		t.Fatalf("sent %d messages", len(got.Messages))
	}
	roles := []string{got.Messages[0].Role, got.Messages[1].Role, got.Messages[2].Role, got.Messages[3].Role}
	want := []string{"system", "user", "assistant", "tool"}
	for i := range want {
		if roles[i] != want[i] {
			t.Errorf("role[%d] = %s, want %s", i, roles[i], want[i])
		}
	}
	if got.Messages[2].ToolCalls[0].Function.Name != "multiply" || got.Messages[3].ToolCallID != "call_1" {
		t.Errorf("tool history not forwarded: %+v", got.Messages)
	}
	if got.Temperature != 0.2 || len(got.Tools) != 1 {
		t.Errorf("options not forwarded: %+v", got)
	}

	choice := resp.Choices[0]
	if len(choice.ToolCalls) != 1 || choice.ToolCalls[0].FunctionCall.Name != "book_hotel" {
		t.Fatalf("tool calls = %+v", choice.ToolCalls)
	}
	if choice.GenerationInfo["total_tokens"] != 5 {
		t.Errorf("generation info = %v", choice.GenerationInfo)
	}
}

func TestLLM_GenerateContent_ErrorCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"x","error_code":17,"error_msg":"quota"}`))
	}))
	defer server.Close()

	llm, _ := New(WithAPIKey("k"), WithBaseURL(server.URL))
	_, err := llm.GenerateContent(context.Background(), []llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, "hi")})
	if !errors.Is(err, ErrCodeResponse) {
		t.Errorf("error = %v", err)
	}
}
