package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/smallnest/hilagent/config"
	"github.com/smallnest/hilagent/llms/ernie"
)

func TestNew_UnknownType(t *testing.T) {
	_, err := New(config.LLMConfig{Type: "nope"})
	assert.ErrorContains(t, err, `unknown llm type "nope"`)
}

func TestFromConfig(t *testing.T) {
	t.Setenv("ERNIE_API_KEY", "")

	m, err := FromConfig("ernie", config.ProviderConfig{API: "ernie", APIKey: "k", ChatModel: "ernie-speed-128k"})
	require.NoError(t, err)
	assert.IsType(t, &ernie.LLM{}, m)

	_, err = FromConfig("ernie", config.ProviderConfig{API: "ernie"})
	assert.Error(t, err)

	_, err = FromConfig("x", config.ProviderConfig{API: "grpc"})
	assert.ErrorContains(t, err, "unsupported api")
}

func TestOpenAICompatible(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer ollama", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"qwen3:1.7b",` +
			`"choices":[{"index":0,"message":{"role":"assistant","content":"hello"},"finish_reason":"stop"}],` +
			`"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}}`))
	}))
	defer server.Close()

	cfg := config.DefaultConfig().LLM
	p := cfg.Providers["ollama"]
	p.BaseURL = server.URL + "/v1"
	cfg.Providers["ollama"] = p

	model, err := New(cfg)
	require.NoError(t, err)

	resp, err := model.GenerateContent(context.Background(), []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, "hi"),
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Choices[0].Content)
}
