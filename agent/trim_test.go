package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallnest/hilagent/schema"
)

func types(msgs []schema.Message) []schema.MessageType {
	out := make([]schema.MessageType, len(msgs))
	for i, m := range msgs {
		out[i] = m.Type
	}
	return out
}

func conversation() []schema.Message {
	return []schema.Message{
		schema.NewSystemMessage("sys"),
		schema.NewHumanMessage("q1"),
		schema.NewAIMessage("", schema.ToolCall{ID: "a", Name: "echo"}),
		schema.NewToolMessage("a", "echo", "r1"),
		schema.NewAIMessage("a1"),
		schema.NewHumanMessage("q2"),
		schema.NewAIMessage("", schema.ToolCall{ID: "b", Name: "echo"}),
		schema.NewToolMessage("b", "echo", "r2"),
		schema.NewAIMessage("a2"),
	}
}

func TestTrimMessages(t *testing.T) {
	msgs := conversation()

	tests := []struct {
		name string
		opts TrimOptions
		want []schema.MessageType
	}{
		{
			name: "disabled",
			opts: TrimOptions{},
			want: types(msgs),
		},
		{
			name: "fits",
			opts: TrimOptions{MaxMessages: 20, KeepSystem: true},
			want: types(msgs),
		},
		{
			name: "starts on human and keeps system",
			opts: TrimOptions{MaxMessages: 6, KeepSystem: true},
			want: []schema.MessageType{
				schema.MessageSystem, schema.MessageHuman, schema.MessageAI, schema.MessageTool, schema.MessageAI,
			},
		},
		{
			name: "drops system",
			opts: TrimOptions{MaxMessages: 5},
			want: []schema.MessageType{
				schema.MessageHuman, schema.MessageAI, schema.MessageTool, schema.MessageAI,
			},
		},
		{
			name: "widens back to the latest human",
			opts: TrimOptions{MaxMessages: 3, KeepSystem: true},
			want: []schema.MessageType{
				schema.MessageSystem, schema.MessageHuman, schema.MessageAI, schema.MessageTool, schema.MessageAI,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TrimMessages(msgs, tt.opts)
			assert.Equal(t, tt.want, types(got))
		})
	}

	trimmed := TrimMessages(msgs, TrimOptions{MaxMessages: 6, KeepSystem: true})
	assert.Equal(t, "q2", trimmed[1].Content)
}

func TestInterrupt_ResumeValueIsSingleUse(t *testing.T) {
	ctx := WithResumeValue(context.Background(), "yes")

	v, err := Interrupt(ctx, "first")
	require.NoError(t, err)
	assert.Equal(t, "yes", v)

	_, err = Interrupt(ctx, "second")
	var ni *NodeInterrupt
	require.ErrorAs(t, err, &ni)
	assert.Equal(t, "second", ni.Value)
	assert.Equal(t, "interrupt at node tools: second", ni.Error())

	_, err = Interrupt(context.Background(), "plain")
	assert.ErrorAs(t, err, &ni)
}

func TestParseArgs(t *testing.T) {
	assert.Equal(t, map[string]any{"a": 1.0}, parseArgs(`{"a":1}`))
	assert.Equal(t, map[string]any{"input": "Beijing"}, parseArgs("Beijing"))
	assert.Equal(t, map[string]any{"input": "null"}, parseArgs("null"))
}

func TestValidator_CachesSchemas(t *testing.T) {
	v := &validator{}
	s := map[string]any{
		"type":     "object",
		"required": []string{"a"},
	}
	require.NoError(t, v.Validate(s, map[string]any{"a": 1}))
	assert.Error(t, v.Validate(s, map[string]any{}))

	n := 0
	v.cache.Range(func(_, _ any) bool { n++; return true })
	assert.Equal(t, 1, n)
}
