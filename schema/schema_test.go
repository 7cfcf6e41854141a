package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResumeCommand_EditedArgs(t *testing.T) {
	cmd := ResumeCommand{Type: ResponseEdit, Args: map[string]any{
		"args": map[string]any{"hotel_name": "Hilton"},
	}}

	args, err := cmd.EditedArgs()
	require.NoError(t, err)
	assert.Equal(t, "Hilton", args["hotel_name"])

	_, err = ResumeCommand{Type: ResponseEdit, Args: map[string]any{"hotel_name": "x"}}.EditedArgs()
	assert.Error(t, err)

	_, err = ResumeCommand{Type: ResponseEdit}.EditedArgs()
	assert.Error(t, err)
}

func TestResumeCommand_Feedback(t *testing.T) {
	assert.Equal(t, "", ResumeCommand{}.Feedback())
	assert.Equal(t, "plain", ResumeCommand{Args: "plain"}.Feedback())
	assert.Equal(t, "book the cheaper one", ResumeCommand{Args: map[string]any{"args": "book the cheaper one"}}.Feedback())
	assert.JSONEq(t, `{"note":1}`, ResumeCommand{Args: map[string]any{"note": 1}}.Feedback())
}

func TestInterruptConfig_Permits(t *testing.T) {
	cfg := InterruptConfig{AllowAccept: true, AllowReject: true}

	assert.True(t, cfg.Permits(ResponseAccept))
	assert.True(t, cfg.Permits(ResponseReject))
	assert.False(t, cfg.Permits(ResponseEdit))
	assert.False(t, cfg.Permits(ResponseFeedback))
	assert.False(t, cfg.Permits("ignore"))

	all := AllowAll()
	for _, rt := range []ResponseType{ResponseAccept, ResponseEdit, ResponseReject, ResponseFeedback} {
		assert.True(t, all.Permits(rt), rt)
	}
}

func TestRequestValidation(t *testing.T) {
	req := AgentRequest{UserID: "u", SessionID: "s", TaskID: "t", Query: "hi"}
	assert.NoError(t, req.Validate())

	req.Query = ""
	assert.EqualError(t, req.Validate(), "query is required")

	resume := InterruptResponse{UserID: "u", SessionID: "s", TaskID: "t", ResponseType: "ignore"}
	assert.Error(t, resume.Validate())
	resume.ResponseType = ResponseAccept
	assert.NoError(t, resume.Validate())

	mem := LongMemRequest{UserID: "u"}
	assert.Error(t, mem.Validate())
}

func TestInterruptResponse_Command(t *testing.T) {
	resp := InterruptResponse{ResponseType: ResponseAccept}
	cmd := resp.Command()
	assert.Equal(t, ResponseAccept, cmd.Type)
	assert.Nil(t, cmd.Args)

	resp = InterruptResponse{ResponseType: ResponseFeedback, Args: map[string]any{"args": "no thanks"}}
	assert.Equal(t, "no thanks", resp.Command().Feedback())
}

func TestSession_JSONLayout(t *testing.T) {
	s := Session{SessionID: "s", TaskID: "t", Status: StatusIdle, LastUpdated: 12.5}

	data, err := json.Marshal(s)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Contains(t, raw, "last_response")
	assert.Nil(t, raw["last_response"])
	assert.Equal(t, "idle", raw["status"])
	assert.Equal(t, 12.5, raw["last_updated"])
}
