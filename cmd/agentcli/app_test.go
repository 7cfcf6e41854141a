package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallnest/hilagent/log"
	"github.com/smallnest/hilagent/schema"
)

type fakeAPI struct {
	active   string
	sessions []string
	tasks    []string
	status   *schema.SessionStatusResponse
	failWith error

	invoked []schema.AgentRequest
	resumed []schema.InterruptResponse
	written []string
}

func (f *fakeAPI) Invoke(_ context.Context, req schema.AgentRequest) (*schema.InvokeResponse, error) {
	f.invoked = append(f.invoked, req)
	if f.failWith != nil {
		return nil, f.failWith
	}
	return &schema.InvokeResponse{UserID: req.UserID, SessionID: req.SessionID, TaskID: req.TaskID}, nil
}

func (f *fakeAPI) Resume(_ context.Context, req schema.InterruptResponse) (*schema.InvokeResponse, error) {
	f.resumed = append(f.resumed, req)
	return &schema.InvokeResponse{UserID: req.UserID, SessionID: req.SessionID, TaskID: req.TaskID}, nil
}

func (f *fakeAPI) SystemInfo(context.Context) (*schema.SystemInfoResponse, error) {
	return &schema.SystemInfoResponse{SessionsCount: 1, ActiveUsers: map[string][]string{"u1": {"s1"}}}, nil
}

func (f *fakeAPI) ActiveSessionID(context.Context, string) (string, error) { return f.active, nil }

func (f *fakeAPI) SessionIDs(context.Context, string) ([]string, error) { return f.sessions, nil }

func (f *fakeAPI) Tasks(context.Context, string, string) ([]string, error) { return f.tasks, nil }

func (f *fakeAPI) Status(_ context.Context, user, session, task string) (*schema.SessionStatusResponse, error) {
	st := *f.status
	st.UserID, st.SessionID, st.TaskID = user, session, task
	return &st, nil
}

func (f *fakeAPI) WaitWhileRunning(ctx context.Context, user, session, task string, _ time.Duration) (*schema.SessionStatusResponse, error) {
	return f.Status(ctx, user, session, task)
}

func (f *fakeAPI) WriteLongTerm(_ context.Context, _ string, info string) (*schema.WriteMemoryResponse, error) {
	f.written = append(f.written, info)
	return &schema.WriteMemoryResponse{Status: "success"}, nil
}

func runApp(t *testing.T, api *fakeAPI, input string) string {
	t.Helper()
	var out bytes.Buffer
	a := newApp(api, strings.NewReader(input), &out)
	require.NoError(t, a.run(context.Background()))
	return out.String()
}

func interrupted() *schema.SessionStatusResponse {
	return &schema.SessionStatusResponse{
		Status: schema.StatusInterrupted,
		LastResponse: &schema.AgentResponse{InterruptData: &schema.HumanInterrupt{
			ActionRequest: schema.ActionRequest{Action: "book_hotel", Args: map[string]any{"hotel_name": "Hilton"}},
			Description:   "Please review book_hotel",
		}},
	}
}

func TestSubmitQuery(t *testing.T) {
	api := &fakeAPI{}
	out := runApp(t, api, "alice\nwhat is 2 times 3\nexit\n")

	require.Len(t, api.invoked, 1)
	req := api.invoked[0]
	assert.Equal(t, "alice", req.UserID)
	assert.Equal(t, "what is 2 times 3", req.Query)
	assert.NotEmpty(t, req.SessionID)
	assert.NotEmpty(t, req.TaskID)
	assert.Contains(t, out, "opened a new session")
	assert.Contains(t, out, req.TaskID)
}

func TestDefaultsAndActiveSession(t *testing.T) {
	api := &fakeAPI{active: "s-old"}
	runApp(t, api, "\n\n")

	require.Len(t, api.invoked, 1)
	assert.True(t, strings.HasPrefix(api.invoked[0].UserID, "user_"))
	assert.Equal(t, "s-old", api.invoked[0].SessionID)
	assert.Equal(t, "hello", api.invoked[0].Query)
}

func TestReviewDecisions(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  schema.InterruptResponse
	}{
		{"accept", "yes\n", schema.InterruptResponse{ResponseType: schema.ResponseAccept}},
		{"reject after bad choice", "maybe\nno\n", schema.InterruptResponse{ResponseType: schema.ResponseReject}},
		{
			"edit retries invalid json", "edit\nnot json\nedit\n{\"hotel_name\":\"Hyatt\"}\n",
			schema.InterruptResponse{ResponseType: schema.ResponseEdit, Args: map[string]any{"args": map[string]any{"hotel_name": "Hyatt"}}},
		},
		{
			"response", "response\nfully booked, try tomorrow\n",
			schema.InterruptResponse{ResponseType: schema.ResponseFeedback, Args: map[string]any{"args": "fully booked, try tomorrow"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeAPI{active: "s1", sessions: []string{"s1"}, tasks: []string{"t1:completed"}, status: interrupted()}
			out := runApp(t, api, "bob\nhistory\ns1\nt1:completed\n"+tt.input+"exit\n")

			require.Len(t, api.resumed, 1, out)
			got := api.resumed[0]
			assert.Equal(t, "bob", got.UserID)
			assert.Equal(t, "s1", got.SessionID)
			assert.Equal(t, "t1", got.TaskID)
			assert.Equal(t, tt.want.ResponseType, got.ResponseType)
			assert.Equal(t, tt.want.Args, got.Args)
			assert.Contains(t, out, "Please review book_hotel")
		})
	}
}

func TestStatusShowsAnswerAndErrors(t *testing.T) {
	api := &fakeAPI{status: &schema.SessionStatusResponse{
		Status:    schema.StatusCompleted,
		LastQuery: "hi",
		LastResponse: &schema.AgentResponse{Result: &schema.AgentResult{Messages: []schema.Message{
			schema.NewHumanMessage("hi"),
			schema.NewAIMessage("Hello there"),
		}}},
	}}
	out := runApp(t, api, "carol\nstatus\nhi\nstatus\nexit\n")
	assert.Contains(t, out, "no task submitted yet")
	assert.Contains(t, out, "Agent answer")
	assert.Contains(t, out, "Hello there")

	api.status = &schema.SessionStatusResponse{
		Status:       schema.StatusError,
		LastResponse: &schema.AgentResponse{Message: "Error processing request: boom"},
	}
	out = runApp(t, api, "carol\nhi\nstatus\nexit\n")
	assert.Contains(t, out, "Error processing request: boom")
}

func TestSettingAndNew(t *testing.T) {
	api := &fakeAPI{active: "s1"}
	out := runApp(t, api, "dave\nsetting\nprefers aisle seats\nnew\nhi\n")

	assert.Equal(t, []string{"prefers aisle seats"}, api.written)
	require.Len(t, api.invoked, 1)
	assert.NotEqual(t, "s1", api.invoked[0].SessionID)
	assert.Contains(t, out, "stored for dave")
}

func TestDebugLogging(t *testing.T) {
	api := &fakeAPI{failWith: errors.New("connection refused")}
	var out, logs bytes.Buffer
	a := newApp(api, strings.NewReader("alice\nbook a hotel\nexit\n"), &out)
	a.logger = log.Named(log.NewWriterLogger(&logs, log.LogLevelDebug), "agentcli")
	require.NoError(t, a.run(context.Background()))

	require.Len(t, api.invoked, 1)
	task := api.invoked[0].TaskID
	assert.Contains(t, out.String(), "connection refused")
	assert.Contains(t, logs.String(), "[DEBUG] [agentcli] invoke task "+task)
	assert.Contains(t, logs.String(), "[ERROR] [agentcli] user alice session ")
	assert.Contains(t, logs.String(), "task "+task+": submit query: connection refused")
}
