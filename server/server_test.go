package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallnest/hilagent/log"
	"github.com/smallnest/hilagent/memory"
	"github.com/smallnest/hilagent/queue"
	"github.com/smallnest/hilagent/schema"
	"github.com/smallnest/hilagent/session"
	"github.com/smallnest/hilagent/store"
	storemem "github.com/smallnest/hilagent/store/memory"
	"github.com/smallnest/hilagent/worker"
)

type testEnv struct {
	handler     http.Handler
	sessions    *session.Manager
	queue       *queue.Queue
	memory      *memory.InMemoryStore
	checkpoints *storemem.MemoryCheckpointStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	logger := &log.NoOpLogger{}
	env := &testEnv{
		sessions:    session.NewManager(client, session.Options{Timeout: time.Hour, TaskTTL: time.Hour, Logger: logger}),
		queue:       queue.New(client, "test", queue.WithLogger(logger)),
		memory:      memory.NewInMemoryStore(),
		checkpoints: storemem.NewMemoryCheckpointStore(),
	}
	env.handler = New(Options{
		Sessions:     env.sessions,
		Queue:        env.queue,
		Memory:       env.memory,
		Checkpoints:  env.checkpoints,
		SessionTTL:   time.Hour,
		SystemPrompt: "default prompt",
		Logger:       logger,
	}).Handler()
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (e *testEnv) invoke(t *testing.T, user, sessionID, task string) {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/agent/invoke", schema.AgentRequest{
		UserID: user, SessionID: sessionID, TaskID: task, Query: "book a hotel",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func (e *testEnv) dequeue(t *testing.T) *queue.Task {
	t.Helper()
	task, err := e.queue.Dequeue(context.Background(), "c1", time.Second)
	require.NoError(t, err)
	require.NotNil(t, task)
	return task
}

func TestInvoke(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	rec := env.do(t, http.MethodPost, "/agent/invoke", schema.AgentRequest{
		UserID: "u1", SessionID: "s1", TaskID: "t1", Query: "hello",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, schema.InvokeResponse{UserID: "u1", SessionID: "s1", TaskID: "t1"}, decode[schema.InvokeResponse](t, rec))

	sess, err := env.sessions.GetSession(ctx, "u1", "s1", "t1")
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, schema.StatusIdle, sess.Status)
	assert.NotZero(t, sess.LastUpdated)

	taskRec, err := env.sessions.GetTaskRecord(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, schema.TaskPending, taskRec.Status)

	task := env.dequeue(t)
	assert.Equal(t, worker.TaskInvoke, task.Name)
	var p worker.InvokePayload
	require.NoError(t, task.Decode(&p))
	assert.Equal(t, worker.InvokePayload{UserID: "u1", SessionID: "s1", TaskID: "t1", Query: "hello", SystemPrompt: "default prompt"}, p)
}

func TestInvoke_BadRequests(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		body any
		want string
	}{
		{"malformed json", `{"user_id":`, "invalid request body"},
		{"missing query", schema.AgentRequest{UserID: "u", SessionID: "s", TaskID: "t"}, "query is required"},
		{"colon in id", schema.AgentRequest{UserID: "u:x", SessionID: "s", TaskID: "t", Query: "q"}, "must not contain"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/agent/invoke", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, decode[schema.ErrorResponse](t, rec).Detail, tt.want)
		})
	}

	n, err := env.queue.Len(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestResume(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	body := schema.InterruptResponse{
		UserID: "u1", SessionID: "s1", TaskID: "t1",
		ResponseType: schema.ResponseEdit,
		Args:         map[string]any{"args": map[string]any{"hotel_name": "Hilton"}},
	}

	rec := env.do(t, http.MethodPost, "/agent/resume", body)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	env.invoke(t, "u1", "s1", "t1")
	env.dequeue(t)

	rec = env.do(t, http.MethodPost, "/agent/resume", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[schema.ErrorResponse](t, rec).Detail, "idle")

	interrupted := schema.StatusInterrupted
	_, err := env.sessions.UpdateSession(ctx, "u1", "s1", "t1", session.Update{
		Status: &interrupted,
		LastResponse: &schema.AgentResponse{
			Status:        schema.StatusInterrupted,
			InterruptData: &schema.HumanInterrupt{ID: "i-1", ActionRequest: schema.ActionRequest{Action: "book_hotel"}},
		},
	})
	require.NoError(t, err)

	rec = env.do(t, http.MethodPost, "/agent/resume", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	sess, err := env.sessions.GetSession(ctx, "u1", "s1", "t1")
	require.NoError(t, err)
	assert.Equal(t, schema.StatusRunning, sess.Status)

	task := env.dequeue(t)
	assert.Equal(t, worker.TaskResume, task.Name)
	var p worker.ResumePayload
	require.NoError(t, task.Decode(&p))
	assert.Equal(t, schema.ResponseEdit, p.Command.Type)
	assert.Equal(t, "i-1", p.Command.InterruptID)
	args, err := p.Command.EditedArgs()
	require.NoError(t, err)
	assert.Equal(t, "Hilton", args["hotel_name"])

	rec = env.do(t, http.MethodPost, "/agent/resume", schema.InterruptResponse{UserID: "u1", SessionID: "s1", TaskID: "t1", ResponseType: "maybe"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQueries(t *testing.T) {
	env := newTestEnv(t)
	env.invoke(t, "u1", "s1", "t1")
	env.invoke(t, "u1", "s1", "t2")
	env.invoke(t, "u1", "s2", "t3")
	env.invoke(t, "u2", "s9", "t9")

	info := decode[schema.SystemInfoResponse](t, env.do(t, http.MethodGet, "/system/info", nil))
	assert.Equal(t, 3, info.SessionsCount)
	assert.ElementsMatch(t, []string{"s1", "s2"}, info.ActiveUsers["u1"])
	assert.Equal(t, []string{"s9"}, info.ActiveUsers["u2"])

	ids := decode[schema.SessionInfoResponse](t, env.do(t, http.MethodGet, "/agent/sessionids/u1", nil))
	assert.ElementsMatch(t, []string{"s1", "s2"}, ids.SessionIDs)

	active := decode[schema.ActiveSessionInfoResponse](t, env.do(t, http.MethodGet, "/agent/active/sessionid/u1", nil))
	assert.Equal(t, "s2", active.ActiveSessionID)
	active = decode[schema.ActiveSessionInfoResponse](t, env.do(t, http.MethodGet, "/agent/active/sessionid/nobody", nil))
	assert.Empty(t, active.ActiveSessionID)

	tasks := decode[schema.TaskInfoResponse](t, env.do(t, http.MethodGet, "/agent/tasks/u1/s1", nil))
	assert.ElementsMatch(t, []string{"t1:pending", "t2:pending"}, tasks.TaskIDs)
	rec := env.do(t, http.MethodGet, "/agent/tasks/u1/missing", nil)
	assert.JSONEq(t, `{"task_ids":[]}`, rec.Body.String())

	status := decode[schema.SessionStatusResponse](t, env.do(t, http.MethodGet, "/agent/status/u1/s1/t1", nil))
	assert.Equal(t, schema.StatusIdle, status.Status)
	assert.Equal(t, "t1", status.TaskID)

	status = decode[schema.SessionStatusResponse](t, env.do(t, http.MethodGet, "/agent/status/u1/s1/nope", nil))
	assert.Equal(t, schema.StatusNotFound, status.Status)
	assert.Contains(t, status.Message, "u1:s1:nope")
}

func TestLongTermMemory(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/agent/write/longterm", schema.LongMemRequest{UserID: "u1", MemoryInfo: "likes tea"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	env.invoke(t, "u1", "s1", "t1")

	rec = env.do(t, http.MethodPost, "/agent/write/longterm", schema.LongMemRequest{UserID: "u1", MemoryInfo: "<b>likes</b> tea & cake"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[schema.WriteMemoryResponse](t, rec)
	assert.Equal(t, "success", resp.Status)
	assert.NotEmpty(t, resp.MemoryID)

	rec = env.do(t, http.MethodPost, "/agent/write/longterm", schema.LongMemRequest{UserID: "u1", MemoryInfo: "<script>x</script>"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	read := decode[schema.LongTermMemoryResponse](t, env.do(t, http.MethodGet, "/agent/read/longterm/u1", nil))
	assert.Equal(t, "likes tea & cake", read.LongTermInfo)
}

func TestDelete(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.invoke(t, "u1", "s1", "t1")
	env.invoke(t, "u1", "s1", "t2")
	require.NoError(t, env.checkpoints.Save(ctx, &store.Checkpoint{ID: "cp1", ThreadID: "t1", Version: 1}))
	require.NoError(t, env.checkpoints.Save(ctx, &store.Checkpoint{ID: "cp2", ThreadID: "t2", Version: 1}))

	rec := env.do(t, http.MethodDelete, "/agent/task/u1/s1/t1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", decode[schema.DeleteResponse](t, rec).Status)

	cps, err := env.checkpoints.List(ctx, "t1")
	require.NoError(t, err)
	assert.Empty(t, cps)

	rec = env.do(t, http.MethodDelete, "/agent/task/u1/s1/t1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodDelete, "/agent/session/u1/s1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cps, err = env.checkpoints.List(ctx, "t2")
	require.NoError(t, err)
	assert.Empty(t, cps)

	rec = env.do(t, http.MethodDelete, "/agent/session/u1/s1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	ids := decode[schema.SessionInfoResponse](t, env.do(t, http.MethodGet, "/agent/sessionids/u1", nil))
	assert.Empty(t, ids.SessionIDs)
}

func TestHealthAndMethods(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/agent/invoke", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRun_Shutdown(t *testing.T) {
	env := newTestEnv(t)
	srv := New(Options{Addr: "127.0.0.1:0", Sessions: env.sessions, Queue: env.queue, Logger: &log.NoOpLogger{}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

// finishingQueue completes every task the moment it is enqueued, like a
// worker that is faster than the API handler.
type finishingQueue struct {
	sessions *session.Manager
	fail     error
}

func (q *finishingQueue) Enqueue(ctx context.Context, name string, payload any) (*queue.Task, error) {
	if q.fail != nil {
		return nil, q.fail
	}
	p := payload.(worker.InvokePayload)
	err := q.sessions.SetTaskStatus(ctx, schema.TaskRecord{
		TaskID: p.TaskID, Status: schema.TaskCompleted, UserID: p.UserID, SessionID: p.SessionID,
	})
	return &queue.Task{Name: name}, err
}

func TestInvoke_FastWorkerKeepsOutcome(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	q := &finishingQueue{sessions: env.sessions}
	handler := New(Options{Sessions: env.sessions, Queue: q, Memory: env.memory, Logger: &log.NoOpLogger{}}).Handler()

	body, err := json.Marshal(schema.AgentRequest{UserID: "u1", SessionID: "s1", TaskID: "t1", Query: "hi"})
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/agent/invoke", bytes.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	taskRec, err := env.sessions.GetTaskRecord(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, taskRec)
	assert.Equal(t, schema.TaskCompleted, taskRec.Status)

	q.fail = errors.New("redis down")
	body, err = json.Marshal(schema.AgentRequest{UserID: "u1", SessionID: "s1", TaskID: "t2", Query: "hi"})
	require.NoError(t, err)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/agent/invoke", bytes.NewReader(body)))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	taskRec, err = env.sessions.GetTaskRecord(ctx, "t2")
	require.NoError(t, err)
	require.NotNil(t, taskRec)
	assert.Equal(t, schema.TaskFailed, taskRec.Status)
	assert.Contains(t, taskRec.Error, "redis down")
}
