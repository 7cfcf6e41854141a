// Package client is a Go client for the agent service HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/smallnest/hilagent/schema"
)

// APIError is returned for every non-2xx reply.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Detail)
}

// Client calls the agent service.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New creates a client for the service at baseURL, e.g. http://localhost:8001.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func path(parts ...string) string {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = url.PathEscape(p)
	}
	return "/" + strings.Join(escaped, "/")
}

func (c *Client) do(ctx context.Context, method, p string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+p, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, p, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var e schema.ErrorResponse
		if json.Unmarshal(data, &e) == nil && e.Detail != "" {
			apiErr.Detail = e.Detail
		} else {
			apiErr.Detail = strings.TrimSpace(string(data))
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

// Invoke submits a query as a new task.
func (c *Client) Invoke(ctx context.Context, req schema.AgentRequest) (*schema.InvokeResponse, error) {
	var out schema.InvokeResponse
	if err := c.do(ctx, http.MethodPost, "/agent/invoke", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Resume answers an interrupted task.
func (c *Client) Resume(ctx context.Context, req schema.InterruptResponse) (*schema.InvokeResponse, error) {
	var out schema.InvokeResponse
	if err := c.do(ctx, http.MethodPost, "/agent/resume", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SystemInfo(ctx context.Context) (*schema.SystemInfoResponse, error) {
	var out schema.SystemInfoResponse
	if err := c.do(ctx, http.MethodGet, "/system/info", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ActiveSessionID returns the most recently used session of a user, or "".
func (c *Client) ActiveSessionID(ctx context.Context, user string) (string, error) {
	var out schema.ActiveSessionInfoResponse
	if err := c.do(ctx, http.MethodGet, path("agent", "active", "sessionid", user), nil, &out); err != nil {
		return "", err
	}
	return out.ActiveSessionID, nil
}

func (c *Client) SessionIDs(ctx context.Context, user string) ([]string, error) {
	var out schema.SessionInfoResponse
	if err := c.do(ctx, http.MethodGet, path("agent", "sessionids", user), nil, &out); err != nil {
		return nil, err
	}
	return out.SessionIDs, nil
}

// Tasks lists the tasks of a session as "task_id:status".
func (c *Client) Tasks(ctx context.Context, user, session string) ([]string, error) {
	var out schema.TaskInfoResponse
	if err := c.do(ctx, http.MethodGet, path("agent", "tasks", user, session), nil, &out); err != nil {
		return nil, err
	}
	return out.TaskIDs, nil
}

func (c *Client) Status(ctx context.Context, user, session, task string) (*schema.SessionStatusResponse, error) {
	var out schema.SessionStatusResponse
	if err := c.do(ctx, http.MethodGet, path("agent", "status", user, session, task), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// WaitWhileRunning polls the task status every interval until it is no
// longer running or ctx is done. It returns the last status seen.
func (c *Client) WaitWhileRunning(ctx context.Context, user, session, task string, interval time.Duration) (*schema.SessionStatusResponse, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		st, err := c.Status(ctx, user, session, task)
		if err != nil {
			return nil, err
		}
		if st.Status != schema.StatusRunning {
			return st, nil
		}
		select {
		case <-ctx.Done():
			return st, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) WriteLongTerm(ctx context.Context, user, info string) (*schema.WriteMemoryResponse, error) {
	var out schema.WriteMemoryResponse
	err := c.do(ctx, http.MethodPost, "/agent/write/longterm", schema.LongMemRequest{UserID: user, MemoryInfo: info}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ReadLongTerm(ctx context.Context, user string) (string, error) {
	var out schema.LongTermMemoryResponse
	if err := c.do(ctx, http.MethodGet, path("agent", "read", "longterm", user), nil, &out); err != nil {
		return "", err
	}
	return out.LongTermInfo, nil
}

// DeleteSession deletes a session. A session that does not exist counts as
// deleted.
func (c *Client) DeleteSession(ctx context.Context, user, session string) error {
	err := c.do(ctx, http.MethodDelete, path("agent", "session", user, session), nil, nil)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return nil
	}
	return err
}

func (c *Client) DeleteTask(ctx context.Context, user, session, task string) error {
	return c.do(ctx, http.MethodDelete, path("agent", "task", user, session, task), nil, nil)
}

// Health checks the service and its backends.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil)
}
