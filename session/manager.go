// Package session keeps per-user session and task state in Redis.
//
// Key layout:
//
//	session:{user}:{session}:{task}   JSON schema.Session, expires after the session TTL
//	user_sessions:{user}              set of "{session}:{task}"
//	task_mapping:{user}:{session}     set of task ids, TTL refreshed on every write
//	task:{task}                       JSON schema.TaskRecord, expires after the task TTL
//
// The session key is the source of truth. Set members whose session key has
// expired are removed lazily by the cleanup pass that precedes every query.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/smallnest/hilagent/log"
	"github.com/smallnest/hilagent/schema"
)

// ErrInvalidID is returned for identifiers that would break the key layout.
var ErrInvalidID = errors.New("identifier must be non-empty and must not contain ':'")

// Manager is the Redis-backed session store.
type Manager struct {
	client  redis.UniversalClient
	timeout time.Duration
	taskTTL time.Duration
	logger  log.Logger
}

// Options configures a Manager.
type Options struct {
	// Timeout is the TTL of session keys when a call does not pass one.
	Timeout time.Duration
	// TaskTTL is the TTL of task records.
	TaskTTL time.Duration
	Logger  log.Logger
}

// NewManager wraps an existing client.
func NewManager(client redis.UniversalClient, opts Options) *Manager {
	if opts.Timeout <= 0 {
		opts.Timeout = 300 * time.Second
	}
	if opts.TaskTTL <= 0 {
		opts.TaskTTL = time.Hour
	}
	if opts.Logger == nil {
		opts.Logger = log.GetDefaultLogger()
	}
	return &Manager{
		client:  client,
		timeout: opts.Timeout,
		taskTTL: opts.TaskTTL,
		logger:  opts.Logger,
	}
}

func sessionKey(user, session, task string) string {
	return fmt.Sprintf("session:%s:%s:%s", user, session, task)
}

func userSessionsKey(user string) string {
	return "user_sessions:" + user
}

func taskMappingKey(user, session string) string {
	return fmt.Sprintf("task_mapping:%s:%s", user, session)
}

func taskKey(task string) string {
	return "task:" + task
}

// ValidID reports whether id can be embedded in a key.
func ValidID(id string) bool {
	return id != "" && !strings.Contains(id, ":")
}

// Ping checks the Redis connection.
func (m *Manager) Ping(ctx context.Context) error {
	return m.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (m *Manager) Close() error {
	return m.client.Close()
}

func (m *Manager) ttlOr(ttl time.Duration) time.Duration {
	if ttl > 0 {
		return ttl
	}
	return m.timeout
}

// CreateOptions describes a new session record.
type CreateOptions struct {
	UserID       string
	SessionID    string // generated when empty
	TaskID       string
	Status       schema.Status
	LastQuery    string
	LastResponse *schema.AgentResponse
	LastUpdated  float64
	TTL          time.Duration
}

// CreateSession writes a session record and indexes it. It returns the
// session id, which is generated when opts.SessionID is empty.
func (m *Manager) CreateSession(ctx context.Context, opts CreateOptions) (string, error) {
	if opts.SessionID == "" {
		opts.SessionID = uuid.NewString()
	}
	if !ValidID(opts.UserID) || !ValidID(opts.SessionID) || !ValidID(opts.TaskID) {
		return "", ErrInvalidID
	}
	if opts.Status == "" {
		opts.Status = schema.StatusIdle
	}

	data, err := json.Marshal(schema.Session{
		SessionID:    opts.SessionID,
		TaskID:       opts.TaskID,
		Status:       opts.Status,
		LastResponse: opts.LastResponse,
		LastQuery:    opts.LastQuery,
		LastUpdated:  opts.LastUpdated,
	})
	if err != nil {
		return "", fmt.Errorf("marshal session: %w", err)
	}

	ttl := m.ttlOr(opts.TTL)
	mapping := taskMappingKey(opts.UserID, opts.SessionID)

	_, err = m.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, sessionKey(opts.UserID, opts.SessionID, opts.TaskID), data, ttl)
		pipe.SAdd(ctx, userSessionsKey(opts.UserID), opts.SessionID+":"+opts.TaskID)
		pipe.SAdd(ctx, mapping, opts.TaskID)
		pipe.Expire(ctx, mapping, ttl)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("create session %s:%s:%s: %w", opts.UserID, opts.SessionID, opts.TaskID, err)
	}

	m.logger.Debug("session created %s:%s:%s status=%s ttl=%s", opts.UserID, opts.SessionID, opts.TaskID, opts.Status, ttl)
	return opts.SessionID, nil
}

// Update lists the fields to change. Nil fields are left untouched.
type Update struct {
	Status       *schema.Status
	LastQuery    *string
	LastResponse *schema.AgentResponse
	LastUpdated  *float64
	TTL          time.Duration
}

// UpdateSession applies u to an existing session record and refreshes its
// TTL. It returns false when the record does not exist.
func (m *Manager) UpdateSession(ctx context.Context, user, session, task string, u Update) (bool, error) {
	key := sessionKey(user, session, task)
	ttl := m.ttlOr(u.TTL)
	updated := false

	err := m.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}

		var s schema.Session
		if err := json.Unmarshal(raw, &s); err != nil {
			return fmt.Errorf("decode session %s: %w", key, err)
		}
		if u.Status != nil {
			s.Status = *u.Status
		}
		if u.LastQuery != nil {
			s.LastQuery = *u.LastQuery
		}
		if u.LastResponse != nil {
			s.LastResponse = u.LastResponse
		}
		if u.LastUpdated != nil {
			s.LastUpdated = *u.LastUpdated
		}

		data, err := json.Marshal(s)
		if err != nil {
			return fmt.Errorf("marshal session: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, ttl)
			pipe.Expire(ctx, taskMappingKey(user, session), ttl)
			return nil
		})
		if err == nil {
			updated = true
		}
		return err
	}, key)
	if err != nil {
		return false, fmt.Errorf("update session %s: %w", key, err)
	}
	return updated, nil
}

// UserExists reports whether the user has any live session.
func (m *Manager) UserExists(ctx context.Context, user string) (bool, error) {
	if err := m.CleanupUser(ctx, user); err != nil {
		return false, err
	}
	n, err := m.client.Exists(ctx, userSessionsKey(user)).Result()
	return n > 0, err
}

// SessionExists reports whether the session has any live task.
func (m *Manager) SessionExists(ctx context.Context, user, session string) (bool, error) {
	if err := m.CleanupUser(ctx, user); err != nil {
		return false, err
	}
	n, err := m.client.Exists(ctx, taskMappingKey(user, session)).Result()
	return n > 0, err
}

// TaskExists reports whether the session record of a task is live.
func (m *Manager) TaskExists(ctx context.Context, user, session, task string) (bool, error) {
	if err := m.CleanupUser(ctx, user); err != nil {
		return false, err
	}
	n, err := m.client.Exists(ctx, sessionKey(user, session, task)).Result()
	return n > 0, err
}

// splitMember splits a "{session}:{task}" set member.
func splitMember(member string) (session, task string, ok bool) {
	return strings.Cut(member, ":")
}

func uniqueSessions(members []string) []string {
	seen := make(map[string]struct{}, len(members))
	out := make([]string, 0, len(members))
	for _, member := range members {
		session, _, _ := splitMember(member)
		if _, dup := seen[session]; dup {
			continue
		}
		seen[session] = struct{}{}
		out = append(out, session)
	}
	return out
}

func (m *Manager) scanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := m.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	return keys, iter.Err()
}

// AllUsersSessionIDs maps every user to their live session ids.
func (m *Manager) AllUsersSessionIDs(ctx context.Context) (map[string][]string, error) {
	if err := m.CleanupAll(ctx); err != nil {
		return nil, err
	}
	keys, err := m.scanKeys(ctx, userSessionsKey("*"))
	if err != nil {
		return nil, fmt.Errorf("scan user sessions: %w", err)
	}

	result := make(map[string][]string, len(keys))
	for _, key := range keys {
		user := strings.TrimPrefix(key, "user_sessions:")
		members, err := m.client.SMembers(ctx, key).Result()
		if err != nil {
			return nil, err
		}
		if ids := uniqueSessions(members); len(ids) > 0 {
			result[user] = ids
		}
	}
	return result, nil
}

// SessionCount counts distinct user:session pairs.
func (m *Manager) SessionCount(ctx context.Context) (int, error) {
	all, err := m.AllUsersSessionIDs(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, ids := range all {
		n += len(ids)
	}
	return n, nil
}

// SessionIDs lists the live session ids of a user.
func (m *Manager) SessionIDs(ctx context.Context, user string) ([]string, error) {
	if err := m.CleanupUser(ctx, user); err != nil {
		return nil, err
	}
	members, err := m.client.SMembers(ctx, userSessionsKey(user)).Result()
	if err != nil {
		return nil, err
	}
	return uniqueSessions(members), nil
}

// ActiveSessionID returns the session holding the most recently updated task,
// or "" when the user has none. Tasks that were never updated are ignored.
func (m *Manager) ActiveSessionID(ctx context.Context, user string) (string, error) {
	if err := m.CleanupUser(ctx, user); err != nil {
		return "", err
	}
	members, err := m.client.SMembers(ctx, userSessionsKey(user)).Result()
	if err != nil {
		return "", err
	}

	latestID := ""
	latest := 0.0
	for _, member := range members {
		session, task, ok := splitMember(member)
		if !ok {
			continue
		}
		s, err := m.getSession(ctx, user, session, task)
		if err != nil {
			return "", err
		}
		if s == nil || s.LastUpdated <= 0 {
			continue
		}
		if s.LastUpdated > latest {
			latest = s.LastUpdated
			latestID = session
		}
	}
	return latestID, nil
}

// Sessions returns every live task record of a session.
func (m *Manager) Sessions(ctx context.Context, user, session string) ([]*schema.Session, error) {
	if err := m.CleanupUser(ctx, user); err != nil {
		return nil, err
	}
	tasks, err := m.client.SMembers(ctx, taskMappingKey(user, session)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*schema.Session, 0, len(tasks))
	for _, task := range tasks {
		s, err := m.getSession(ctx, user, session, task)
		if err != nil {
			return nil, err
		}
		if s != nil {
			out = append(out, s)
		}
	}
	return out, nil
}

// TaskIDs lists the task ids of a session.
func (m *Manager) TaskIDs(ctx context.Context, user, session string) ([]string, error) {
	if err := m.CleanupUser(ctx, user); err != nil {
		return nil, err
	}
	return m.client.SMembers(ctx, taskMappingKey(user, session)).Result()
}

// GetSession returns the session record of a task, or nil when it does not
// exist.
func (m *Manager) GetSession(ctx context.Context, user, session, task string) (*schema.Session, error) {
	if err := m.CleanupUser(ctx, user); err != nil {
		return nil, err
	}
	return m.getSession(ctx, user, session, task)
}

func (m *Manager) getSession(ctx context.Context, user, session, task string) (*schema.Session, error) {
	raw, err := m.client.Get(ctx, sessionKey(user, session, task)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	// Decode last_response separately so a malformed response does not hide
	// the rest of the record.
	var s struct {
		schema.Session
		RawResponse json.RawMessage `json:"last_response"`
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	out := s.Session
	out.LastResponse = nil
	if len(s.RawResponse) > 0 && string(s.RawResponse) != "null" {
		var resp schema.AgentResponse
		if err := json.Unmarshal(s.RawResponse, &resp); err != nil {
			m.logger.Error("drop undecodable last_response of %s: %v", sessionKey(user, session, task), err)
		} else {
			out.LastResponse = &resp
		}
	}
	return &out, nil
}

// SetTaskStatus writes a task record. When the record names a user and a
// session the task is also bound to that session's task mapping.
func (m *Manager) SetTaskStatus(ctx context.Context, rec schema.TaskRecord) error {
	if rec.TaskID == "" {
		return ErrInvalidID
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}

	_, err = m.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, taskKey(rec.TaskID), data, m.taskTTL)
		if rec.UserID != "" && rec.SessionID != "" {
			mapping := taskMappingKey(rec.UserID, rec.SessionID)
			pipe.SAdd(ctx, mapping, rec.TaskID)
			pipe.Expire(ctx, mapping, m.taskTTL)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("set task status %s: %w", rec.TaskID, err)
	}
	return nil
}

// GetTaskRecord returns the task record, or nil when it does not exist.
func (m *Manager) GetTaskRecord(ctx context.Context, task string) (*schema.TaskRecord, error) {
	raw, err := m.client.Get(ctx, taskKey(task)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	var rec schema.TaskRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode task: %w", err)
	}
	return &rec, nil
}

// TaskStatuses lists the tasks of a session as "task_id:status".
func (m *Manager) TaskStatuses(ctx context.Context, user, session string) ([]string, error) {
	tasks, err := m.TaskIDs(ctx, user, session)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(tasks))
	for _, task := range tasks {
		rec, err := m.GetTaskRecord(ctx, task)
		if err != nil {
			return nil, err
		}
		if rec == nil || rec.Status == "" {
			continue
		}
		out = append(out, fmt.Sprintf("%s:%s", task, rec.Status))
	}
	return out, nil
}

// DeleteTask removes one task from a session. It returns false when the
// session record did not exist.
func (m *Manager) DeleteTask(ctx context.Context, user, session, task string) (bool, error) {
	mapping := taskMappingKey(user, session)
	var del *redis.IntCmd

	_, err := m.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, userSessionsKey(user), session+":"+task)
		pipe.SRem(ctx, mapping, task)
		del = pipe.Del(ctx, sessionKey(user, session, task))
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("delete task %s: %w", task, err)
	}

	if err := m.dropIfEmpty(ctx, mapping); err != nil {
		return false, err
	}
	if err := m.dropIfEmpty(ctx, userSessionsKey(user)); err != nil {
		return false, err
	}
	return del.Val() > 0, nil
}

// DeleteSession removes every task of a session. It returns false when no
// session record existed.
func (m *Manager) DeleteSession(ctx context.Context, user, session string) (bool, error) {
	mapping := taskMappingKey(user, session)
	tasks, err := m.client.SMembers(ctx, mapping).Result()
	if err != nil {
		return false, err
	}

	dels := make([]*redis.IntCmd, 0, len(tasks))
	_, err = m.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, task := range tasks {
			pipe.SRem(ctx, userSessionsKey(user), session+":"+task)
			dels = append(dels, pipe.Del(ctx, sessionKey(user, session, task)))
		}
		pipe.Del(ctx, mapping)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("delete session %s: %w", session, err)
	}
	if err := m.dropIfEmpty(ctx, userSessionsKey(user)); err != nil {
		return false, err
	}

	deleted := false
	for _, d := range dels {
		if d.Val() > 0 {
			deleted = true
		}
	}
	return deleted, nil
}

func (m *Manager) dropIfEmpty(ctx context.Context, key string) error {
	n, err := m.client.SCard(ctx, key).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return m.client.Del(ctx, key).Err()
	}
	return nil
}
