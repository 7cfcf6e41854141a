package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// CleanupUser removes index entries of a user whose session record expired,
// together with their task records, and deletes sets left empty.
func (m *Manager) CleanupUser(ctx context.Context, user string) error {
	if err := m.cleanupUserSessions(ctx, user); err != nil {
		return err
	}

	mappings, err := m.scanKeys(ctx, taskMappingKey(user, "*"))
	if err != nil {
		return fmt.Errorf("scan task mappings of %s: %w", user, err)
	}
	for _, mapping := range mappings {
		session := strings.TrimPrefix(mapping, taskMappingKey(user, ""))
		if err := m.cleanupMapping(ctx, user, session); err != nil {
			return err
		}
	}
	return m.dropIfEmpty(ctx, userSessionsKey(user))
}

// CleanupAll runs the cleanup pass for every user with an index.
func (m *Manager) CleanupAll(ctx context.Context) error {
	users := make(map[string]struct{})

	keys, err := m.scanKeys(ctx, userSessionsKey("*"))
	if err != nil {
		return fmt.Errorf("scan user sessions: %w", err)
	}
	for _, key := range keys {
		users[strings.TrimPrefix(key, "user_sessions:")] = struct{}{}
	}

	mappings, err := m.scanKeys(ctx, "task_mapping:*")
	if err != nil {
		return fmt.Errorf("scan task mappings: %w", err)
	}
	for _, key := range mappings {
		rest := strings.TrimPrefix(key, "task_mapping:")
		if user, _, ok := strings.Cut(rest, ":"); ok {
			users[user] = struct{}{}
		}
	}

	for user := range users {
		if err := m.CleanupUser(ctx, user); err != nil {
			return err
		}
	}
	return nil
}

// liveness checks which session keys exist in one round trip.
func (m *Manager) liveness(ctx context.Context, keys []string) ([]bool, error) {
	cmds := make([]*redis.IntCmd, len(keys))
	_, err := m.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, key := range keys {
			cmds[i] = pipe.Exists(ctx, key)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	alive := make([]bool, len(keys))
	for i, cmd := range cmds {
		alive[i] = cmd.Val() > 0
	}
	return alive, nil
}

func (m *Manager) cleanupUserSessions(ctx context.Context, user string) error {
	members, err := m.client.SMembers(ctx, userSessionsKey(user)).Result()
	if err != nil {
		return fmt.Errorf("list sessions of %s: %w", user, err)
	}
	if len(members) == 0 {
		return nil
	}

	keys := make([]string, len(members))
	for i, member := range members {
		session, task, _ := splitMember(member)
		keys[i] = sessionKey(user, session, task)
	}
	alive, err := m.liveness(ctx, keys)
	if err != nil {
		return err
	}

	_, err = m.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, member := range members {
			if alive[i] {
				continue
			}
			session, task, _ := splitMember(member)
			pipe.SRem(ctx, userSessionsKey(user), member)
			pipe.SRem(ctx, taskMappingKey(user, session), task)
			pipe.Del(ctx, taskKey(task))
			m.logger.Debug("cleanup expired task %s:%s:%s", user, session, task)
		}
		return nil
	})
	return err
}

func (m *Manager) cleanupMapping(ctx context.Context, user, session string) error {
	mapping := taskMappingKey(user, session)
	tasks, err := m.client.SMembers(ctx, mapping).Result()
	if err != nil {
		return err
	}

	keys := make([]string, len(tasks))
	for i, task := range tasks {
		keys[i] = sessionKey(user, session, task)
	}
	alive, err := m.liveness(ctx, keys)
	if err != nil {
		return err
	}

	_, err = m.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, task := range tasks {
			if alive[i] {
				continue
			}
			pipe.SRem(ctx, mapping, task)
			pipe.SRem(ctx, userSessionsKey(user), session+":"+task)
			pipe.Del(ctx, taskKey(task))
		}
		return nil
	})
	if err != nil {
		return err
	}
	return m.dropIfEmpty(ctx, mapping)
}
