// Package memory stores long-term, cross-session facts about users.
//
// Items are addressed by a namespace path and a key, the same layout as a
// document store: the agent worker reads every item under
// ["memories", userID] and appends their text to the system prompt.
package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when an item does not exist.
var ErrNotFound = errors.New("memory item not found")

// Item is one stored value.
type Item struct {
	Namespace []string       `json:"namespace"`
	Key       string         `json:"key"`
	Value     map[string]any `json:"value"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// SearchOptions narrows Search. An empty Query matches every item.
type SearchOptions struct {
	Query  string
	Limit  int
	Offset int
}

// Store is a namespaced key-value store for long-term memory.
type Store interface {
	Put(ctx context.Context, namespace []string, key string, value map[string]any) error
	Get(ctx context.Context, namespace []string, key string) (*Item, error)
	// Search returns items of the namespace, most recently updated first.
	Search(ctx context.Context, namespace []string, opts SearchOptions) ([]*Item, error)
	Delete(ctx context.Context, namespace []string, key string) error
}

const defaultSearchLimit = 100

// UserNamespace is the namespace holding a user's long-term memory.
func UserNamespace(userID string) []string {
	return []string{"memories", userID}
}

func joinNamespace(ns []string) string {
	return strings.Join(ns, ".")
}

func validNamespace(ns []string) error {
	if len(ns) == 0 {
		return errors.New("namespace must not be empty")
	}
	for _, part := range ns {
		if part == "" || strings.Contains(part, ".") {
			return fmt.Errorf("invalid namespace segment %q", part)
		}
	}
	return nil
}

// WriteUserMemory stores info under a fresh key and returns that key.
func WriteUserMemory(ctx context.Context, s Store, userID, info string) (string, error) {
	id := uuid.NewString()
	if err := s.Put(ctx, UserNamespace(userID), id, map[string]any{"data": info}); err != nil {
		return "", fmt.Errorf("write long-term memory for %s: %w", userID, err)
	}
	return id, nil
}

// ReadUserMemory joins every stored fact of a user with a space, oldest first.
// It returns an empty string when the user has none.
func ReadUserMemory(ctx context.Context, s Store, userID string) (string, error) {
	items, err := s.Search(ctx, UserNamespace(userID), SearchOptions{})
	if err != nil {
		return "", fmt.Errorf("read long-term memory for %s: %w", userID, err)
	}
	parts := make([]string, 0, len(items))
	for i := len(items) - 1; i >= 0; i-- {
		item := items[i]
		if data, ok := item.Value["data"].(string); ok && data != "" {
			parts = append(parts, data)
		}
	}
	return strings.Join(parts, " "), nil
}
