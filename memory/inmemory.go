package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// InMemoryStore is a process-local Store.
type InMemoryStore struct {
	mu    sync.RWMutex
	items map[string]map[string]*Item
	now   func() time.Time
}

var _ Store = (*InMemoryStore)(nil)

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		items: make(map[string]map[string]*Item),
		now:   time.Now,
	}
}

func copyItem(it *Item) *Item {
	c := *it
	c.Namespace = append([]string(nil), it.Namespace...)
	c.Value = make(map[string]any, len(it.Value))
	for k, v := range it.Value {
		c.Value[k] = v
	}
	return &c
}

func (s *InMemoryStore) Put(_ context.Context, namespace []string, key string, value map[string]any) error {
	if err := validNamespace(namespace); err != nil {
		return err
	}
	if key == "" {
		return fmt.Errorf("key must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ns := joinNamespace(namespace)
	bucket, ok := s.items[ns]
	if !ok {
		bucket = make(map[string]*Item)
		s.items[ns] = bucket
	}

	now := s.now()
	created := now
	if old, ok := bucket[key]; ok {
		created = old.CreatedAt
	}
	bucket[key] = copyItem(&Item{
		Namespace: namespace,
		Key:       key,
		Value:     value,
		CreatedAt: created,
		UpdatedAt: now,
	})
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, namespace []string, key string) (*Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	it, ok := s.items[joinNamespace(namespace)][key]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, joinNamespace(namespace), key)
	}
	return copyItem(it), nil
}

func (s *InMemoryStore) Search(_ context.Context, namespace []string, opts SearchOptions) ([]*Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := strings.ToLower(opts.Query)
	var out []*Item
	for _, it := range s.items[joinNamespace(namespace)] {
		if query != "" {
			data, _ := json.Marshal(it.Value)
			if !strings.Contains(strings.ToLower(string(data)), query) {
				continue
			}
		}
		out = append(out, copyItem(it))
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].Key < out[j].Key
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if opts.Offset >= len(out) {
		return []*Item{}, nil
	}
	out = out[opts.Offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) Delete(_ context.Context, namespace []string, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ns := joinNamespace(namespace)
	delete(s.items[ns], key)
	if len(s.items[ns]) == 0 {
		delete(s.items, ns)
	}
	return nil
}
