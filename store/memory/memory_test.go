package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/smallnest/hilagent/store"
)

func TestMemoryCheckpointStore_New(t *testing.T) {
	t.Parallel()

	ms := NewMemoryCheckpointStore()

	if ms == nil {
		t.Fatal("Store should not be nil")
	}

	var _ store.CheckpointStore = ms
}

func TestMemoryCheckpointStore_BasicOperations(t *testing.T) {
	t.Parallel()

	t.Run("save and load", func(t *testing.T) {
		t.Parallel()

		ms := NewMemoryCheckpointStore()
		ctx := context.Background()

		cp := &store.Checkpoint{
			ID:        "task-abc:1",
			ThreadID:  "task-abc",
			NodeName:  "tools",
			State:     json.RawMessage(`{"pending":true}`),
			Timestamp: time.Now(),
			Version:   1,
			Metadata:  map[string]any{"user_id": "alice"},
		}

		if err := ms.Save(ctx, cp); err != nil {
			t.Fatalf("Failed to save: %v", err)
		}

		loaded, err := ms.Load(ctx, cp.ID)
		if err != nil {
			t.Fatalf("Failed to load: %v", err)
		}
		if loaded.NodeName != "tools" || loaded.ThreadID != "task-abc" {
			t.Errorf("unexpected checkpoint: %+v", loaded)
		}
		if string(loaded.State) != `{"pending":true}` {
			t.Errorf("state = %s", loaded.State)
		}
	})

	t.Run("stored copy is isolated from caller", func(t *testing.T) {
		t.Parallel()

		ms := NewMemoryCheckpointStore()
		ctx := context.Background()

		cp := &store.Checkpoint{ID: "x:1", ThreadID: "x", Metadata: map[string]any{"k": "v"}}
		if err := ms.Save(ctx, cp); err != nil {
			t.Fatal(err)
		}
		cp.Metadata["k"] = "changed"

		loaded, _ := ms.Load(ctx, "x:1")
		if loaded.Metadata["k"] != "v" {
			t.Errorf("metadata leaked: %v", loaded.Metadata)
		}
	})

	t.Run("missing checkpoint", func(t *testing.T) {
		t.Parallel()

		ms := NewMemoryCheckpointStore()
		_, err := ms.Load(context.Background(), "nope")
		if !errors.Is(err, store.ErrCheckpointNotFound) {
			t.Errorf("expected ErrCheckpointNotFound, got %v", err)
		}
		if _, err := ms.Latest(context.Background(), "nope"); !errors.Is(err, store.ErrCheckpointNotFound) {
			t.Errorf("expected ErrCheckpointNotFound, got %v", err)
		}
	})

	t.Run("empty id rejected", func(t *testing.T) {
		t.Parallel()

		if err := NewMemoryCheckpointStore().Save(context.Background(), &store.Checkpoint{}); err == nil {
			t.Error("expected error for empty id")
		}
	})
}

func TestMemoryCheckpointStore_ListAndLatest(t *testing.T) {
	t.Parallel()

	ms := NewMemoryCheckpointStore()
	ctx := context.Background()

	for _, v := range []int{3, 1, 2} {
		_ = ms.Save(ctx, &store.Checkpoint{ID: fmt.Sprintf("t:%d", v), ThreadID: "t", Version: v})
	}
	_ = ms.Save(ctx, &store.Checkpoint{ID: "other:1", ThreadID: "other", Version: 9})

	list, err := ms.List(ctx, "t")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 checkpoints, got %d", len(list))
	}
	for i, cp := range list {
		if cp.Version != i+1 {
			t.Errorf("list[%d].Version = %d", i, cp.Version)
		}
	}

	latest, err := ms.Latest(ctx, "t")
	if err != nil {
		t.Fatal(err)
	}
	if latest.Version != 3 {
		t.Errorf("latest version = %d, want 3", latest.Version)
	}
}

func TestMemoryCheckpointStore_DeleteAndClear(t *testing.T) {
	t.Parallel()

	ms := NewMemoryCheckpointStore()
	ctx := context.Background()

	for v := 1; v <= 3; v++ {
		_ = ms.Save(ctx, &store.Checkpoint{ID: fmt.Sprintf("t:%d", v), ThreadID: "t", Version: v})
	}

	if err := ms.Delete(ctx, "t:3"); err != nil {
		t.Fatal(err)
	}
	latest, _ := ms.Latest(ctx, "t")
	if latest.Version != 2 {
		t.Errorf("latest after delete = %d", latest.Version)
	}

	if err := ms.Delete(ctx, "never-existed"); err != nil {
		t.Errorf("delete of unknown id should be a no-op: %v", err)
	}

	if err := ms.Clear(ctx, "t"); err != nil {
		t.Fatal(err)
	}
	list, _ := ms.List(ctx, "t")
	if len(list) != 0 {
		t.Errorf("expected empty thread after clear, got %d", len(list))
	}
}

func TestMemoryCheckpointStore_ThreadSafety(t *testing.T) {
	t.Parallel()

	ms := NewMemoryCheckpointStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			thread := fmt.Sprintf("thread-%d", w%2)
			for i := 0; i < 50; i++ {
				id := fmt.Sprintf("%s:%d:%d", thread, w, i)
				_ = ms.Save(ctx, &store.Checkpoint{ID: id, ThreadID: thread, Version: i})
				_, _ = ms.Latest(ctx, thread)
				_, _ = ms.Load(ctx, id)
			}
		}(w)
	}
	wg.Wait()

	for _, thread := range []string{"thread-0", "thread-1"} {
		list, _ := ms.List(ctx, thread)
		if len(list) != 200 {
			t.Errorf("%s has %d checkpoints, want 200", thread, len(list))
		}
	}
}
