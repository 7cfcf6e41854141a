package sqlite

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/smallnest/hilagent/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SqliteCheckpointStore {
	t.Helper()
	s, err := NewSqliteCheckpointStore(SqliteOptions{Path: filepath.Join(t.TempDir(), "cp.db")})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSqliteCheckpointStore_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cp := &store.Checkpoint{
		ID:        "task-1:1",
		ThreadID:  "task-1",
		NodeName:  "agent",
		State:     json.RawMessage(`{"messages":[{"type":"human","content":"hi"}]}`),
		Metadata:  map[string]any{"source": "input"},
		Timestamp: time.Now().UTC().Truncate(time.Second),
		Version:   1,
	}
	require.NoError(t, s.Save(ctx, cp))

	loaded, err := s.Load(ctx, cp.ID)
	require.NoError(t, err)
	assert.Equal(t, cp.ThreadID, loaded.ThreadID)
	assert.JSONEq(t, string(cp.State), string(loaded.State))
	assert.Equal(t, "input", loaded.Metadata["source"])
	assert.True(t, cp.Timestamp.Equal(loaded.Timestamp))

	// upsert on the same id
	cp.NodeName = "tools"
	require.NoError(t, s.Save(ctx, cp))
	loaded, err = s.Load(ctx, cp.ID)
	require.NoError(t, err)
	assert.Equal(t, "tools", loaded.NodeName)

	_, err = s.Load(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrCheckpointNotFound)
}

func TestSqliteCheckpointStore_LatestListClear(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, v := range []int{1, 3, 2} {
		require.NoError(t, s.Save(ctx, &store.Checkpoint{
			ID:        "t:" + string(rune('0'+v)),
			ThreadID:  "t",
			NodeName:  "agent",
			State:     json.RawMessage(`{}`),
			Timestamp: time.Now(),
			Version:   v,
		}))
	}

	latest, err := s.Latest(ctx, "t")
	require.NoError(t, err)
	assert.Equal(t, 3, latest.Version)

	list, err := s.List(ctx, "t")
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{list[0].Version, list[1].Version, list[2].Version})

	require.NoError(t, s.Delete(ctx, "t:3"))
	latest, err = s.Latest(ctx, "t")
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Version)

	require.NoError(t, s.Clear(ctx, "t"))
	_, err = s.Latest(ctx, "t")
	assert.ErrorIs(t, err, store.ErrCheckpointNotFound)

	assert.NoError(t, s.Ping(ctx))
}
