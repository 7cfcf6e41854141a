package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryStore_PutGetDelete(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	ns := UserNamespace("alice")

	require.NoError(t, s.Put(ctx, ns, "k1", map[string]any{"data": "likes tea"}))

	it, err := s.Get(ctx, ns, "k1")
	require.NoError(t, err)
	assert.Equal(t, []string{"memories", "alice"}, it.Namespace)
	assert.Equal(t, "likes tea", it.Value["data"])

	require.NoError(t, s.Delete(ctx, ns, "k1"))
	_, err = s.Get(ctx, ns, "k1")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestInMemoryStore_PutKeepsCreatedAt(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	ns := UserNamespace("bob")

	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return t0 }
	require.NoError(t, s.Put(ctx, ns, "k", map[string]any{"data": "v1"}))

	s.now = func() time.Time { return t0.Add(time.Hour) }
	require.NoError(t, s.Put(ctx, ns, "k", map[string]any{"data": "v2"}))

	it, err := s.Get(ctx, ns, "k")
	require.NoError(t, err)
	assert.Equal(t, t0, it.CreatedAt)
	assert.Equal(t, t0.Add(time.Hour), it.UpdatedAt)
	assert.Equal(t, "v2", it.Value["data"])
}

func TestInMemoryStore_Search(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	ns := UserNamespace("carol")

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, fact := range []string{"lives in Beijing", "prefers window seats", "allergic to peanuts"} {
		ts := base.Add(time.Duration(i) * time.Minute)
		s.now = func() time.Time { return ts }
		require.NoError(t, s.Put(ctx, ns, fact, map[string]any{"data": fact}))
	}
	require.NoError(t, s.Put(ctx, UserNamespace("dave"), "x", map[string]any{"data": "other user"}))

	all, err := s.Search(ctx, ns, SearchOptions{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "allergic to peanuts", all[0].Key)

	hits, err := s.Search(ctx, ns, SearchOptions{Query: "BEIJING"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "lives in Beijing", hits[0].Key)

	page, err := s.Search(ctx, ns, SearchOptions{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "prefers window seats", page[0].Key)

	empty, err := s.Search(ctx, ns, SearchOptions{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestInMemoryStore_InvalidNamespace(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	assert.Error(t, s.Put(ctx, nil, "k", map[string]any{}))
	assert.Error(t, s.Put(ctx, []string{"a.b"}, "k", map[string]any{}))
	assert.Error(t, s.Put(ctx, []string{"memories", "u"}, "", map[string]any{}))
}

func TestWriteAndReadUserMemory(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	info, err := ReadUserMemory(ctx, s, "erin")
	require.NoError(t, err)
	assert.Equal(t, "", info)

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }
	id1, err := WriteUserMemory(ctx, s, "erin", "My name is Erin.")
	require.NoError(t, err)
	s.now = func() time.Time { return base.Add(time.Second) }
	id2, err := WriteUserMemory(ctx, s, "erin", "I live in Shanghai.")
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)

	info, err = ReadUserMemory(ctx, s, "erin")
	require.NoError(t, err)
	assert.Equal(t, "My name is Erin. I live in Shanghai.", info)
}

func TestSanitizeText(t *testing.T) {
	assert.Equal(t, "hello", SanitizeText("<script>alert(1)</script><b>hello</b>"))
	assert.Equal(t, "R&D team", SanitizeText("  R&D team "))
	assert.Equal(t, "plain text", SanitizeText("plain text"))
}
