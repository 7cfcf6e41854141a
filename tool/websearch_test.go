package tool

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.Header.Get("X-Subscription-Token"))
		assert.Equal(t, "hotels in paris", r.URL.Query().Get("q"))
		assert.Equal(t, "20", r.URL.Query().Get("count"))
		w.Write([]byte(`{"web":{"results":[
			{"title":"Hilton Paris","url":"https://example.com/h","description":"Near the river"},
			{"title":"Hyatt","url":"https://example.com/y","description":"Downtown"}]}}`))
	}))
	defer srv.Close()

	ws, err := NewWebSearch(WebSearchOptions{APIKey: "key", BaseURL: srv.URL, Count: 50})
	require.NoError(t, err)
	assert.Equal(t, "web_search", ws.Name())

	out, err := ws.Call(context.Background(), `{"query":" hotels in paris "}`)
	require.NoError(t, err)
	assert.Equal(t, "1. Hilton Paris\nURL: https://example.com/h\nNear the river\n\n2. Hyatt\nURL: https://example.com/y\nDowntown", out)

	_, err = ws.Call(context.Background(), `{"query":""}`)
	assert.ErrorContains(t, err, "query is required")
}

func TestWebSearchErrors(t *testing.T) {
	_, err := NewWebSearch(WebSearchOptions{})
	assert.Error(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	ws, err := NewWebSearch(WebSearchOptions{APIKey: "key", BaseURL: srv.URL})
	require.NoError(t, err)
	_, err = ws.Call(context.Background(), `{"query":"x"}`)
	assert.ErrorContains(t, err, "status 429")
}
