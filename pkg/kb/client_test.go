package kb

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adviseriq/advisor-cli/internal/resilience"
)

func TestSearch_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/search", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var req searchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "export workflows", req.Query)
		assert.Equal(t, 5, req.Limit)
		assert.Equal(t, "how-to", req.Category)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results": [
			{"id": "doc-1", "title": "Exporting data", "content": "...", "relevance": 0.92},
			{"id": "doc-2", "title": "Scheduled exports", "content": "...", "relevance": 0.77}
		]}`))
	}))
	defer srv.Close()

	c := NewClient("key", WithBaseURL(srv.URL))
	snippets, err := c.Search(context.Background(), "export workflows",
		WithLimit(5), WithCategory("how-to"))
	require.NoError(t, err)
	require.Len(t, snippets, 2)
	assert.Equal(t, "doc-1", snippets[0].ID)
	assert.InDelta(t, 0.92, snippets[0].Relevance, 1e-9)
}

func TestSearch_EmptyQueryTreatedAsNoResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "query reduced to nothing", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c := NewClient("key", WithBaseURL(srv.URL))
	snippets, err := c.Search(context.Background(), "???")
	require.NoError(t, err)
	assert.Empty(t, snippets)
}

func TestSearch_GatewayTimeoutIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream timeout", http.StatusGatewayTimeout)
	}))
	defer srv.Close()

	c := NewClient("key", WithBaseURL(srv.URL))
	_, err := c.Search(context.Background(), "anything")
	require.Error(t, err)
	assert.True(t, resilience.IsUnavailable(err))
}

func TestSearch_BadRequestPropagates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "limit too large", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient("key", WithBaseURL(srv.URL))
	_, err := c.Search(context.Background(), "anything", WithLimit(10000))
	require.Error(t, err)
	assert.False(t, resilience.IsUnavailable(err))
}
