package llmclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnthropicClassifierParsesToolUseResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		w.Header().Set("content-type", "application/json")
		_, _ = w.Write([]byte(`{
			"content": [
				{"type": "tool_use", "input": {"book_id":"b1","category_id":"c1","payment_mode":"upi","confidence":0.92,"reasoning":"matches grocery pattern"}}
			]
		}`))
	}))
	defer srv.Close()

	c := NewAnthropicClassifier(Config{APIKey: "test-key", BaseURL: srv.URL}, nil)
	result, err := c.Classify(context.Background(), "classify this transaction")
	require.NoError(t, err)
	assert.Equal(t, "b1", result.BookID)
	assert.Equal(t, "c1", result.CategoryID)
	assert.InDelta(t, 0.92, result.Confidence, 0.0001)
}

func TestAnthropicClassifierPropagatesHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"rate limited"}`))
	}))
	defer srv.Close()

	c := NewAnthropicClassifier(Config{APIKey: "test-key", BaseURL: srv.URL}, nil)
	_, err := c.Classify(context.Background(), "classify this transaction")
	require.Error(t, err)
}

func TestNullProviderAlwaysFails(t *testing.T) {
	_, err := NullProvider{}.Classify(context.Background(), "x")
	require.Error(t, err)
}
