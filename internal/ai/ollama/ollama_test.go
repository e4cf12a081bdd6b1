package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatRequestsJSONFormat(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Write([]byte(`{"message":{"role":"assistant","content":"{\"type\":\"question\",\"content\":\"Is it old?\"}"}}`))
	}))
	defer srv.Close()

	out, err := New(srv.URL, 0).Complete(context.Background(), "llama3", "your turn")
	require.NoError(t, err)
	assert.Equal(t, `{"type":"question","content":"Is it old?"}`, out)
	assert.Equal(t, "json", body["format"])
	assert.Equal(t, false, body["stream"])
	msgs := body["messages"].([]any)
	assert.Equal(t, defaultSystemPrompt, msgs[0].(map[string]any)["content"])
}

func TestStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := New(srv.URL, 0).Complete(context.Background(), "missing-model", "hi")
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusNotFound, statusErr.Code)
}
