package agentapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/agentflow/orchestrator/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeKeyStore is a fixed-registration in-memory KeyStore for router tests.
type fakeKeyStore struct {
	key      string
	endpoint EndpointConfig
	err      error
}

func (f *fakeKeyStore) Get(ctx context.Context, agentID string) (string, error) {
	return f.key, f.err
}

func (f *fakeKeyStore) EndpointConfig(ctx context.Context, agentID string) (EndpointConfig, error) {
	return f.endpoint, f.err
}

func TestRouterCallOpenAI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-abc", r.Header.Get("Authorization"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Contains(t, body["messages"].([]interface{})[0].(map[string]interface{})["content"], "Summarize")

		w.Header().Set("x-ratelimit-limit-requests", "60")
		w.Header().Set("x-ratelimit-remaining-requests", "59")
		w.Write([]byte(`{"choices":[{"message":{"content":"done"}}],"usage":{"prompt_tokens":1,"completion_tokens":2,"total_tokens":3}}`))
	}))
	defer srv.Close()

	ks := &fakeKeyStore{key: "sk-abc", endpoint: EndpointConfig{BaseURL: srv.URL, Model: "gpt-4o", Format: FormatOpenAI}}
	router := NewRouter(ks, srv.Client())

	agent := &model.Agent{ID: "agent-1"}
	subtask := &model.Subtask{ID: "t1", Title: "Summarize", Description: "the quarterly report"}

	result, err := router.Call(context.Background(), agent, subtask)
	require.NoError(t, err)
	assert.Equal(t, "done", result.Content)
	assert.Equal(t, 3, result.TokenUsage.TotalTokens)
	require.NotNil(t, result.RateLimit)
	assert.Equal(t, 60, result.RateLimit.Limit)
	assert.Equal(t, 59, result.RateLimit.Remaining)
}

func TestRouterCallHonorsModelOverride(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "gpt-4o-mini", body["model"])
		w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer srv.Close()

	ks := &fakeKeyStore{key: "sk-abc", endpoint: EndpointConfig{BaseURL: srv.URL, Model: "gpt-4o", Format: FormatOpenAI}}
	router := NewRouter(ks, srv.Client())

	subtask := &model.Subtask{ID: "t1", Description: "x", Metadata: model.SubtaskMetadata{ModelOverride: "gpt-4o-mini"}}
	_, err := router.Call(context.Background(), &model.Agent{ID: "agent-1"}, subtask)
	require.NoError(t, err)
}

func TestRouterCallPropagatesHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"boom"}`))
	}))
	defer srv.Close()

	ks := &fakeKeyStore{key: "sk-abc", endpoint: EndpointConfig{BaseURL: srv.URL, Format: FormatOpenAI}}
	router := NewRouter(ks, srv.Client())

	_, err := router.Call(context.Background(), &model.Agent{ID: "agent-1"}, &model.Subtask{ID: "t1", Description: "x"})
	assert.Error(t, err)
}

func TestRouterCallUsesCustomAuthHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "sk-abc", r.Header.Get("X-Api-Key"))
		assert.Equal(t, "/infer", r.URL.Path)
		w.Write([]byte(`{"content":"custom result"}`))
	}))
	defer srv.Close()

	ks := &fakeKeyStore{key: "sk-abc", endpoint: EndpointConfig{
		BaseURL: srv.URL, Path: "/infer", Format: FormatCustom, AuthHeader: "X-Api-Key",
	}}
	router := NewRouter(ks, srv.Client())

	result, err := router.Call(context.Background(), &model.Agent{ID: "agent-1"}, &model.Subtask{ID: "t1", Description: "x"})
	require.NoError(t, err)
	assert.Equal(t, "custom result", result.Content)
}

func TestRouterCallPropagatesKeyStoreError(t *testing.T) {
	ks := &fakeKeyStore{err: ErrKeyNotFound}
	router := NewRouter(ks, nil)

	_, err := router.Call(context.Background(), &model.Agent{ID: "agent-1"}, &model.Subtask{ID: "t1", Description: "x"})
	assert.Error(t, err)
}
