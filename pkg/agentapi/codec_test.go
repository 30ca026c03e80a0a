package agentapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/agentflow/orchestrator/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAICodecRoundTrip(t *testing.T) {
	c := openAICodec{}
	endpoint := EndpointConfig{Model: "gpt-4o"}

	body, err := c.buildBody(endpoint, "hello", 100, 0.5)
	require.NoError(t, err)
	m := body.(map[string]interface{})
	assert.Equal(t, "gpt-4o", m["model"])
	assert.Equal(t, 100, m["max_tokens"])

	assert.Equal(t, "/chat/completions", c.buildPath(endpoint))
	assert.Equal(t, "/custom/path", c.buildPath(EndpointConfig{Path: "/custom/path"}))

	req := httptest.NewRequest(http.MethodPost, "http://x", nil)
	c.applyAuth(req, "sk-test")
	assert.Equal(t, "Bearer sk-test", req.Header.Get("Authorization"))

	content, usage, err := c.parseResponse([]byte(`{
		"choices":[{"message":{"content":"hi there"}}],
		"usage":{"prompt_tokens":3,"completion_tokens":5,"total_tokens":8}
	}`))
	require.NoError(t, err)
	assert.Equal(t, "hi there", content)
	assert.Equal(t, 8, usage.TotalTokens)

	_, _, err = c.parseResponse([]byte(`{"choices":[]}`))
	assert.Error(t, err)
}

func TestAnthropicCodecRoundTrip(t *testing.T) {
	c := anthropicCodec{}
	endpoint := EndpointConfig{Model: "claude-3-opus"}

	body, err := c.buildBody(endpoint, "hello", 200, 0.9)
	require.NoError(t, err)
	m := body.(map[string]interface{})
	assert.Equal(t, "claude-3-opus", m["model"])
	assert.NotContains(t, m, "temperature")

	assert.Equal(t, "/messages", c.buildPath(endpoint))

	req := httptest.NewRequest(http.MethodPost, "http://x", nil)
	c.applyAuth(req, "key123")
	assert.Equal(t, "key123", req.Header.Get("x-api-key"))
	assert.Equal(t, "2023-06-01", req.Header.Get("anthropic-version"))

	content, usage, err := c.parseResponse([]byte(`{
		"content":[{"text":"answer"}],
		"usage":{"input_tokens":10,"output_tokens":20}
	}`))
	require.NoError(t, err)
	assert.Equal(t, "answer", content)
	assert.Equal(t, 30, usage.TotalTokens)

	_, _, err = c.parseResponse([]byte(`{"content":[]}`))
	assert.Error(t, err)
}

func TestGoogleCodecRoundTrip(t *testing.T) {
	c := googleCodec{}
	endpoint := EndpointConfig{Model: "gemini-1.5-pro"}

	assert.Equal(t, "/models/gemini-1.5-pro:generateContent", c.buildPath(endpoint))

	req := httptest.NewRequest(http.MethodPost, "http://x?foo=bar", nil)
	c.applyAuth(req, "apikey")
	assert.Equal(t, "apikey", req.URL.Query().Get("key"))
	assert.Equal(t, "bar", req.URL.Query().Get("foo"))

	content, usage, err := c.parseResponse([]byte(`{
		"candidates":[{"content":{"parts":[{"text":"generated"}]}}],
		"usageMetadata":{"promptTokenCount":4,"candidatesTokenCount":6,"totalTokenCount":10}
	}`))
	require.NoError(t, err)
	assert.Equal(t, "generated", content)
	assert.Equal(t, 10, usage.TotalTokens)

	_, _, err = c.parseResponse([]byte(`{"candidates":[]}`))
	assert.Error(t, err)
}

func TestCustomCodecRoundTrip(t *testing.T) {
	c := customCodec{}
	endpoint := EndpointConfig{Path: "/v1/infer"}
	assert.Equal(t, "/v1/infer", c.buildPath(endpoint))

	for _, key := range []string{"content", "message", "text", "output"} {
		content, usage, err := c.parseResponse([]byte(`{"` + key + `":"result text"}`))
		require.NoError(t, err)
		assert.Equal(t, "result text", content)
		assert.Equal(t, model.TokenUsage{}, usage)
	}

	_, _, err := c.parseResponse([]byte(`{"unknown":"field"}`))
	assert.Error(t, err)
}

func TestCodecForUnknownFormat(t *testing.T) {
	_, err := codecFor(Format("bogus"))
	assert.Error(t, err)
}

func TestParseRateLimitHeadersPresent(t *testing.T) {
	h := http.Header{}
	h.Set("x-ratelimit-limit-requests", "100")
	h.Set("x-ratelimit-remaining-requests", "42")
	h.Set("x-ratelimit-reset-requests", "30s")

	info := parseRateLimitHeaders(h)
	require.NotNil(t, info)
	assert.Equal(t, 100, info.Limit)
	assert.Equal(t, 42, info.Remaining)
	assert.False(t, info.ResetAt.IsZero())
}

func TestParseRateLimitHeadersAbsent(t *testing.T) {
	assert.Nil(t, parseRateLimitHeaders(http.Header{}))
}
