package agentapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/agentflow/orchestrator/pkg/dispatcher"
	"github.com/agentflow/orchestrator/pkg/model"
)

// defaultMaxTokens/defaultTemperature are applied when a subtask doesn't
// override them — the subtask schema carries no per-call generation
// parameters beyond ModelOverride, so a single package-wide default covers
// every provider.
const (
	defaultMaxTokens   = 2048
	defaultTemperature = 0.7
)

// Router implements dispatcher.AgentCaller: it resolves an agent's endpoint
// and key from a KeyStore, builds a prompt from the subtask, and dispatches
// through the codec selected by the endpoint's Format.
type Router struct {
	keys   KeyStore
	client *http.Client
}

// NewRouter builds a Router. client may be nil, in which case
// http.DefaultClient is used.
func NewRouter(keys KeyStore, client *http.Client) *Router {
	if client == nil {
		client = http.DefaultClient
	}
	return &Router{keys: keys, client: client}
}

var _ dispatcher.AgentCaller = (*Router)(nil)

// Call resolves agent's endpoint configuration and key, builds the
// provider-specific request, and parses its response. ctx governs the whole
// round trip — callers (the dispatcher) rely on ctx expiry to enforce
// subtask timeouts.
func (r *Router) Call(ctx context.Context, agent *model.Agent, subtask *model.Subtask) (dispatcher.CallResult, error) {
	endpoint, err := r.keys.EndpointConfig(ctx, agent.ID)
	if err != nil {
		return dispatcher.CallResult{}, fmt.Errorf("agentapi: resolving endpoint for %s: %w", agent.ID, err)
	}
	apiKey, err := r.keys.Get(ctx, agent.ID)
	if err != nil {
		return dispatcher.CallResult{}, fmt.Errorf("agentapi: resolving key for %s: %w", agent.ID, err)
	}
	if subtask.Metadata.ModelOverride != "" {
		endpoint.Model = subtask.Metadata.ModelOverride
	}

	c, err := codecFor(endpoint.Format)
	if err != nil {
		return dispatcher.CallResult{}, err
	}

	prompt := buildPrompt(subtask)
	body, err := c.buildBody(endpoint, prompt, defaultMaxTokens, defaultTemperature)
	if err != nil {
		return dispatcher.CallResult{}, fmt.Errorf("agentapi: building request body: %w", err)
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		return dispatcher.CallResult{}, fmt.Errorf("agentapi: encoding request body: %w", err)
	}

	url := strings.TrimRight(endpoint.BaseURL, "/") + c.buildPath(endpoint)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return dispatcher.CallResult{}, fmt.Errorf("agentapi: building HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range endpoint.Headers {
		req.Header.Set(k, v)
	}
	if endpoint.AuthHeader != "" {
		req.Header.Set(endpoint.AuthHeader, apiKey)
	} else {
		c.applyAuth(req, apiKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return dispatcher.CallResult{}, fmt.Errorf("agentapi: calling %s: %w", agent.ID, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return dispatcher.CallResult{}, fmt.Errorf("agentapi: reading response from %s: %w", agent.ID, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return dispatcher.CallResult{}, fmt.Errorf("agentapi: %s returned status %d: %s", agent.ID, resp.StatusCode, truncate(respBody, 500))
	}

	content, usage, err := c.parseResponse(respBody)
	if err != nil {
		return dispatcher.CallResult{}, fmt.Errorf("agentapi: parsing response from %s: %w", agent.ID, err)
	}

	return dispatcher.CallResult{
		Content:    content,
		TokenUsage: usage,
		RateLimit:  parseRateLimitHeaders(resp.Header),
	}, nil
}

// buildPrompt concatenates the subtask's title and description into the
// single flat prompt every one of the four wire formats expects (none of
// them model a richer conversation structure for this system's single-shot
// subtask calls).
func buildPrompt(subtask *model.Subtask) string {
	var b strings.Builder
	if subtask.Title != "" {
		b.WriteString(subtask.Title)
		b.WriteString("\n\n")
	}
	b.WriteString(subtask.Description)
	return b.String()
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
