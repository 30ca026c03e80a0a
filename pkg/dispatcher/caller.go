package dispatcher

import (
	"context"

	"github.com/agentflow/orchestrator/pkg/model"
)

// AgentCaller abstracts the outbound call to an agent endpoint. Production
// wiring supplies an implementation backed by a provider codec (OpenAI,
// Anthropic, Google, or a custom HTTP contract); tests supply a stub.
//
// Implementations must honor ctx cancellation/deadline promptly — the
// dispatcher relies on context expiry to enforce subtask timeouts rather
// than racing its own timer against the call.
type AgentCaller interface {
	Call(ctx context.Context, agent *model.Agent, subtask *model.Subtask) (CallResult, error)
}

// CallResult is one agent endpoint response.
type CallResult struct {
	Content    string
	TokenUsage model.TokenUsage
	RateLimit  *model.RateLimitInfo // non-nil when the provider returned x-ratelimit-* headers
}
