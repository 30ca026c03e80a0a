// Package fallback tracks per-agent health, trips circuit breakers on
// repeated failure, and reselects a replacement agent when a subtask's
// assigned agent goes bad.
package fallback

import (
	"time"

	"github.com/agentflow/orchestrator/pkg/model"
)

// degradedThreshold is the consecutive-failure count at which a healthy
// agent is marked degraded.
const degradedThreshold = 3

// HealthTracker owns the AgentHealth record for every agent the manager has
// seen and applies the healthy/degraded/circuit-open transition rules.
type HealthTracker struct {
	circuitBreakerThreshold int
	circuitBreakerTimeout   time.Duration

	health map[string]*model.AgentHealth
}

// NewHealthTracker builds a tracker. threshold is the consecutive-failure
// count at which a degraded agent's circuit opens; timeout is how long the
// circuit stays open before it is eligible for a lazy half-open retry.
func NewHealthTracker(threshold int, timeout time.Duration) *HealthTracker {
	return &HealthTracker{
		circuitBreakerThreshold: threshold,
		circuitBreakerTimeout:   timeout,
		health:                  make(map[string]*model.AgentHealth),
	}
}

// Get returns the health record for agentID, creating a fresh healthy one
// if this is the first time the agent has been seen.
func (t *HealthTracker) Get(agentID string) *model.AgentHealth {
	h, ok := t.health[agentID]
	if !ok {
		h = &model.AgentHealth{AgentID: agentID, Status: model.AgentHealthy}
		t.health[agentID] = h
	}
	return h
}

// RecordSuccess folds a successful call into agentID's health and applies
// the degraded/circuit-open -> healthy recovery rules.
func (t *HealthTracker) RecordSuccess(agentID string, responseTimeMillis float64, now time.Time) {
	h := t.Get(agentID)
	priorFailures := h.ConsecutiveFailures
	h.RecordOutcome(true, responseTimeMillis)

	switch h.Status {
	case model.AgentCircuitOpen:
		// A circuit only reaches Guard() again after its openUntil has
		// passed (see SelectAgent/MaybeHalfOpen); a success there means the
		// half-open probe worked, so drop straight back to degraded rather
		// than healthy and let the normal recovery rule take it the rest
		// of the way.
		h.Status = model.AgentDegraded
		h.CircuitBreakerOpenUntil = nil
	case model.AgentDegraded, model.AgentFailed:
		if priorFailures == 0 {
			h.Status = model.AgentHealthy
		}
	}
}

// RecordFailure folds a failed call into agentID's health and applies the
// healthy -> degraded -> circuit-open escalation rules.
func (t *HealthTracker) RecordFailure(agentID string, now time.Time) {
	h := t.Get(agentID)
	h.RecordOutcome(false, h.AvgResponseTimeMillis)

	switch {
	case h.ConsecutiveFailures >= t.circuitBreakerThreshold:
		h.Status = model.AgentCircuitOpen
		openUntil := now.Add(t.circuitBreakerTimeout)
		h.CircuitBreakerOpenUntil = &openUntil
	case h.ConsecutiveFailures >= degradedThreshold:
		if h.Status == model.AgentHealthy {
			h.Status = model.AgentDegraded
		}
	}
}

// MaybeHalfOpen lazily reopens agentID's circuit to degraded if its
// openUntil has passed, resetting the consecutive-failure counter so the
// next call is judged on its own merits. It is a no-op for agents that
// aren't currently circuit-open or whose timeout hasn't elapsed.
func (t *HealthTracker) MaybeHalfOpen(agentID string, now time.Time) {
	h := t.Get(agentID)
	if h.IsCircuitOpen(now) {
		return
	}
	if h.Status == model.AgentCircuitOpen {
		h.Status = model.AgentDegraded
		h.CircuitBreakerOpenUntil = nil
		h.ConsecutiveFailures = 0
	}
}

// RecordRateLimit stores the most recently observed rate-limit snapshot for
// agentID, surfaced from the provider's response headers. A snapshot
// reporting zero remaining quota forces a healthy agent straight to degraded
// regardless of its consecutive-failure count — a provider that's about to
// start rejecting calls shouldn't wait for those rejections to accumulate
// before the matcher deprioritizes it.
func (t *HealthTracker) RecordRateLimit(agentID string, info model.RateLimitInfo) {
	h := t.Get(agentID)
	h.RateLimit = &info
	if info.Remaining == 0 && h.Status == model.AgentHealthy {
		h.Status = model.AgentDegraded
	}
}

// Snapshot returns the current health record for every known agent, keyed
// by agent ID. The returned map is owned by the caller; records themselves
// are not copied and must not be mutated.
func (t *HealthTracker) Snapshot() map[string]*model.AgentHealth {
	out := make(map[string]*model.AgentHealth, len(t.health))
	for id, h := range t.health {
		out[id] = h
	}
	return out
}
