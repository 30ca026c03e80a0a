package model

import "time"

// RateLimitInfo is the most recently observed rate-limit snapshot for an
// agent endpoint, surfaced from the provider's `x-ratelimit-*` response
// headers.
type RateLimitInfo struct {
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"resetAt"`
}

// AgentHealth is the fallback manager's per-agent health record.
type AgentHealth struct {
	AgentID                 string            `json:"agentId"`
	Status                  AgentHealthStatus `json:"status"`
	ConsecutiveFailures     int               `json:"consecutiveFailures"`
	SuccessRateWindow       []bool            `json:"-"` // last N outcomes, newest last
	SuccessRate             float64           `json:"successRate"`
	AvgResponseTimeMillis   float64           `json:"avgResponseTimeMillis"` // EWMA, alpha=0.2
	InFlight                int               `json:"inFlight"`
	CircuitBreakerOpenUntil *time.Time        `json:"circuitBreakerOpenUntil,omitempty"`
	RateLimit               *RateLimitInfo    `json:"rateLimit,omitempty"`
}

// successWindowSize is N in the rolling success rate over the last N
// outcomes.
const successWindowSize = 100

// responseTimeEWMAAlpha is the smoothing factor for AvgResponseTimeMillis.
const responseTimeEWMAAlpha = 0.2

// RecordOutcome folds a single call outcome into the rolling window and
// EWMA response time, and updates SuccessRate. It does not itself drive
// state transitions — that's pkg/fallback's job, which owns this struct.
func (h *AgentHealth) RecordOutcome(success bool, responseTimeMillis float64) {
	h.SuccessRateWindow = append(h.SuccessRateWindow, success)
	if len(h.SuccessRateWindow) > successWindowSize {
		h.SuccessRateWindow = h.SuccessRateWindow[len(h.SuccessRateWindow)-successWindowSize:]
	}
	successes := 0
	for _, ok := range h.SuccessRateWindow {
		if ok {
			successes++
		}
	}
	h.SuccessRate = float64(successes) / float64(len(h.SuccessRateWindow))

	if h.AvgResponseTimeMillis == 0 {
		h.AvgResponseTimeMillis = responseTimeMillis
	} else {
		h.AvgResponseTimeMillis = responseTimeEWMAAlpha*responseTimeMillis + (1-responseTimeEWMAAlpha)*h.AvgResponseTimeMillis
	}

	if success {
		h.ConsecutiveFailures = 0
	} else {
		h.ConsecutiveFailures++
	}
}

// IsCircuitOpen reports whether the agent's circuit is currently open as of
// now. Circuit-open agents are skipped by the fallback manager's SelectAgent
// until their CircuitBreakerOpenUntil has passed; the matcher does not
// consult health.
func (h *AgentHealth) IsCircuitOpen(now time.Time) bool {
	return h.Status == AgentCircuitOpen && h.CircuitBreakerOpenUntil != nil && now.Before(*h.CircuitBreakerOpenUntil)
}
