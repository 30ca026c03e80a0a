package fallback

import (
	"time"

	"github.com/sony/gobreaker"
)

// newAgentBreaker wraps gobreaker for a single agent. gobreaker's own state
// machine (closed/half-open/open) covers the circuit mechanics; the
// manager's HealthTracker layers the extra "degraded" status on top, since
// gobreaker has no notion of a state between fully closed and tripped.
func newAgentBreaker(name string, failureThreshold uint32, openTimeout time.Duration) *gobreaker.CircuitBreaker {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1, // single probe call while half-open
		Interval:    0, // never reset counts while closed; decisions are consecutive-failure based
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failureThreshold
		},
	}
	return gobreaker.NewCircuitBreaker(settings)
}
