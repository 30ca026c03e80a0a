package fallback

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agentflow/orchestrator/pkg/config"
	"github.com/agentflow/orchestrator/pkg/model"
	"github.com/sony/gobreaker"
)

// ErrNoAvailableAgent means every candidate agent was excluded, circuit-open,
// or unavailable.
var ErrNoAvailableAgent = errors.New("fallback: no available agent")

// SwitchHook notifies an observer (the controller's event emitter) that a
// subtask has been reassigned from one agent to another via ExecuteFallback.
// May be nil.
type SwitchHook func(subtaskID, fromAgentID, toAgentID string)

// Manager tracks per-agent health, guards calls through a per-agent circuit
// breaker, and reselects a replacement agent when a subtask's current agent
// fails.
type Manager struct {
	cfg     config.FallbackConfig
	tracker *HealthTracker
	onSwitch SwitchHook

	breakersMu sync.Mutex
	breakers   map[string]*gobreaker.CircuitBreaker

	roundRobinCounter uint64
}

// SetSwitchHook installs fn to be notified on every successful
// ExecuteFallback agent reassignment.
func (m *Manager) SetSwitchHook(fn SwitchHook) {
	m.onSwitch = fn
}

// New builds a Manager from the resolved fallback configuration.
func New(cfg config.FallbackConfig) *Manager {
	return &Manager{
		cfg:      cfg,
		tracker:  NewHealthTracker(cfg.CircuitBreakerThreshold, time.Duration(cfg.CircuitBreakerTimeoutMs)*time.Millisecond),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Health returns the manager's view of agentID's health, for status
// reporting.
func (m *Manager) Health(agentID string) *model.AgentHealth {
	return m.tracker.Get(agentID)
}

// HealthSnapshot returns every known agent's current health record.
func (m *Manager) HealthSnapshot() map[string]*model.AgentHealth {
	return m.tracker.Snapshot()
}

func (m *Manager) breaker(agentID string) *gobreaker.CircuitBreaker {
	m.breakersMu.Lock()
	defer m.breakersMu.Unlock()
	b, ok := m.breakers[agentID]
	if !ok {
		b = newAgentBreaker(agentID, uint32(m.cfg.CircuitBreakerThreshold), time.Duration(m.cfg.CircuitBreakerTimeoutMs)*time.Millisecond)
		m.breakers[agentID] = b
	}
	return b
}

// Guard runs fn through agentID's circuit breaker and folds the outcome
// into its health record. It returns gobreaker.ErrOpenState (unwrapped via
// errors.Is) without invoking fn if the circuit is currently open.
func (m *Manager) Guard(agentID string, fn func() error) error {
	start := time.Now()
	_, err := m.breaker(agentID).Execute(func() (interface{}, error) {
		return nil, fn()
	})
	elapsed := float64(time.Since(start).Milliseconds())

	if errors.Is(err, gobreaker.ErrOpenState) {
		return err
	}
	if err != nil {
		m.tracker.RecordFailure(agentID, time.Now())
		return err
	}
	m.tracker.RecordSuccess(agentID, elapsed, time.Now())
	return nil
}

// RecordFailure folds a failed call into agentID's health without going
// through the circuit breaker — used when the caller already knows the
// call failed (e.g. a dispatcher retry loop reporting its own outcome).
func (m *Manager) RecordFailure(agentID string) {
	m.tracker.RecordFailure(agentID, time.Now())
}

// RecordSuccess folds a successful call into agentID's health.
func (m *Manager) RecordSuccess(agentID string, responseTimeMillis float64) {
	m.tracker.RecordSuccess(agentID, responseTimeMillis, time.Now())
}

// RecordRateLimit stores agentID's most recently observed rate-limit
// snapshot, surfaced from the agent API layer's response headers (spec
// requires these be visible to the fallback manager).
func (m *Manager) RecordRateLimit(agentID string, info model.RateLimitInfo) {
	m.tracker.RecordRateLimit(agentID, info)
}

// SelectAgent filters available down to agents that are enabled, not
// excluded, and not circuit-open or failed, then ranks the remainder with
// the configured strategy. It returns ErrNoAvailableAgent if nothing
// survives the filter.
func (m *Manager) SelectAgent(subtask *model.Subtask, available []*model.Agent, exclude map[string]bool) (*model.Agent, error) {
	now := time.Now()
	candidates := make([]*model.Agent, 0, len(available))
	for _, a := range available {
		if !a.Available || exclude[a.ID] {
			continue
		}
		m.tracker.MaybeHalfOpen(a.ID, now)
		h := m.tracker.Get(a.ID)
		if h.Status == model.AgentCircuitOpen || h.Status == model.AgentFailed {
			continue
		}
		candidates = append(candidates, a)
	}
	if len(candidates) == 0 {
		return nil, ErrNoAvailableAgent
	}

	switch m.cfg.Strategy {
	case config.FallbackLeastLoaded:
		return m.selectLeastLoaded(candidates), nil
	case config.FallbackCapabilityBased:
		return m.selectCapabilityBased(subtask, candidates), nil
	case config.FallbackPerformanceBased:
		return m.selectPerformanceBased(candidates), nil
	default: // config.FallbackRoundRobin, and the zero value
		return m.selectRoundRobin(candidates), nil
	}
}

func (m *Manager) selectRoundRobin(candidates []*model.Agent) *model.Agent {
	sortAgentsByID(candidates)
	idx := atomic.AddUint64(&m.roundRobinCounter, 1) - 1
	return candidates[int(idx%uint64(len(candidates)))]
}

func (m *Manager) selectLeastLoaded(candidates []*model.Agent) *model.Agent {
	best := candidates[0]
	bestLoad := m.tracker.Get(best.ID).InFlight
	for _, a := range candidates[1:] {
		load := m.tracker.Get(a.ID).InFlight
		if load < bestLoad {
			best, bestLoad = a, load
		}
	}
	return best
}

func (m *Manager) selectCapabilityBased(subtask *model.Subtask, candidates []*model.Agent) *model.Agent {
	matching := make([]*model.Agent, 0, len(candidates))
	for _, a := range candidates {
		if a.HasCategory(subtask.Type) {
			matching = append(matching, a)
		}
	}
	if len(matching) == 0 {
		matching = candidates
	}

	var best *model.Agent
	var bestScore float64 = -1
	for _, a := range matching {
		h := m.tracker.Get(a.ID)
		healthMultiplier := 0.5
		if h.Status == model.AgentHealthy {
			healthMultiplier = 1.0
		}
		score := h.SuccessRate * healthMultiplier
		if best == nil || score > bestScore {
			best, bestScore = a, score
		}
	}
	return best
}

func (m *Manager) selectPerformanceBased(candidates []*model.Agent) *model.Agent {
	var best *model.Agent
	var bestScore float64 = -1
	for _, a := range candidates {
		h := m.tracker.Get(a.ID)
		healthMultiplier := 0.5
		if h.Status == model.AgentHealthy {
			healthMultiplier = 1.0
		}
		respTimeSeconds := h.AvgResponseTimeMillis / 1000
		invRespTime := 1.0
		if respTimeSeconds > 0 {
			invRespTime = 1 / respTimeSeconds
			if invRespTime > 1 {
				invRespTime = 1
			}
		}
		loadTerm := 1 - float64(h.InFlight)/10
		if loadTerm < 0 {
			loadTerm = 0
		}
		score := 0.4*h.SuccessRate + 0.3*loadTerm + 0.2*invRespTime + 0.1*healthMultiplier
		if best == nil || score > bestScore {
			best, bestScore = a, score
		}
	}
	return best
}

func sortAgentsByID(agents []*model.Agent) {
	sort.Slice(agents, func(i, j int) bool { return agents[i].ID < agents[j].ID })
}

// ExecuteFallback records failed's failure, builds an ordered replacement
// chain of up to maxFallbackDepth distinct agents, sleeps fallbackDelay, and
// returns the first viable candidate. It returns ErrNoAvailableAgent if no
// replacement could be found.
func (m *Manager) ExecuteFallback(ctx context.Context, subtask *model.Subtask, failed *model.Agent, callErr error, available []*model.Agent) (*model.Agent, error) {
	m.tracker.RecordFailure(failed.ID, time.Now())

	exclude := map[string]bool{failed.ID: true}
	chain := make([]*model.Agent, 0, m.cfg.MaxFallbackDepth)
	for i := 0; i < m.cfg.MaxFallbackDepth; i++ {
		candidate, err := m.SelectAgent(subtask, available, exclude)
		if err != nil {
			break
		}
		chain = append(chain, candidate)
		exclude[candidate.ID] = true
	}
	if len(chain) == 0 {
		return nil, ErrNoAvailableAgent
	}

	delay := time.Duration(m.cfg.FallbackDelayMs) * time.Millisecond
	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if m.onSwitch != nil {
		m.onSwitch(subtask.ID, failed.ID, chain[0].ID)
	}
	return chain[0], nil
}
