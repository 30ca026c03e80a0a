package fallback

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/agentflow/orchestrator/pkg/config"
	"github.com/agentflow/orchestrator/pkg/model"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFallbackConfig(strategy config.FallbackStrategy) config.FallbackConfig {
	return config.FallbackConfig{
		Enabled:                 true,
		MaxFallbackDepth:        3,
		FallbackDelayMs:         1,
		CircuitBreakerThreshold: 5,
		CircuitBreakerTimeoutMs: 60000,
		Strategy:                strategy,
	}
}

func agentWithCapability(id string, cat model.SubtaskType) *model.Agent {
	return &model.Agent{
		ID:           id,
		Available:    true,
		Capabilities: []model.Capability{{Category: cat, Proficiency: model.ProficiencyExpert}},
	}
}

func TestSelectAgentExcludesCircuitOpenAgents(t *testing.T) {
	m := New(testFallbackConfig(config.FallbackRoundRobin))
	now := time.Now()
	for i := 0; i < 5; i++ {
		m.tracker.RecordFailure("bad", now)
	}

	agents := []*model.Agent{{ID: "bad", Available: true}, {ID: "good", Available: true}}
	picked, err := m.SelectAgent(&model.Subtask{}, agents, nil)

	require.NoError(t, err)
	assert.Equal(t, "good", picked.ID)
}

func TestSelectAgentExcludesUnavailableAgents(t *testing.T) {
	m := New(testFallbackConfig(config.FallbackRoundRobin))
	agents := []*model.Agent{{ID: "down", Available: false}, {ID: "up", Available: true}}

	picked, err := m.SelectAgent(&model.Subtask{}, agents, nil)
	require.NoError(t, err)
	assert.Equal(t, "up", picked.ID)
}

func TestSelectAgentReturnsErrWhenNothingSurvivesFilter(t *testing.T) {
	m := New(testFallbackConfig(config.FallbackRoundRobin))
	agents := []*model.Agent{{ID: "a1", Available: false}}

	_, err := m.SelectAgent(&model.Subtask{}, agents, nil)
	assert.ErrorIs(t, err, ErrNoAvailableAgent)
}

func TestSelectAgentLeastLoadedPicksLowestInFlight(t *testing.T) {
	m := New(testFallbackConfig(config.FallbackLeastLoaded))
	m.tracker.Get("busy").InFlight = 5
	m.tracker.Get("idle").InFlight = 0

	agents := []*model.Agent{{ID: "busy", Available: true}, {ID: "idle", Available: true}}
	picked, err := m.SelectAgent(&model.Subtask{}, agents, nil)

	require.NoError(t, err)
	assert.Equal(t, "idle", picked.ID)
}

func TestSelectAgentCapabilityBasedPrefersMatchingHighSuccessRate(t *testing.T) {
	m := New(testFallbackConfig(config.FallbackCapabilityBased))
	a := agentWithCapability("research-agent", model.SubtaskTypeResearch)
	b := agentWithCapability("other-agent", model.SubtaskTypeCreation)

	rh := m.tracker.Get("research-agent")
	rh.SuccessRateWindow = []bool{true, true, true}
	rh.SuccessRate = 1.0

	subtask := &model.Subtask{Type: model.SubtaskTypeResearch}
	picked, err := m.SelectAgent(subtask, []*model.Agent{a, b}, nil)

	require.NoError(t, err)
	assert.Equal(t, "research-agent", picked.ID)
}

func TestSelectAgentPerformanceBasedPrefersHealthierAgent(t *testing.T) {
	m := New(testFallbackConfig(config.FallbackPerformanceBased))
	goodH := m.tracker.Get("good")
	goodH.SuccessRate = 0.9
	goodH.AvgResponseTimeMillis = 200

	badH := m.tracker.Get("bad")
	badH.SuccessRate = 0.2
	badH.AvgResponseTimeMillis = 5000

	agents := []*model.Agent{{ID: "good", Available: true}, {ID: "bad", Available: true}}
	picked, err := m.SelectAgent(&model.Subtask{}, agents, nil)

	require.NoError(t, err)
	assert.Equal(t, "good", picked.ID)
}

func TestSelectAgentRoundRobinCyclesDeterministically(t *testing.T) {
	m := New(testFallbackConfig(config.FallbackRoundRobin))
	agents := []*model.Agent{{ID: "a1", Available: true}, {ID: "a2", Available: true}}

	first, err := m.SelectAgent(&model.Subtask{}, agents, nil)
	require.NoError(t, err)
	second, err := m.SelectAgent(&model.Subtask{}, agents, nil)
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
}

func TestExecuteFallbackBuildsChainAndReturnsFirstCandidate(t *testing.T) {
	m := New(testFallbackConfig(config.FallbackRoundRobin))
	failed := &model.Agent{ID: "failed", Available: true}
	agents := []*model.Agent{failed, {ID: "r1", Available: true}, {ID: "r2", Available: true}}

	picked, err := m.ExecuteFallback(context.Background(), &model.Subtask{}, failed, errors.New("boom"), agents)

	require.NoError(t, err)
	assert.NotEqual(t, "failed", picked.ID)
	assert.Equal(t, model.AgentDegraded, m.Health("failed").Status)
}

func TestExecuteFallbackReturnsErrWhenNoReplacementAvailable(t *testing.T) {
	m := New(testFallbackConfig(config.FallbackRoundRobin))
	failed := &model.Agent{ID: "failed", Available: true}

	_, err := m.ExecuteFallback(context.Background(), &model.Subtask{}, failed, errors.New("boom"), []*model.Agent{failed})
	assert.ErrorIs(t, err, ErrNoAvailableAgent)
}

func TestGuardOpensCircuitAfterThresholdAndRejectsFast(t *testing.T) {
	cfg := testFallbackConfig(config.FallbackRoundRobin)
	cfg.CircuitBreakerThreshold = 2
	m := New(cfg)

	for i := 0; i < 2; i++ {
		err := m.Guard("a1", func() error { return errors.New("fail") })
		assert.Error(t, err)
	}

	called := false
	err := m.Guard("a1", func() error { called = true; return nil })

	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.False(t, called, "the guarded call must not run while the circuit is open")
}

func TestGuardRecordsSuccessOnHealth(t *testing.T) {
	m := New(testFallbackConfig(config.FallbackRoundRobin))
	err := m.Guard("a1", func() error { return nil })

	require.NoError(t, err)
	assert.Equal(t, 1, len(m.Health("a1").SuccessRateWindow))
}
