package matcher

import (
	"testing"

	"github.com/agentflow/orchestrator/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func researchAgent(id string, available bool) *model.Agent {
	return &model.Agent{
		ID:        id,
		Available: available,
		Capabilities: []model.Capability{
			{Category: model.SubtaskTypeResearch, Proficiency: model.ProficiencyAdvanced},
		},
		Performance: model.PerformanceMetrics{QualityScore: 0.8, SuccessRate: 0.9},
	}
}

func TestMatchRanksCapableAvailableAgentHighest(t *testing.T) {
	subtask := &model.Subtask{Type: model.SubtaskTypeResearch, Priority: model.PriorityHigh}
	agents := []*model.Agent{
		researchAgent("a-capable", true),
		{ID: "a-unrelated", Available: true, Capabilities: []model.Capability{{Category: model.SubtaskTypeCreation, Proficiency: model.ProficiencyBeginner}}},
	}

	candidates := Match(subtask, agents, MatchConfig{})
	require.Len(t, candidates, 2)
	assert.Equal(t, "a-capable", candidates[0].AgentID)
	assert.Greater(t, candidates[0].Score, candidates[1].Score)
}

func TestMatchUnavailableAgentScoresLower(t *testing.T) {
	subtask := &model.Subtask{Type: model.SubtaskTypeResearch}
	available := researchAgent("available", true)
	unavailable := researchAgent("unavailable", false)

	candidates := Match(subtask, []*model.Agent{available, unavailable}, MatchConfig{})
	byID := map[string]Candidate{}
	for _, c := range candidates {
		byID[c.AgentID] = c
	}
	assert.Greater(t, byID["available"].Score, byID["unavailable"].Score)
}

func TestApplyFallbackRulesInjectsOnNoMatches(t *testing.T) {
	agents := []*model.Agent{{ID: "spare", Available: true}}
	candidates, rule := ApplyFallbackRules(nil, agents)
	require.Len(t, candidates, 1)
	assert.Equal(t, FallbackRuleNoMatches, rule)
	assert.Equal(t, float64(fallbackFloorScore), candidates[0].Score)
}

func TestApplyFallbackRulesNoOpWhenGoodMatchExists(t *testing.T) {
	candidates := []Candidate{{AgentID: "good", Score: 80}}
	result, rule := ApplyFallbackRules(candidates, []*model.Agent{{ID: "good", Available: true}})
	assert.Equal(t, FallbackRule(""), rule)
	assert.Equal(t, candidates, result)
}

func TestAssignOrdersByPriorityAndSpreadsLoad(t *testing.T) {
	subtasks := []*model.Subtask{
		{ID: "low", Type: model.SubtaskTypeResearch, Priority: model.PriorityLow},
		{ID: "critical", Type: model.SubtaskTypeResearch, Priority: model.PriorityCritical},
	}
	agents := []*model.Agent{researchAgent("a1", true), researchAgent("a2", true)}

	assignments := Assign(subtasks, agents, MatchConfig{})
	require.Len(t, assignments, 2)
	// critical processed first
	assert.Equal(t, "critical", assignments[0].SubtaskID)
	// load spread across distinct agents since two are available
	assert.NotEqual(t, assignments[0].AgentID, assignments[1].AgentID)
}
