package matcher

import (
	"sort"

	"github.com/agentflow/orchestrator/pkg/model"
)

// FallbackRule names the situations under which Match/Assign may inject an
// arbitrary available agent at the floor score rather than leaving a
// subtask unmatched.
type FallbackRule string

const (
	FallbackRuleNoMatches         FallbackRule = "no_matches"
	FallbackRuleLowQualityMatches FallbackRule = "low_quality_matches"
)

// lowQualityThreshold is the score below which every candidate in a match
// list is considered low quality, triggering FallbackRuleLowQualityMatches.
const lowQualityThreshold = 20

// ApplyFallbackRules inspects candidates and, if empty or all low quality,
// appends an arbitrary available agent (not already in candidates) at
// fallbackFloorScore. Returns the rule that fired, or "" if none did.
func ApplyFallbackRules(candidates []Candidate, agents []*model.Agent) ([]Candidate, FallbackRule) {
	if len(candidates) == 0 {
		if injected, ok := injectAnyAvailable(agents, nil); ok {
			return []Candidate{injected}, FallbackRuleNoMatches
		}
		return candidates, ""
	}

	allLowQuality := true
	present := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		present[c.AgentID] = true
		if c.Score >= lowQualityThreshold {
			allLowQuality = false
		}
	}

	if allLowQuality {
		if injected, ok := injectAnyAvailable(agents, present); ok {
			return append(candidates, injected), FallbackRuleLowQualityMatches
		}
	}

	return candidates, ""
}

func injectAnyAvailable(agents []*model.Agent, exclude map[string]bool) (Candidate, bool) {
	for _, agent := range agents {
		if !agent.Available {
			continue
		}
		if exclude != nil && exclude[agent.ID] {
			continue
		}
		return Candidate{AgentID: agent.ID, Score: fallbackFloorScore, Notes: []string{"injected by fallback rule"}}, true
	}
	return Candidate{}, false
}

// Assignment pairs a subtask with the agent chosen for it.
type Assignment struct {
	SubtaskID string
	AgentID   string
	Score     float64
}

// Assign walks subtasks in priority order (CRITICAL > HIGH > MEDIUM > LOW)
// and assigns the best-scoring agent to each, preferring agents not yet
// assigned to spread load; once every agent has been used at least once it
// falls back to reassigning the best-scoring agent regardless.
func Assign(subtasks []*model.Subtask, agents []*model.Agent, cfg MatchConfig) []Assignment {
	ordered := make([]*model.Subtask, len(subtasks))
	copy(ordered, subtasks)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority.Rank() > ordered[j].Priority.Rank()
	})

	used := make(map[string]bool, len(agents))
	assignments := make([]Assignment, 0, len(ordered))

	for _, subtask := range ordered {
		candidates := Match(subtask, agents, cfg)
		candidates, _ = ApplyFallbackRules(candidates, agents)
		if len(candidates) == 0 {
			continue
		}

		chosen := pickPreferringUnused(candidates, used)
		assignments = append(assignments, Assignment{SubtaskID: subtask.ID, AgentID: chosen.AgentID, Score: chosen.Score})
		used[chosen.AgentID] = true
	}

	return assignments
}

// pickPreferringUnused returns the highest-scoring candidate not yet in
// used, or the single highest-scoring candidate overall if every candidate
// has already been used.
func pickPreferringUnused(candidates []Candidate, used map[string]bool) Candidate {
	for _, c := range candidates {
		if !used[c.AgentID] {
			return c
		}
	}
	return candidates[0]
}
