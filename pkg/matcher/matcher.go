// Package matcher scores and assigns agents to subtasks.
package matcher

import (
	"sort"

	"github.com/agentflow/orchestrator/pkg/model"
)

// PriorityWeights weights the four scoring subscores when combining them
// into a single 0-100 match score.
type PriorityWeights struct {
	Capability   float64
	Proficiency  float64
	Cost         float64
	Availability float64
}

// DefaultPriorityWeights gives equal weight to all four subscores.
func DefaultPriorityWeights() PriorityWeights {
	return PriorityWeights{Capability: 0.25, Proficiency: 0.25, Cost: 0.25, Availability: 0.25}
}

// MatchConfig configures a single Match call.
type MatchConfig struct {
	PriorityWeights PriorityWeights
	// CostCeilingPerMinute is the per-minute cost at which an agent's cost
	// subscore bottoms out at 0. Zero defaults to
	// config.DefaultCostCeilingPerMinute.
	CostCeilingPerMinute float64
}

// defaultCostCeilingPerMinute mirrors config.DefaultCostCeilingPerMinute;
// duplicated here rather than imported to keep this package free of a
// dependency on pkg/config.
const defaultCostCeilingPerMinute = 50.0

// Candidate is one agent's score for a particular subtask.
type Candidate struct {
	AgentID     string
	Score       float64
	Notes       []string
	EstCost     float64
	EstDuration float64 // minutes
}

// fallbackFloorScore is the minimum score injected fallback candidates
// receive.
const fallbackFloorScore = 30

// defaultEstimatedMinutes gives the baseline estimated duration per subtask
// type before the per-agent performance multiplier is applied.
var defaultEstimatedMinutes = map[model.SubtaskType]float64{
	model.SubtaskTypeResearch:   20,
	model.SubtaskTypeAnalysis:   15,
	model.SubtaskTypeCreation:   30,
	model.SubtaskTypeValidation: 10,
}

// Match scores every agent against subtask and returns candidates sorted
// descending by score.
func Match(subtask *model.Subtask, agents []*model.Agent, cfg MatchConfig) []Candidate {
	weights := cfg.PriorityWeights
	if weights == (PriorityWeights{}) {
		weights = DefaultPriorityWeights()
	}
	ceiling := cfg.CostCeilingPerMinute
	if ceiling <= 0 {
		ceiling = defaultCostCeilingPerMinute
	}

	candidates := make([]Candidate, 0, len(agents))
	for _, agent := range agents {
		candidates = append(candidates, scoreAgent(subtask, agent, weights, ceiling))
	}

	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].Score > candidates[j].Score })
	return candidates
}

func scoreAgent(subtask *model.Subtask, agent *model.Agent, weights PriorityWeights, costCeiling float64) Candidate {
	capScore, notes := capabilityScore(subtask, agent)
	profScore := proficiencyScore(subtask, agent)
	estDuration := estimatedDuration(subtask, agent)
	estCost := estimatedCost(agent, estDuration)
	costScore := costScore(agent, estCost, costCeiling)
	availScore := availabilityScore(agent)

	total := weights.Capability*capScore + weights.Proficiency*profScore + weights.Cost*costScore + weights.Availability*availScore
	// subscores are already on a 0-100 scale and weights typically sum to 1;
	// normalize defensively in case callers pass weights that don't sum to 1.
	sum := weights.Capability + weights.Proficiency + weights.Cost + weights.Availability
	if sum > 0 {
		total /= sum
	}

	return Candidate{
		AgentID:     agent.ID,
		Score:       total,
		Notes:       notes,
		EstCost:     estCost,
		EstDuration: estDuration,
	}
}

func capabilityScore(subtask *model.Subtask, agent *model.Agent) (float64, []string) {
	relevant := agent.RelevantCapabilities(subtask.Type)
	score := 25 * float64(len(relevant))
	if score > 100 {
		score = 100
	}
	var notes []string
	if agent.HasCategory(subtask.Type) {
		score += 20
		notes = append(notes, "direct category match")
	}
	if score > 100 {
		score = 100
	}
	return score, notes
}

func proficiencyScore(subtask *model.Subtask, agent *model.Agent) float64 {
	relevant := agent.RelevantCapabilities(subtask.Type)
	if len(relevant) == 0 {
		return 0
	}
	var sum float64
	for _, cap := range relevant {
		sum += cap.Proficiency.Score()
	}
	return sum / float64(len(relevant))
}

func perfMultiplier(agent *model.Agent) float64 {
	m := 1.5 - (agent.Performance.QualityScore*0.3 + agent.Performance.SuccessRate*0.2)
	if m < 0.5 {
		return 0.5
	}
	return m
}

func estimatedDuration(subtask *model.Subtask, agent *model.Agent) float64 {
	if subtask.EstimatedDuration > 0 {
		return subtask.EstimatedDuration.Minutes()
	}
	base := defaultEstimatedMinutes[subtask.Type]
	return base * perfMultiplier(agent)
}

func estimatedCost(agent *model.Agent, estDurationMinutes float64) float64 {
	if agent.CostPerMinute == nil {
		return 0
	}
	return (estDurationMinutes / 60) * (*agent.CostPerMinute)
}

func costScore(agent *model.Agent, estCost, costCeiling float64) float64 {
	if agent.CostPerMinute == nil {
		return 100
	}
	score := 100 - (estCost/costCeiling)*100
	if score < 0 {
		return 0
	}
	return score
}

func availabilityScore(agent *model.Agent) float64 {
	if agent.Available {
		return 100
	}
	return 0
}
