package model

// Capability couples a skill category to a proficiency level. The category
// is compared directly with a subtask's Type (see pkg/matcher) to decide
// relevance.
type Capability struct {
	Category    SubtaskType      `json:"category"`
	Proficiency ProficiencyLevel `json:"proficiency"`
}

// PerformanceMetrics is an agent's performance summary, supplied with the
// Agent and read by the matcher; nothing in this module updates it.
type PerformanceMetrics struct {
	AvgCompletionTimeSeconds float64 `json:"avgCompletionTimeSeconds"`
	SuccessRate              float64 `json:"successRate"` // [0,1]
	QualityScore             float64 `json:"qualityScore"` // [0,1], from validator confidence
}

// Agent describes a single AI agent endpoint available for dispatch.
type Agent struct {
	ID                 string              `json:"id"`
	DisplayName        string              `json:"displayName"`
	Capabilities       []Capability        `json:"capabilities"`
	Available          bool                `json:"available"`
	CostPerMinute      *float64            `json:"costPerMinute,omitempty"`
	MaxConcurrency     *int                `json:"maxConcurrency,omitempty"`
	Performance        PerformanceMetrics  `json:"performance"`
}

// HasCategory reports whether the agent has any capability for cat.
func (a *Agent) HasCategory(cat SubtaskType) bool {
	for _, c := range a.Capabilities {
		if c.Category == cat {
			return true
		}
	}
	return false
}

// RelevantCapabilities returns the subset of a's capabilities matching cat.
func (a *Agent) RelevantCapabilities(cat SubtaskType) []Capability {
	var out []Capability
	for _, c := range a.Capabilities {
		if c.Category == cat {
			out = append(out, c)
		}
	}
	return out
}
