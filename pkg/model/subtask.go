package model

import "time"

// DependencyEdge names a predecessor subtask and how it constrains
// scheduling. Dependencies are stored as {targetID, kind} value edges keyed
// into the workflow's subtask table, never as pointers into other Subtask
// structs, avoiding cyclic back-references between loaded subtasks.
type DependencyEdge struct {
	TargetID string         `json:"targetId"`
	Kind     DependencyKind `json:"kind"`
}

// ValidationConfig configures the validator for a single subtask. Rules are
// opaque to the planner/dispatcher; only the validator interprets them.
type ValidationConfig struct {
	Rules            []ValidationRule `json:"rules"`
	MinThreshold     float64          `json:"minThreshold"`     // default 0.7
	HaltThreshold     float64         `json:"haltThreshold"`    // default 0.2
	RetryOnFailure   bool             `json:"retryOnFailure"`
}

// RuleKind is the closed set of validator rule kinds.
type RuleKind string

const (
	RuleKindSchema   RuleKind = "SCHEMA"
	RuleKindRegex    RuleKind = "REGEX"
	RuleKindSemantic RuleKind = "SEMANTIC"
	RuleKindCustom   RuleKind = "CUSTOM"
)

// ValidationRule is a single rule entry in a ValidationConfig.
type ValidationRule struct {
	Kind     RuleKind               `json:"kind"`
	Name     string                 `json:"name"`
	Config   map[string]interface{} `json:"config"`
	Weight   float64                `json:"weight"`
	Required bool                   `json:"required"`
}

// MultipassConfig controls whether a subtask is eligible for iterative
// re-execution to improve validator confidence.
type MultipassConfig struct {
	Enabled bool `json:"enabled"`
}

// SubtaskMetadata replaces a free-form metadata bag with explicit recognized
// fields; Opaque carries anything the caller attaches that the orchestrator
// itself never interprets.
type SubtaskMetadata struct {
	Multipass      MultipassConfig        `json:"multipass"`
	ModelOverride  string                 `json:"modelOverride,omitempty"`
	Validation     ValidationConfig       `json:"validation"`
	Opaque         map[string]interface{} `json:"opaque,omitempty"`
}

// Subtask is the atomic unit of agent work within a Workflow.
type Subtask struct {
	ID                string            `json:"id"`
	ParentWorkflowID  string            `json:"parentWorkflowId"`
	Title             string            `json:"title"`
	Description       string            `json:"description"`
	Type              SubtaskType       `json:"type"`
	Priority          Priority          `json:"priority"`
	Status            SubtaskStatus     `json:"status"`
	Dependencies      []DependencyEdge  `json:"dependencies"`
	Result            *SubtaskResult    `json:"result,omitempty"`
	EstimatedDuration time.Duration     `json:"estimatedDuration,omitempty"`
	AssignedAgentID   string            `json:"assignedAgentId,omitempty"`
	Metadata          SubtaskMetadata   `json:"metadata"`
	CreatedAt         time.Time         `json:"createdAt"`
}

// TransitionTo mutates s.Status if the transition is legal, returning false
// otherwise. Callers that own subtask-level state (the dispatcher) should
// always route status changes through this method rather than assigning
// Status directly.
func (s *Subtask) TransitionTo(next SubtaskStatus) bool {
	if !s.Status.CanTransitionTo(next) {
		return false
	}
	s.Status = next
	return true
}

// HasBlockingDependencyOn reports whether s has a BLOCKING edge targeting id.
func (s *Subtask) HasBlockingDependencyOn(id string) bool {
	for _, dep := range s.Dependencies {
		if dep.TargetID == id && dep.Kind == DependencyBlocking {
			return true
		}
	}
	return false
}
