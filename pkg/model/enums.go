// Package model defines the core entities of the orchestrator: Subtask,
// Agent, Workflow, SubtaskResult, ExecutionState and AgentHealth, along with
// the status enums and dependency edges that tie them together.
package model

// SubtaskType categorizes the nature of work a subtask represents.
type SubtaskType string

const (
	SubtaskTypeResearch   SubtaskType = "RESEARCH"
	SubtaskTypeAnalysis   SubtaskType = "ANALYSIS"
	SubtaskTypeCreation   SubtaskType = "CREATION"
	SubtaskTypeValidation SubtaskType = "VALIDATION"
)

// Priority ranks a subtask for scheduling and agent-assignment purposes.
type Priority string

const (
	PriorityLow      Priority = "LOW"
	PriorityMedium   Priority = "MEDIUM"
	PriorityHigh     Priority = "HIGH"
	PriorityCritical Priority = "CRITICAL"
)

// Rank returns a numeric ordering for Priority, higher meaning more urgent.
// Used by the planner's deterministic ordering and the matcher's assignment
// pass, both of which process CRITICAL before HIGH before MEDIUM before LOW.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 3
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 1
	default:
		return 0
	}
}

// SubtaskStatus enumerates the lifecycle states of a Subtask. Transitions are
// constrained to PENDING → ASSIGNED → IN_PROGRESS → {COMPLETED, FAILED,
// CANCELLED}.
type SubtaskStatus string

const (
	SubtaskPending    SubtaskStatus = "PENDING"
	SubtaskAssigned   SubtaskStatus = "ASSIGNED"
	SubtaskInProgress SubtaskStatus = "IN_PROGRESS"
	SubtaskCompleted  SubtaskStatus = "COMPLETED"
	SubtaskFailed     SubtaskStatus = "FAILED"
	SubtaskCancelled  SubtaskStatus = "CANCELLED"
)

// CanTransitionTo reports whether moving from s to next is a legal lifecycle
// transition.
func (s SubtaskStatus) CanTransitionTo(next SubtaskStatus) bool {
	switch s {
	case SubtaskPending:
		return next == SubtaskAssigned || next == SubtaskCancelled
	case SubtaskAssigned:
		return next == SubtaskInProgress || next == SubtaskCancelled
	case SubtaskInProgress:
		return next == SubtaskCompleted || next == SubtaskFailed || next == SubtaskCancelled
	default:
		return false // terminal states never transition
	}
}

// IsTerminal reports whether s is one of the terminal subtask states.
func (s SubtaskStatus) IsTerminal() bool {
	return s == SubtaskCompleted || s == SubtaskFailed || s == SubtaskCancelled
}

// DependencyKind distinguishes hard scheduling constraints from soft hints.
type DependencyKind string

const (
	DependencyBlocking DependencyKind = "BLOCKING"
	DependencySoft     DependencyKind = "SOFT"
)

// ExecutionStatus enumerates the lifecycle states of a whole workflow
// execution.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "PENDING"
	ExecutionRunning   ExecutionStatus = "RUNNING"
	ExecutionCompleted ExecutionStatus = "COMPLETED"
	ExecutionFailed    ExecutionStatus = "FAILED"
	ExecutionHalted    ExecutionStatus = "HALTED"
	ExecutionPaused    ExecutionStatus = "PAUSED"
)

// WorkflowStatus mirrors the controller's top-level state machine:
// DRAFT → PLANNING → EXECUTING → terminal.
type WorkflowStatus string

const (
	WorkflowDraft     WorkflowStatus = "DRAFT"
	WorkflowPlanning  WorkflowStatus = "PLANNING"
	WorkflowExecuting WorkflowStatus = "EXECUTING"
	WorkflowCompleted WorkflowStatus = "COMPLETED"
	WorkflowFailed    WorkflowStatus = "FAILED"
	WorkflowHalted    WorkflowStatus = "HALTED"
	WorkflowPaused    WorkflowStatus = "PAUSED"
)

// AgentHealthStatus enumerates the health states the fallback manager
// tracks per agent.
type AgentHealthStatus string

const (
	AgentHealthy     AgentHealthStatus = "healthy"
	AgentDegraded    AgentHealthStatus = "degraded"
	AgentFailed      AgentHealthStatus = "failed"
	AgentCircuitOpen AgentHealthStatus = "circuit-open"
)

// ProficiencyLevel ranks an agent's skill at a capability category.
type ProficiencyLevel string

const (
	ProficiencyBeginner     ProficiencyLevel = "BEGINNER"
	ProficiencyIntermediate ProficiencyLevel = "INTERMEDIATE"
	ProficiencyAdvanced     ProficiencyLevel = "ADVANCED"
	ProficiencyExpert       ProficiencyLevel = "EXPERT"
)

// Score maps a ProficiencyLevel to the numeric scale the matcher uses when
// averaging proficiency subscores.
func (p ProficiencyLevel) Score() float64 {
	switch p {
	case ProficiencyExpert:
		return 100
	case ProficiencyAdvanced:
		return 80
	case ProficiencyIntermediate:
		return 60
	case ProficiencyBeginner:
		return 40
	default:
		return 0
	}
}

// ErrorKind is the closed taxonomy of failure kinds carried on every error.
type ErrorKind string

const (
	ErrorKindAPI                ErrorKind = "ApiError"
	ErrorKindTimeout            ErrorKind = "Timeout"
	ErrorKindCancelled          ErrorKind = "Cancelled"
	ErrorKindValidation         ErrorKind = "ValidationError"
	ErrorKindSystem             ErrorKind = "SystemError"
	ErrorKindRecovery           ErrorKind = "RecoveryError"
	ErrorKindCycleUnresolvable  ErrorKind = "CycleUnresolvable"
)
