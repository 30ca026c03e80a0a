package model

import "time"

// Progress tracks subtask counters for a running execution. The invariant
// `completed + failed + inProgress <= total` must hold at every observation
// point.
type Progress struct {
	Total      int `json:"total"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	InProgress int `json:"inProgress"`
	Cancelled  int `json:"cancelled"`
}

// Valid reports whether the progress counters satisfy the budget invariant.
func (p Progress) Valid() bool {
	return p.Completed+p.Failed+p.InProgress <= p.Total
}

// ExecutionError is a single entry in ExecutionState's error log.
type ExecutionError struct {
	Kind      ErrorKind `json:"kind"`
	Message   string    `json:"message"`
	SubtaskID string    `json:"subtaskId,omitempty"`
	AgentID   string    `json:"agentId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ExecutionState is the controller's per-workflow execution record.
type ExecutionState struct {
	WorkflowID   string           `json:"workflowId"`
	Status       ExecutionStatus  `json:"status"`
	StartedAt    *time.Time       `json:"startedAt,omitempty"`
	EndedAt      *time.Time       `json:"endedAt,omitempty"`
	Running      map[string]bool  `json:"running"`
	Completed    map[string]bool  `json:"completed"`
	Failed       map[string]bool  `json:"failed"`
	RetryCounts  map[string]int   `json:"retryCounts"`
	ErrorLog     []ExecutionError `json:"errorLog"`
	Progress     Progress         `json:"progress"`
	HaltReason   string           `json:"haltReason,omitempty"`
	LastBatch    int              `json:"lastBatch"`
}

// NewExecutionState returns a zero-valued state ready for a workflow with
// total subtasks.
func NewExecutionState(workflowID string, total int) *ExecutionState {
	return &ExecutionState{
		WorkflowID:  workflowID,
		Status:      ExecutionPending,
		Running:     make(map[string]bool),
		Completed:   make(map[string]bool),
		Failed:      make(map[string]bool),
		RetryCounts: make(map[string]int),
		Progress:    Progress{Total: total},
	}
}

// Clone returns a deep copy of s, used by the controller's ExecutionStatus
// to hand out a copy that later mutation of the live state does not reach.
func (s *ExecutionState) Clone() *ExecutionState {
	clone := *s
	clone.Running = copyBoolSet(s.Running)
	clone.Completed = copyBoolSet(s.Completed)
	clone.Failed = copyBoolSet(s.Failed)
	clone.RetryCounts = make(map[string]int, len(s.RetryCounts))
	for k, v := range s.RetryCounts {
		clone.RetryCounts[k] = v
	}
	clone.ErrorLog = append([]ExecutionError(nil), s.ErrorLog...)
	if s.StartedAt != nil {
		t := *s.StartedAt
		clone.StartedAt = &t
	}
	if s.EndedAt != nil {
		t := *s.EndedAt
		clone.EndedAt = &t
	}
	return &clone
}

func copyBoolSet(in map[string]bool) map[string]bool {
	out := make(map[string]bool, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// InOneSetOnly reports whether id appears in at most one of
// {Running, Completed, Failed}.
func (s *ExecutionState) InOneSetOnly(id string) bool {
	count := 0
	if s.Running[id] {
		count++
	}
	if s.Completed[id] {
		count++
	}
	if s.Failed[id] {
		count++
	}
	return count <= 1
}
