package model

import "time"

// Assignment pairs a subtask with the agent chosen to execute it.
type Assignment struct {
	SubtaskID string  `json:"subtaskId"`
	AgentID   string  `json:"agentId"`
	Score     float64 `json:"score"`
}

// Workflow is the top-level orchestrated request from prompt to final
// document.
type Workflow struct {
	ID              string          `json:"id"`
	OriginalPrompt  string          `json:"originalPrompt"`
	Subtasks        []*Subtask      `json:"subtasks"`
	Assignments     []Assignment    `json:"assignments"`
	Status          WorkflowStatus  `json:"status"`
	CreatedAt       time.Time       `json:"createdAt"`
}

// SubtaskByID returns the subtask with the given id, or nil.
func (w *Workflow) SubtaskByID(id string) *Subtask {
	for _, s := range w.Subtasks {
		if s.ID == id {
			return s
		}
	}
	return nil
}
