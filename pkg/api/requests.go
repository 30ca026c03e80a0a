package api

import "github.com/agentflow/orchestrator/pkg/model"

// StartWorkflowRequest is the HTTP request body for POST /api/v1/workflows.
// Subtask decomposition is an external concern (see pkg/model.Subtask) — the
// caller supplies an already-sliced subtask graph and agent pool, and this
// endpoint only starts the orchestration pipeline over them.
type StartWorkflowRequest struct {
	OriginalPrompt string           `json:"originalPrompt"`
	Subtasks       []*model.Subtask `json:"subtasks" binding:"required"`
	Agents         []*model.Agent   `json:"agents" binding:"required"`
}

// HaltWorkflowRequest is the HTTP request body for POST
// /api/v1/workflows/:id/halt.
type HaltWorkflowRequest struct {
	Reason string `json:"reason"`
}

// ReintegrationRequest carries the optional rendering options for GET
// /api/v1/workflows/:id/document, passed as query parameters.
type ReintegrationRequest struct {
	Strategy         string `form:"strategy"`
	Format           string `form:"format"`
	MaxContentLength int    `form:"maxContentLength"`
}
