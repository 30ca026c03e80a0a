package api

import "github.com/agentflow/orchestrator/pkg/model"

// StartWorkflowResponse is returned by POST /api/v1/workflows.
type StartWorkflowResponse struct {
	WorkflowID string `json:"workflowId"`
	Status     string `json:"status"`
}

// ActionResponse is the generic envelope for pause/resume/halt.
type ActionResponse struct {
	WorkflowID string `json:"workflowId"`
	Status     string `json:"status"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status            string `json:"status"`
	Version           string `json:"version"`
	ActiveConnections int    `json:"activeConnections"`
}

// ExecutionStatusResponse is returned by GET /api/v1/workflows/:id.
type ExecutionStatusResponse struct {
	*model.ExecutionState
}
