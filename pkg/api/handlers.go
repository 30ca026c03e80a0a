package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/agentflow/orchestrator/pkg/controller"
	"github.com/agentflow/orchestrator/pkg/ids"
	"github.com/agentflow/orchestrator/pkg/model"
	"github.com/agentflow/orchestrator/pkg/reintegration"
)

// startWorkflowHandler handles POST /api/v1/workflows: it builds a Workflow
// from the caller-supplied subtask graph and agent pool and starts execution
// in the background, returning immediately with the assigned workflow ID.
func (s *Server) startWorkflowHandler(c *gin.Context) {
	var req StartWorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	workflow := &model.Workflow{
		ID:             ids.NewWorkflowID(),
		OriginalPrompt: req.OriginalPrompt,
		Subtasks:       req.Subtasks,
		Status:         model.WorkflowExecuting,
		CreatedAt:      time.Now(),
	}

	go func() {
		if _, err := s.controller.StartExecution(context.Background(), workflow, req.Agents); err != nil {
			_ = err // StartExecution only returns non-nil for wiring failures; execution itself never errors the goroutine
		}
	}()

	c.JSON(http.StatusAccepted, StartWorkflowResponse{WorkflowID: workflow.ID, Status: string(model.ExecutionRunning)})
}

// executionStatusHandler handles GET /api/v1/workflows/:id.
func (s *Server) executionStatusHandler(c *gin.Context) {
	workflowID := c.Param("id")
	state, ok := s.controller.ExecutionStatus(workflowID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no active run for workflow"})
		return
	}
	c.JSON(http.StatusOK, ExecutionStatusResponse{ExecutionState: state})
}

// pauseWorkflowHandler handles POST /api/v1/workflows/:id/pause.
func (s *Server) pauseWorkflowHandler(c *gin.Context) {
	s.runControlAction(c, s.controller.Pause)
}

// resumeWorkflowHandler handles POST /api/v1/workflows/:id/resume.
func (s *Server) resumeWorkflowHandler(c *gin.Context) {
	s.runControlAction(c, s.controller.Resume)
}

// haltWorkflowHandler handles POST /api/v1/workflows/:id/halt.
func (s *Server) haltWorkflowHandler(c *gin.Context) {
	var req HaltWorkflowRequest
	// The body is optional — a halt with no reason given is still valid.
	_ = c.ShouldBindJSON(&req)
	if req.Reason == "" {
		req.Reason = "halted via API"
	}

	workflowID := c.Param("id")
	if err := s.controller.Halt(workflowID, req.Reason); err != nil {
		s.writeControlError(c, err)
		return
	}
	c.JSON(http.StatusOK, ActionResponse{WorkflowID: workflowID, Status: "halted"})
}

func (s *Server) runControlAction(c *gin.Context, action func(workflowID string) error) {
	workflowID := c.Param("id")
	if err := action(workflowID); err != nil {
		s.writeControlError(c, err)
		return
	}
	c.JSON(http.StatusOK, ActionResponse{WorkflowID: workflowID, Status: "ok"})
}

func (s *Server) writeControlError(c *gin.Context, err error) {
	if errors.Is(err, controller.ErrUnknownWorkflow) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

// documentHandler handles GET /api/v1/workflows/:id/document, rendering the
// reintegrated document from whatever results have been persisted so far —
// the document is available for a HALTED or still-running workflow just as
// it is for a COMPLETED one, marked Partial when any persisted result failed.
func (s *Server) documentHandler(c *gin.Context) {
	var req ReintegrationRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	workflowID := c.Param("id")
	data, err := s.resultStore.GetReintegrationData(c.Request.Context(), workflowID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	opts := reintegration.Options{
		Strategy:         reintegration.Strategy(req.Strategy),
		Format:           reintegration.Format(req.Format),
		MaxContentLength: req.MaxContentLength,
	}
	doc, err := reintegration.Render(data, opts)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, doc)
}
