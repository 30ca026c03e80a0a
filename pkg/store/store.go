// Package store persists SubtaskResults and serves the aggregate read paths
// the controller and reintegration stage need: per-subtask/batch/workflow/
// status/agent/date-range lookups and the reintegration aggregate.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/agentflow/orchestrator/pkg/model"
)

// ErrResultNotFound indicates no SubtaskResult exists for the given key.
var ErrResultNotFound = errors.New("result not found")

// ErrIntegrityViolation indicates ValidateIntegrity found a checksum
// mismatch or a dangling dependency reference.
var ErrIntegrityViolation = errors.New("integrity violation")

// DateRange bounds a query by GeneratedAt, inclusive on both ends.
type DateRange struct {
	From time.Time
	To   time.Time
}

// ExecutionSummary aggregates a workflow's results for reintegration.
type ExecutionSummary struct {
	Total         int           `json:"total"`
	Succeeded     int           `json:"succeeded"`
	Failed        int           `json:"failed"`
	TotalDuration time.Duration `json:"totalDuration"`
	AvgDuration   time.Duration `json:"avgDuration"`
}

// DependencyLevel is one level of the dependency graph computed for
// reintegration's by-dependency-level sectioning strategy: every subtask in
// Level N has all its BLOCKING predecessors in levels < N.
type DependencyLevel struct {
	Level      int      `json:"level"`
	SubtaskIDs []string `json:"subtaskIds"`
}

// BatchMetadata records which batch each subtask ran in and when, for the
// by-execution-order sectioning strategy.
type BatchMetadata struct {
	BatchID    string    `json:"batchId"`
	BatchIndex int       `json:"batchIndex"`
	SubtaskIDs []string  `json:"subtaskIds"`
	StartedAt  time.Time `json:"startedAt"`
}

// ReintegrationData is the aggregate GetReintegrationData returns: results in
// executionOrder, the dependency graph by level, batch metadata, and a
// summary — everything the reintegration stage needs without further store
// round-trips.
type ReintegrationData struct {
	WorkflowID       string                  `json:"workflowId"`
	Results          []*model.SubtaskResult  `json:"results"` // ordered by ExecutionOrder
	Subtasks         map[string]*model.Subtask `json:"subtasks"`
	DependencyLevels []DependencyLevel       `json:"dependencyLevels"`
	Batches          []BatchMetadata         `json:"batches"`
	Summary          ExecutionSummary        `json:"summary"`
}

// ResultStore is the append-mostly persistence interface satisfied by both
// the in-memory reference implementation and the durable pgx-backed one.
// Implementations must assign a monotonically increasing ExecutionOrder to
// each result at the moment it is persisted — callers never set it
// themselves.
type ResultStore interface {
	// Save persists result, assigning its ExecutionOrder and sealing its
	// checksum if not already sealed. Save never mutates an existing record;
	// every call appends (the store is append-mostly, not last-write-wins).
	Save(ctx context.Context, result *model.SubtaskResult) error

	// SaveSubtask persists the subtask definition, needed by
	// GetReintegrationData to resolve dependency levels and titles.
	SaveSubtask(ctx context.Context, subtask *model.Subtask) error

	// SaveBatch records which subtasks ran in a batch and when it started,
	// needed by the by-execution-order sectioning strategy.
	SaveBatch(ctx context.Context, meta BatchMetadata) error

	// GetBySubtaskID returns the most recent result for subtaskID (retries
	// may produce several; callers wanting every attempt use
	// GetAllAttemptsBySubtaskID).
	GetBySubtaskID(ctx context.Context, subtaskID string) (*model.SubtaskResult, error)

	// GetAllAttemptsBySubtaskID returns every persisted attempt for
	// subtaskID, ordered by Attempt ascending.
	GetAllAttemptsBySubtaskID(ctx context.Context, subtaskID string) ([]*model.SubtaskResult, error)

	// GetByBatchID returns every result produced within batchID.
	GetByBatchID(ctx context.Context, batchID string) ([]*model.SubtaskResult, error)

	// GetByWorkflowID returns every result for workflowID, ordered by
	// ExecutionOrder ascending.
	GetByWorkflowID(ctx context.Context, workflowID string) ([]*model.SubtaskResult, error)

	// GetByStatus returns every result across all workflows in the given
	// status.
	GetByStatus(ctx context.Context, status model.SubtaskStatus) ([]*model.SubtaskResult, error)

	// GetByAgentID returns every result produced by agentID, most recent
	// first.
	GetByAgentID(ctx context.Context, agentID string) ([]*model.SubtaskResult, error)

	// GetByDateRange returns every result whose GeneratedAt falls within r.
	GetByDateRange(ctx context.Context, r DateRange) ([]*model.SubtaskResult, error)

	// GetReintegrationData assembles the full aggregate reintegration needs
	// for workflowID in one call.
	GetReintegrationData(ctx context.Context, workflowID string) (*ReintegrationData, error)

	// ValidateIntegrity recomputes every stored result's checksum for
	// workflowID and confirms every dependency referenced by every stored
	// subtask is itself present in the store, returning ErrIntegrityViolation
	// (wrapped with detail) on the first failure found.
	ValidateIntegrity(ctx context.Context, workflowID string) error

	// DeleteWorkflow removes all results, subtasks, and batch metadata for
	// workflowID.
	DeleteWorkflow(ctx context.Context, workflowID string) error

	// Close releases any held resources (connection pools, file handles).
	Close(ctx context.Context) error
}
