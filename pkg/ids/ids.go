// Package ids generates unique identifiers for every entity kind in the
// orchestrator. All IDs are UUIDv4, prefixed so that a log line or stored
// record is self-describing about what kind of entity it names.
package ids

import "github.com/google/uuid"

// New returns a freshly generated UUIDv4 string with no prefix.
func New() string {
	return uuid.NewString()
}

// NewSubtaskID returns a new subtask identifier.
func NewSubtaskID() string { return "subtask-" + uuid.NewString() }

// NewWorkflowID returns a new workflow identifier.
func NewWorkflowID() string { return "workflow-" + uuid.NewString() }

// NewBatchID returns a new batch identifier.
func NewBatchID() string { return "batch-" + uuid.NewString() }

// NewResultID returns a new subtask-result identifier.
func NewResultID() string { return "result-" + uuid.NewString() }

// NewSnapshotID returns a new snapshot identifier.
func NewSnapshotID() string { return "snapshot-" + uuid.NewString() }

// NewAgentID returns a new agent identifier.
func NewAgentID() string { return "agent-" + uuid.NewString() }
