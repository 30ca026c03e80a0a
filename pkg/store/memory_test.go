package store

import (
	"context"
	"testing"
	"time"

	"github.com/agentflow/orchestrator/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedSubtask(t *testing.T, s *MemoryStore, id, workflowID string, deps ...model.DependencyEdge) {
	t.Helper()
	require.NoError(t, s.SaveSubtask(context.Background(), &model.Subtask{
		ID:               id,
		ParentWorkflowID: workflowID,
		Title:            id,
		Status:           model.SubtaskCompleted,
		Dependencies:     deps,
		CreatedAt:        time.Now(),
	}))
}

func TestMemoryStoreSaveAssignsMonotonicExecutionOrder(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	r1 := &model.SubtaskResult{ID: "r1", SubtaskID: "s1", WorkflowID: "wf1", Status: model.SubtaskCompleted, GeneratedAt: time.Now()}
	r2 := &model.SubtaskResult{ID: "r2", SubtaskID: "s2", WorkflowID: "wf1", Status: model.SubtaskCompleted, GeneratedAt: time.Now()}

	require.NoError(t, s.Save(ctx, r1))
	require.NoError(t, s.Save(ctx, r2))

	assert.Less(t, r1.ExecutionOrder, r2.ExecutionOrder)
	assert.NotEmpty(t, r1.Checksum)
}

func TestMemoryStoreGetBySubtaskIDReturnsLatestAttempt(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, &model.SubtaskResult{ID: "r1", SubtaskID: "s1", WorkflowID: "wf1", Attempt: 0, Status: model.SubtaskFailed, GeneratedAt: time.Now()}))
	require.NoError(t, s.Save(ctx, &model.SubtaskResult{ID: "r2", SubtaskID: "s1", WorkflowID: "wf1", Attempt: 1, Status: model.SubtaskCompleted, GeneratedAt: time.Now()}))

	latest, err := s.GetBySubtaskID(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "r2", latest.ID)

	all, err := s.GetAllAttemptsBySubtaskID(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, 0, all[0].Attempt)
}

func TestMemoryStoreGetBySubtaskIDNotFound(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.GetBySubtaskID(context.Background(), "missing")
	require.ErrorIs(t, err, ErrResultNotFound)
}

func TestMemoryStoreValidateIntegrityDetectsChecksumMismatch(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	r := &model.SubtaskResult{ID: "r1", SubtaskID: "s1", WorkflowID: "wf1", Status: model.SubtaskCompleted, GeneratedAt: time.Now()}
	require.NoError(t, s.Save(ctx, r))

	// Tamper with the stored copy directly to simulate corruption.
	s.mu.Lock()
	s.results[0].Content = "tampered"
	s.mu.Unlock()

	err := s.ValidateIntegrity(ctx, "wf1")
	assert.ErrorIs(t, err, ErrIntegrityViolation)
}

func TestMemoryStoreValidateIntegrityDetectsDanglingDependency(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	seedSubtask(t, s, "s1", "wf1", model.DependencyEdge{TargetID: "ghost", Kind: model.DependencyBlocking})

	err := s.ValidateIntegrity(ctx, "wf1")
	assert.ErrorIs(t, err, ErrIntegrityViolation)
}

func TestComputeDependencyLevelsOrdersByBlockingDepth(t *testing.T) {
	subtasks := map[string]*model.Subtask{
		"a": {ID: "a"},
		"b": {ID: "b", Dependencies: []model.DependencyEdge{{TargetID: "a", Kind: model.DependencyBlocking}}},
		"c": {ID: "c", Dependencies: []model.DependencyEdge{{TargetID: "b", Kind: model.DependencyBlocking}}},
	}

	levels := computeDependencyLevels(subtasks)
	require.Len(t, levels, 3)
	assert.Equal(t, []string{"a"}, levels[0].SubtaskIDs)
	assert.Equal(t, []string{"b"}, levels[1].SubtaskIDs)
	assert.Equal(t, []string{"c"}, levels[2].SubtaskIDs)
}

func TestGetReintegrationDataAggregatesEverything(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	seedSubtask(t, s, "s1", "wf1")
	seedSubtask(t, s, "s2", "wf1", model.DependencyEdge{TargetID: "s1", Kind: model.DependencyBlocking})

	require.NoError(t, s.Save(ctx, &model.SubtaskResult{ID: "r1", SubtaskID: "s1", WorkflowID: "wf1", BatchID: "b0", Status: model.SubtaskCompleted, GeneratedAt: time.Now()}))
	require.NoError(t, s.Save(ctx, &model.SubtaskResult{ID: "r2", SubtaskID: "s2", WorkflowID: "wf1", BatchID: "b1", Status: model.SubtaskCompleted, GeneratedAt: time.Now()}))
	require.NoError(t, s.SaveBatch(ctx, BatchMetadata{BatchID: "b0", BatchIndex: 0, SubtaskIDs: []string{"s1"}, StartedAt: time.Now()}))

	data, err := s.GetReintegrationData(ctx, "wf1")
	require.NoError(t, err)
	assert.Len(t, data.Results, 2)
	assert.Len(t, data.Subtasks, 2)
	assert.Len(t, data.DependencyLevels, 2)
	assert.Equal(t, 2, data.Summary.Total)
	assert.Equal(t, 2, data.Summary.Succeeded)
}

func TestDeleteWorkflowRemovesAllTraces(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	seedSubtask(t, s, "s1", "wf1")
	require.NoError(t, s.Save(ctx, &model.SubtaskResult{ID: "r1", SubtaskID: "s1", WorkflowID: "wf1", Status: model.SubtaskCompleted, GeneratedAt: time.Now()}))

	require.NoError(t, s.DeleteWorkflow(ctx, "wf1"))

	results, err := s.GetByWorkflowID(ctx, "wf1")
	require.NoError(t, err)
	assert.Empty(t, results)
}
