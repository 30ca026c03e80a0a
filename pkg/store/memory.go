package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/agentflow/orchestrator/pkg/model"
)

// MemoryStore is the in-memory reference ResultStore implementation (spec
// §4.8 "two implementations satisfy the same interface"). It is safe for
// concurrent use and is the default store when no durable backend is
// configured.
type MemoryStore struct {
	mu sync.RWMutex

	results  []*model.SubtaskResult          // append-only, index order = insertion order
	subtasks map[string]*model.Subtask        // subtaskID -> subtask
	batches  map[string][]BatchMetadata       // workflowID -> batches
	nextOrder int64
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		subtasks: make(map[string]*model.Subtask),
		batches:  make(map[string][]BatchMetadata),
	}
}

func (s *MemoryStore) Save(_ context.Context, result *model.SubtaskResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextOrder++
	result.ExecutionOrder = s.nextOrder
	if result.Checksum == "" {
		result.Seal()
	}
	cp := *result
	s.results = append(s.results, &cp)
	return nil
}

func (s *MemoryStore) SaveSubtask(_ context.Context, subtask *model.Subtask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *subtask
	s.subtasks[subtask.ID] = &cp
	return nil
}

func (s *MemoryStore) SaveBatch(_ context.Context, meta BatchMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sid := range meta.SubtaskIDs {
		if subtask, ok := s.subtasks[sid]; ok {
			s.batches[subtask.ParentWorkflowID] = append(s.batches[subtask.ParentWorkflowID], meta)
			return nil
		}
	}
	return nil
}

func (s *MemoryStore) GetBySubtaskID(_ context.Context, subtaskID string) (*model.SubtaskResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *model.SubtaskResult
	for _, r := range s.results {
		if r.SubtaskID == subtaskID && (latest == nil || r.Attempt >= latest.Attempt) {
			latest = r
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("%w: subtask %s", ErrResultNotFound, subtaskID)
	}
	cp := *latest
	return &cp, nil
}

func (s *MemoryStore) GetAllAttemptsBySubtaskID(_ context.Context, subtaskID string) ([]*model.SubtaskResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.SubtaskResult
	for _, r := range s.results {
		if r.SubtaskID == subtaskID {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Attempt < out[j].Attempt })
	return out, nil
}

func (s *MemoryStore) GetByBatchID(_ context.Context, batchID string) ([]*model.SubtaskResult, error) {
	return s.filter(func(r *model.SubtaskResult) bool { return r.BatchID == batchID })
}

func (s *MemoryStore) GetByWorkflowID(_ context.Context, workflowID string) ([]*model.SubtaskResult, error) {
	out, err := s.filter(func(r *model.SubtaskResult) bool { return r.WorkflowID == workflowID })
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExecutionOrder < out[j].ExecutionOrder })
	return out, nil
}

func (s *MemoryStore) GetByStatus(_ context.Context, status model.SubtaskStatus) ([]*model.SubtaskResult, error) {
	return s.filter(func(r *model.SubtaskResult) bool { return r.Status == status })
}

func (s *MemoryStore) GetByAgentID(_ context.Context, agentID string) ([]*model.SubtaskResult, error) {
	out, err := s.filter(func(r *model.SubtaskResult) bool { return r.AgentID == agentID })
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GeneratedAt.After(out[j].GeneratedAt) })
	return out, nil
}

func (s *MemoryStore) GetByDateRange(_ context.Context, r DateRange) ([]*model.SubtaskResult, error) {
	return s.filter(func(res *model.SubtaskResult) bool {
		return !res.GeneratedAt.Before(r.From) && !res.GeneratedAt.After(r.To)
	})
}

func (s *MemoryStore) filter(pred func(*model.SubtaskResult) bool) ([]*model.SubtaskResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.SubtaskResult
	for _, r := range s.results {
		if pred(r) {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) GetReintegrationData(ctx context.Context, workflowID string) (*ReintegrationData, error) {
	results, err := s.GetByWorkflowID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	subtasks := make(map[string]*model.Subtask)
	for id, st := range s.subtasks {
		if st.ParentWorkflowID == workflowID {
			cp := *st
			subtasks[id] = &cp
		}
	}
	batches := append([]BatchMetadata(nil), s.batches[workflowID]...)
	s.mu.RUnlock()

	levels := computeDependencyLevels(subtasks)
	summary := computeSummary(results)

	return &ReintegrationData{
		WorkflowID:       workflowID,
		Results:          results,
		Subtasks:         subtasks,
		DependencyLevels: levels,
		Batches:          batches,
		Summary:          summary,
	}, nil
}

// computeDependencyLevels assigns each subtask the smallest level L such
// that every BLOCKING predecessor is in a level < L (level 0 = no BLOCKING
// predecessors). Cyclic leftovers (shouldn't occur post-planning) are placed
// in a final level together so the function always terminates.
func computeDependencyLevels(subtasks map[string]*model.Subtask) []DependencyLevel {
	level := make(map[string]int)
	remaining := make(map[string]*model.Subtask, len(subtasks))
	for id, st := range subtasks {
		remaining[id] = st
	}

	for len(remaining) > 0 {
		progressed := false
		for id, st := range remaining {
			maxPredLevel := -1
			allKnown := true
			for _, dep := range st.Dependencies {
				if dep.Kind != model.DependencyBlocking {
					continue
				}
				if _, ok := subtasks[dep.TargetID]; !ok {
					continue // predecessor not in this workflow's set
				}
				predLevel, ok := level[dep.TargetID]
				if !ok {
					allKnown = false
					break
				}
				if predLevel > maxPredLevel {
					maxPredLevel = predLevel
				}
			}
			if allKnown {
				level[id] = maxPredLevel + 1
				delete(remaining, id)
				progressed = true
			}
		}
		if !progressed {
			// cyclic leftovers: dump them all one level above the deepest
			// resolved level so the function still terminates.
			deepest := 0
			for _, l := range level {
				if l > deepest {
					deepest = l
				}
			}
			for id := range remaining {
				level[id] = deepest + 1
			}
			break
		}
	}

	byLevel := make(map[int][]string)
	for id, l := range level {
		byLevel[l] = append(byLevel[l], id)
	}
	var out []DependencyLevel
	for l, ids := range byLevel {
		sort.Strings(ids)
		out = append(out, DependencyLevel{Level: l, SubtaskIDs: ids})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Level < out[j].Level })
	return out
}

func computeSummary(results []*model.SubtaskResult) ExecutionSummary {
	summary := ExecutionSummary{Total: len(results)}
	if len(results) == 0 {
		return summary
	}

	first := results[0].GeneratedAt
	last := results[0].GeneratedAt
	for _, r := range results {
		switch r.Status {
		case model.SubtaskCompleted:
			summary.Succeeded++
		case model.SubtaskFailed:
			summary.Failed++
		}
		if r.GeneratedAt.Before(first) {
			first = r.GeneratedAt
		}
		if r.GeneratedAt.After(last) {
			last = r.GeneratedAt
		}
	}
	summary.TotalDuration = last.Sub(first)
	summary.AvgDuration = summary.TotalDuration / time.Duration(len(results))
	return summary
}

func (s *MemoryStore) ValidateIntegrity(ctx context.Context, workflowID string) error {
	results, err := s.GetByWorkflowID(ctx, workflowID)
	if err != nil {
		return err
	}

	s.mu.RLock()
	subtasks := make(map[string]*model.Subtask)
	for id, st := range s.subtasks {
		if st.ParentWorkflowID == workflowID {
			subtasks[id] = st
		}
	}
	s.mu.RUnlock()

	for _, r := range results {
		if !r.VerifyChecksum() {
			return fmt.Errorf("%w: result %s checksum mismatch", ErrIntegrityViolation, r.ID)
		}
	}
	for id, st := range subtasks {
		for _, dep := range st.Dependencies {
			if _, ok := subtasks[dep.TargetID]; !ok {
				return fmt.Errorf("%w: subtask %s references missing dependency %s", ErrIntegrityViolation, id, dep.TargetID)
			}
		}
	}
	return nil
}

func (s *MemoryStore) DeleteWorkflow(_ context.Context, workflowID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	filtered := s.results[:0:0]
	for _, r := range s.results {
		if r.WorkflowID != workflowID {
			filtered = append(filtered, r)
		}
	}
	s.results = filtered

	for id, st := range s.subtasks {
		if st.ParentWorkflowID == workflowID {
			delete(s.subtasks, id)
		}
	}
	delete(s.batches, workflowID)
	return nil
}

func (s *MemoryStore) Close(_ context.Context) error { return nil }
