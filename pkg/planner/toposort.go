package planner

import (
	"container/heap"

	"github.com/agentflow/orchestrator/pkg/model"
)

// readyItem is one entry in the Kahn's-algorithm ready heap, keyed on
// (−priority, createdAt, id) for deterministic ordering.
type readyItem struct {
	task *model.Subtask
}

type readyHeap []readyItem

func (h readyHeap) Len() int { return len(h) }
func (h readyHeap) Less(i, j int) bool {
	a, b := h[i].task, h[j].task
	if a.Priority.Rank() != b.Priority.Rank() {
		return a.Priority.Rank() > b.Priority.Rank() // higher priority first => "−priority" ordering
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}
func (h readyHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *readyHeap) Push(x interface{}) { *h = append(*h, x.(readyItem)) }
func (h *readyHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// TopologicalSort orders tasks with Kahn's algorithm, breaking ties with a
// min-heap keyed on (−priority, createdAt, id). Returns ErrCycleUnresolvable
// if the graph still contains a cycle after ResolveCycles has run.
func TopologicalSort(tasks []*model.Subtask) ([]*model.Subtask, error) {
	byID := indexByID(tasks)

	inDegree := make(map[string]int, len(tasks))
	dependents := make(map[string][]string, len(tasks))
	for _, t := range tasks {
		if _, ok := inDegree[t.ID]; !ok {
			inDegree[t.ID] = 0
		}
		for _, dep := range t.Dependencies {
			if _, exists := byID[dep.TargetID]; !exists {
				continue
			}
			inDegree[t.ID]++
			dependents[dep.TargetID] = append(dependents[dep.TargetID], t.ID)
		}
	}

	h := &readyHeap{}
	heap.Init(h)
	for _, t := range tasks {
		if inDegree[t.ID] == 0 {
			heap.Push(h, readyItem{task: t})
		}
	}

	ordered := make([]*model.Subtask, 0, len(tasks))
	for h.Len() > 0 {
		item := heap.Pop(h).(readyItem)
		ordered = append(ordered, item.task)

		for _, depID := range dependents[item.task.ID] {
			inDegree[depID]--
			if inDegree[depID] == 0 {
				heap.Push(h, readyItem{task: byID[depID]})
			}
		}
	}

	if len(ordered) != len(tasks) {
		return nil, ErrCycleUnresolvable
	}
	return ordered, nil
}
