// Package planner turns a set of subtasks into a dependency-respecting,
// token-budgeted sequence of batches.
package planner

import (
	"errors"
	"sort"

	"github.com/agentflow/orchestrator/pkg/model"
)

// ErrCycleUnresolvable is returned by TopologicalSort when the graph still
// contains a cycle after ResolveCycles has run.
var ErrCycleUnresolvable = errors.New("dependency graph has an unresolvable cycle")

// color values for the recursive DFS white/grey/black coloring.
const (
	white = iota
	grey
	black
)

// CycleDetectionResult is DetectCycles's output: every cycle found (as an
// ordered list of subtask ids) and the set of subtask ids touched by at
// least one cycle.
type CycleDetectionResult struct {
	Cycles   [][]string
	Affected map[string]bool
}

// DetectCycles runs a recursive DFS with white/grey/black coloring over the
// BLOCKING+SOFT dependency graph. On reentry into a grey node it records the
// cycle by slicing the current path from that node's first occurrence. The
// recursion depth grows with the longest dependency chain.
func DetectCycles(tasks []*model.Subtask) CycleDetectionResult {
	byID := indexByID(tasks)
	colors := make(map[string]int, len(tasks))
	result := CycleDetectionResult{Affected: make(map[string]bool)}

	for _, t := range tasks {
		if colors[t.ID] == white {
			dfsDetectCycle(t.ID, byID, colors, nil, &result)
		}
	}
	return result
}

func dfsDetectCycle(id string, byID map[string]*model.Subtask, colors map[string]int, path []string, result *CycleDetectionResult) {
	colors[id] = grey
	path = append(path, id)

	task := byID[id]
	if task != nil {
		for _, dep := range task.Dependencies {
			if _, exists := byID[dep.TargetID]; !exists {
				continue
			}
			switch colors[dep.TargetID] {
			case white:
				dfsDetectCycle(dep.TargetID, byID, colors, path, result)
			case grey:
				cycle := extractCycle(path, dep.TargetID)
				result.Cycles = append(result.Cycles, cycle)
				for _, cid := range cycle {
					result.Affected[cid] = true
				}
			case black:
				// cross/forward edge into a finished subtree: not a cycle.
			}
		}
	}

	colors[id] = black
}

// extractCycle slices path from target's first occurrence to the end,
// forming the cycle (spec: "slicing the current path from the node's first
// occurrence").
func extractCycle(path []string, target string) []string {
	for i, id := range path {
		if id == target {
			cycle := append([]string(nil), path[i:]...)
			return cycle
		}
	}
	return append([]string(nil), target)
}

func indexByID(tasks []*model.Subtask) map[string]*model.Subtask {
	m := make(map[string]*model.Subtask, len(tasks))
	for _, t := range tasks {
		m[t.ID] = t
	}
	return m
}

// edgeCriticality scores a dependency edge: BLOCKING=10, SOFT=3, plus a
// priority contribution from the edge's source subtask (HIGH=5, MEDIUM=3,
// LOW=1, CRITICAL contributes like HIGH since it has no separate tier in
// this scale).
func edgeCriticality(source *model.Subtask, kind model.DependencyKind) int {
	score := 3
	if kind == model.DependencyBlocking {
		score = 10
	}
	switch source.Priority {
	case model.PriorityCritical, model.PriorityHigh:
		score += 5
	case model.PriorityMedium:
		score += 3
	case model.PriorityLow:
		score += 1
	}
	return score
}

// ResolveCycles removes, for each cycle found, the single lowest-criticality
// edge along that cycle, breaking ties by earliest lexicographic source id.
// Returns a new slice; the input is not mutated.
func ResolveCycles(tasks []*model.Subtask, cycles [][]string) []*model.Subtask {
	byID := make(map[string]*model.Subtask, len(tasks))
	out := make([]*model.Subtask, len(tasks))
	for i, t := range tasks {
		cp := *t
		cp.Dependencies = append([]model.DependencyEdge(nil), t.Dependencies...)
		out[i] = &cp
		byID[cp.ID] = &cp
	}

	for _, cycle := range cycles {
		removeLowestCriticalityEdge(cycle, byID)
	}

	return out
}

type cycleEdge struct {
	sourceID string
	targetID string
	kind     model.DependencyKind
	score    int
}

func removeLowestCriticalityEdge(cycle []string, byID map[string]*model.Subtask) {
	if len(cycle) == 0 {
		return
	}

	var edges []cycleEdge
	for i, sourceID := range cycle {
		targetID := cycle[(i+1)%len(cycle)]
		source, ok := byID[sourceID]
		if !ok {
			continue
		}
		for _, dep := range source.Dependencies {
			if dep.TargetID == targetID {
				edges = append(edges, cycleEdge{sourceID: sourceID, targetID: targetID, kind: dep.Kind, score: edgeCriticality(source, dep.Kind)})
			}
		}
	}
	if len(edges) == 0 {
		return
	}

	sort.SliceStable(edges, func(i, j int) bool {
		if edges[i].score != edges[j].score {
			return edges[i].score < edges[j].score
		}
		return edges[i].sourceID < edges[j].sourceID
	})

	victim := edges[0]
	source := byID[victim.sourceID]
	filtered := source.Dependencies[:0:0]
	removed := false
	for _, dep := range source.Dependencies {
		if !removed && dep.TargetID == victim.targetID && dep.Kind == victim.kind {
			removed = true
			continue
		}
		filtered = append(filtered, dep)
	}
	source.Dependencies = filtered
}
