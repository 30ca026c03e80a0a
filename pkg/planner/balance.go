package planner

import "github.com/agentflow/orchestrator/pkg/model"

// maxBalanceIterations caps BalanceWorkloads's move loop.
const maxBalanceIterations = 10

// overloadRatio is the heaviest/lightest ratio threshold that triggers a
// rebalancing move.
const overloadRatio = 1.2

// BalanceWorkloads moves the last subtask of the heaviest batch to the
// lightest batch, repeating while the heaviest batch's token load exceeds
// 1.2x the lightest's, capped at 10 iterations, and only when the move does
// not violate BLOCKING dependency ordering. batches is mutated in place and
// also returned.
func BalanceWorkloads(batches []Batch) []Batch {
	if len(batches) < 2 {
		return batches
	}

	for i := 0; i < maxBalanceIterations; i++ {
		heaviest, lightest := extremeBatches(batches)
		if heaviest == lightest {
			break
		}
		if float64(batches[heaviest].TokenEstimate) <= overloadRatio*float64(batches[lightest].TokenEstimate) {
			break
		}

		moved := moveLastMovableTask(batches, heaviest, lightest)
		if !moved {
			break
		}
	}

	return batches
}

func extremeBatches(batches []Batch) (heaviestIdx, lightestIdx int) {
	for i, b := range batches {
		if b.TokenEstimate > batches[heaviestIdx].TokenEstimate {
			heaviestIdx = i
		}
		if b.TokenEstimate < batches[lightestIdx].TokenEstimate {
			lightestIdx = i
		}
	}
	return heaviestIdx, lightestIdx
}

// moveLastMovableTask scans from the end of batches[from].Subtasks for a
// task whose move to batches[to] would not violate BLOCKING dependency
// ordering, and moves the first one found. Returns false if none qualifies.
func moveLastMovableTask(batches []Batch, from, to int) bool {
	src := &batches[from]
	dst := &batches[to]

	for i := len(src.Subtasks) - 1; i >= 0; i-- {
		task := src.Subtasks[i]
		if !canMoveWithoutViolatingDependencies(batches, task, to) {
			continue
		}

		tokens := EstimateTokens(task)
		src.Subtasks = append(src.Subtasks[:i], src.Subtasks[i+1:]...)
		src.TokenEstimate -= tokens
		dst.Subtasks = append(dst.Subtasks, task)
		dst.TokenEstimate += tokens
		return true
	}
	return false
}

// canMoveWithoutViolatingDependencies checks both directions: every BLOCKING
// predecessor of task must remain in a batch index < to, and no subtask in
// any batch must have a BLOCKING dependency on task that would now sit in a
// batch index <= to's batch index (i.e. task must still precede its
// dependents).
func canMoveWithoutViolatingDependencies(batches []Batch, task *model.Subtask, to int) bool {
	batchIndexOf := make(map[string]int)
	for _, b := range batches {
		for _, st := range b.Subtasks {
			if st.ID == task.ID {
				continue
			}
			batchIndexOf[st.ID] = b.Index
		}
	}

	for _, dep := range task.Dependencies {
		if dep.Kind != model.DependencyBlocking {
			continue
		}
		if predIdx, ok := batchIndexOf[dep.TargetID]; ok && predIdx >= to {
			return false
		}
	}

	for _, b := range batches {
		for _, other := range b.Subtasks {
			if other.ID == task.ID {
				continue
			}
			for _, dep := range other.Dependencies {
				if dep.Kind == model.DependencyBlocking && dep.TargetID == task.ID && b.Index <= to {
					return false
				}
			}
		}
	}

	return true
}
