package planner

import (
	"encoding/json"

	"github.com/agentflow/orchestrator/pkg/config"
	"github.com/agentflow/orchestrator/pkg/model"
)

// Batch is one dependency-respecting, token-budgeted group of subtasks
// scheduled to run concurrently.
type Batch struct {
	Index         int
	Subtasks      []*model.Subtask
	TokenEstimate int
}

// Warning records a non-fatal planning condition surfaced to the controller.
type Warning struct {
	SubtaskID string
	Kind      string // "OversizedTask"
	Message   string
}

// EstimateTokens approximates a subtask's prompt token cost as
// ceil((|title|+|desc|+|metadataJSON|)/4) + 50.
func EstimateTokens(t *model.Subtask) int {
	metaJSON, _ := json.Marshal(t.Metadata)
	chars := len(t.Title) + len(t.Description) + len(metaJSON)
	return (chars+3)/4 + 50
}

// PlanBatches greedily packs ordered (already topologically sorted)
// subtasks into batches respecting maxBatchSize, maxTokensPerBatch, and (if
// cfg.RespectDependencies) the rule that every BLOCKING predecessor of a
// task must already belong to a strictly earlier batch. A task that alone
// exceeds maxTokensPerBatch is placed in its own batch and
// reported as an OversizedTask warning rather than failing the plan.
func PlanBatches(ordered []*model.Subtask, cfg config.BatchingConfig) ([]Batch, []Warning) {
	var batches []Batch
	var warnings []Warning

	batchIndexOf := make(map[string]int)

	current := Batch{Index: 0}
	sealBatch := func() {
		if len(current.Subtasks) > 0 {
			batches = append(batches, current)
			current = Batch{Index: len(batches)}
		}
	}

	for _, t := range ordered {
		tokens := EstimateTokens(t)

		if tokens > cfg.MaxTokensPerBatch {
			sealBatch()
			oversized := Batch{Index: len(batches), Subtasks: []*model.Subtask{t}, TokenEstimate: tokens}
			batches = append(batches, oversized)
			batchIndexOf[t.ID] = oversized.Index
			current = Batch{Index: len(batches)}
			warnings = append(warnings, Warning{SubtaskID: t.ID, Kind: "OversizedTask", Message: "subtask exceeds per-batch token budget alone"})
			continue
		}

		fits := len(current.Subtasks) < cfg.MaxBatchSize &&
			current.TokenEstimate+tokens <= cfg.MaxTokensPerBatch &&
			dependenciesSatisfied(t, cfg.RespectDependencies, batchIndexOf, len(batches))

		if !fits {
			sealBatch()
		}

		current.Subtasks = append(current.Subtasks, t)
		current.TokenEstimate += tokens
		batchIndexOf[t.ID] = current.Index
	}
	sealBatch()

	return batches, warnings
}

// dependenciesSatisfied reports whether every BLOCKING predecessor of t is
// already assigned to a batch index strictly less than candidateIndex.
func dependenciesSatisfied(t *model.Subtask, respect bool, batchIndexOf map[string]int, candidateIndex int) bool {
	if !respect {
		return true
	}
	for _, dep := range t.Dependencies {
		if dep.Kind != model.DependencyBlocking {
			continue
		}
		idx, assigned := batchIndexOf[dep.TargetID]
		if !assigned || idx >= candidateIndex {
			return false
		}
	}
	return true
}
