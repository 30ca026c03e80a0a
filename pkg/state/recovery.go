package state

import (
	"errors"
	"fmt"
	"time"

	"github.com/agentflow/orchestrator/pkg/model"
)

// ErrNoSnapshot means AnalyzeRecoveryOptions was asked to plan recovery for
// a workflow with no retained snapshot to recover from.
var ErrNoSnapshot = errors.New("state: no snapshot available for recovery")

// maxRestartAttempts is the attempt count at which a FAILED subtask is
// given up on (skipped) rather than restarted.
const maxRestartAttempts = 3

// RecoveryAction is what should happen to one subtask on recovery.
type RecoveryAction string

const (
	ActionSkip    RecoveryAction = "SKIP"
	ActionResume  RecoveryAction = "RESUME"
	ActionRestart RecoveryAction = "RESTART"
)

// RecoveryStrategy is the overall approach chosen for a workflow's
// recovery, derived from the mix of per-subtask actions.
type RecoveryStrategy string

const (
	StrategyResume  RecoveryStrategy = "RESUME"
	StrategyPartial RecoveryStrategy = "PARTIAL"
	StrategyRestart RecoveryStrategy = "RESTART"
)

// RecoveryPlan is AnalyzeRecoveryOptions' output: a per-subtask action list
// plus the overall strategy derived from it.
type RecoveryPlan struct {
	WorkflowID string                    `json:"workflowId"`
	Strategy   RecoveryStrategy          `json:"strategy"`
	Actions    map[string]RecoveryAction `json:"actions"`
	Snapshot   *Snapshot                 `json:"-"`
}

// AnalyzeRecoveryOptions classifies every subtask in workflowID's latest
// snapshot and derives an overall recovery strategy:
//   - COMPLETED subtasks are skipped.
//   - RUNNING subtasks still within recoveryTimeout of their last attempt
//     are resumed; otherwise restarted.
//   - FAILED subtasks under maxRestartAttempts are restarted; otherwise
//     skipped.
//   - anything else (never attempted) is restarted.
//
// The overall strategy is RESUME if resumable subtasks outnumber
// restartable ones, PARTIAL if fewer than half the subtasks are skipped,
// and RESTART otherwise.
func AnalyzeRecoveryOptions(mgr *Manager, workflowID string, recoveryTimeout time.Duration) (*RecoveryPlan, error) {
	snap, ok := mgr.Latest(workflowID)
	if !ok {
		return nil, ErrNoSnapshot
	}

	now := time.Now()
	actions := make(map[string]RecoveryAction, len(snap.SubtaskProgress))
	var resumable, restartable, skipped int

	for id, p := range snap.SubtaskProgress {
		action := classify(p, now, recoveryTimeout)
		actions[id] = action
		switch action {
		case ActionResume:
			resumable++
		case ActionRestart:
			restartable++
		case ActionSkip:
			skipped++
		}
	}

	strategy := StrategyRestart
	total := len(actions)
	switch {
	case resumable > restartable:
		strategy = StrategyResume
	case total > 0 && float64(skipped)/float64(total) < 0.5:
		strategy = StrategyPartial
	}

	return &RecoveryPlan{WorkflowID: workflowID, Strategy: strategy, Actions: actions, Snapshot: snap}, nil
}

func classify(p SubtaskProgress, now time.Time, recoveryTimeout time.Duration) RecoveryAction {
	switch {
	case p.Completed:
		return ActionSkip
	case p.Running:
		if !p.LastAttemptAt.IsZero() && now.Sub(p.LastAttemptAt) < recoveryTimeout {
			return ActionResume
		}
		return ActionRestart
	case p.Failed:
		if p.Attempts < maxRestartAttempts {
			return ActionRestart
		}
		return ActionSkip
	default:
		return ActionRestart
	}
}

// ExecuteRecovery mutates state per plan: sets its status to RUNNING,
// appends a synthetic RECOVERY error entry recording the chosen strategy,
// and takes a fresh snapshot once the caller has applied plan.Actions to
// its own in-memory execution state.
func ExecuteRecovery(mgr *Manager, state *model.ExecutionState, plan *RecoveryPlan) error {
	state.Status = model.ExecutionRunning
	state.ErrorLog = append(state.ErrorLog, model.ExecutionError{
		Kind:      model.ErrorKindRecovery,
		Message:   fmt.Sprintf("recovered workflow using %s strategy", plan.Strategy),
		Timestamp: time.Now(),
	})

	_, err := mgr.Snapshot(plan.WorkflowID)
	return err
}
