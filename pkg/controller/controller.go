// Package controller runs a workflow's top-level lifecycle: plan its
// batches, dispatch each in order under a pause/halt-aware barrier, fold
// per-subtask outcomes back into execution state, and emit the event
// stream external subscribers observe.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/agentflow/orchestrator/pkg/config"
	"github.com/agentflow/orchestrator/pkg/dispatcher"
	"github.com/agentflow/orchestrator/pkg/events"
	"github.com/agentflow/orchestrator/pkg/fallback"
	"github.com/agentflow/orchestrator/pkg/matcher"
	"github.com/agentflow/orchestrator/pkg/model"
	"github.com/agentflow/orchestrator/pkg/planner"
	"github.com/agentflow/orchestrator/pkg/state"
	"github.com/agentflow/orchestrator/pkg/store"
)

// ErrUnknownWorkflow is returned by Pause/Resume/Halt for a workflow with
// no active run.
var ErrUnknownWorkflow = errors.New("controller: no active run for workflow")

// pauseWaitInterval is how often a halted-for-pause batch loop rechecks
// isPaused before proceeding, per spec step 3's "while paused, sleep 100ms".
const pauseWaitInterval = 100 * time.Millisecond

// run holds the live, mutable control state for one in-flight workflow
// execution. The running-subtasks/failed-count bookkeeping it wraps is
// owned exclusively by the controller, matching the single-owner policy
// the dispatcher/fallback manager already follow for their own maps.
type run struct {
	mu        sync.Mutex
	isPaused  bool
	isHalted  bool
	haltReason string

	execState *model.ExecutionState
	cancel    context.CancelFunc
	done      chan struct{}
}

func (r *run) snapshotFlags() (paused, halted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.isPaused, r.isHalted
}

// Controller owns the top-level workflow state machine. One Controller
// serves every concurrently running workflow in the process.
type Controller struct {
	cfg        *config.Config
	dispatcher *dispatcher.Dispatcher
	fallbackMgr *fallback.Manager
	stateMgr   *state.Manager
	resultStore store.ResultStore
	bus        *events.Bus

	mu   sync.Mutex
	runs map[string]*run
}

// New builds a Controller wired to its collaborators. bus may be nil, in
// which case event emission is a no-op. New installs itself as the
// dispatcher's retry hook and the fallback manager's switch hook so
// SUBTASK_RETRYING and AGENT_SWITCHED reach the event stream without either
// collaborator needing its own bus reference.
func New(cfg *config.Config, d *dispatcher.Dispatcher, fb *fallback.Manager, sm *state.Manager, rs store.ResultStore, bus *events.Bus) *Controller {
	c := &Controller{
		cfg:         cfg,
		dispatcher:  d,
		fallbackMgr: fb,
		stateMgr:    sm,
		resultStore: rs,
		bus:         bus,
		runs:        make(map[string]*run),
	}

	d.SetRetryHook(func(workflowID, subtaskID string, nextAttempt int) {
		c.emit(workflowID, events.SubtaskRetrying, map[string]interface{}{"subtaskId": subtaskID, "attempt": nextAttempt})
	})
	fb.SetSwitchHook(func(subtaskID, fromAgentID, toAgentID string) {
		c.emitAgentSwitch(subtaskID, fromAgentID, toAgentID)
	})
	d.SetRateLimitHook(fb.RecordRateLimit)
	// Every agent call now runs through fb.Guard (see dispatcher.runAttempt),
	// which folds each attempt's outcome into the health tracker itself;
	// SetFallbackManager also lets a subtask that exhausts its retries
	// against one agent be substituted onto a healthy one mid-batch.
	d.SetFallbackManager(fb)

	return c
}

// emitAgentSwitch resolves subtaskID's owning workflow (best-effort, by
// scanning active runs) before publishing AGENT_SWITCHED, since the
// fallback manager's hook only knows the subtask, not the workflow.
func (c *Controller) emitAgentSwitch(subtaskID, fromAgentID, toAgentID string) {
	c.mu.Lock()
	var workflowID string
	for id, r := range c.runs {
		r.mu.Lock()
		_, running := r.execState.Running[subtaskID]
		r.mu.Unlock()
		if running {
			workflowID = id
			break
		}
	}
	c.mu.Unlock()

	c.emit(workflowID, events.AgentSwitched, map[string]interface{}{
		"subtaskId": subtaskID, "fromAgentId": fromAgentID, "toAgentId": toAgentID,
	})
}

func (c *Controller) emit(workflowID string, typ events.Type, payload interface{}) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(events.Event{Type: typ, WorkflowID: workflowID, Payload: payload})
}

// StartExecution runs workflow to completion (or until halted/cancelled),
// blocking the calling goroutine for the duration. Callers that want
// fire-and-forget semantics should invoke it in its own goroutine — the
// returned ExecutionState pointer is the same live record Pause/Resume/Halt
// and the state manager's registered Source observe, so callers must treat
// it as read-only once StartExecution has returned it to them via the
// registry (ExecutionStatus returns a copy for reading instead).
func (c *Controller) StartExecution(ctx context.Context, workflow *model.Workflow, agents []*model.Agent) (*model.ExecutionState, error) {
	execState := model.NewExecutionState(workflow.ID, len(workflow.Subtasks))
	now := time.Now()
	execState.StartedAt = &now
	execState.Status = model.ExecutionRunning

	runCtx, cancel := c.registerRun(workflow.ID, execState)

	if err := c.stateMgr.RegisterWorkflow(workflow.ID, func() state.Snapshot {
		return c.takeSnapshot(workflow.ID)
	}); err != nil {
		c.finishRun(workflow.ID)
		cancel()
		return nil, fmt.Errorf("registering snapshot source: %w", err)
	}

	c.emit(workflow.ID, events.ExecutionStarted, nil)

	ordered, err := planner.TopologicalSort(workflow.Subtasks)
	if err != nil {
		resolved := planner.ResolveCycles(workflow.Subtasks, planner.DetectCycles(workflow.Subtasks).Cycles)
		ordered, err = planner.TopologicalSort(resolved)
		if err != nil {
			c.haltWithReason(workflow.ID, "dependency graph has an unresolvable cycle")
			execState.ErrorLog = append(execState.ErrorLog, model.ExecutionError{
				Kind: model.ErrorKindCycleUnresolvable, Message: err.Error(), Timestamp: time.Now(),
			})
			c.finishExecution(workflow.ID, execState, model.ExecutionHalted)
			return execState, nil
		}
	}

	batches, _ := planner.PlanBatches(ordered, c.cfg.Batching)
	assignments := matcher.Assign(ordered, agents, matcher.MatchConfig{CostCeilingPerMinute: c.cfg.CostCeilingPerMinute})
	agentByID := make(map[string]*model.Agent, len(agents))
	for _, a := range agents {
		agentByID[a.ID] = a
	}
	agentForSubtask := make(map[string]*model.Agent, len(assignments))
	for _, a := range assignments {
		if agent, ok := agentByID[a.AgentID]; ok {
			agentForSubtask[a.SubtaskID] = agent
		}
	}

	// Persist every subtask up front so GetReintegrationData's by-type and
	// by-dependency-level strategies, and ValidateIntegrity's
	// dependency-presence check, have the full subtask set to work from
	// regardless of how far the run gets.
	for _, t := range ordered {
		if err := c.resultStore.SaveSubtask(ctx, t); err != nil {
			slog.Warn("saving subtask metadata failed", "workflow_id", workflow.ID, "subtask_id", t.ID, "error", err)
		}
	}

	status := c.runBatches(runCtx, workflow.ID, execState, batches, agentForSubtask, agents)

	c.finishExecution(workflow.ID, execState, status)
	return execState, nil
}

func (c *Controller) registerRun(workflowID string, execState *model.ExecutionState) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.runs[workflowID] = &run{execState: execState, cancel: cancel, done: make(chan struct{})}
	c.mu.Unlock()
	return ctx, cancel
}

func (c *Controller) getRun(workflowID string) (*run, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.runs[workflowID]
	return r, ok
}

func (c *Controller) finishRun(workflowID string) {
	c.mu.Lock()
	r, ok := c.runs[workflowID]
	delete(c.runs, workflowID)
	c.mu.Unlock()
	if ok {
		close(r.done)
	}
	c.stateMgr.UnregisterWorkflow(workflowID)
}

// runBatches executes batches in order, honoring pause/halt and the
// >50%-failure halt rule, and returns the terminal ExecutionStatus.
func (c *Controller) runBatches(ctx context.Context, workflowID string, execState *model.ExecutionState, batches []planner.Batch, agentForSubtask map[string]*model.Agent, agents []*model.Agent) model.ExecutionStatus {
	r, _ := c.getRun(workflowID)

	for _, batch := range batches {
		for {
			paused, halted := r.snapshotFlags()
			if halted {
				return model.ExecutionHalted
			}
			if !paused {
				break
			}
			if !sleepOrDone(ctx, pauseWaitInterval) {
				return model.ExecutionHalted
			}
		}

		if ctx.Err() != nil {
			return model.ExecutionHalted
		}

		c.emit(workflowID, events.BatchStarted, map[string]interface{}{"batchIndex": batch.Index})
		for _, t := range batch.Subtasks {
			execState.Running[t.ID] = true
			c.emit(workflowID, events.SubtaskStarted, map[string]interface{}{"subtaskId": t.ID})
		}

		result, err := c.dispatcher.DispatchBatch(ctx, batch, agentForSubtask, workflowID, agents)
		if err != nil {
			execState.ErrorLog = append(execState.ErrorLog, model.ExecutionError{
				Kind: model.ErrorKindSystem, Message: err.Error(), Timestamp: time.Now(),
			})
			continue
		}

		c.absorbBatchResult(workflowID, execState, result, agents)
		execState.LastBatch = batch.Index
		c.emit(workflowID, events.BatchCompleted, map[string]interface{}{"batchIndex": batch.Index})

		if moreThanHalfFailed(execState) {
			c.haltWithReason(workflowID, "too many failures")
		}

		if _, halted := r.snapshotFlags(); halted {
			return model.ExecutionHalted
		}
	}

	return model.ExecutionCompleted
}

// absorbBatchResult folds a completed batch's per-subtask outcomes into
// execState, emitting a SubtaskCompleted or SubtaskFailed event per result
// and logging batch-level errors. It does not report outcomes to the
// fallback manager's health tracker.
func (c *Controller) absorbBatchResult(workflowID string, execState *model.ExecutionState, result *dispatcher.BatchResult, agents []*model.Agent) {
	for _, r := range result.Results {
		delete(execState.Running, r.SubtaskID)
		// r.Attempt is the 1-indexed attempt that produced this final result,
		// so attempts before it were retries.
		execState.RetryCounts[r.SubtaskID] = r.Attempt - 1
		switch r.Status {
		case model.SubtaskCompleted:
			execState.Completed[r.SubtaskID] = true
			execState.Progress.Completed++
			c.emit(workflowID, events.SubtaskCompleted, map[string]interface{}{"subtaskId": r.SubtaskID, "agentId": r.AgentID})
		default:
			execState.Failed[r.SubtaskID] = true
			execState.Progress.Failed++
			if len(r.Errors) > 0 {
				last := r.Errors[len(r.Errors)-1]
				execState.ErrorLog = append(execState.ErrorLog, model.ExecutionError{
					Kind: last.Kind, Message: last.Message, SubtaskID: r.SubtaskID, AgentID: r.AgentID, Timestamp: last.Timestamp,
				})
			}
			c.emit(workflowID, events.SubtaskFailed, map[string]interface{}{"subtaskId": r.SubtaskID, "agentId": r.AgentID})
		}
	}
	for _, batchErr := range result.Errors {
		execState.ErrorLog = append(execState.ErrorLog, model.ExecutionError{
			Kind: model.ErrorKindSystem, Message: batchErr.Error(), Timestamp: time.Now(),
		})
	}
}

func moreThanHalfFailed(execState *model.ExecutionState) bool {
	if execState.Progress.Total == 0 {
		return false
	}
	return float64(execState.Progress.Failed)/float64(execState.Progress.Total) > 0.5
}

func (c *Controller) finishExecution(workflowID string, execState *model.ExecutionState, status model.ExecutionStatus) {
	r, ok := c.getRun(workflowID)
	if ok {
		r.mu.Lock()
		if r.isHalted {
			status = model.ExecutionHalted
		}
		r.mu.Unlock()
	}

	now := time.Now()
	execState.EndedAt = &now
	execState.Status = status

	switch status {
	case model.ExecutionCompleted:
		c.emit(workflowID, events.ExecutionCompleted, nil)
	case model.ExecutionHalted:
		c.emit(workflowID, events.ExecutionHalted, map[string]interface{}{"reason": execState.HaltReason})
	default:
		c.emit(workflowID, events.ExecutionFailed, nil)
	}

	// Final snapshot before tearing down the periodic scheduler, so a
	// post-mortem recovery plan can still be computed.
	if _, err := c.stateMgr.Snapshot(workflowID); err != nil {
		slog.Warn("final snapshot failed", "workflow_id", workflowID, "error", err)
	}
	c.finishRun(workflowID)
}

func (c *Controller) takeSnapshot(workflowID string) state.Snapshot {
	r, ok := c.getRun(workflowID)
	if !ok {
		return state.Snapshot{WorkflowID: workflowID}
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	progress := make(map[string]state.SubtaskProgress, len(r.execState.Running)+len(r.execState.Completed)+len(r.execState.Failed))
	for id := range r.execState.Running {
		progress[id] = state.SubtaskProgress{SubtaskID: id, Running: true, Attempts: r.execState.RetryCounts[id], LastAttemptAt: time.Now()}
	}
	for id := range r.execState.Completed {
		progress[id] = state.SubtaskProgress{SubtaskID: id, Completed: true}
	}
	for id := range r.execState.Failed {
		progress[id] = state.SubtaskProgress{SubtaskID: id, Failed: true, Attempts: r.execState.RetryCounts[id]}
	}

	return state.Snapshot{
		Status:          string(r.execState.Status),
		SubtaskProgress: progress,
		Checkpoint: state.Checkpoint{
			LastSuccessfulBatch: r.execState.LastBatch,
			FailureCount:        r.execState.Progress.Failed,
		},
	}
}

// Pause flips the pause flag for workflowID's in-flight run; the batch loop
// observes it at the next barrier and waits before starting the next batch.
func (c *Controller) Pause(workflowID string) error {
	r, ok := c.getRun(workflowID)
	if !ok {
		return ErrUnknownWorkflow
	}
	r.mu.Lock()
	r.isPaused = true
	r.execState.Status = model.ExecutionPaused
	r.mu.Unlock()
	c.emit(workflowID, events.ExecutionPaused, nil)
	return nil
}

// Resume clears the pause flag, letting a paused batch loop proceed.
func (c *Controller) Resume(workflowID string) error {
	r, ok := c.getRun(workflowID)
	if !ok {
		return ErrUnknownWorkflow
	}
	r.mu.Lock()
	r.isPaused = false
	r.execState.Status = model.ExecutionRunning
	r.mu.Unlock()
	c.emit(workflowID, events.ExecutionResumed, nil)
	return nil
}

// Halt cancels workflowID's run: in-flight subtasks are cancelled, the
// batch loop refuses to start a new batch, and a final snapshot is taken
// before the run tears down.
func (c *Controller) Halt(workflowID, reason string) error {
	if !c.haltWithReason(workflowID, reason) {
		return ErrUnknownWorkflow
	}
	return nil
}

func (c *Controller) haltWithReason(workflowID, reason string) bool {
	r, ok := c.getRun(workflowID)
	if !ok {
		return false
	}
	r.mu.Lock()
	alreadyHalted := r.isHalted
	r.isHalted = true
	r.haltReason = reason
	r.execState.HaltReason = reason
	r.mu.Unlock()

	if !alreadyHalted {
		c.dispatcher.CancelAll()
		r.cancel()
	}
	return true
}

// ExecutionStatus returns the live status of workflowID's run, or false if
// no run is active.
func (c *Controller) ExecutionStatus(workflowID string) (*model.ExecutionState, bool) {
	r, ok := c.getRun(workflowID)
	if !ok {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.execState.Clone(), true
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
