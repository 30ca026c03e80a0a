// Package dispatcher executes subtasks against their assigned agents under
// strict resource limits: a global cap on concurrent batches, a per-agent
// cap on concurrent calls, retry with exponential backoff, and an optional
// multipass refinement loop that keeps the best-scoring attempt.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/agentflow/orchestrator/pkg/config"
	"github.com/agentflow/orchestrator/pkg/ids"
	"github.com/agentflow/orchestrator/pkg/model"
	"github.com/agentflow/orchestrator/pkg/planner"
	"github.com/agentflow/orchestrator/pkg/store"
	"github.com/agentflow/orchestrator/pkg/validator"
	"github.com/cenkalti/backoff/v4"
)

// ErrBatchEmpty is returned by DispatchBatch for a batch with no subtasks.
var ErrBatchEmpty = errors.New("dispatcher: batch has no subtasks")

// ErrNoAgentAssigned is returned when a subtask has no entry in the agents map.
var ErrNoAgentAssigned = errors.New("dispatcher: no agent assigned to subtask")

// HaltFunc escalates a subtask-level halt condition (a REQUIRED validation
// rule failing, or a timeout) up to the controller. May be nil.
type HaltFunc func(workflowID, subtaskID, reason string)

// RetryHook notifies an observer (the controller's event emitter) that a
// subtask is about to retry or run another multipass iteration. May be nil.
type RetryHook func(workflowID, subtaskID string, nextAttempt int)

// RateLimitHook notifies an observer (the fallback manager) that an agent's
// call surfaced a rate-limit snapshot. May be nil.
type RateLimitHook func(agentID string, info model.RateLimitInfo)

// FallbackManager is the subset of fallback.Manager the dispatcher consults:
// Guard routes each agent call through that agent's circuit breaker and
// folds the outcome into its health record; ExecuteFallback substitutes a
// replacement agent once a subtask has exhausted its own retries against
// the agent it was assigned. Defined as an interface here (rather than
// importing pkg/fallback directly) so the dispatcher stays testable without
// a live health tracker.
type FallbackManager interface {
	Guard(agentID string, fn func() error) error
	ExecuteFallback(ctx context.Context, subtask *model.Subtask, failed *model.Agent, callErr error, available []*model.Agent) (*model.Agent, error)
}

// Dispatcher is the concurrent execution engine described by pkg doc.
type Dispatcher struct {
	caller      AgentCaller
	store       store.ResultStore
	cfg         *config.Config
	onHalt      HaltFunc
	onRetry     RetryHook
	onRateLimit RateLimitHook
	fallbackMgr FallbackManager

	batchSem *fifoSemaphore

	agentSemsMu sync.Mutex
	agentSems   map[string]*fifoSemaphore

	cancelMu sync.Mutex
	cancels  map[string]context.CancelFunc
}

// New builds a Dispatcher. onHalt may be nil if no controller is wired yet.
func New(caller AgentCaller, st store.ResultStore, cfg *config.Config, onHalt HaltFunc) *Dispatcher {
	return &Dispatcher{
		caller:    caller,
		store:     st,
		cfg:       cfg,
		onHalt:    onHalt,
		batchSem:  newFIFOSemaphore(cfg.Concurrency.MaxConcurrentBatches),
		agentSems: make(map[string]*fifoSemaphore),
		cancels:   make(map[string]context.CancelFunc),
	}
}

// SetRetryHook installs fn to be notified before each retry/multipass
// iteration beyond the first attempt. Safe to call once before the
// dispatcher starts handling batches.
func (d *Dispatcher) SetRetryHook(fn RetryHook) {
	d.onRetry = fn
}

// SetRateLimitHook installs fn to be notified whenever an agent call's
// response surfaces a rate-limit snapshot. Safe to call once before the
// dispatcher starts handling batches.
func (d *Dispatcher) SetRateLimitHook(fn RateLimitHook) {
	d.onRateLimit = fn
}

// SetFallbackManager wires fb into the dispatcher: every agent call is
// guarded through fb's circuit breaker, and a subtask that exhausts its own
// retries against its assigned agent is handed to fb.ExecuteFallback for
// substitution before being reported as failed. Safe to call once before
// the dispatcher starts handling batches; nil (the default) disables both
// behaviors and the dispatcher retries only the originally assigned agent.
func (d *Dispatcher) SetFallbackManager(fb FallbackManager) {
	d.fallbackMgr = fb
}

func (d *Dispatcher) agentSemaphore(agentID string) *fifoSemaphore {
	d.agentSemsMu.Lock()
	defer d.agentSemsMu.Unlock()
	sem, ok := d.agentSems[agentID]
	if !ok {
		sem = newFIFOSemaphore(d.cfg.Concurrency.MaxConcurrentSubtasks)
		d.agentSems[agentID] = sem
	}
	return sem
}

// BatchResult is DispatchBatch's aggregate outcome. Per-subtask failures are
// reported here, not as a returned error — DispatchBatch only errors on
// catastrophic conditions (empty batch, unassigned agent, store failure).
type BatchResult struct {
	BatchID    string
	BatchIndex int
	Results    []*model.SubtaskResult
	Errors     []error
}

// DispatchBatch executes every subtask in batch against its assigned agent
// (looked up in agents by subtask ID), honoring the global batch semaphore,
// chunked per-agent fan-out, and per-subtask retry/multipass. Chunk size is
// maxConcurrentSubtasks; each chunk fans out in parallel and rejoins before
// the next chunk starts. One subtask's failure never cancels its siblings.
// agentPool is the full roster of agents eligible to substitute for an
// assigned agent that exhausts its retries (see dispatchWithFallback); it
// may be nil, in which case no substitution is attempted regardless of
// whether a FallbackManager is wired.
func (d *Dispatcher) DispatchBatch(ctx context.Context, batch planner.Batch, agents map[string]*model.Agent, workflowID string, agentPool []*model.Agent) (*BatchResult, error) {
	if len(batch.Subtasks) == 0 {
		return nil, ErrBatchEmpty
	}
	for _, t := range batch.Subtasks {
		if _, ok := agents[t.ID]; !ok {
			return nil, fmt.Errorf("%w: subtask %s", ErrNoAgentAssigned, t.ID)
		}
	}

	if err := d.batchSem.acquire(ctx); err != nil {
		return nil, fmt.Errorf("acquiring batch slot: %w", err)
	}
	defer d.batchSem.release()

	batchID := ids.NewBatchID()
	if err := d.store.SaveBatch(ctx, store.BatchMetadata{
		BatchID:    batchID,
		BatchIndex: batch.Index,
		SubtaskIDs: subtaskIDs(batch.Subtasks),
		StartedAt:  time.Now(),
	}); err != nil {
		return nil, fmt.Errorf("saving batch metadata: %w", err)
	}

	result := &BatchResult{BatchID: batchID, BatchIndex: batch.Index}
	chunkSize := d.cfg.Concurrency.MaxConcurrentSubtasks
	if chunkSize <= 0 {
		chunkSize = 1
	}

	for start := 0; start < len(batch.Subtasks); start += chunkSize {
		end := start + chunkSize
		if end > len(batch.Subtasks) {
			end = len(batch.Subtasks)
		}
		chunk := batch.Subtasks[start:end]

		var wg sync.WaitGroup
		results := make([]*model.SubtaskResult, len(chunk))
		errs := make([]error, len(chunk))

		for i, t := range chunk {
			wg.Add(1)
			go func(i int, t *model.Subtask) {
				defer wg.Done()
				r, err := d.dispatchWithFallback(ctx, workflowID, batchID, t, agents[t.ID], agentPool)
				results[i] = r
				errs[i] = err
			}(i, t)
		}
		wg.Wait()

		for i := range chunk {
			if errs[i] != nil {
				result.Errors = append(result.Errors, errs[i])
				continue
			}
			result.Results = append(result.Results, results[i])
		}
	}

	return result, nil
}

// DispatchSubtask runs the retry/multipass loop for a single subtask against
// agent and persists every attempt to the result store. It only returns an
// error for conditions that prevent any attempt from running (store
// failures); per-attempt agent/validation failures are captured in the
// returned SubtaskResult's Status and Errors instead.
func (d *Dispatcher) DispatchSubtask(ctx context.Context, workflowID, batchID string, subtask *model.Subtask, agent *model.Agent) (*model.SubtaskResult, error) {
	log := slog.With("workflow_id", workflowID, "subtask_id", subtask.ID, "agent_id", agent.ID)

	multipass := subtask.Metadata.Multipass.Enabled && d.cfg.Multipass.Enabled
	n := d.cfg.Retry.MaxRetries + 1
	if multipass {
		n = d.cfg.Multipass.MaxPasses
		if n <= 0 {
			n = 1
		}
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = d.cfg.InitialRetryDelay()
	bo.Multiplier = d.cfg.Retry.BackoffMultiplier
	bo.MaxInterval = 60 * time.Second
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0 // caller-driven attempt cap, not elapsed-time driven
	// NewExponentialBackOff's constructor already called Reset, seeding
	// currentInterval from its own 500ms default; Reset again now that
	// InitialInterval has been overridden so the first NextBackOff() honors
	// the configured delay instead of the library default.
	bo.Reset()

	var best *model.SubtaskResult
	var last *model.SubtaskResult
	var lastRateLimit *model.RateLimitInfo

	for k := 0; k < n; k++ {
		if k > 0 {
			delay := bo.NextBackOff()
			// A provider reporting zero remaining quota takes priority over
			// the exponential schedule: wait at least until its reset time
			// rather than retrying into a call we already know will fail.
			if lastRateLimit != nil && lastRateLimit.Remaining == 0 && !lastRateLimit.ResetAt.IsZero() {
				if untilReset := time.Until(lastRateLimit.ResetAt); untilReset > delay {
					delay = untilReset
				}
			}
			if !sleepOrDone(ctx, delay) {
				break
			}
		}

		attempt := k + 1
		result, haltThisAttempt, rateLimit, attemptErr := d.runAttempt(ctx, workflowID, batchID, attempt, subtask, agent)
		if attemptErr != nil {
			return nil, attemptErr
		}
		last = result
		if rateLimit != nil {
			lastRateLimit = rateLimit
		}

		if haltThisAttempt {
			lastErr := result.Errors[len(result.Errors)-1]
			// A Cancelled attempt is already the downstream effect of a
			// cancellation signal (Cancel/CancelAll/workflow halt) — it must
			// not itself escalate a fresh halt request.
			if lastErr.Kind != model.ErrorKindCancelled && d.onHalt != nil {
				d.onHalt(workflowID, subtask.ID, lastErr.Message)
			}
			break
		}

		verdict := validator.Evaluate(subtask.Metadata.Validation, result.Content)
		result.Confidence = verdict.Confidence
		if verdict.Passed {
			result.Status = model.SubtaskCompleted
			if err := d.persist(ctx, result); err != nil {
				return nil, err
			}
			log.Info("subtask completed", "attempt", attempt, "confidence", verdict.Confidence)
			return result, nil
		}

		if verdict.ShouldHalt {
			result.Status = model.SubtaskFailed
			if err := d.persist(ctx, result); err != nil {
				return nil, err
			}
			if d.onHalt != nil {
				d.onHalt(workflowID, subtask.ID, "validator required a halt")
			}
			return result, nil
		}

		prevBestConfidence := -1.0
		if best != nil {
			prevBestConfidence = best.Confidence
		}
		if best == nil || result.Confidence > best.Confidence {
			best = result
		}

		if multipass {
			result.Status = model.SubtaskFailed
			if err := d.persist(ctx, result); err != nil {
				return nil, err
			}
			if attempt > 1 && result.Confidence-prevBestConfidence < d.cfg.Multipass.ImprovementThreshold {
				break
			}
			if d.onRetry != nil {
				d.onRetry(workflowID, subtask.ID, attempt+1)
			}
			continue
		}

		if !verdict.ShouldRetry || attempt > d.cfg.Retry.MaxRetries {
			result.Status = model.SubtaskFailed
			if err := d.persist(ctx, result); err != nil {
				return nil, err
			}
			return result, nil
		}

		result.Status = model.SubtaskFailed
		if err := d.persist(ctx, result); err != nil {
			return nil, err
		}
		if d.onRetry != nil {
			d.onRetry(workflowID, subtask.ID, attempt+1)
		}
	}

	if multipass && best != nil {
		return best, nil
	}
	return last, nil
}

// dispatchWithFallback runs DispatchSubtask against agent and, if the
// subtask still isn't COMPLETED once its own retries/multipass passes are
// exhausted against that agent, consults the fallback manager for a
// replacement and reruns DispatchSubtask against it — up to
// maxFallbackDepth substitutions — before reporting the subtask failed.
// Substitution is only attempted for agent-attributable failures
// (ErrorKindAPI): a validator-driven halt or a timeout/cancellation is a
// terminal outcome for this subtask regardless of which agent ran it.
func (d *Dispatcher) dispatchWithFallback(ctx context.Context, workflowID, batchID string, subtask *model.Subtask, agent *model.Agent, agentPool []*model.Agent) (*model.SubtaskResult, error) {
	result, err := d.DispatchSubtask(ctx, workflowID, batchID, subtask, agent)
	if err != nil {
		return nil, err
	}

	if d.fallbackMgr == nil || !d.cfg.Fallback.Enabled || len(agentPool) == 0 {
		return result, nil
	}

	current := agent
	depth := d.cfg.Fallback.MaxFallbackDepth
	for attempt := 0; attempt < depth && result.Status != model.SubtaskCompleted && agentAttributableFailure(result); attempt++ {
		var callErr error
		if len(result.Errors) > 0 {
			callErr = errors.New(result.Errors[len(result.Errors)-1].Message)
		}

		replacement, ferr := d.fallbackMgr.ExecuteFallback(ctx, subtask, current, callErr, agentPool)
		if ferr != nil {
			break
		}
		current = replacement

		result, err = d.DispatchSubtask(ctx, workflowID, batchID, subtask, current)
		if err != nil {
			return nil, err
		}
	}

	return result, nil
}

// agentAttributableFailure reports whether result failed for a reason the
// agent itself caused (network/HTTP error), as opposed to a validator halt,
// a timeout, or a cancellation — the only case worth retrying against a
// different agent.
func agentAttributableFailure(result *model.SubtaskResult) bool {
	if result.Status == model.SubtaskCompleted || len(result.Errors) == 0 {
		return false
	}
	return result.Errors[len(result.Errors)-1].Kind == model.ErrorKindAPI
}

// runAttempt issues exactly one API call under the per-agent semaphore and a
// subtask-level timeout, returning the result, whether this attempt should
// halt the subtask (timeout or cancellation), and the rate-limit snapshot
// the provider reported, if any. A failed call's result is persisted here
// before it is returned; a successful call's result is returned unpersisted.
func (d *Dispatcher) runAttempt(ctx context.Context, workflowID, batchID string, attempt int, subtask *model.Subtask, agent *model.Agent) (*model.SubtaskResult, bool, *model.RateLimitInfo, error) {
	sem := d.agentSemaphore(agent.ID)
	if err := sem.acquire(ctx); err != nil {
		return nil, false, nil, fmt.Errorf("acquiring agent slot: %w", err)
	}
	defer sem.release()

	attemptCtx, cancel := context.WithTimeout(ctx, d.cfg.SubtaskTimeout())
	d.registerCancel(subtask.ID, cancel)
	defer func() {
		d.unregisterCancel(subtask.ID)
		cancel()
	}()

	result := &model.SubtaskResult{
		ID:          ids.NewResultID(),
		SubtaskID:   subtask.ID,
		WorkflowID:  workflowID,
		BatchID:     batchID,
		AgentID:     agent.ID,
		GeneratedAt: time.Now(),
		Attempt:     attempt,
	}

	var callResult CallResult
	callErr := func() error {
		if d.fallbackMgr == nil {
			var err error
			callResult, err = d.caller.Call(attemptCtx, agent, subtask)
			return err
		}
		return d.fallbackMgr.Guard(agent.ID, func() error {
			var err error
			callResult, err = d.caller.Call(attemptCtx, agent, subtask)
			return err
		})
	}()
	if callErr != nil {
		switch {
		case errors.Is(attemptCtx.Err(), context.DeadlineExceeded):
			result.Status = model.SubtaskFailed
			result.Errors = append(result.Errors, model.ResultError{
				Kind:      model.ErrorKindTimeout,
				Message:   fmt.Sprintf("subtask timed out after %s", d.cfg.SubtaskTimeout()),
				Retryable: false,
				Timestamp: time.Now(),
			})
			if perr := d.persist(ctx, result); perr != nil {
				return nil, false, nil, perr
			}
			return result, true, nil, nil

		case errors.Is(attemptCtx.Err(), context.Canceled):
			// The ambient context may itself be cancelled (Cancel/CancelAll/halt),
			// so persist against a fresh background context rather than attemptCtx.
			result.Status = model.SubtaskFailed
			result.Errors = append(result.Errors, model.ResultError{
				Kind:      model.ErrorKindCancelled,
				Message:   "subtask cancelled",
				Retryable: false,
				Timestamp: time.Now(),
			})
			if perr := d.persist(context.Background(), result); perr != nil {
				return nil, false, nil, perr
			}
			return result, true, nil, nil

		default:
			result.Status = model.SubtaskFailed
			result.Errors = append(result.Errors, model.ResultError{
				Kind:      model.ErrorKindAPI,
				Message:   callErr.Error(),
				Retryable: true,
				Timestamp: time.Now(),
			})
			if perr := d.persist(ctx, result); perr != nil {
				return nil, false, nil, perr
			}
			return result, false, nil, nil
		}
	}

	result.Content = callResult.Content
	result.TokenUsage = callResult.TokenUsage
	if callResult.RateLimit != nil && d.onRateLimit != nil {
		d.onRateLimit(agent.ID, *callResult.RateLimit)
	}
	return result, false, callResult.RateLimit, nil
}

func (d *Dispatcher) persist(ctx context.Context, result *model.SubtaskResult) error {
	result.Seal()
	return d.store.Save(ctx, result)
}

func (d *Dispatcher) registerCancel(subtaskID string, cancel context.CancelFunc) {
	d.cancelMu.Lock()
	defer d.cancelMu.Unlock()
	d.cancels[subtaskID] = cancel
}

func (d *Dispatcher) unregisterCancel(subtaskID string) {
	d.cancelMu.Lock()
	defer d.cancelMu.Unlock()
	delete(d.cancels, subtaskID)
}

// Cancel triggers context cancellation for an in-flight subtask call.
// Returns true if the subtask was found running on this dispatcher.
func (d *Dispatcher) Cancel(subtaskID string) bool {
	d.cancelMu.Lock()
	defer d.cancelMu.Unlock()
	cancel, ok := d.cancels[subtaskID]
	if !ok {
		return false
	}
	cancel()
	return true
}

// CancelAll cancels every in-flight subtask call currently tracked.
func (d *Dispatcher) CancelAll() {
	d.cancelMu.Lock()
	defer d.cancelMu.Unlock()
	for _, cancel := range d.cancels {
		cancel()
	}
}

func subtaskIDs(subtasks []*model.Subtask) []string {
	ids := make([]string, len(subtasks))
	for i, t := range subtasks {
		ids[i] = t.ID
	}
	return ids
}

// sleepOrDone waits for d or ctx cancellation, whichever comes first.
// Returns false if ctx was cancelled first.
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
