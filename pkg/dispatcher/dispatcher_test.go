package dispatcher

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agentflow/orchestrator/pkg/config"
	"github.com/agentflow/orchestrator/pkg/model"
	"github.com/agentflow/orchestrator/pkg/planner"
	"github.com/agentflow/orchestrator/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		Concurrency: config.ConcurrencyConfig{MaxConcurrentBatches: 2, MaxConcurrentSubtasks: 2},
		Retry:       config.RetryConfig{MaxRetries: 2, BackoffMultiplier: 2, InitialDelayMs: 1},
		Timeout:     config.TimeoutConfig{SubtaskTimeoutMs: 200, BatchTimeoutMs: 5000},
		Multipass:   config.MultipassConfig{Enabled: true, MaxPasses: 3, ImprovementThreshold: 0.1},
	}
}

func passingSubtask(id string) *model.Subtask {
	return &model.Subtask{
		ID: id,
		Metadata: model.SubtaskMetadata{
			Validation: model.ValidationConfig{
				MinThreshold: 0.5,
				// Negative so a failing attempt's 0 confidence never halts the
				// retry loop early; only RetryOnFailure/MaxRetries should govern it.
				HaltThreshold: -1,
				Rules: []model.ValidationRule{
					{Kind: model.RuleKindCustom, Name: "wordCount", Weight: 1, Config: map[string]interface{}{"min": float64(1)}},
				},
			},
		},
	}
}

func testAgent(id string) *model.Agent {
	return &model.Agent{ID: id, Available: true}
}

// stubCaller returns a fixed content string or error on every call, counting
// invocations per subtask ID.
type stubCaller struct {
	mu      sync.Mutex
	calls   map[string]int
	content string
	err     error
	delay   time.Duration
}

func newStubCaller(content string) *stubCaller {
	return &stubCaller{calls: make(map[string]int), content: content}
}

func (c *stubCaller) Call(ctx context.Context, agent *model.Agent, subtask *model.Subtask) (CallResult, error) {
	c.mu.Lock()
	c.calls[subtask.ID]++
	c.mu.Unlock()

	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return CallResult{}, ctx.Err()
		}
	}
	if c.err != nil {
		return CallResult{}, c.err
	}
	return CallResult{Content: c.content}, nil
}

func (c *stubCaller) callCount(subtaskID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[subtaskID]
}

func TestDispatchSubtaskSucceedsOnFirstPassingAttempt(t *testing.T) {
	caller := newStubCaller("hello world")
	st := store.NewMemoryStore()
	d := New(caller, st, testConfig(), nil)

	subtask := passingSubtask("s1")
	result, err := d.DispatchSubtask(context.Background(), "wf1", "batch1", subtask, testAgent("a1"))

	require.NoError(t, err)
	assert.Equal(t, model.SubtaskCompleted, result.Status)
	assert.Equal(t, 1, caller.callCount("s1"))
	assert.NotEmpty(t, result.Checksum)
}

func TestDispatchSubtaskRetriesOnValidationFailureThenSucceeds(t *testing.T) {
	st := store.NewMemoryStore()

	attempt := int32(0)
	caller := &stubCaller{calls: make(map[string]int)}
	cfg := testConfig()
	d := New(&callbackCaller{fn: func() (CallResult, error) {
		n := atomic.AddInt32(&attempt, 1)
		if n < 2 {
			return CallResult{Content: ""}, nil // empty content fails wordCount min:1
		}
		return CallResult{Content: "now has words"}, nil
	}}, st, cfg, nil)

	subtask := passingSubtask("s2")
	subtask.Metadata.Validation.RetryOnFailure = true
	result, err := d.DispatchSubtask(context.Background(), "wf1", "batch1", subtask, testAgent("a1"))

	require.NoError(t, err)
	assert.Equal(t, model.SubtaskCompleted, result.Status)
	assert.Equal(t, 2, result.Attempt)
	_ = caller
}

func TestDispatchSubtaskFailsAfterMaxRetriesWithoutMultipass(t *testing.T) {
	st := store.NewMemoryStore()
	caller := newStubCaller("") // always fails the min word-count rule
	cfg := testConfig()
	cfg.Multipass.Enabled = false
	d := New(caller, st, cfg, nil)

	subtask := passingSubtask("s3")
	subtask.Metadata.Validation.RetryOnFailure = true
	result, err := d.DispatchSubtask(context.Background(), "wf1", "batch1", subtask, testAgent("a1"))

	require.NoError(t, err)
	assert.Equal(t, model.SubtaskFailed, result.Status)
	assert.Equal(t, cfg.Retry.MaxRetries+1, caller.callCount("s3"))
}

func TestDispatchSubtaskHaltsOnTimeout(t *testing.T) {
	st := store.NewMemoryStore()
	caller := &stubCaller{calls: make(map[string]int), delay: 2 * time.Second}
	cfg := testConfig()
	cfg.Timeout.SubtaskTimeoutMs = 10

	var haltedReason string
	d := New(caller, st, cfg, func(workflowID, subtaskID, reason string) { haltedReason = reason })

	subtask := passingSubtask("s4")
	result, err := d.DispatchSubtask(context.Background(), "wf1", "batch1", subtask, testAgent("a1"))

	require.NoError(t, err)
	assert.Equal(t, model.SubtaskFailed, result.Status)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, model.ErrorKindTimeout, result.Errors[0].Kind)
	assert.NotEmpty(t, haltedReason)
	assert.Equal(t, 1, caller.callCount("s4"), "a timeout halts the subtask rather than retrying")
}

func TestDispatchSubtaskWaitsForRateLimitResetBeforeRetrying(t *testing.T) {
	st := store.NewMemoryStore()

	var calledAt []time.Time
	resetAt := time.Now().Add(150 * time.Millisecond)
	attempt := int32(0)
	caller := &callbackCaller{fn: func() (CallResult, error) {
		calledAt = append(calledAt, time.Now())
		n := atomic.AddInt32(&attempt, 1)
		if n == 1 {
			return CallResult{Content: "", RateLimit: &model.RateLimitInfo{Limit: 10, Remaining: 0, ResetAt: resetAt}}, nil
		}
		return CallResult{Content: "now has words"}, nil
	}}

	cfg := testConfig()
	cfg.Retry.InitialDelayMs = 1 // exponential schedule alone would retry almost immediately
	d := New(caller, st, cfg, nil)

	subtask := passingSubtask("s-ratelimit")
	subtask.Metadata.Validation.RetryOnFailure = true
	result, err := d.DispatchSubtask(context.Background(), "wf1", "batch1", subtask, testAgent("a1"))

	require.NoError(t, err)
	assert.Equal(t, model.SubtaskCompleted, result.Status)
	require.Len(t, calledAt, 2)
	assert.True(t, !calledAt[1].Before(resetAt), "second attempt should not start before the reported reset time")
}

func TestDispatchSubtaskMultipassKeepsHighestConfidenceAttempt(t *testing.T) {
	st := store.NewMemoryStore()

	confidences := []string{"", "a b", ""} // 2nd attempt best, 3rd regresses
	idx := int32(-1)
	caller := &callbackCaller{fn: func() (CallResult, error) {
		i := atomic.AddInt32(&idx, 1)
		return CallResult{Content: confidences[i]}, nil
	}}

	cfg := testConfig()
	cfg.Retry.MaxRetries = 0
	cfg.Multipass = config.MultipassConfig{Enabled: true, MaxPasses: 3, ImprovementThreshold: -10}
	d := New(caller, st, cfg, nil)

	subtask := &model.Subtask{
		ID: "s5",
		Metadata: model.SubtaskMetadata{
			Multipass: model.MultipassConfig{Enabled: true},
			Validation: model.ValidationConfig{
				MinThreshold:  0.99, // unreachable at the graded hasKeywords score, forces every attempt to fail and run the full pass budget
				HaltThreshold: -1,   // a 0-confidence attempt (no keywords matched) must not halt the multipass sweep early
				Rules: []model.ValidationRule{
					{Kind: model.RuleKindCustom, Name: "hasKeywords", Weight: 1, Config: map[string]interface{}{"keywords": []interface{}{"a", "b", "c", "d"}}},
				},
			},
		},
	}

	result, err := d.DispatchSubtask(context.Background(), "wf1", "batch1", subtask, testAgent("a1"))
	require.NoError(t, err)
	assert.Equal(t, "a b", result.Content, "the best-confidence attempt across passes should be kept")
}

func TestDispatchBatchRunsAllSubtasksAndAggregatesResults(t *testing.T) {
	st := store.NewMemoryStore()
	caller := newStubCaller("plenty of words here")
	d := New(caller, st, testConfig(), nil)

	a := passingSubtask("b1")
	b := passingSubtask("b2")
	batch := planner.Batch{Index: 0, Subtasks: []*model.Subtask{a, b}}
	agents := map[string]*model.Agent{"b1": testAgent("a1"), "b2": testAgent("a2")}

	result, err := d.DispatchBatch(context.Background(), batch, agents, "wf1", nil)
	require.NoError(t, err)
	assert.Len(t, result.Results, 2)
	assert.Empty(t, result.Errors)
	assert.NotEmpty(t, result.BatchID)
}

func TestDispatchBatchErrorsOnUnassignedSubtask(t *testing.T) {
	st := store.NewMemoryStore()
	caller := newStubCaller("ok")
	d := New(caller, st, testConfig(), nil)

	a := passingSubtask("b3")
	batch := planner.Batch{Index: 0, Subtasks: []*model.Subtask{a}}

	_, err := d.DispatchBatch(context.Background(), batch, map[string]*model.Agent{}, "wf1", nil)
	assert.ErrorIs(t, err, ErrNoAgentAssigned)
}

func TestCancelStopsInFlightCall(t *testing.T) {
	st := store.NewMemoryStore()
	caller := &stubCaller{calls: make(map[string]int), delay: 2 * time.Second}
	cfg := testConfig()
	cfg.Timeout.SubtaskTimeoutMs = 5000
	d := New(caller, st, cfg, nil)

	subtask := passingSubtask("s6")
	done := make(chan struct{})
	go func() {
		_, _ = d.DispatchSubtask(context.Background(), "wf1", "batch1", subtask, testAgent("a1"))
		close(done)
	}()

	// give the call a moment to register its cancel func, then cancel it.
	time.Sleep(20 * time.Millisecond)
	assert.True(t, d.Cancel("s6"))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatch did not return after Cancel")
	}
}

func TestCancelUnknownSubtaskReturnsFalse(t *testing.T) {
	d := New(newStubCaller("x"), store.NewMemoryStore(), testConfig(), nil)
	assert.False(t, d.Cancel("never-started"))
}

// callbackCaller lets a test control the response per invocation.
type callbackCaller struct {
	fn func() (CallResult, error)
}

func (c *callbackCaller) Call(ctx context.Context, agent *model.Agent, subtask *model.Subtask) (CallResult, error) {
	return c.fn()
}
