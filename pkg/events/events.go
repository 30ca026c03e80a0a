// Package events implements the orchestrator's per-workflow event stream:
// a best-effort, at-most-once pub/sub bus that subscribers (the HTTP API,
// the websocket broadcaster, loggers) register against without the
// publisher ever blocking or failing on their account.
package events

import (
	"log/slog"
	"sync"
	"time"
)

// Type is one entry in the closed event taxonomy the controller emits.
type Type string

const (
	ExecutionStarted  Type = "EXECUTION_STARTED"
	ExecutionPaused   Type = "EXECUTION_PAUSED"
	ExecutionResumed  Type = "EXECUTION_RESUMED"
	ExecutionHalted   Type = "EXECUTION_HALTED"
	ExecutionCompleted Type = "EXECUTION_COMPLETED"
	ExecutionFailed   Type = "EXECUTION_FAILED"
	BatchStarted      Type = "BATCH_STARTED"
	BatchCompleted    Type = "BATCH_COMPLETED"
	SubtaskStarted    Type = "SUBTASK_STARTED"
	SubtaskCompleted  Type = "SUBTASK_COMPLETED"
	SubtaskFailed     Type = "SUBTASK_FAILED"
	SubtaskRetrying   Type = "SUBTASK_RETRYING"
	AgentSwitched     Type = "AGENT_SWITCHED"
)

// Event is one entry in a workflow's event stream.
type Event struct {
	Type       Type        `json:"type"`
	WorkflowID string      `json:"workflowId"`
	Timestamp  time.Time   `json:"timestamp"`
	Payload    interface{} `json:"payload,omitempty"`
}

// Subscriber receives published events. Implementations must not block for
// long — the bus calls every subscriber synchronously on the publishing
// goroutine so a slow subscriber delays every other subscriber and the
// publisher itself.
type Subscriber func(Event)

// Bus is an in-process, best-effort pub/sub event stream. Subscribers
// register and unregister freely; a panicking subscriber is recovered and
// logged, never allowed to interrupt Publish or any other subscriber.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[int]Subscriber
	nextID      int
}

// NewBus returns an empty event bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[int]Subscriber)}
}

// Subscribe registers fn to receive every future Publish call and returns a
// token for Unsubscribe.
func (b *Bus) Subscribe(fn Subscriber) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.subscribers[id] = fn
	return id
}

// Unsubscribe removes the subscriber registered under token.
func (b *Bus) Unsubscribe(token int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers, token)
}

// Publish delivers evt to every current subscriber. A subscriber that
// panics is recovered and logged; it never prevents delivery to the
// remaining subscribers or propagates back to the caller.
func (b *Bus) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	b.mu.RLock()
	subs := make([]Subscriber, 0, len(b.subscribers))
	for _, fn := range b.subscribers {
		subs = append(subs, fn)
	}
	b.mu.RUnlock()

	for _, fn := range subs {
		b.deliver(fn, evt)
	}
}

func (b *Bus) deliver(fn Subscriber, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("event subscriber panicked", "event_type", evt.Type, "workflow_id", evt.WorkflowID, "panic", r)
		}
	}()
	fn(evt)
}
