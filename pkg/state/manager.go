package state

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/agentflow/orchestrator/pkg/config"
	"github.com/robfig/cron/v3"
)

// ring is a fixed-capacity, oldest-overwritten buffer of snapshots for one
// workflow.
type ring struct {
	items []*Snapshot
	cap   int
}

func newRing(capacity int) *ring {
	if capacity <= 0 {
		capacity = 1
	}
	return &ring{cap: capacity}
}

func (r *ring) push(s *Snapshot) {
	r.items = append(r.items, s)
	if len(r.items) > r.cap {
		r.items = r.items[len(r.items)-r.cap:]
	}
}

func (r *ring) latest() (*Snapshot, bool) {
	if len(r.items) == 0 {
		return nil, false
	}
	return r.items[len(r.items)-1], true
}

// Source produces the current snapshot content for a workflow. The state
// manager calls it both on-demand (Snapshot) and on its periodic tick
// (once a workflow is registered via RegisterWorkflow).
type Source func() Snapshot

// Manager owns one ring buffer of snapshots per workflow and a cron
// scheduler that periodically asks each registered workflow's Source for a
// fresh one.
type Manager struct {
	cfg config.SnapshottingConfig

	mu        sync.Mutex
	snapshots map[string]*ring
	sources   map[string]Source
	entries   map[string]cron.EntryID

	cron *cron.Cron
}

// New builds a Manager from the resolved snapshotting configuration. Call
// Start to begin periodic ticking.
func New(cfg config.SnapshottingConfig) *Manager {
	return &Manager{
		cfg:       cfg,
		snapshots: make(map[string]*ring),
		sources:   make(map[string]Source),
		entries:   make(map[string]cron.EntryID),
		cron:      cron.New(cron.WithSeconds()),
	}
}

// Start begins the periodic snapshot scheduler.
func (m *Manager) Start() {
	m.cron.Start()
}

// Stop gracefully drains any in-flight scheduled snapshot and stops the
// scheduler. It does not remove registered workflows.
func (m *Manager) Stop() {
	<-m.cron.Stop().Done()
}

// RegisterWorkflow schedules periodic snapshotting for workflowID, calling
// source every snapshotting interval until UnregisterWorkflow is called.
func (m *Manager) RegisterWorkflow(workflowID string, source Source) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sources[workflowID] = source
	if _, ok := m.snapshots[workflowID]; !ok {
		m.snapshots[workflowID] = newRing(m.cfg.MaxSnapshots)
	}

	spec := fmt.Sprintf("@every %dms", m.cfg.IntervalMs)
	id, err := m.cron.AddFunc(spec, func() {
		if _, err := m.Snapshot(workflowID); err != nil {
			slog.Error("periodic snapshot failed", "workflow_id", workflowID, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule snapshot for %s: %w", workflowID, err)
	}
	m.entries[workflowID] = id
	return nil
}

// UnregisterWorkflow stops periodic snapshotting for workflowID. Past
// snapshots remain available.
func (m *Manager) UnregisterWorkflow(workflowID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.entries[workflowID]; ok {
		m.cron.Remove(id)
		delete(m.entries, workflowID)
	}
	delete(m.sources, workflowID)
}

// Snapshot takes an immediate snapshot of workflowID using its registered
// Source and pushes it onto the ring buffer.
func (m *Manager) Snapshot(workflowID string) (*Snapshot, error) {
	m.mu.Lock()
	source, ok := m.sources[workflowID]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("state: no source registered for workflow %s", workflowID)
	}

	snap := source()
	snap.WorkflowID = workflowID
	snap.TakenAt = time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.snapshots[workflowID]
	if !ok {
		r = newRing(m.cfg.MaxSnapshots)
		m.snapshots[workflowID] = r
	}
	r.push(&snap)
	return snap.clone(), nil
}

// Latest returns the most recent snapshot taken for workflowID.
func (m *Manager) Latest(workflowID string) (*Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.snapshots[workflowID]
	if !ok {
		return nil, false
	}
	s, ok := r.latest()
	if !ok {
		return nil, false
	}
	return s.clone(), true
}

// History returns every retained snapshot for workflowID, oldest first.
func (m *Manager) History(workflowID string) []*Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.snapshots[workflowID]
	if !ok {
		return nil
	}
	out := make([]*Snapshot, len(r.items))
	for i, s := range r.items {
		out[i] = s.clone()
	}
	return out
}
