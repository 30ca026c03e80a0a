package model

import "testing"

func TestSubtaskResultChecksumRoundTrip(t *testing.T) {
	r := &SubtaskResult{
		SubtaskID:  "subtask-1",
		AgentID:    "agent-1",
		Content:    "hello world",
		TokenUsage: TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		Confidence: 0.9,
		Status:     SubtaskCompleted,
	}
	r.Seal()
	if r.Checksum == "" {
		t.Fatal("expected non-empty checksum")
	}
	if !r.VerifyChecksum() {
		t.Fatal("expected checksum to verify immediately after Seal")
	}

	r.Content = "tampered"
	if r.VerifyChecksum() {
		t.Fatal("expected checksum mismatch after content mutation")
	}
}

func TestSubtaskStatusTransitions(t *testing.T) {
	s := &Subtask{Status: SubtaskPending}
	if !s.TransitionTo(SubtaskAssigned) {
		t.Fatal("PENDING -> ASSIGNED should be legal")
	}
	if !s.TransitionTo(SubtaskInProgress) {
		t.Fatal("ASSIGNED -> IN_PROGRESS should be legal")
	}
	if s.TransitionTo(SubtaskAssigned) {
		t.Fatal("IN_PROGRESS -> ASSIGNED should be illegal")
	}
	if !s.TransitionTo(SubtaskCompleted) {
		t.Fatal("IN_PROGRESS -> COMPLETED should be legal")
	}
	if s.TransitionTo(SubtaskFailed) {
		t.Fatal("terminal state should never transition")
	}
}

func TestProgressValid(t *testing.T) {
	p := Progress{Total: 3, Completed: 2, Failed: 1, InProgress: 0}
	if !p.Valid() {
		t.Fatal("2+1+0 <= 3 should be valid")
	}
	p.InProgress = 1
	if p.Valid() {
		t.Fatal("2+1+1 <= 3 should be invalid")
	}
}

func TestExecutionStateCloneIsIndependent(t *testing.T) {
	s := NewExecutionState("wf-1", 3)
	s.Running["a"] = true
	clone := s.Clone()
	clone.Running["b"] = true
	if s.Running["b"] {
		t.Fatal("mutating clone must not affect original")
	}
	if !s.InOneSetOnly("a") {
		t.Fatal("a appears in only Running, should satisfy invariant")
	}
}
