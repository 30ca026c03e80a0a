package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// TokenUsage records LLM token accounting for a single call.
type TokenUsage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// ResultError is a single error or warning entry attached to a
// SubtaskResult, carrying the closed ErrorKind taxonomy.
type ResultError struct {
	Kind      ErrorKind `json:"kind"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Timestamp time.Time `json:"timestamp"`
}

// SubtaskResult is produced by the dispatcher and persisted by the result
// store.
type SubtaskResult struct {
	ID             string        `json:"id"`
	SubtaskID      string        `json:"subtaskId"`
	WorkflowID     string        `json:"workflowId"`
	BatchID        string        `json:"batchId"`
	AgentID        string        `json:"agentId"`
	Content        string        `json:"content"`
	GeneratedAt    time.Time     `json:"generatedAt"`
	TokenUsage     TokenUsage    `json:"tokenUsage"`
	Confidence     float64       `json:"confidence"` // [0,1]
	Status         SubtaskStatus `json:"status"`
	Errors         []ResultError `json:"errors,omitempty"`
	Warnings       []string      `json:"warnings,omitempty"`
	ExecutionOrder int64         `json:"executionOrder"`
	Attempt        int           `json:"attempt"`
	Checksum       string        `json:"checksum"`
}

// contentFields are the deterministic content-bearing fields that the
// checksum hashes. Timestamps and ExecutionOrder are deliberately excluded
// since they're assigned by the store, not the agent.
type contentFields struct {
	SubtaskID  string     `json:"subtaskId"`
	AgentID    string     `json:"agentId"`
	Content    string     `json:"content"`
	TokenUsage TokenUsage `json:"tokenUsage"`
	Confidence float64    `json:"confidence"`
	Status     SubtaskStatus `json:"status"`
}

// ComputeChecksum returns the deterministic hash of r's content-bearing
// fields. Call this before persisting and compare on read to satisfy the
// invariant that every persisted SubtaskResult's checksum matches its
// content.
func (r *SubtaskResult) ComputeChecksum() string {
	cf := contentFields{
		SubtaskID:  r.SubtaskID,
		AgentID:    r.AgentID,
		Content:    r.Content,
		TokenUsage: r.TokenUsage,
		Confidence: r.Confidence,
		Status:     r.Status,
	}
	// json.Marshal on a fixed struct (not a map) produces a stable field
	// order, so the hash is deterministic across processes.
	b, _ := json.Marshal(cf)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Seal computes and assigns the checksum. Call immediately before
// persisting a result.
func (r *SubtaskResult) Seal() {
	r.Checksum = r.ComputeChecksum()
}

// VerifyChecksum reports whether r.Checksum matches its current content.
func (r *SubtaskResult) VerifyChecksum() bool {
	return r.Checksum == r.ComputeChecksum()
}
