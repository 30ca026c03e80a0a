package config

import "time"

// FallbackStrategy selects how the fallback manager picks a replacement agent.
type FallbackStrategy string

const (
	FallbackRoundRobin       FallbackStrategy = "round-robin"
	FallbackLeastLoaded      FallbackStrategy = "least-loaded"
	FallbackCapabilityBased  FallbackStrategy = "capability-based"
	FallbackPerformanceBased FallbackStrategy = "performance-based"
)

// ConcurrencyConfig bounds how many batches and subtasks run at once.
type ConcurrencyConfig struct {
	MaxConcurrentBatches  int `yaml:"max_concurrent_batches"`
	MaxConcurrentSubtasks int `yaml:"max_concurrent_subtasks"`
}

// RetryConfig governs the dispatcher's retry/backoff behavior.
type RetryConfig struct {
	MaxRetries        int     `yaml:"max_retries"`
	BackoffMultiplier float64 `yaml:"backoff_multiplier"`
	InitialDelayMs    int     `yaml:"initial_delay_ms"`
}

// TimeoutConfig bounds per-subtask and per-batch wall-clock time.
type TimeoutConfig struct {
	SubtaskTimeoutMs int `yaml:"subtask_timeout_ms"`
	BatchTimeoutMs   int `yaml:"batch_timeout_ms"`
}

// MultipassConfig governs the iterative refinement loop.
type MultipassConfig struct {
	Enabled              bool    `yaml:"enabled"`
	MaxPasses            int     `yaml:"max_passes"`
	ImprovementThreshold float64 `yaml:"improvement_threshold"`
}

// FallbackConfig governs agent-health tracking and replacement selection.
type FallbackConfig struct {
	Enabled                 bool             `yaml:"enabled"`
	MaxFallbackDepth        int              `yaml:"max_fallback_depth"`
	FallbackDelayMs         int              `yaml:"fallback_delay_ms"`
	CircuitBreakerThreshold int              `yaml:"circuit_breaker_threshold"`
	CircuitBreakerTimeoutMs int              `yaml:"circuit_breaker_timeout_ms"`
	Strategy                FallbackStrategy `yaml:"strategy"`
}

// SnapshottingConfig governs periodic execution-state snapshotting.
type SnapshottingConfig struct {
	IntervalMs        int `yaml:"interval_ms"`
	MaxSnapshots      int `yaml:"max_snapshots"`
	RecoveryTimeoutMs int `yaml:"recovery_timeout_ms"`
}

// BatchingConfig governs how the planner packs subtasks into batches.
type BatchingConfig struct {
	MaxBatchSize        int  `yaml:"max_batch_size"`
	MaxTokensPerBatch    int  `yaml:"max_tokens_per_batch"`
	RespectDependencies bool `yaml:"respect_dependencies"`
	BalanceWorkloads    bool `yaml:"balance_workloads"`
}

// StoreConfig selects and configures the result store backend.
type StoreConfig struct {
	Driver          string `yaml:"driver"` // "memory" or "postgres"
	DSN             string `yaml:"dsn,omitempty"`
	MigrationsPath  string `yaml:"migrations_path,omitempty"`
	MaxPoolConns    int32  `yaml:"max_pool_conns,omitempty"`
}

// KeyStoreConfig configures the agent-credential key store.
type KeyStoreConfig struct {
	Driver     string `yaml:"driver"` // "bbolt"
	Path       string `yaml:"path,omitempty"`
	MasterKeyEnv string `yaml:"master_key_env,omitempty"`
}

// APIConfig configures the HTTP control surface.
type APIConfig struct {
	BindAddr        string   `yaml:"bind_addr"`
	AllowedWSOrigins []string `yaml:"allowed_ws_origins"`
}

// YAMLConfig is the top-level structure of orchestrator.yaml.
type YAMLConfig struct {
	Concurrency         *ConcurrencyConfig  `yaml:"concurrency"`
	Retry               *RetryConfig        `yaml:"retry"`
	Timeout             *TimeoutConfig      `yaml:"timeout"`
	Multipass           *MultipassConfig    `yaml:"multipass"`
	Fallback            *FallbackConfig     `yaml:"fallback"`
	Snapshotting        *SnapshottingConfig `yaml:"snapshotting"`
	Batching            *BatchingConfig     `yaml:"batching"`
	Store               *StoreConfig        `yaml:"store"`
	KeyStore            *KeyStoreConfig     `yaml:"key_store"`
	API                 *APIConfig          `yaml:"api"`
	CostCeilingPerMinute *float64           `yaml:"cost_ceiling_per_minute"`
}

// Config is the fully resolved, validated configuration the orchestrator
// runs with. Unlike YAMLConfig, every pointer has been dereferenced against
// defaults so callers never nil-check.
type Config struct {
	configDir string

	Concurrency          ConcurrencyConfig
	Retry                RetryConfig
	Timeout              TimeoutConfig
	Multipass            MultipassConfig
	Fallback             FallbackConfig
	Snapshotting         SnapshottingConfig
	Batching             BatchingConfig
	Store                StoreConfig
	KeyStore             KeyStoreConfig
	API                  APIConfig
	CostCeilingPerMinute float64
}

// SubtaskTimeout returns the configured per-subtask timeout as a Duration.
func (c *Config) SubtaskTimeout() time.Duration {
	return time.Duration(c.Timeout.SubtaskTimeoutMs) * time.Millisecond
}

// BatchTimeout returns the configured per-batch timeout as a Duration.
func (c *Config) BatchTimeout() time.Duration {
	return time.Duration(c.Timeout.BatchTimeoutMs) * time.Millisecond
}

// InitialRetryDelay returns the configured first retry delay as a Duration.
func (c *Config) InitialRetryDelay() time.Duration {
	return time.Duration(c.Retry.InitialDelayMs) * time.Millisecond
}

// SnapshotInterval returns the configured snapshot tick interval as a Duration.
func (c *Config) SnapshotInterval() time.Duration {
	return time.Duration(c.Snapshotting.IntervalMs) * time.Millisecond
}

// FallbackDelay returns the configured inter-fallback delay as a Duration.
func (c *Config) FallbackDelay() time.Duration {
	return time.Duration(c.Fallback.FallbackDelayMs) * time.Millisecond
}

// CircuitBreakerTimeout returns the configured circuit-open duration.
func (c *Config) CircuitBreakerTimeout() time.Duration {
	return time.Duration(c.Fallback.CircuitBreakerTimeoutMs) * time.Millisecond
}
