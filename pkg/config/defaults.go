package config

// DefaultCostCeilingPerMinute is the per-minute cost ceiling applied when
// none is configured: 50 (in the configured currency unit) unless
// overridden in orchestrator.yaml.
const DefaultCostCeilingPerMinute = 50.0

// defaultConfig returns the built-in configuration applied before any
// orchestrator.yaml values are merged on top.
func defaultConfig() *Config {
	return &Config{
		Concurrency: ConcurrencyConfig{
			MaxConcurrentBatches:  2,
			MaxConcurrentSubtasks: 5,
		},
		Retry: RetryConfig{
			MaxRetries:        3,
			BackoffMultiplier: 2,
			InitialDelayMs:    1000,
		},
		Timeout: TimeoutConfig{
			SubtaskTimeoutMs: 300000,
			BatchTimeoutMs:   1800000,
		},
		Multipass: MultipassConfig{
			Enabled:              true,
			MaxPasses:            3,
			ImprovementThreshold: 0.1,
		},
		Fallback: FallbackConfig{
			Enabled:                 true,
			MaxFallbackDepth:        3,
			FallbackDelayMs:         5000,
			CircuitBreakerThreshold: 5,
			CircuitBreakerTimeoutMs: 300000,
			Strategy:                FallbackCapabilityBased,
		},
		Snapshotting: SnapshottingConfig{
			IntervalMs:        60000,
			MaxSnapshots:      50,
			RecoveryTimeoutMs: 300000,
		},
		Batching: BatchingConfig{
			MaxBatchSize:        10,
			MaxTokensPerBatch:   16000,
			RespectDependencies: true,
			BalanceWorkloads:    true,
		},
		Store: StoreConfig{
			Driver: "memory",
		},
		KeyStore: KeyStoreConfig{
			Driver:       "bbolt",
			Path:         "orchestrator-keys.db",
			MasterKeyEnv: "ORCHESTRATOR_MASTER_KEY",
		},
		API: APIConfig{
			BindAddr: ":8088",
		},
		CostCeilingPerMinute: DefaultCostCeilingPerMinute,
	}
}
