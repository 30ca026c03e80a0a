package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitializeAppliesDefaultsWhenFileAbsent(t *testing.T) {
	configDir := t.TempDir()

	ctx := context.Background()
	cfg, err := Initialize(ctx, configDir)

	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, 2, cfg.Concurrency.MaxConcurrentBatches)
	assert.Equal(t, 5, cfg.Concurrency.MaxConcurrentSubtasks)
	assert.Equal(t, DefaultCostCeilingPerMinute, cfg.CostCeilingPerMinute)
	assert.Equal(t, FallbackCapabilityBased, cfg.Fallback.Strategy)
}

func TestInitializeMergesUserOverridesOntoDefaults(t *testing.T) {
	configDir := t.TempDir()
	yamlContent := `
concurrency:
  max_concurrent_batches: 4
fallback:
  strategy: least-loaded
cost_ceiling_per_minute: 12.5
`
	require.NoError(t, os.WriteFile(filepath.Join(configDir, "orchestrator.yaml"), []byte(yamlContent), 0o644))

	cfg, err := Initialize(context.Background(), configDir)
	require.NoError(t, err)

	// overridden value
	assert.Equal(t, 4, cfg.Concurrency.MaxConcurrentBatches)
	// untouched sibling field keeps its built-in default
	assert.Equal(t, 5, cfg.Concurrency.MaxConcurrentSubtasks)
	assert.Equal(t, FallbackLeastLoaded, cfg.Fallback.Strategy)
	assert.InDelta(t, 12.5, cfg.CostCeilingPerMinute, 0.001)
}

func TestInitializeInvalidYAML(t *testing.T) {
	configDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(configDir, "orchestrator.yaml"), []byte("{{{"), 0o644))

	_, err := Initialize(context.Background(), configDir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load configuration")
}

func TestInitializeRejectsInvalidStrategy(t *testing.T) {
	configDir := t.TempDir()
	yamlContent := `
fallback:
  strategy: made-up-strategy
`
	require.NoError(t, os.WriteFile(filepath.Join(configDir, "orchestrator.yaml"), []byte(yamlContent), 0o644))

	_, err := Initialize(context.Background(), configDir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidationFailed)
}

func TestValidateStorePostgresRequiresDSN(t *testing.T) {
	cfg := defaultConfig()
	cfg.Store.Driver = "postgres"

	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingRequiredField)
}

func TestValidateTimeoutOrdering(t *testing.T) {
	cfg := defaultConfig()
	cfg.Timeout.BatchTimeoutMs = 100
	cfg.Timeout.SubtaskTimeoutMs = 200

	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidValue)
}
