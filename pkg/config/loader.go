package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Initialize loads, merges, validates and returns ready-to-use configuration.
// This is the primary entry point cmd/orchestrator calls at startup.
//
// Steps performed:
//  1. Load a .env file from configDir if present (ignored if absent)
//  2. Load orchestrator.yaml from configDir
//  3. Expand environment variables in its raw bytes
//  4. Parse YAML into a YAMLConfig
//  5. Merge user-provided sections onto the built-in defaults
//  6. Validate the resolved configuration
//  7. Return Config ready for use
func Initialize(_ context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("initializing configuration")

	if err := godotenv.Load(filepath.Join(configDir, ".env")); err != nil && !os.IsNotExist(err) {
		log.Warn("failed to load .env file", "error", err)
	}

	y, err := loadYAMLConfig(configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	cfg := defaultConfig()
	cfg.configDir = configDir
	if err := applyOverrides(cfg, y); err != nil {
		return nil, fmt.Errorf("failed to merge configuration: %w", err)
	}

	if err := NewValidator(cfg).ValidateAll(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}

	log.Info("configuration initialized",
		"max_concurrent_batches", cfg.Concurrency.MaxConcurrentBatches,
		"max_concurrent_subtasks", cfg.Concurrency.MaxConcurrentSubtasks,
		"fallback_strategy", cfg.Fallback.Strategy,
		"store_driver", cfg.Store.Driver,
	)

	return cfg, nil
}

// loadYAMLConfig reads and parses orchestrator.yaml from configDir. A
// missing file is not an error: an empty YAMLConfig is returned so the
// built-in defaults stand alone.
func loadYAMLConfig(configDir string) (*YAMLConfig, error) {
	path := filepath.Join(configDir, "orchestrator.yaml")

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &YAMLConfig{}, nil
		}
		return nil, NewLoadError(path, err)
	}

	data = ExpandEnv(data)

	var y YAMLConfig
	if err := yaml.Unmarshal(data, &y); err != nil {
		return nil, NewLoadError(path, fmt.Errorf("%w: %v", ErrInvalidYAML, err))
	}

	return &y, nil
}

// ConfigDir returns the directory this Config was loaded from.
func (c *Config) ConfigDir() string { return c.configDir }
