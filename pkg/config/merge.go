package config

import (
	"fmt"

	"dario.cat/mergo"
)

// applyOverrides merges each non-nil section of y onto the built-in defaults
// already present in cfg, user values winning on conflict. Sections absent
// from the YAML file are left at their built-in defaults untouched.
func applyOverrides(cfg *Config, y *YAMLConfig) error {
	merges := []struct {
		name string
		dst  any
		src  any
	}{
		{"concurrency", &cfg.Concurrency, y.Concurrency},
		{"retry", &cfg.Retry, y.Retry},
		{"timeout", &cfg.Timeout, y.Timeout},
		{"multipass", &cfg.Multipass, y.Multipass},
		{"fallback", &cfg.Fallback, y.Fallback},
		{"snapshotting", &cfg.Snapshotting, y.Snapshotting},
		{"batching", &cfg.Batching, y.Batching},
		{"store", &cfg.Store, y.Store},
		{"key_store", &cfg.KeyStore, y.KeyStore},
		{"api", &cfg.API, y.API},
	}

	for _, m := range merges {
		if isNilSection(m.src) {
			continue
		}
		if err := mergo.Merge(m.dst, m.src, mergo.WithOverride); err != nil {
			return fmt.Errorf("merging %s config: %w", m.name, err)
		}
	}

	if y.CostCeilingPerMinute != nil {
		cfg.CostCeilingPerMinute = *y.CostCeilingPerMinute
	}

	return nil
}

// isNilSection reports whether a typed *SectionConfig pointer passed as src
// is nil, so mergo.Merge is skipped rather than handed a nil source.
func isNilSection(src any) bool {
	switch v := src.(type) {
	case *ConcurrencyConfig:
		return v == nil
	case *RetryConfig:
		return v == nil
	case *TimeoutConfig:
		return v == nil
	case *MultipassConfig:
		return v == nil
	case *FallbackConfig:
		return v == nil
	case *SnapshottingConfig:
		return v == nil
	case *BatchingConfig:
		return v == nil
	case *StoreConfig:
		return v == nil
	case *KeyStoreConfig:
		return v == nil
	case *APIConfig:
		return v == nil
	default:
		return src == nil
	}
}
