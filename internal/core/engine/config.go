package engine

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/driftsync/driftsync/internal/core/policy"
	"github.com/driftsync/driftsync/internal/core/store"
)

// Config holds engine-wide settings. Per-kind settings (remote function,
// policy, merge) live on the registered adapters.
type Config struct {
	// ReplicaID identifies this client in vector clocks ticked at enqueue
	// time.
	ReplicaID string `json:"replica_id" yaml:"replica_id"`

	// MaxAttempts is the skip/retry ceiling per record before the engine
	// surfaces ErrAttemptsExhausted.
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts"`

	// DefaultPolicy applies when neither the adapter nor the mutation
	// carries a policy.
	DefaultPolicy policy.Policy `json:"default_policy" yaml:"default_policy"`

	Storage StorageConfig `json:"storage" yaml:"storage"`
}

// StorageConfig selects the store backend.
type StorageConfig struct {
	// Backend is one of "memory", "file", "sqlite".
	Backend string `json:"backend" yaml:"backend"`
	// Path locates the file or database for durable backends.
	Path string `json:"path" yaml:"path"`
}

// DefaultConfig returns the settings used when no config file is given.
func DefaultConfig() Config {
	return Config{
		ReplicaID:     "local",
		MaxAttempts:   5,
		DefaultPolicy: policy.Manual,
		Storage:       StorageConfig{Backend: "memory"},
	}
}

// LoadConfig reads a yaml config file and fills the gaps with defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg.withDefaults(), nil
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ReplicaID == "" {
		c.ReplicaID = d.ReplicaID
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if !c.DefaultPolicy.Valid() {
		c.DefaultPolicy = d.DefaultPolicy
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = d.Storage.Backend
	}
	return c
}

// BuildStore opens the configured store backend.
func (c Config) BuildStore() (store.Store, error) {
	switch c.Storage.Backend {
	case "", "memory":
		return store.NewMemoryStore(), nil
	case "file":
		return store.NewFileStore(c.Storage.Path)
	case "sqlite":
		return store.NewSQLiteStore(c.Storage.Path)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
}
