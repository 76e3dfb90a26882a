package server

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FileConfig is the on-disk server configuration.
type FileConfig struct {
	LogLevel string `json:"log_level" yaml:"log_level"`
	Listen   Config `json:"listen" yaml:"listen"`
}

// DefaultFileConfig serves websocket and QUIC on their usual ports.
func DefaultFileConfig() FileConfig {
	return FileConfig{
		LogLevel: "info",
		Listen: Config{
			WebSocketAddr: ":8080",
			QuicAddr:      ":8443",
		},
	}
}

// LoadFileConfig reads a yaml config file and fills the gaps with defaults.
func LoadFileConfig(path string) (FileConfig, error) {
	cfg := DefaultFileConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	return cfg, nil
}
