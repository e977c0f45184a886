// Package config handles aiexecode configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Settings holds all aiexecode configuration.
type Settings struct {
	Provider         string   `yaml:"provider"`
	Model            string   `yaml:"model"`
	JudgeModel       string   `yaml:"judge_model"`
	APIKeyEnv        string   `yaml:"api_key_env"`
	MaxIterations    int      `yaml:"max_iterations"`
	CommandTimeoutMs int      `yaml:"command_timeout_ms"`
	HistoryDir       string   `yaml:"history_dir"`
	HistoryRetention int      `yaml:"history_retention"`
	AlwaysAllow      []string `yaml:"always_allow"`
	LogLevel         string   `yaml:"log_level"`
}

// Default returns the default configuration.
func Default() *Settings {
	historyDir := ".aiexecode"
	if home, err := os.UserHomeDir(); err == nil {
		historyDir = filepath.Join(home, ".aiexecode")
	}
	return &Settings{
		Provider:         "anthropic",
		Model:            "claude-sonnet-4-20250514",
		APIKeyEnv:        "ANTHROPIC_API_KEY",
		MaxIterations:    50,
		CommandTimeoutMs: 1_200_000,
		HistoryDir:       historyDir,
		HistoryRetention: 1,
		LogLevel:         "warn",
	}
}

// DefaultSearchPaths returns the config file search order. An explicit
// path (from the --config flag) is checked first, then ./aiexecode.yaml
// and ~/.config/aiexecode/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"aiexecode.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "aiexecode", "config.yaml"))
	}
	return paths
}

// Load reads configuration, starting from defaults and overlaying the
// first config file found. A missing file is not an error unless the path
// was given explicitly.
func Load(explicit string) (*Settings, error) {
	cfg := Default()

	path := ""
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return nil, fmt.Errorf("config file not found: %s", explicit)
		}
		path = explicit
	} else {
		for _, p := range DefaultSearchPaths() {
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}
	}
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Environment variables may be referenced as ${VAR}.
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 50
	}
	if cfg.CommandTimeoutMs <= 0 {
		cfg.CommandTimeoutMs = 1_200_000
	}
	if cfg.HistoryRetention < 1 {
		cfg.HistoryRetention = 1
	}
	return cfg, nil
}
