package config

import "time"

// Config represents the complete papermill configuration.
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Engine    EngineConfig    `yaml:"engine"`
	Workspace WorkspaceConfig `yaml:"workspace"`
	History   HistoryConfig   `yaml:"history"`
	API       APIConfig       `yaml:"api,omitempty"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// EngineConfig defines how the external conversion engine is located and run.
type EngineConfig struct {
	// ExecutablePath optionally overrides engine discovery with an absolute
	// path. The path is still subject to the resolver's trust validation.
	ExecutablePath string `yaml:"executable_path,omitempty"`

	// MaxConcurrency bounds how many engine processes may run at once.
	MaxConcurrency int `yaml:"max_concurrency"`

	// Timeout bounds a single engine invocation.
	Timeout time.Duration `yaml:"timeout"`
}

// WorkspaceConfig defines where per-operation state directories live.
type WorkspaceConfig struct {
	Dir string `yaml:"dir"`

	// Retention is how long abandoned operation directories are kept before
	// the cleanup loop removes them.
	Retention time.Duration `yaml:"retention"`
}

// HistoryConfig defines the conversion log storage.
type HistoryConfig struct {
	Path string `yaml:"path"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	APIKey  string `yaml:"api_key,omitempty"`
}
