package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a file.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}

	if info.IsDir() {
		// Directory provided - look for config.yaml inside
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	// Interpolate ${VAR} references before parsing so secrets stay out of
	// the file on disk.
	interpolated := interpolateEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	applyDefaults(&cfg)

	// Verify integrity checksums if a .checksums file is present next to the
	// config. Absence is not an error; `papermill config lock` creates it.
	if err := verifyConfigHash(absPath); err != nil {
		return nil, err
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Defaults returns a configuration with all defaults applied.
func Defaults() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Service.Name == "" {
		cfg.Service.Name = "papermill"
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = "INFO"
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = "json"
	}
	if cfg.Engine.MaxConcurrency == 0 {
		cfg.Engine.MaxConcurrency = 2
	}
	if cfg.Engine.Timeout == 0 {
		cfg.Engine.Timeout = 120 * time.Second
	}
	if cfg.Workspace.Dir == "" {
		cfg.Workspace.Dir = filepath.Join(os.TempDir(), "papermill", "operations")
	}
	if cfg.Workspace.Retention == 0 {
		cfg.Workspace.Retention = 24 * time.Hour
	}
	if cfg.History.Path == "" {
		cfg.History.Path = filepath.Join(os.TempDir(), "papermill", "history.db")
	}
	if cfg.API.Listen == "" {
		cfg.API.Listen = "127.0.0.1:8090"
	}
}

func validate(cfg *Config) error {
	if cfg.Engine.MaxConcurrency < 1 {
		return fmt.Errorf("engine.max_concurrency must be >= 1, got %d", cfg.Engine.MaxConcurrency)
	}
	if cfg.Engine.Timeout < time.Second {
		return fmt.Errorf("engine.timeout must be >= 1s, got %v", cfg.Engine.Timeout)
	}
	if cfg.Engine.ExecutablePath != "" && !filepath.IsAbs(cfg.Engine.ExecutablePath) {
		return fmt.Errorf("engine.executable_path must be absolute, got %q", cfg.Engine.ExecutablePath)
	}
	if cfg.Workspace.Retention < time.Minute {
		return fmt.Errorf("workspace.retention must be >= 1m, got %v", cfg.Workspace.Retention)
	}
	if cfg.API.Enabled && cfg.API.Listen == "" {
		return fmt.Errorf("api.listen is required when api.enabled is true")
	}
	return nil
}

// interpolateEnv replaces ${VAR} with the environment value. Unset variables
// interpolate to the empty string.
func interpolateEnv(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(name)
	})
}
