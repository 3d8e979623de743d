// Package config loads application configuration with Viper: defaults,
// an optional config.yaml, and OUTCOME_-prefixed environment variables.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/treatment-outcome-server/internal/domain"
)

// Manager loads and validates the application configuration.
type Manager struct {
	config *domain.Config
}

// NewManager creates a configuration manager and loads configuration.
func NewManager() (*Manager, error) {
	m := &Manager{}
	if err := m.loadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return m, nil
}

func (m *Manager) loadConfig() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("/etc/outcome-server/")

	viper.SetEnvPrefix("OUTCOME")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	m.setDefaults()

	// Config file is optional; defaults and env vars suffice.
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &domain.Config{}
	if err := viper.Unmarshal(config); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.config = config
	return nil
}

func (m *Manager) setDefaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.idle_timeout", "120s")
	viper.SetDefault("server.allowed_origins", []string{"http://localhost:8080", "http://127.0.0.1:8080"})
	viper.SetDefault("server.rate_limit_rps", 50.0)
	viper.SetDefault("server.rate_limit_burst", 100)
	viper.SetDefault("server.combination_policy", domain.CombinationPolicyBlock)

	// Contract and artifact locations
	viper.SetDefault("contract.path", "configs/contract.yaml")
	viper.SetDefault("artifacts.dir", "artifacts")
	viper.SetDefault("artifacts.watch_enabled", true)

	// Pipeline defaults
	viper.SetDefault("pipeline.raw_data_path", "data/raw/treatments.csv")
	viper.SetDefault("pipeline.test_split", 0.2)
	viper.SetDefault("pipeline.random_seed", 42)
	viper.SetDefault("pipeline.stage_timeout", "10m")
	viper.SetDefault("pipeline.n_estimators", 100)
	viper.SetDefault("pipeline.max_depth", 10)
	viper.SetDefault("pipeline.min_samples_split", 2)
	viper.SetDefault("pipeline.min_samples_leaf", 1)

	// Cache defaults
	viper.SetDefault("cache.enabled", true)
	viper.SetDefault("cache.max_items", 1024)

	// Audit defaults
	viper.SetDefault("audit.enabled", true)
	viper.SetDefault("audit.backend", "sqlite")
	viper.SetDefault("audit.sqlite_path", "data/audit/predictions.db")
	viper.SetDefault("audit.postgres_url", "")

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
}

// GetConfig returns the complete configuration.
func (m *Manager) GetConfig() *domain.Config {
	return m.config
}

// GetServerConfig returns server configuration.
func (m *Manager) GetServerConfig() *domain.ServerConfig {
	return &m.config.Server
}

// GetPipelineConfig returns pipeline configuration.
func (m *Manager) GetPipelineConfig() *domain.PipelineConfig {
	return &m.config.Pipeline
}

// Validate validates the configuration.
func (m *Manager) Validate() error {
	config := m.config

	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	switch config.Server.CombinationPolicy {
	case domain.CombinationPolicyBlock, domain.CombinationPolicyWarn:
	default:
		return fmt.Errorf("invalid combination_policy: %q (must be %q or %q)",
			config.Server.CombinationPolicy, domain.CombinationPolicyBlock, domain.CombinationPolicyWarn)
	}

	if config.Contract.Path == "" {
		return fmt.Errorf("contract path is required")
	}
	if config.Artifacts.Dir == "" {
		return fmt.Errorf("artifacts dir is required")
	}

	if config.Pipeline.TestSplit <= 0 || config.Pipeline.TestSplit >= 1 {
		return fmt.Errorf("pipeline test_split must be in (0, 1), got %g", config.Pipeline.TestSplit)
	}

	switch config.Audit.Backend {
	case "sqlite":
		if config.Audit.Enabled && config.Audit.SQLitePath == "" {
			return fmt.Errorf("audit sqlite_path is required when the sqlite backend is enabled")
		}
	case "postgres":
		if config.Audit.Enabled && config.Audit.PostgresURL == "" {
			return fmt.Errorf("audit postgres_url is required when the postgres backend is enabled")
		}
	default:
		return fmt.Errorf("invalid audit backend: %q", config.Audit.Backend)
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(config.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", config.Logging.Level)
	}

	return nil
}
