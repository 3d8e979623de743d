package config

import (
	"os"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/treatment-outcome-server/internal/domain"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	viper.Reset()
	m, err := NewManager()
	require.NoError(t, err)
	return m
}

func TestNewManager_Defaults(t *testing.T) {
	m := newTestManager(t)
	cfg := m.GetConfig()

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, domain.CombinationPolicyBlock, cfg.Server.CombinationPolicy)
	assert.Equal(t, "configs/contract.yaml", cfg.Contract.Path)
	assert.Equal(t, "artifacts", cfg.Artifacts.Dir)
	assert.True(t, cfg.Artifacts.WatchEnabled)
	assert.Equal(t, 0.2, cfg.Pipeline.TestSplit)
	assert.Equal(t, int64(42), cfg.Pipeline.RandomSeed)
	assert.Equal(t, 100, cfg.Pipeline.NumTrees)
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, "sqlite", cfg.Audit.Backend)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestNewManager_EnvironmentOverrides(t *testing.T) {
	os.Setenv("OUTCOME_SERVER_PORT", "9090")
	os.Setenv("OUTCOME_SERVER_COMBINATION_POLICY", "warn")
	os.Setenv("OUTCOME_LOGGING_LEVEL", "debug")
	defer func() {
		os.Unsetenv("OUTCOME_SERVER_PORT")
		os.Unsetenv("OUTCOME_SERVER_COMBINATION_POLICY")
		os.Unsetenv("OUTCOME_LOGGING_LEVEL")
	}()

	m := newTestManager(t)
	cfg := m.GetConfig()

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, domain.CombinationPolicyWarn, cfg.Server.CombinationPolicy)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestValidate(t *testing.T) {
	valid := func() *domain.Config {
		m := newTestManager(t)
		return m.GetConfig()
	}

	tests := []struct {
		name    string
		mutate  func(*domain.Config)
		wantErr string
	}{
		{"defaults are valid", func(c *domain.Config) {}, ""},
		{"bad port", func(c *domain.Config) { c.Server.Port = 0 }, "invalid server port"},
		{"bad policy", func(c *domain.Config) { c.Server.CombinationPolicy = "maybe" }, "combination_policy"},
		{"missing contract path", func(c *domain.Config) { c.Contract.Path = "" }, "contract path"},
		{"missing artifacts dir", func(c *domain.Config) { c.Artifacts.Dir = "" }, "artifacts dir"},
		{"test split too high", func(c *domain.Config) { c.Pipeline.TestSplit = 1.0 }, "test_split"},
		{"test split zero", func(c *domain.Config) { c.Pipeline.TestSplit = 0 }, "test_split"},
		{"bad audit backend", func(c *domain.Config) { c.Audit.Backend = "mysql" }, "audit backend"},
		{"postgres without url", func(c *domain.Config) {
			c.Audit.Backend = "postgres"
			c.Audit.PostgresURL = ""
		}, "postgres_url"},
		{"bad log level", func(c *domain.Config) { c.Logging.Level = "loud" }, "log level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			m := &Manager{config: cfg}

			err := m.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}
