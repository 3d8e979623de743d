package domain

import "time"

// Config is the complete application configuration, populated by the
// config manager at startup.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Contract  ContractConfig  `mapstructure:"contract"`
	Artifacts ArtifactsConfig `mapstructure:"artifacts"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	RateLimitRPS   float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`

	// CombinationPolicy decides what happens when a structurally valid
	// request carries a (condition, drug) pair with no training
	// precedent: "block" rejects it, "warn" serves it with a warning.
	// This is a clinical-policy decision owned by the deployment, not
	// the code.
	CombinationPolicy string `mapstructure:"combination_policy"`
}

// Combination policy modes.
const (
	CombinationPolicyBlock = "block"
	CombinationPolicyWarn  = "warn"
)

// ContractConfig locates the schema contract document.
type ContractConfig struct {
	Path string `mapstructure:"path"`
}

// ArtifactsConfig locates the persisted model artifacts.
type ArtifactsConfig struct {
	Dir          string `mapstructure:"dir"`
	WatchEnabled bool   `mapstructure:"watch_enabled"`
}

// PipelineConfig holds batch training pipeline settings.
type PipelineConfig struct {
	RawDataPath  string        `mapstructure:"raw_data_path"`
	TestSplit    float64       `mapstructure:"test_split"`
	RandomSeed   int64         `mapstructure:"random_seed"`
	StageTimeout time.Duration `mapstructure:"stage_timeout"`

	NumTrees        int `mapstructure:"n_estimators"`
	MaxDepth        int `mapstructure:"max_depth"`
	MinSamplesSplit int `mapstructure:"min_samples_split"`
	MinSamplesLeaf  int `mapstructure:"min_samples_leaf"`
}

// CacheConfig holds prediction cache settings.
type CacheConfig struct {
	Enabled  bool `mapstructure:"enabled"`
	MaxItems int  `mapstructure:"max_items"`
}

// AuditConfig holds prediction audit trail settings.
type AuditConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Backend     string `mapstructure:"backend"` // sqlite or postgres
	SQLitePath  string `mapstructure:"sqlite_path"`
	PostgresURL string `mapstructure:"postgres_url"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or text
}
