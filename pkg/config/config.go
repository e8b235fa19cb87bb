package config

import (
	"os"
	"path/filepath"
	"time"
)

// Config carries every environment-driven knob the engine consumes.
// All values have working defaults; see DefaultConfig.
type Config struct {
	Limits   LimitsConfig   `koanf:"limits"`
	Cache    CacheConfig    `koanf:"cache"`
	Security SecurityConfig `koanf:"security"`
	Runtime  RuntimeConfig  `koanf:"runtime"`
}

// LimitsConfig contains execution ceilings.
type LimitsConfig struct {
	MaxWorkflowDuration time.Duration `koanf:"max_workflow_duration" env:"MAX_WORKFLOW_DURATION" validate:"min=1s"`
	MaxStepDuration     time.Duration `koanf:"max_step_duration"     env:"MAX_STEP_DURATION"     validate:"min=1s"`
	MaxMemoryMB         int           `koanf:"max_memory_mb"         env:"MAX_MEMORY_MB"         validate:"min=1"`
	MaxFileSizeMB       int           `koanf:"max_file_size_mb"      env:"MAX_FILE_SIZE_MB"      validate:"min=1"`
	MaxLogLength        int           `koanf:"max_log_length"        env:"MAX_LOG_LENGTH"        validate:"min=1"`
}

// CacheConfig bounds the step-result cache.
type CacheConfig struct {
	MaxEntries int           `koanf:"max_entries" env:"CACHE_MAX_ENTRIES" validate:"min=1"`
	TTL        time.Duration `koanf:"ttl"         env:"CACHE_TTL"         validate:"min=1s"`
}

// SecurityConfig selects the validation profile and workspace root.
type SecurityConfig struct {
	Profile   string `koanf:"profile"   env:"SECURITY_PROFILE" validate:"oneof=plan_only restricted standard elevated"`
	Workspace string `koanf:"workspace" env:"WORKSPACE"        validate:"required"`
}

// RuntimeConfig contains runtime behavior toggles.
type RuntimeConfig struct {
	DetailedLogging bool   `koanf:"detailed_logging" env:"DETAILED_LOGGING"`
	LogLevel        string `koanf:"log_level"        env:"LOG_LEVEL"        validate:"oneof=debug info warn error"`
}

// DefaultConfig returns the documented defaults: 1h workflow ceiling, 30m step
// ceiling, 1GB memory, 100MB files, 1000 cache entries with 1h TTL, the
// restricted profile, and a workspace under the OS temp directory.
func DefaultConfig() *Config {
	return &Config{
		Limits: LimitsConfig{
			MaxWorkflowDuration: time.Hour,
			MaxStepDuration:     30 * time.Minute,
			MaxMemoryMB:         1024,
			MaxFileSizeMB:       100,
			MaxLogLength:        1000,
		},
		Cache: CacheConfig{
			MaxEntries: 1000,
			TTL:        time.Hour,
		},
		Security: SecurityConfig{
			Profile:   "restricted",
			Workspace: filepath.Join(os.TempDir(), "flowmatic-workspace"),
		},
		Runtime: RuntimeConfig{
			DetailedLogging: false,
			LogLevel:        "info",
		},
	}
}
