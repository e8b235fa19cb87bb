package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/flowmatic/flowmatic/pkg/logger"
)

// EnvPrefix namespaces every environment variable the loader reads, e.g.
// FLOWMATIC_MAX_WORKFLOW_DURATION=90m or FLOWMATIC_SECURITY_PROFILE=standard.
const EnvPrefix = "FLOWMATIC_"

// envPaths maps env var names (without prefix) to config paths.
var envPaths = map[string]string{
	"MAX_WORKFLOW_DURATION": "limits.max_workflow_duration",
	"MAX_STEP_DURATION":     "limits.max_step_duration",
	"MAX_MEMORY_MB":         "limits.max_memory_mb",
	"MAX_FILE_SIZE_MB":      "limits.max_file_size_mb",
	"MAX_LOG_LENGTH":        "limits.max_log_length",
	"CACHE_MAX_ENTRIES":     "cache.max_entries",
	"CACHE_TTL":             "cache.ttl",
	"SECURITY_PROFILE":      "security.profile",
	"WORKSPACE":             "security.workspace",
	"DETAILED_LOGGING":      "runtime.detailed_logging",
	"LOG_LEVEL":             "runtime.log_level",
}

// Load builds the engine configuration: defaults first, then environment
// overrides, then validation.
func Load() (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(DefaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load config defaults: %w", err)
	}
	if err := k.Load(env.Provider(".", env.Opt{
		Prefix: EnvPrefix,
		TransformFunc: func(key, value string) (string, any) {
			key = strings.TrimPrefix(key, EnvPrefix)
			if path, ok := envPaths[key]; ok {
				return path, value
			}
			return "", nil
		},
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}
	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	warnOnRiskyValues(cfg)
	return cfg, nil
}

// Validate checks struct constraints on cfg.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func warnOnRiskyValues(cfg *Config) {
	log := logger.GetDefault()
	if cfg.Limits.MaxWorkflowDuration.Seconds() < 60 {
		log.Warn("max workflow duration is very low; consider increasing for production",
			"max_workflow_duration", cfg.Limits.MaxWorkflowDuration)
	}
	if cfg.Limits.MaxMemoryMB < 256 {
		log.Warn("max memory is very low; this may cause workflow failures",
			"max_memory_mb", cfg.Limits.MaxMemoryMB)
	}
}
