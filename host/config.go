package host

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the host runtime's resource policy. Every limit applies
// per call or per instance as noted; zero values fall back to the
// defaults except where a zero explicitly disables the limit.
type Config struct {
	// MaxMemoryPages caps each guest's linear memory in 64KiB pages.
	MaxMemoryPages uint32 `yaml:"max_memory_pages"`

	// MaxStackDepth caps guest call nesting per invocation. 0 disables.
	MaxStackDepth uint32 `yaml:"max_stack_depth"`

	// StepBudget caps execution steps per invocation, metered at guest
	// function-call boundaries. 0 disables.
	StepBudget uint64 `yaml:"step_budget"`

	// CallTimeout is the wall-clock cap per invocation. It backstops
	// the step budget: whichever trips first faults the call.
	CallTimeout time.Duration `yaml:"call_timeout"`

	// MaxConcurrentInstances is the global execution ceiling across
	// all modules.
	MaxConcurrentInstances int `yaml:"max_concurrent_instances"`

	// PoolSize caps live instances per module.
	PoolSize int `yaml:"pool_size"`

	// QueueSize bounds callers waiting for admission once the ceiling
	// or a module pool is saturated. Beyond it calls fail fast with a
	// capacity fault.
	QueueSize int `yaml:"queue_size"`

	// CacheValidatedModules reuses compiled modules across Load calls
	// keyed by content hash and schema fingerprint.
	CacheValidatedModules bool `yaml:"cache_validated_modules"`
}

// DefaultConfig returns the limits used when no configuration is
// provided: 16MiB memory, 10M steps, 5s per call.
func DefaultConfig() Config {
	return Config{
		MaxMemoryPages:         256,
		MaxStackDepth:          512,
		StepBudget:             10_000_000,
		CallTimeout:            5 * time.Second,
		MaxConcurrentInstances: 64,
		PoolSize:               8,
		QueueSize:              32,
		CacheValidatedModules:  true,
	}
}

// LoadConfig reads a YAML config file, filling unset fields from
// DefaultConfig.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.MaxMemoryPages == 0 {
		return fmt.Errorf("max_memory_pages must be positive")
	}
	if c.MaxConcurrentInstances <= 0 {
		return fmt.Errorf("max_concurrent_instances must be positive")
	}
	if c.PoolSize <= 0 {
		return fmt.Errorf("pool_size must be positive")
	}
	if c.QueueSize < 0 {
		return fmt.Errorf("queue_size must not be negative")
	}
	if c.CallTimeout < 0 {
		return fmt.Errorf("call_timeout must not be negative")
	}
	return nil
}
