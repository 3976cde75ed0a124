// Package config loads the run execution engine's static configuration
// from a YAML file with environment-variable expansion and overrides,
// following the same load/expand/default/validate pipeline the pack's
// config loaders use.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for a scheduler process.
type Config struct {
	Runner    RunnerConfig    `yaml:"runner"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Tools     ToolsConfig     `yaml:"tools"`
	Store     StoreConfig     `yaml:"store"`
	EventBus  EventBusConfig  `yaml:"event_bus"`
	Engine    EngineConfig    `yaml:"engine"`
	Model     ModelConfig     `yaml:"model"`
}

// RunnerConfig bounds a single agent's reason-act loop.
type RunnerConfig struct {
	MaxSteps int `yaml:"max_steps"`
}

// SchedulerConfig bounds the scheduler's concurrency and batching.
type SchedulerConfig struct {
	MaxConcurrentRuns int `yaml:"max_concurrent_runs"`
	MaxGroupRounds    int `yaml:"max_group_rounds"`
	TokenBatchSize    int `yaml:"token_batch_size"`
}

// ToolsConfig configures the tool router's defaults.
type ToolsConfig struct {
	DefaultTimeout time.Duration `yaml:"default_timeout"`
}

// StoreConfig selects and configures the backing store.
type StoreConfig struct {
	// Driver selects the Store implementation: "memory", "postgres", or
	// "mongo". "mongo" is the teacher's own choice of persistence driver
	// (features/run/mongo, features/runlog/mongo); "postgres" is enrichment
	// adopted from elsewhere in the example pack.
	Driver       string        `yaml:"driver"`
	DSN          string        `yaml:"dsn"`
	Database     string        `yaml:"database"`
	MaxOpenConns int32         `yaml:"max_open_conns"`
	MaxIdleConns int32         `yaml:"max_idle_conns"`
	MaxIdleTime  time.Duration `yaml:"max_idle_time"`
}

// EventBusConfig selects and configures the live event fan-out transport.
type EventBusConfig struct {
	// Driver selects the Bus implementation: "memory" or "pulse". "pulse"
	// mirrors the teacher's features/stream/pulse package over
	// goa.design/pulse and Redis.
	Driver       string `yaml:"driver"`
	RedisAddr    string `yaml:"redis_addr"`
	RedisDB      int    `yaml:"redis_db"`
	StreamMaxLen int    `yaml:"stream_max_len"`
}

// EngineConfig selects and configures the workflow engine that drives a
// run's step loop.
type EngineConfig struct {
	// Driver selects the engine: "inmem" or "temporal". "temporal" mirrors
	// the teacher's runtime/agent/engine/temporal package over
	// go.temporal.io/sdk.
	Driver        string `yaml:"driver"`
	TemporalHost  string `yaml:"temporal_host"`
	TemporalQueue string `yaml:"temporal_task_queue"`
	TemporalNS    string `yaml:"temporal_namespace"`
}

// ModelConfig is the default model configuration used when a queued run
// does not override it (spec.md §4.7 step 2).
type ModelConfig struct {
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
}

// Default returns a Config with every field set to its documented default.
func Default() Config {
	return Config{
		Runner: RunnerConfig{MaxSteps: 25},
		Scheduler: SchedulerConfig{
			MaxConcurrentRuns: 16,
			MaxGroupRounds:    3,
			TokenBatchSize:    24,
		},
		Tools:    ToolsConfig{DefaultTimeout: 30 * time.Second},
		Store:    StoreConfig{Driver: "memory"},
		EventBus: EventBusConfig{Driver: "memory"},
		Engine:   EngineConfig{Driver: "inmem", TemporalQueue: "rund-tasks"},
	}
}

// Load reads a YAML config file, expands ${VAR} references against the
// process environment, applies defaults for unset fields, and validates
// the result.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	expanded := expandEnvVars(raw)

	reencoded, err := yaml.Marshal(expanded)
	if err != nil {
		return Config{}, fmt.Errorf("config: re-encode %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(reencoded, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config: validate %s: %w", path, err)
	}
	return cfg, nil
}

// applyDefaults fills any zero-valued field left unset by the YAML
// document with Default()'s value.
func (c *Config) applyDefaults() {
	d := Default()
	if c.Runner.MaxSteps <= 0 {
		c.Runner.MaxSteps = d.Runner.MaxSteps
	}
	if c.Scheduler.MaxConcurrentRuns <= 0 {
		c.Scheduler.MaxConcurrentRuns = d.Scheduler.MaxConcurrentRuns
	}
	if c.Scheduler.MaxGroupRounds <= 0 {
		c.Scheduler.MaxGroupRounds = d.Scheduler.MaxGroupRounds
	}
	if c.Scheduler.TokenBatchSize <= 0 {
		c.Scheduler.TokenBatchSize = d.Scheduler.TokenBatchSize
	}
	if c.Tools.DefaultTimeout <= 0 {
		c.Tools.DefaultTimeout = d.Tools.DefaultTimeout
	}
	if c.Store.Driver == "" {
		c.Store.Driver = d.Store.Driver
	}
	if c.Store.Driver == "mongo" && c.Store.Database == "" {
		c.Store.Database = "rund"
	}
	if c.EventBus.Driver == "" {
		c.EventBus.Driver = d.EventBus.Driver
	}
	if c.Engine.Driver == "" {
		c.Engine.Driver = d.Engine.Driver
	}
	if c.Engine.Driver == "temporal" && c.Engine.TemporalQueue == "" {
		c.Engine.TemporalQueue = d.Engine.TemporalQueue
	}
}

// Validate rejects a config that would misbehave at runtime rather than
// fail loudly at startup.
func (c Config) Validate() error {
	switch c.Store.Driver {
	case "memory":
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("config: store.dsn is required when store.driver is postgres")
		}
	case "mongo":
		if c.Store.DSN == "" {
			return fmt.Errorf("config: store.dsn is required when store.driver is mongo")
		}
	default:
		return fmt.Errorf("config: unknown store.driver %q", c.Store.Driver)
	}
	switch c.EventBus.Driver {
	case "memory":
	case "pulse":
		if c.EventBus.RedisAddr == "" {
			return fmt.Errorf("config: event_bus.redis_addr is required when event_bus.driver is pulse")
		}
	default:
		return fmt.Errorf("config: unknown event_bus.driver %q", c.EventBus.Driver)
	}
	switch c.Engine.Driver {
	case "inmem":
	case "temporal":
		if c.Engine.TemporalHost == "" {
			return fmt.Errorf("config: engine.temporal_host is required when engine.driver is temporal")
		}
	default:
		return fmt.Errorf("config: unknown engine.driver %q", c.Engine.Driver)
	}
	if c.Runner.MaxSteps <= 0 {
		return fmt.Errorf("config: runner.max_steps must be positive")
	}
	return nil
}

// expandEnvVars recursively expands ${VAR} and $VAR references in string
// leaves of a decoded YAML document.
func expandEnvVars(input map[string]any) map[string]any {
	out := make(map[string]any, len(input))
	for k, v := range input {
		out[k] = expandValue(v)
	}
	return out
}

func expandValue(v any) any {
	switch val := v.(type) {
	case string:
		return os.Expand(val, lookupEnv)
	case map[string]any:
		return expandEnvVars(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = expandValue(item)
		}
		return out
	default:
		return v
	}
}

func lookupEnv(name string) string {
	v, _ := os.LookupEnv(name)
	return v
}

// ApplyEnvOverrides layers MAX_CONCURRENT_RUNS and TOKEN_EVENT_BATCH_SIZE
// environment variables on top of a loaded Config. cmd/rund passes
// Scheduler.MaxConcurrentRuns to the scheduler; Scheduler.TokenBatchSize is
// not read by the scheduler, whose token batch size is fixed at 24.
func (c *Config) ApplyEnvOverrides() {
	c.Scheduler.MaxConcurrentRuns = envOverrideInt("MAX_CONCURRENT_RUNS", c.Scheduler.MaxConcurrentRuns)
	c.Scheduler.TokenBatchSize = envOverrideInt("TOKEN_EVENT_BATCH_SIZE", c.Scheduler.TokenBatchSize)
}

func envOverrideInt(name string, fallback int) int {
	raw, ok := os.LookupEnv(name)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
