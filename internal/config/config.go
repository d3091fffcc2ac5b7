// Package config loads runtime settings from an optional YAML file
// with environment variables layered on top, so a host can ship a
// baseline file and still override per-device knobs.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Provider ProviderConfig `yaml:"provider" envPrefix:"AIDE_PROVIDER_"`
	Loop     LoopConfig     `yaml:"loop" envPrefix:"AIDE_LOOP_"`
	Sandbox  SandboxConfig  `yaml:"sandbox" envPrefix:"AIDE_SANDBOX_"`
	Bridge   BridgeConfig   `yaml:"bridge" envPrefix:"AIDE_BRIDGE_"`
	Log      LogConfig      `yaml:"log" envPrefix:"AIDE_LOG_"`
}

type ProviderConfig struct {
	APIKey            string  `yaml:"api_key" env:"API_KEY"`
	LightModel        string  `yaml:"light_model" env:"LIGHT_MODEL"`
	StandardModel     string  `yaml:"standard_model" env:"STANDARD_MODEL"`
	HeavyModel        string  `yaml:"heavy_model" env:"HEAVY_MODEL"`
	MaxAttempts       int     `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	RequestsPerSecond float64 `yaml:"requests_per_second" env:"REQUESTS_PER_SECOND"`
	RequestBurst      int     `yaml:"request_burst" env:"REQUEST_BURST"`
}

type LoopConfig struct {
	MaxIterations       int    `yaml:"max_iterations" env:"MAX_ITERATIONS"`
	MaxToolCalls        int    `yaml:"max_tool_calls" env:"MAX_TOOL_CALLS"`
	MaxToolCallsPerStep int    `yaml:"max_tool_calls_per_step" env:"MAX_TOOL_CALLS_PER_STEP"`
	TokenBudget         int64  `yaml:"token_budget" env:"TOKEN_BUDGET"`
	MaxTokensPerReply   int64  `yaml:"max_tokens_per_reply" env:"MAX_TOKENS_PER_REPLY"`
	MaxHistory          int    `yaml:"max_history" env:"MAX_HISTORY"`
	MaxToolResultBytes  int    `yaml:"max_tool_result_bytes" env:"MAX_TOOL_RESULT_BYTES"`
	SystemPrompt        string `yaml:"system_prompt" env:"SYSTEM_PROMPT"`
}

type SandboxConfig struct {
	Timeout   Duration `yaml:"timeout" env:"TIMEOUT"`
	OutputDir string   `yaml:"output_dir" env:"OUTPUT_DIR"`
}

type BridgeConfig struct {
	// CallTimeout caps how long any single host tool call may take,
	// on top of the per-tool class budgets.
	CallTimeout Duration `yaml:"call_timeout" env:"CALL_TIMEOUT"`
}

// Duration parses "30s"-style strings from both YAML and the
// environment.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(raw))
}

type LogConfig struct {
	Level string `yaml:"level" env:"LEVEL"`
}

func Default() Config {
	return Config{
		Provider: ProviderConfig{
			LightModel:        "claude-haiku-4-5",
			StandardModel:     "claude-sonnet-4-5",
			HeavyModel:        "claude-opus-4-5",
			MaxAttempts:       4,
			RequestsPerSecond: 2,
			RequestBurst:      4,
		},
		Loop: LoopConfig{
			MaxIterations:       10,
			MaxToolCalls:        15,
			MaxToolCallsPerStep: 3,
			TokenBudget:         120_000,
			MaxTokensPerReply:   4096,
			MaxHistory:          60,
			MaxToolResultBytes:  16 * 1024,
		},
		Sandbox: SandboxConfig{
			Timeout:   Duration(30 * time.Second),
			OutputDir: os.TempDir(),
		},
		Bridge: BridgeConfig{
			CallTimeout: Duration(2 * time.Minute),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load builds the effective configuration: defaults, then the YAML
// file at path when it exists, then environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Missing file is fine; defaults plus env carry it.
		case err != nil:
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Loop.MaxIterations <= 0 {
		return fmt.Errorf("loop.max_iterations must be positive, got %d", c.Loop.MaxIterations)
	}
	if c.Loop.MaxToolCallsPerStep <= 0 {
		return fmt.Errorf("loop.max_tool_calls_per_step must be positive, got %d", c.Loop.MaxToolCallsPerStep)
	}
	if c.Loop.MaxTokensPerReply <= 0 {
		return fmt.Errorf("loop.max_tokens_per_reply must be positive, got %d", c.Loop.MaxTokensPerReply)
	}
	if c.Sandbox.Timeout <= 0 {
		return fmt.Errorf("sandbox.timeout must be positive, got %s", c.Sandbox.Timeout)
	}
	if c.Bridge.CallTimeout <= 0 {
		return fmt.Errorf("bridge.call_timeout must be positive, got %s", c.Bridge.CallTimeout)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn, or error, got %q", c.Log.Level)
	}
	return nil
}
