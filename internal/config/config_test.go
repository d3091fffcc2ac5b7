package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Loop.MaxIterations != 10 {
		t.Fatalf("max iterations = %d", cfg.Loop.MaxIterations)
	}
	if cfg.Provider.StandardModel == "" {
		t.Fatal("no default standard model")
	}
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
loop:
  max_iterations: 5
sandbox:
  timeout: 10s
provider:
  light_model: custom-light
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Loop.MaxIterations != 5 {
		t.Fatalf("max iterations = %d, want 5", cfg.Loop.MaxIterations)
	}
	if cfg.Sandbox.Timeout.Std() != 10*time.Second {
		t.Fatalf("sandbox timeout = %s", cfg.Sandbox.Timeout)
	}
	if cfg.Provider.LightModel != "custom-light" {
		t.Fatalf("light model = %q", cfg.Provider.LightModel)
	}
	// Untouched settings keep their defaults.
	if cfg.Loop.MaxToolCallsPerStep != 3 {
		t.Fatalf("per-step ceiling = %d", cfg.Loop.MaxToolCallsPerStep)
	}
}

func TestEnvOverridesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("loop:\n  max_iterations: 5\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("AIDE_LOOP_MAX_ITERATIONS", "7")
	t.Setenv("AIDE_PROVIDER_API_KEY", "sk-env")
	t.Setenv("AIDE_BRIDGE_CALL_TIMEOUT", "45s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Loop.MaxIterations != 7 {
		t.Fatalf("max iterations = %d, want env value 7", cfg.Loop.MaxIterations)
	}
	if cfg.Provider.APIKey != "sk-env" {
		t.Fatalf("api key = %q", cfg.Provider.APIKey)
	}
	if cfg.Bridge.CallTimeout.Std() != 45*time.Second {
		t.Fatalf("call timeout = %s", cfg.Bridge.CallTimeout)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero iterations", func(c *Config) { c.Loop.MaxIterations = 0 }, "max_iterations"},
		{"zero step ceiling", func(c *Config) { c.Loop.MaxToolCallsPerStep = 0 }, "max_tool_calls_per_step"},
		{"zero sandbox timeout", func(c *Config) { c.Sandbox.Timeout = 0 }, "sandbox.timeout"},
		{"bad log level", func(c *Config) { c.Log.Level = "verbose" }, "log.level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q does not mention %s", err, tt.want)
			}
		})
	}
}
