package config

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestFlagSet() (*flag.FlagSet, *flagSpec) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	spec := registerFlags(fs)
	return fs, spec
}

func TestLoad_Defaults(t *testing.T) {
	fs, spec := newTestFlagSet()
	if err := fs.Parse(nil); err != nil {
		t.Fatal(err)
	}
	cfg, err := load(fs, spec)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.App.LogLevel != "info" {
		t.Fatalf("expected default log level info, got %q", cfg.App.LogLevel)
	}
	if cfg.Runtime.StepBudget != 64 {
		t.Fatalf("expected default step budget 64, got %d", cfg.Runtime.StepBudget)
	}
	if cfg.MQTT.Enabled || cfg.Metrics.Enabled {
		t.Fatal("bridge and metrics must default to disabled")
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "coproc.yaml")
	body := []byte("app:\n  log_level: debug\n  shutdown_timeout: 5s\nruntime:\n  default_pool_size: 3\n")
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatal(err)
	}

	fs, spec := newTestFlagSet()
	if err := fs.Parse([]string{"-config", path}); err != nil {
		t.Fatal(err)
	}
	cfg, err := load(fs, spec)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.App.LogLevel != "debug" {
		t.Fatalf("file log level not applied: %q", cfg.App.LogLevel)
	}
	if cfg.App.ShutdownTimeout.Std() != 5*time.Second {
		t.Fatalf("file shutdown timeout not applied: %v", cfg.App.ShutdownTimeout.Std())
	}
	if cfg.Runtime.DefaultPoolSize != 3 {
		t.Fatalf("file pool size not applied: %d", cfg.Runtime.DefaultPoolSize)
	}
	// Untouched keys keep their defaults.
	if cfg.Runtime.StepBudget != 64 {
		t.Fatalf("absent file key clobbered default: %d", cfg.Runtime.StepBudget)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "coproc.yaml")
	if err := os.WriteFile(path, []byte("app:\n  log_level: debug\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("COPROC_LOG_LEVEL", "warn")
	t.Setenv("COPROC_STEP_BUDGET", "8")

	fs, spec := newTestFlagSet()
	if err := fs.Parse([]string{"-config", path}); err != nil {
		t.Fatal(err)
	}
	cfg, err := load(fs, spec)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.App.LogLevel != "warn" {
		t.Fatalf("env did not override file: %q", cfg.App.LogLevel)
	}
	if cfg.Runtime.StepBudget != 8 {
		t.Fatalf("env step budget not applied: %d", cfg.Runtime.StepBudget)
	}
}

func TestLoad_FlagsOverrideEnv(t *testing.T) {
	t.Setenv("COPROC_LOG_LEVEL", "warn")

	fs, spec := newTestFlagSet()
	if err := fs.Parse([]string{"-log-level", "error", "-pool-size", "2"}); err != nil {
		t.Fatal(err)
	}
	cfg, err := load(fs, spec)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.App.LogLevel != "error" {
		t.Fatalf("flag did not override env: %q", cfg.App.LogLevel)
	}
	if cfg.Runtime.DefaultPoolSize != 2 {
		t.Fatalf("flag pool size not applied: %d", cfg.Runtime.DefaultPoolSize)
	}
}

func TestLoad_UnsetFlagsDoNotOverride(t *testing.T) {
	t.Setenv("COPROC_LOG_LEVEL", "debug")

	fs, spec := newTestFlagSet()
	if err := fs.Parse(nil); err != nil {
		t.Fatal(err)
	}
	cfg, err := load(fs, spec)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	// The -log-level default is "info" but it was not set, so the env
	// value must survive.
	if cfg.App.LogLevel != "debug" {
		t.Fatalf("unset flag clobbered env value: %q", cfg.App.LogLevel)
	}
}

func TestLoad_MQTTBrokersFromFlag(t *testing.T) {
	fs, spec := newTestFlagSet()
	if err := fs.Parse([]string{"-mqtt", "-mqtt-brokers", "tcp://a:1883, tcp://b:1883"}); err != nil {
		t.Fatal(err)
	}
	cfg, err := load(fs, spec)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(cfg.MQTT.Brokers) != 2 || cfg.MQTT.Brokers[1] != "tcp://b:1883" {
		t.Fatalf("broker list not parsed: %v", cfg.MQTT.Brokers)
	}
}
