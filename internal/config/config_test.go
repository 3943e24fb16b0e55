package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/srodi/ebpf-monitor/internal/core"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
output_dir: /tmp/telemetry
log_level: debug
monitors:
  - name: func
    enabled: true
    interval_seconds: 5
    filters:
      symbols: vfs_read,vfs_write
      probe_limit: "8"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.OutputDir != "/tmp/telemetry" {
		t.Errorf("OutputDir = %q", cfg.OutputDir)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
	// Unset fields keep defaults.
	if cfg.StopTimeout != 5*time.Second {
		t.Errorf("StopTimeout = %v, want default 5s", cfg.StopTimeout)
	}
	if cfg.Output.BufferSize != 2000 {
		t.Errorf("Output.BufferSize = %d, want default 2000", cfg.Output.BufferSize)
	}

	mons := EnabledMonitors(cfg)
	if len(mons) != 1 || mons[0].Name != "func" {
		t.Fatalf("EnabledMonitors = %+v, want just func", mons)
	}
	if mons[0].IntervalSeconds != 5 {
		t.Errorf("IntervalSeconds = %d, want 5", mons[0].IntervalSeconds)
	}
	if mons[0].Filters["symbols"] != "vfs_read,vfs_write" {
		t.Errorf("symbols filter = %q", mons[0].Filters["symbols"])
	}
}

func TestLoadMalformedYAML(t *testing.T) {
	path := writeConfig(t, "monitors: [unterminated")

	_, err := Load(path)
	var cfgErr *core.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("Load = %v, want *core.ConfigError", err)
	}
	if cfgErr.Kind != core.ConfigKindParse {
		t.Errorf("Kind = %v, want parse", cfgErr.Kind)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	var cfgErr *core.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("Load = %v, want *core.ConfigError", err)
	}
}

func TestValidateRejectsUnnamedMonitor(t *testing.T) {
	path := writeConfig(t, `
monitors:
  - enabled: true
`)
	_, err := Load(path)
	var cfgErr *core.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("Load = %v, want *core.ConfigError", err)
	}
	if cfgErr.Kind != core.ConfigKindMissingField {
		t.Errorf("Kind = %v, want missing_field", cfgErr.Kind)
	}
}

func TestDefaultEnablesEveryMonitor(t *testing.T) {
	cfg := Default()
	if len(EnabledMonitors(cfg)) != 8 {
		t.Errorf("default config enables %d monitors, want 8", len(EnabledMonitors(cfg)))
	}
}
