// Package config loads the collector's YAML configuration file into
// AppConfig, the root of the settings tree every other package reads
// from. A partial file overlays the built-in defaults, so configs only
// name the fields they change.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/srodi/ebpf-monitor/internal/core"
)

// MonitorConfig is one entry under the monitors: list in the YAML file,
// carrying the per-monitor interval and filter knobs
// alongside the name/enabled flag. IntervalSeconds overrides an
// aggregating monitor's sweep period (zero keeps the monitor's own
// default); Filters holds monitor-specific knobs such as
// min_latency_us, excluded_categories, symbols, probe_limit, or
// min_switches as raw strings, since each monitor's filter set differs.
type MonitorConfig struct {
	Name            string            `yaml:"name"`
	Enabled         bool              `yaml:"enabled"`
	IntervalSeconds int               `yaml:"interval_seconds"`
	Filters         map[string]string `yaml:"filters"`
}

// OutputConfig mirrors internal/output.Config in the YAML document.
type OutputConfig struct {
	BufferSize          int           `yaml:"buffer_size"`
	BatchSize           int           `yaml:"batch_size"`
	LargeBatchThreshold int           `yaml:"large_batch_threshold"`
	FlushInterval       time.Duration `yaml:"flush_interval"`
	IncludeHeader       bool          `yaml:"include_header"`
}

// AppConfig is the root of the YAML document.
type AppConfig struct {
	OutputDir   string          `yaml:"output_dir"`
	LogLevel    string          `yaml:"log_level"`
	LogDir      string          `yaml:"log_dir"`
	PidFile     string          `yaml:"pid_file"`
	StopTimeout time.Duration   `yaml:"stop_timeout"`
	Monitors    []MonitorConfig `yaml:"monitors"`
	Output      OutputConfig    `yaml:"output"`
}

// Default returns the built-in configuration used when no file is
// given, with every monitor enabled.
func Default() AppConfig {
	names := []string{"exec", "func", "syscall", "bio", "open", "interrupt", "pagefault", "contextswitch"}
	mons := make([]MonitorConfig, 0, len(names))
	for _, n := range names {
		mons = append(mons, MonitorConfig{Name: n, Enabled: true})
	}
	return AppConfig{
		OutputDir:   "./ebpf-monitor-output",
		LogLevel:    "info",
		LogDir:      "./ebpf-monitor-output/logs",
		PidFile:     "/var/run/ebpf-monitor.pid",
		StopTimeout: 5 * time.Second,
		Monitors:    mons,
		Output: OutputConfig{
			BufferSize:          2000,
			BatchSize:           100,
			LargeBatchThreshold: 20,
			FlushInterval:       2 * time.Second,
			IncludeHeader:       true,
		},
	}
}

// Load reads and parses the YAML file at path, overlaying it on
// Default() so a partial config file only needs to name the fields it
// changes.
func Load(path string) (AppConfig, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, &core.ConfigError{Field: path, Kind: core.ConfigKindParse, Err: err}
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, &core.ConfigError{Field: path, Kind: core.ConfigKindParse, Err: err}
	}
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validate(cfg AppConfig) error {
	if cfg.OutputDir == "" {
		return &core.ConfigError{Field: "output_dir", Kind: core.ConfigKindMissingField, Err: fmt.Errorf("must not be empty")}
	}
	for _, m := range cfg.Monitors {
		if m.Name == "" {
			return &core.ConfigError{Field: "monitors[].name", Kind: core.ConfigKindMissingField, Err: fmt.Errorf("monitor name required")}
		}
	}
	return nil
}

// EnabledMonitors returns the full config entry for every monitor cfg
// enables, interval and filters included, so the caller can build a
// registry.Settings from each without reaching back into cfg itself.
func EnabledMonitors(cfg AppConfig) []MonitorConfig {
	out := make([]MonitorConfig, 0, len(cfg.Monitors))
	for _, m := range cfg.Monitors {
		if m.Enabled {
			out = append(out, m)
		}
	}
	return out
}
