// Package appctx is the application's sole lifetime anchor: one
// Context is built in cmd/monitor's main() and passed down by
// reference to everything that needs the capability report, config,
// logger, output controller, or supervisor. Nothing in this package is
// a package-level variable: every collaborator is an owned member,
// injected explicitly. The monitor registry is not a member: monitors
// are built from the registry package's own package-level table, which
// each monitor package fills from its init().
package appctx

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/srodi/ebpf-monitor/internal/capability"
	"github.com/srodi/ebpf-monitor/internal/config"
	"github.com/srodi/ebpf-monitor/internal/core"
	"github.com/srodi/ebpf-monitor/internal/output"
	"github.com/srodi/ebpf-monitor/internal/registry"
	"github.com/srodi/ebpf-monitor/internal/supervisor"
	"github.com/srodi/ebpf-monitor/pkg/logger"
)

// Context holds every long-lived collaborator the collector needs.
type Context struct {
	Config     config.AppConfig
	Capability *core.CapabilityReport
	Logger     *logger.Logger
	Output     *output.Controller
	Supervisor *supervisor.Supervisor
}

// New probes host capabilities, builds the output controller, and
// constructs a Supervisor bound to it. It does not load or attach any
// monitor; that happens in StartMonitors, once the caller has decided
// which configured monitors to actually run.
func New(cfg config.AppConfig, log *logger.Logger) (*Context, error) {
	report, err := capability.Probe()
	if err != nil {
		return nil, &core.PermissionError{Kind: core.PermissionKindNotRoot, Err: err}
	}

	// CSV files land under one directory per host, so collections from
	// several machines can share an output tree without colliding.
	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}
	outCfg := output.Config{
		OutputDir:           filepath.Join(cfg.OutputDir, host),
		BufferSize:          cfg.Output.BufferSize,
		BatchSize:           cfg.Output.BatchSize,
		LargeBatchThreshold: cfg.Output.LargeBatchThreshold,
		FlushInterval:       cfg.Output.FlushInterval,
		IncludeHeader:       cfg.Output.IncludeHeader,
	}
	outCtl := output.NewController(outCfg, log.Named("output"))
	if err := outCtl.Open(); err != nil {
		return nil, err
	}

	sup := supervisor.New(outCtl, log.Named("supervisor"))
	sup.SetStopTimeout(cfg.StopTimeout)

	return &Context{
		Config:     cfg,
		Capability: report,
		Logger:     log,
		Output:     outCtl,
		Supervisor: sup,
	}, nil
}

// StartMonitors builds every enabled, registered monitor, then loads,
// attaches and runs them through the Supervisor. It returns once Run
// returns (normally on context cancellation).
func (c *Context) StartMonitors(ctx context.Context) error {
	configured := config.EnabledMonitors(c.Config)
	mons := make([]core.Monitor, 0, len(configured))
	for _, mc := range configured {
		settings := registry.Settings{
			Interval:   time.Duration(mc.IntervalSeconds) * time.Second,
			Filters:    mc.Filters,
			Capability: c.Capability,
		}
		m, ok := registry.Build(mc.Name, c.Logger.Named(mc.Name), settings)
		if !ok {
			return &core.ConfigError{Field: "monitors", Kind: core.ConfigKindUnknownMonitor, Err: fmt.Errorf("monitor %q is not registered", mc.Name)}
		}
		mons = append(mons, m)
	}
	if len(mons) == 0 {
		return &core.ConfigError{Field: "monitors", Kind: core.ConfigKindMissingField, Err: fmt.Errorf("no monitors enabled")}
	}

	if err := c.Supervisor.LoadAndAttach(ctx, mons); err != nil {
		return err
	}
	return c.Supervisor.Run(ctx)
}

// Shutdown stops the supervisor and closes the output controller.
func (c *Context) Shutdown(ctx context.Context) error {
	stopErr := c.Supervisor.Stop(ctx)
	closeErr := c.Output.Close()
	if stopErr != nil {
		return stopErr
	}
	return closeErr
}
