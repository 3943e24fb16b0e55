// Command monitor is the collector's entrypoint: it loads config,
// probes kernel capabilities, and runs the enabled monitors until
// interrupted. The CLI is built with spf13/cobra because
// --daemon-status and --daemon-stop are subcommand-shaped in a way
// cobra expresses directly.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/srodi/ebpf-monitor/internal/appctx"
	"github.com/srodi/ebpf-monitor/internal/config"
	"github.com/srodi/ebpf-monitor/internal/core"
	"github.com/srodi/ebpf-monitor/internal/daemon"
	"github.com/srodi/ebpf-monitor/pkg/logger"

	_ "github.com/srodi/ebpf-monitor/internal/monitors/biomon"
	_ "github.com/srodi/ebpf-monitor/internal/monitors/contextswitchmon"
	_ "github.com/srodi/ebpf-monitor/internal/monitors/execmon"
	_ "github.com/srodi/ebpf-monitor/internal/monitors/funcmon"
	_ "github.com/srodi/ebpf-monitor/internal/monitors/interruptmon"
	_ "github.com/srodi/ebpf-monitor/internal/monitors/openmon"
	_ "github.com/srodi/ebpf-monitor/internal/monitors/pagefaultmon"
	_ "github.com/srodi/ebpf-monitor/internal/monitors/syscallmon"
)

// Exit codes, frozen: downstream wrappers branch on them.
const (
	exitClean       = 0
	exitConfigError = 1
	exitPermission  = 2
	exitLoadAttach  = 3
	exitRuntime     = 4
)

var (
	cfgFile      string
	monitorNames string
	outputDir    string
	daemonize    bool
	daemonStatus bool
	daemonStop   bool
	verbose      bool
)

func main() {
	os.Exit(run(newRootCmd()))
}

func run(root *cobra.Command) int {
	err := root.Execute()
	if err == nil {
		return exitClean
	}
	fmt.Fprintln(os.Stderr, err)
	return exitCodeFor(err)
}

func exitCodeFor(err error) int {
	switch err.(type) {
	case *core.ConfigError:
		return exitConfigError
	case *core.PermissionError:
		return exitPermission
	case *core.LoadError, *core.AttachError:
		return exitLoadAttach
	default:
		return exitRuntime
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "ebpf-monitor",
		Short:         "Kernel telemetry collector built on eBPF",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runMain,
	}
	root.Flags().StringVarP(&cfgFile, "config", "c", "", "configuration file path")
	root.Flags().StringVarP(&monitorNames, "monitors", "m", "", "comma-separated monitors to enable, overrides config")
	root.Flags().StringVar(&outputDir, "output-dir", "", "override CSV output directory")
	root.Flags().BoolVar(&daemonize, "daemon", false, "run as a background process")
	root.Flags().BoolVar(&daemonStatus, "daemon-status", false, "report whether the daemon is running and exit")
	root.Flags().BoolVar(&daemonStop, "daemon-stop", false, "stop the running daemon and exit")
	root.Flags().BoolVarP(&verbose, "verbose", "v", false, "raise log level to debug")
	return root
}

func runMain(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	if cfgFile != "" {
		loaded, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	if monitorNames != "" {
		cfg.Monitors = monitorsFromNames(monitorNames)
	}
	if outputDir != "" {
		cfg.OutputDir = outputDir
	}
	if verbose {
		cfg.LogLevel = "debug"
	}

	if daemonStatus {
		running, pid, err := daemon.Status(cfg.PidFile)
		if err != nil {
			return err
		}
		if running {
			fmt.Printf("ebpf-monitor is running (pid %d)\n", pid)
		} else {
			fmt.Println("ebpf-monitor is not running")
			os.Exit(1)
		}
		return nil
	}

	if daemonStop {
		return daemon.Stop(cfg.PidFile, cfg.StopTimeout)
	}

	if daemonize {
		if err := daemon.WritePIDFile(cfg.PidFile); err != nil {
			return err
		}
		defer daemon.RemovePIDFile(cfg.PidFile)
	}

	log := logger.NewStdout(levelFromString(cfg.LogLevel))

	appCtx, err := appctx.New(cfg, log)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("received shutdown signal")
		cancel()
	}()

	runErr := appCtx.StartMonitors(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.StopTimeout)
	defer shutdownCancel()
	if err := appCtx.Shutdown(shutdownCtx); err != nil {
		log.Errorf("shutdown: %v", err)
	}

	printSummary(appCtx)

	return runErr
}

// printSummary emits the one-line-per-monitor accounting the collector
// reports on exit: rows written, rows dropped, ticks, errors.
func printSummary(appCtx *appctx.Context) {
	for _, sum := range appCtx.Supervisor.Summary() {
		line := fmt.Sprintf("%s: %d rows written, %d dropped, %d ticks, %d errors",
			sum.Name, sum.RowsWritten, sum.RowsDropped, sum.Ticks, sum.DrainErrors)
		if sum.LastErr != nil {
			line += fmt.Sprintf(" (last error: %v)", sum.LastErr)
		}
		fmt.Println(line)
	}
}

// monitorsFromNames builds a MonitorConfig list with every named
// monitor enabled, the -m override's "overrides config" semantics.
func monitorsFromNames(csv string) []config.MonitorConfig {
	names := strings.Split(csv, ",")
	mons := make([]config.MonitorConfig, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		mons = append(mons, config.MonitorConfig{Name: n, Enabled: true})
	}
	return mons
}

func levelFromString(s string) logger.Level {
	switch s {
	case "debug":
		return logger.DEBUG
	case "warn":
		return logger.WARN
	case "error":
		return logger.ERROR
	default:
		return logger.INFO
	}
}
