// Package syscallmon aggregates syscall counts and error counts by
// command and syscall number. The kernel side keeps the counts
// aggregated in a StatsMap keyed by (comm, syscall_nr); user space
// sweeps it on a timer and enriches each row with a syscall name and
// category, which only exist as user-space tables.
package syscallmon

import (
	"context"
	"time"

	"github.com/srodi/ebpf-monitor/internal/bpfobj"
	"github.com/srodi/ebpf-monitor/internal/core"
	"github.com/srodi/ebpf-monitor/internal/monitors"
	"github.com/srodi/ebpf-monitor/internal/registry"
	"github.com/srodi/ebpf-monitor/pkg/logger"
)

const sweepInterval = 2 * time.Second

// monitorType labels every row emitted by this monitor, distinguishing
// it in the CSV from any future per-syscall-filtered variant; this
// aggregating sweep always reports "all".
const monitorType = "all"

func init() {
	registry.Register("syscall", New)
}

// statsKey mirrors struct { char comm[16]; u64 syscall_nr; }.
type statsKey struct {
	Comm      bpfobj.Comm16
	SyscallNr uint64
}

// statsValue mirrors struct { u64 count; u64 error_count; }.
type statsValue struct {
	Count      uint64
	ErrorCount uint64
}

type Monitor struct {
	monitors.Base

	// ExcludedCategories filters rows by category, applied user-side
	// after the drain; excluded keys are still swept and cleared.
	ExcludedCategories map[category]struct{}
	// Interval is the sweep period; a zero Settings.Interval keeps
	// sweepInterval, the compiled-in default.
	Interval time.Duration
}

// New builds an unloaded Syscall monitor. The "excluded_categories"
// filter is a comma-separated category list (file_io, network, memory,
// process, signal, time, other); there is no ipc category, and numbers
// outside the category tables are labelled other. Excluded rows are
// still swept and cleared out of the StatsMap, they just aren't
// emitted.
func New(log *logger.Logger, settings registry.Settings) core.Monitor {
	var excluded map[category]struct{}
	if names := settings.StringList("excluded_categories"); len(names) > 0 {
		excluded = make(map[category]struct{}, len(names))
		for _, n := range names {
			excluded[category(n)] = struct{}{}
		}
	}
	interval := settings.Interval
	if interval <= 0 {
		interval = sweepInterval
	}
	return &Monitor{
		Base: monitors.Base{
			NameStr:    "syscall",
			Desc:       "syscall invocation and error counts by command",
			ObjectPath: "bpf/syscall.o",
			Log:        log,
			Filter:     settings.TargetFilter(),
			Points: []core.AttachPoint{
				{Kind: core.AttachTracepoint, Program: "trace_sys_exit", Group: "raw_syscalls", Symbol: "sys_exit", Required: true},
			},
		},
		ExcludedCategories: excluded,
		Interval:           interval,
	}
}

func (m *Monitor) CSVHeader() []string {
	return []string{
		"timestamp", "time_str", "monitor_type", "comm", "syscall_nr", "syscall_name",
		"category", "count", "error_count", "error_rate",
	}
}

func (m *Monitor) Run(ctx context.Context, sink core.SinkHandle) error {
	return m.RunSweep(ctx, m.Interval, m.drain, sink)
}

func (m *Monitor) excluded(cat category) bool {
	if len(m.ExcludedCategories) == 0 {
		return false
	}
	_, ok := m.ExcludedCategories[cat]
	return ok
}

func (m *Monitor) drain(sink core.SinkHandle, tick time.Time) error {
	statsMap, err := m.Map("stats_map")
	if err != nil {
		return err
	}

	ts, tsStr := monitors.FormatTimestamp(tick)
	var key statsKey
	var val statsValue
	keysToDelete := make([]statsKey, 0, 128)

	iter := statsMap.Iterate()
	for iter.Next(&key, &val) {
		keysToDelete = append(keysToDelete, key)

		if !m.Filter.AllowAggregated() {
			continue
		}
		nr := uint32(key.SyscallNr)
		cat := classify(nr)
		if m.excluded(cat) {
			continue
		}

		sink.Send([]string{
			ts, tsStr, monitorType, key.Comm.String(),
			monitors.FormatCount(key.SyscallNr),
			syscallName(nr),
			string(cat),
			monitors.FormatCount(val.Count),
			monitors.FormatCount(val.ErrorCount),
			monitors.FormatErrorRate(val.ErrorCount, val.Count),
		})
	}
	if err := iter.Err(); err != nil {
		return &core.DrainError{Monitor: m.NameStr, Kind: core.DrainKindMapIterate, Err: err}
	}

	for _, k := range keysToDelete {
		_ = statsMap.Delete(&k)
	}
	return nil
}
