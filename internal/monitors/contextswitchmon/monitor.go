// Package contextswitchmon aggregates voluntary and involuntary context
// switch counts by command and CPU.
package contextswitchmon

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

func init() {
	registry.Register("contextswitch", New)
}

// statsKey mirrors struct { char comm[16]; u32 cpu; }.
type statsKey struct {
	Comm bpfobj.Comm16
	CPU  uint32
}

// statsValue mirrors struct { u64 switch_in; u64 switch_out; u64 voluntary; u64 involuntary; }.
type statsValue struct {
	SwitchIn    uint64
	SwitchOut   uint64
	Voluntary   uint64
	Involuntary uint64
}

type Monitor struct {
	monitors.Base

	// MinSwitches filters rows whose total switch count (switch_in +
	// switch_out) falls below this threshold, applied user-side after
	// the drain. Zero (the
	// default) disables filtering.
	MinSwitches uint64
	// Interval is the sweep period; a zero Settings.Interval keeps
	// sweepInterval, the compiled-in default.
	Interval time.Duration
}

func New(log *logger.Logger, settings registry.Settings) core.Monitor {
	interval := settings.Interval
	if interval <= 0 {
		interval = sweepInterval
	}
	return &Monitor{
		Base: monitors.Base{
			NameStr:    "contextswitch",
			Desc:       "voluntary/involuntary context switch counts by command and CPU",
			ObjectPath: "bpf/context_switch.o",
			Log:        log,
			Filter:     settings.TargetFilter(),
			Points: []core.AttachPoint{
				{Kind: core.AttachTracepoint, Program: "trace_sched_switch", Group: "sched", Symbol: "sched_switch", Required: true},
			},
		},
		MinSwitches: settings.Uint64("min_switches", 0),
		Interval:    interval,
	}
}

// passesMinSwitches reports whether val's total switch count clears m's
// configured threshold.
func (m *Monitor) passesMinSwitches(val statsValue) bool {
	return val.SwitchIn+val.SwitchOut >= m.MinSwitches
}

func (m *Monitor) CSVHeader() []string {
	return []string{"timestamp", "time_str", "comm", "cpu", "switch_in", "switch_out", "voluntary", "involuntary"}
}

func (m *Monitor) Run(ctx context.Context, sink core.SinkHandle) error {
	return m.RunSweep(ctx, m.Interval, m.drain, sink)
}

func (m *Monitor) drain(sink core.SinkHandle, tick time.Time) error {
	statsMap, err := m.Map("stats_map")
	if err != nil {
		return err
	}

	ts, tsStr := monitors.FormatTimestamp(tick)
	var key statsKey
	var val statsValue
	keysToDelete := make([]statsKey, 0, 64)

	iter := statsMap.Iterate()
	for iter.Next(&key, &val) {
		keysToDelete = append(keysToDelete, key)

		if !m.Filter.AllowAggregated() {
			continue
		}
		if !m.passesMinSwitches(val) {
			continue
		}

		sink.Send([]string{
			ts, tsStr, key.Comm.String(),
			monitors.FormatCount(uint64(key.CPU)),
			monitors.FormatCount(val.SwitchIn),
			monitors.FormatCount(val.SwitchOut),
			monitors.FormatCount(val.Voluntary),
			monitors.FormatCount(val.Involuntary),
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
