// Package interruptmon aggregates hardware and software interrupt
// counts by command, interrupt type, and CPU.
package interruptmon

import (
	"context"
	"strings"
	"time"

	"github.com/srodi/ebpf-monitor/internal/bpfobj"
	"github.com/srodi/ebpf-monitor/internal/core"
	"github.com/srodi/ebpf-monitor/internal/monitors"
	"github.com/srodi/ebpf-monitor/internal/registry"
	"github.com/srodi/ebpf-monitor/pkg/logger"
)

const sweepInterval = 2 * time.Second

func init() {
	registry.Register("interrupt", New)
}

// irq_type bitfield: hardware/software combined with specialised bits
// (timer, network, block) derived from the softirq vec.
const (
	irqHardware uint32 = 1 << iota
	irqSoftware
	irqTimer
	irqNetwork
	irqBlock
)

func irqTypeString(t uint32) string {
	var parts []string
	if t&irqHardware != 0 {
		parts = append(parts, "hardware")
	}
	if t&irqSoftware != 0 {
		parts = append(parts, "software")
	}
	if t&irqTimer != 0 {
		parts = append(parts, "timer")
	}
	if t&irqNetwork != 0 {
		parts = append(parts, "network")
	}
	if t&irqBlock != 0 {
		parts = append(parts, "block")
	}
	if len(parts) == 0 {
		return "unknown"
	}
	return strings.Join(parts, "|")
}

// statsKey mirrors struct { char comm[16]; u32 irq_type; u32 cpu; }.
type statsKey struct {
	Comm    bpfobj.Comm16
	IrqType uint32
	CPU     uint32
}

type Monitor struct {
	monitors.Base

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
			NameStr:    "interrupt",
			Desc:       "interrupt counts by command, type and CPU",
			ObjectPath: "bpf/interrupt.o",
			Log:        log,
			Filter:     settings.TargetFilter(),
			Points: []core.AttachPoint{
				{Kind: core.AttachTracepoint, Program: "trace_irq_handler_exit", Group: "irq", Symbol: "irq_handler_exit", Required: true},
				{Kind: core.AttachTracepoint, Program: "trace_softirq_exit", Group: "irq", Symbol: "softirq_exit", Required: false},
			},
		},
		Interval: interval,
	}
}

func (m *Monitor) CSVHeader() []string {
	return []string{"timestamp", "time_str", "comm", "irq_type", "irq_type_str", "cpu", "count"}
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
	var count uint64
	keysToDelete := make([]statsKey, 0, 64)

	iter := statsMap.Iterate()
	for iter.Next(&key, &count) {
		keysToDelete = append(keysToDelete, key)

		if !m.Filter.AllowAggregated() {
			continue
		}
		sink.Send([]string{
			ts, tsStr, key.Comm.String(),
			monitors.FormatCount(uint64(key.IrqType)),
			irqTypeString(key.IrqType),
			monitors.FormatCount(uint64(key.CPU)),
			monitors.FormatCount(count),
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
