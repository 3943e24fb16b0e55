// Package pagefaultmon aggregates page fault counts by command, fault
// type (minor/major, read/write, user/kernel), CPU and NUMA node.
package pagefaultmon

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
	registry.Register("pagefault", New)
}

// fault_type bitfield, derived from the page_fault tracepoint's
// error_code: bit0 set means minor (else major),
// bit1 means write, and an external is_user flag means user-mode. Only
// these four subtypes are derivable from error_code; SHARED/SWAP
// detection is deliberately not attempted.
const (
	faultMinor uint32 = 1 << iota
	faultWrite
	faultUser
)

func faultTypeString(t uint32) string {
	parts := make([]string, 0, 3)
	if t&faultMinor != 0 {
		parts = append(parts, "minor")
	} else {
		parts = append(parts, "major")
	}
	if t&faultWrite != 0 {
		parts = append(parts, "write")
	} else {
		parts = append(parts, "read")
	}
	if t&faultUser != 0 {
		parts = append(parts, "user")
	} else {
		parts = append(parts, "kernel")
	}
	return strings.Join(parts, "|")
}

// statsKey mirrors struct { char comm[16]; u32 fault_type; u32 cpu; }.
type statsKey struct {
	Comm      bpfobj.Comm16
	FaultType uint32
	CPU       uint32
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
			NameStr:    "pagefault",
			Desc:       "page fault counts by command, fault type, CPU and NUMA node",
			ObjectPath: "bpf/page_fault.o",
			Log:        log,
			Filter:     settings.TargetFilter(),
			Points: []core.AttachPoint{
				{Kind: core.AttachTracepoint, Program: "trace_page_fault_user", Group: "exceptions", Symbol: "page_fault_user", Required: true},
				{Kind: core.AttachTracepoint, Program: "trace_page_fault_kernel", Group: "exceptions", Symbol: "page_fault_kernel", Required: false},
			},
		},
		Interval: interval,
	}
}

func (m *Monitor) CSVHeader() []string {
	return []string{"timestamp", "time_str", "comm", "fault_type", "fault_type_str", "cpu", "numa_node", "count"}
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
			monitors.FormatCount(uint64(key.FaultType)),
			faultTypeString(key.FaultType),
			monitors.FormatCount(uint64(key.CPU)),
			monitors.FormatCount(uint64(cpuNode(key.CPU))),
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
