// Package openmon aggregates file-open latency, errors and flag usage
// by command, syscall variant, and path. The BPF-side stats key embeds
// a 256-byte path buffer, too large for safe BPF stack use, so the
// kernel program builds it in a per-CPU scratch array before the map
// update, a detail that lives entirely in the BPF C source, mentioned
// here only because the Go-side key struct must match its layout
// byte-for-byte.
package openmon

import (
	"context"
	"strconv"
	"time"

	"github.com/srodi/ebpf-monitor/internal/bpfobj"
	"github.com/srodi/ebpf-monitor/internal/core"
	"github.com/srodi/ebpf-monitor/internal/monitors"
	"github.com/srodi/ebpf-monitor/internal/registry"
	"github.com/srodi/ebpf-monitor/pkg/logger"
)

const sweepInterval = 2 * time.Second
const pathMax = 256

func init() {
	registry.Register("open", New)
}

// operation distinguishes which open-family syscall a row was paired
// from, per the StatsMap key.
type operation uint32

const (
	opOpen operation = iota
	opOpenat
)

func (o operation) String() string {
	switch o {
	case opOpen:
		return "OPEN"
	case opOpenat:
		return "OPENAT"
	default:
		return "UNKNOWN"
	}
}

// statsKey mirrors struct { char comm[16]; u32 operation; char path[256]; }.
type statsKey struct {
	Comm      bpfobj.Comm16
	Operation operation
	Path      [pathMax]byte
}

func (k statsKey) pathString() string {
	for i, b := range k.Path {
		if b == 0 {
			return string(k.Path[:i])
		}
	}
	return string(k.Path[:])
}

// statsValue mirrors struct { u64 count; u64 error_count; u64 total_lat;
// u64 min_lat; u64 max_lat; u32 flags_summary; }, where total/min/max
// latency track the enter-to-exit span paired through track_map.
type statsValue struct {
	Count        uint64
	ErrorCount   uint64
	TotalLatNs   uint64
	MinLatNs     uint64
	MaxLatNs     uint64
	FlagsSummary uint32
}

type Monitor struct {
	monitors.Base

	// Interval is the sweep period; a zero Settings.Interval keeps
	// sweepInterval, the compiled-in default.
	Interval time.Duration
}

// New builds an unloaded Open monitor attaching both the legacy open(2)
// and the now-common openat(2) entry/exit tracepoint pairs; open(2) is
// optional since many distros' libc routes exclusively through openat.
func New(log *logger.Logger, settings registry.Settings) core.Monitor {
	interval := settings.Interval
	if interval <= 0 {
		interval = sweepInterval
	}
	return &Monitor{
		Base: monitors.Base{
			NameStr:    "open",
			Desc:       "file open latency, errors and flag usage by command and path",
			ObjectPath: "bpf/open.o",
			Log:        log,
			Filter:     settings.TargetFilter(),
			Points: []core.AttachPoint{
				{Kind: core.AttachTracepoint, Program: "trace_sys_enter_open", Group: "syscalls", Symbol: "sys_enter_open", Required: false},
				{Kind: core.AttachTracepoint, Program: "trace_sys_exit_open", Group: "syscalls", Symbol: "sys_exit_open", Required: false},
				{Kind: core.AttachTracepoint, Program: "trace_sys_enter_openat", Group: "syscalls", Symbol: "sys_enter_openat", Required: true},
				{Kind: core.AttachTracepoint, Program: "trace_sys_exit_openat", Group: "syscalls", Symbol: "sys_exit_openat", Required: true},
			},
		},
		Interval: interval,
	}
}

func (m *Monitor) CSVHeader() []string {
	return []string{
		"timestamp", "time_str", "comm", "operation", "filename",
		"count", "errors", "error_rate", "avg_lat_us", "min_lat_us", "max_lat_us", "flags",
	}
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
		avgLatNs := uint64(0)
		if val.Count > 0 {
			avgLatNs = val.TotalLatNs / val.Count
		}
		sink.Send([]string{
			ts, tsStr, key.Comm.String(), key.Operation.String(), key.pathString(),
			monitors.FormatCount(val.Count),
			monitors.FormatCount(val.ErrorCount),
			monitors.FormatErrorRate(val.ErrorCount, val.Count),
			monitors.FormatMicros(avgLatNs),
			monitors.FormatMicros(val.MinLatNs),
			monitors.FormatMicros(val.MaxLatNs),
			"0x" + strconv.FormatUint(uint64(val.FlagsSummary), 16),
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
