// Package funcmon counts kernel function entries by command and a
// compile-time function id. Unlike the other aggregating monitors,
// its attach points aren't a fixed list: the kernel object carries one
// pre-generated kprobe handler per configured symbol
// (trace_func_entry_0, trace_func_entry_1, ...), each passing its own
// constant func_id into a common update helper.
// probeLimit caps how many of those generated handlers actually get
// attached.
package funcmon

import (
	"context"
	"fmt"
	"time"

	"github.com/cilium/ebpf/link"

	"github.com/srodi/ebpf-monitor/internal/bpfobj"
	"github.com/srodi/ebpf-monitor/internal/core"
	"github.com/srodi/ebpf-monitor/internal/monitors"
	"github.com/srodi/ebpf-monitor/internal/registry"
	"github.com/srodi/ebpf-monitor/pkg/logger"
)

const sweepInterval = 2 * time.Second
const defaultProbeLimit = 32

func init() {
	registry.Register("func", New)
}

// statsKey mirrors the BPF-side struct { char comm[16]; u32 func_id; }.
type statsKey struct {
	Comm   bpfobj.Comm16
	FuncID uint32
}

type Monitor struct {
	monitors.Base

	// Symbols is the configurable list of kernel function names to
	// count, e.g. ["vfs_read"]. probe_limit (below) caps how many are
	// actually attached; excess symbols are logged and skipped.
	Symbols []string
	// ProbeLimit caps the number of symbols actually attached.
	ProbeLimit int
	// Interval is the sweep period; a zero Settings.Interval keeps
	// sweepInterval, the compiled-in default.
	Interval time.Duration

	caps        *core.CapabilityReport
	symbolNames map[uint32]string
}

// New builds an unloaded Func monitor. With no "symbols" filter
// configured, it falls back to counting vfs_read, a symbol present on
// every supported kernel.
func New(log *logger.Logger, settings registry.Settings) core.Monitor {
	symbols := settings.StringList("symbols")
	if len(symbols) == 0 {
		symbols = []string{"vfs_read"}
	}
	interval := settings.Interval
	if interval <= 0 {
		interval = sweepInterval
	}
	return &Monitor{
		Base: monitors.Base{
			NameStr:    "func",
			Desc:       "kernel function entry counts by command",
			ObjectPath: "bpf/func.o",
			Log:        log,
			Filter:     settings.TargetFilter(),
		},
		Symbols:    symbols,
		ProbeLimit: settings.Int("probe_limit", defaultProbeLimit),
		Interval:   interval,
		caps:       settings.Capability,
	}
}

func (m *Monitor) CSVHeader() []string {
	return []string{"timestamp", "time_str", "comm", "func_name", "count"}
}

// Attach binds one generated kprobe handler per configured symbol, up
// to ProbeLimit. A symbol whose generated handler program isn't present
// in the collection, or whose kprobe target doesn't exist on this
// kernel, is logged and skipped; it does not abort the other symbols.
// If nothing attaches, Attach fails.
func (m *Monitor) Attach(ctx context.Context) error {
	coll, err := m.Collection()
	if err != nil {
		return &core.AttachError{Monitor: m.NameStr, Kind: core.AttachKindNotAvailable, Err: err}
	}

	limit := m.ProbeLimit
	if limit <= 0 || limit > len(m.Symbols) {
		limit = len(m.Symbols)
	}

	m.symbolNames = make(map[uint32]string, limit)
	var links []link.Link
	for i := 0; i < limit; i++ {
		symbol := m.Symbols[i]
		// An empty symbol table means kallsyms was unreadable, not
		// that the kernel has no symbols; only a populated table can
		// rule a symbol out.
		if m.caps != nil && len(m.caps.Symbols) > 0 && !m.caps.HasSymbol(symbol) {
			m.Log.Warnf("func: symbol %s not in kallsyms, skipping", symbol)
			continue
		}
		progName := fmt.Sprintf("trace_func_entry_%d", i)
		prog, ok := coll.Programs[progName]
		if !ok {
			m.Log.Warnf("func: no generated handler %s for symbol %s, skipping", progName, symbol)
			continue
		}
		l, err := link.Kprobe(symbol, prog, nil)
		if err != nil {
			m.Log.Warnf("func: symbol %s not present on this kernel, skipping: %v", symbol, err)
			continue
		}
		links = append(links, l)
		m.symbolNames[uint32(i)] = symbol
	}

	if len(m.Symbols) > limit {
		m.Log.Warnf("func: probe_limit %d reached, skipping %d symbol(s)", limit, len(m.Symbols)-limit)
	}

	if len(links) == 0 {
		m.SetState(core.StateFailed)
		return &core.AttachError{Monitor: m.NameStr, Kind: core.AttachKindNotAvailable, Err: fmt.Errorf("no configured symbol attached")}
	}

	m.AddLinks(links)
	m.SetState(core.StateAttached)
	return nil
}

func (m *Monitor) Run(ctx context.Context, sink core.SinkHandle) error {
	return m.RunSweep(ctx, m.Interval, m.drain, sink)
}

func (m *Monitor) funcName(id uint32) string {
	if name, ok := m.symbolNames[id]; ok {
		return name
	}
	return "unknown"
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
		sink.Send([]string{ts, tsStr, key.Comm.String(), m.funcName(key.FuncID), monitors.FormatCount(count)})
	}
	if err := iter.Err(); err != nil {
		return &core.DrainError{Monitor: m.NameStr, Kind: core.DrainKindMapIterate, Err: err}
	}

	for _, k := range keysToDelete {
		_ = statsMap.Delete(&k)
	}
	return nil
}
