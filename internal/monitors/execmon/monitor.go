// Package execmon is the one event-stream monitor in the collector:
// every other monitor aggregates inside the kernel and is drained on a
// timer, but exec needs per-event argv, so its BPF program pushes a
// fixed-size record per execve into a per-CPU perf event array and
// user space polls it through a perf.Reader with a bounded deadline.
// The perf event array is used deliberately over the newer BPF ring
// buffer, which older supported kernels lack.
//
// Exec probes two attach paths, first success wins: a tracepoint pair
// (sys_enter_execve/sys_exit_execve) that pairs entry to exit by
// pid_tgid and captures argv plus the return code, or, on a kernel
// missing that tracepoint, a kprobe on the execve syscall entry point
// that captures only pid/uid/filename. Which path attached decides the
// record layout and the CSV header for the life of the run.
package execmon

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
	"github.com/cilium/ebpf/perf"

	"github.com/srodi/ebpf-monitor/internal/bpfobj"
	"github.com/srodi/ebpf-monitor/internal/clock"
	"github.com/srodi/ebpf-monitor/internal/core"
	"github.com/srodi/ebpf-monitor/internal/monitors"
	"github.com/srodi/ebpf-monitor/internal/registry"
	"github.com/srodi/ebpf-monitor/pkg/logger"
)

const pollDeadline = 1000 * time.Millisecond

// argvTokens and argvTokenLen bound the truncated argv the tracepoint
// path copies per execve: four tokens of up to fifteen bytes each.
// The kernel-side stack budget for a single probe is what caps these,
// not a user-space choice; longer command lines are truncated.
const (
	argvTokens   = 4
	argvTokenLen = 15
)

// filenameMax bounds the kprobe path's PT_REGS_PARM1 filename capture.
const filenameMax = 256

// kprobeSymbols lists the execve entry points tried in order when the
// tracepoint pair isn't available; the symbol name depends on kernel
// version and architecture.
var kprobeSymbols = []string{"__x64_sys_execve", "__ia32_sys_execve", "sys_execve"}

func init() {
	registry.Register("exec", New)
}

// path records which attach path won the race and therefore which
// record layout and CSV header apply.
type path int

const (
	pathNone path = iota
	pathTracepoint
	pathKprobe
)

// tracepointRecord mirrors the fixed-size struct the tracepoint-pair
// program pushes: comm[16], uid, pid, ppid, argv tokens, ret, ktime ns.
type tracepointRecord struct {
	Comm        bpfobj.Comm16
	UID         uint32
	PID         uint32
	PPID        uint32
	Argv        [argvTokens][argvTokenLen]byte
	Ret         int32
	TimestampNs uint64
}

const tracepointRecordSize = 16 + 4 + 4 + 4 + argvTokens*argvTokenLen + 4 + 8

// kprobeRecord mirrors the fixed-size struct the kprobe-only program
// pushes: comm[16], uid, pid, filename[256], ktime ns.
type kprobeRecord struct {
	Comm        bpfobj.Comm16
	UID         uint32
	PID         uint32
	Filename    [filenameMax]byte
	TimestampNs uint64
}

const kprobeRecordSize = 16 + 4 + 4 + filenameMax + 8

type Monitor struct {
	monitors.Base
	reader *perf.Reader
	path   path
	caps   *core.CapabilityReport
}

// New builds an unloaded Exec monitor. Exec is an event stream, not a
// periodic sweep, so it has no interval or post-drain filter knobs;
// the capability report steers which execve symbol the kprobe
// fallback even attempts.
func New(log *logger.Logger, settings registry.Settings) core.Monitor {
	return &Monitor{
		Base: monitors.Base{
			NameStr:    "exec",
			Desc:       "process execution events with truncated argv",
			ObjectPath: "bpf/exec.o",
			Log:        log,
			Filter:     settings.TargetFilter(),
		},
		caps: settings.Capability,
	}
}

// CSVHeader depends on which attach path won; before Attach runs it
// reports the tracepoint-path header, the common case.
func (m *Monitor) CSVHeader() []string {
	if m.path == pathKprobe {
		return []string{"timestamp", "time_str", "uid", "pid", "comm", "filename"}
	}
	return []string{"timestamp", "time_str", "comm", "uid", "pid", "ppid", "ret", "argv"}
}

// Attach tries the tracepoint pair first, then falls back to the first
// working kprobe symbol: first success wins and fixes the record
// layout for the life of the run.
func (m *Monitor) Attach(ctx context.Context) error {
	coll, err := m.Collection()
	if err != nil {
		return &core.AttachError{Monitor: m.NameStr, Kind: core.AttachKindNotAvailable, Err: err}
	}

	if links, ok := m.tryTracepointPair(coll); ok {
		m.AddLinks(links)
		m.path = pathTracepoint
	} else if l, ok := m.tryKprobeFallback(coll); ok {
		m.AddLinks([]link.Link{l})
		m.path = pathKprobe
	} else {
		m.SetState(core.StateFailed)
		return &core.AttachError{Monitor: m.NameStr, Kind: core.AttachKindNotAvailable, Err: errors.New("neither tracepoint pair nor any kprobe symbol attached")}
	}

	eventsMap, err := m.Map("events")
	if err != nil {
		return err
	}
	reader, err := perf.NewReader(eventsMap, 4096*8)
	if err != nil {
		return &core.AttachError{Monitor: m.NameStr, Point: "events", Kind: core.AttachKindLinkFailed, Err: err}
	}
	m.reader = reader

	m.SetState(core.StateAttached)
	return nil
}

func (m *Monitor) tryTracepointPair(coll *ebpf.Collection) (links []link.Link, ok bool) {
	enter, hasEnter := coll.Programs["trace_sys_enter_execve"]
	exit, hasExit := coll.Programs["trace_sys_exit_execve"]
	if !hasEnter || !hasExit {
		return nil, false
	}
	enterLink, err := link.Tracepoint("syscalls", "sys_enter_execve", enter, nil)
	if err != nil {
		m.Log.Warnf("exec: tracepoint sys_enter_execve failed: %v", err)
		return nil, false
	}
	exitLink, err := link.Tracepoint("syscalls", "sys_exit_execve", exit, nil)
	if err != nil {
		enterLink.Close()
		m.Log.Warnf("exec: tracepoint sys_exit_execve failed: %v", err)
		return nil, false
	}
	return []link.Link{enterLink, exitLink}, true
}

func (m *Monitor) tryKprobeFallback(coll *ebpf.Collection) (link.Link, bool) {
	prog, ok := coll.Programs["trace_execve_kprobe"]
	if !ok {
		m.Log.Warnf("exec: no kprobe fallback handler in collection")
		return nil, false
	}
	for _, symbol := range kprobeSymbols {
		// An empty symbol table means kallsyms was unreadable, not
		// that the kernel has no symbols; only a populated table can
		// rule a symbol out.
		if m.caps != nil && len(m.caps.Symbols) > 0 && !m.caps.HasSymbol(symbol) {
			m.Log.Debugf("exec: %s not in kallsyms, skipping", symbol)
			continue
		}
		l, err := link.Kprobe(symbol, prog, nil)
		if err != nil {
			m.Log.Warnf("exec: kprobe %s unavailable: %v", symbol, err)
			continue
		}
		return l, true
	}
	return nil, false
}

func (m *Monitor) Run(ctx context.Context, sink core.SinkHandle) error {
	if m.reader == nil {
		return &core.DrainError{Monitor: m.NameStr, Kind: core.DrainKindRingRead, Err: errors.New("perf reader not attached")}
	}
	m.reader.SetDeadline(time.Now().Add(pollDeadline))

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		record, err := m.reader.Read()
		if err != nil {
			if errors.Is(err, perf.ErrClosed) {
				return nil
			}
			var timeoutErr interface{ Timeout() bool }
			if errors.As(err, &timeoutErr) && timeoutErr.Timeout() {
				m.reader.SetDeadline(time.Now().Add(pollDeadline))
				continue
			}
			return &core.DrainError{Monitor: m.NameStr, Kind: core.DrainKindRingRead, Err: err}
		}
		if record.LostSamples > 0 {
			m.RecordLost(record.LostSamples)
			m.Log.Warnf("exec: lost %d samples", record.LostSamples)
		}

		var row []string
		switch m.path {
		case pathKprobe:
			rec, derr := decodeKprobeRecord(record.RawSample)
			if derr != nil {
				m.Log.Errorf("exec: decode: %v", derr)
				continue
			}
			if !m.Filter.Allow(rec.PID, rec.UID) {
				continue
			}
			row, err = formatKprobeRow(rec)
		default:
			rec, derr := decodeTracepointRecord(record.RawSample)
			if derr != nil {
				m.Log.Errorf("exec: decode: %v", derr)
				continue
			}
			if !m.Filter.Allow(rec.PID, rec.UID) {
				continue
			}
			row, err = formatTracepointRow(rec)
		}
		if err != nil {
			m.Log.Errorf("exec: format: %v", err)
			continue
		}
		sink.Send(row)

		m.reader.SetDeadline(time.Now().Add(pollDeadline))
	}
}

func (m *Monitor) Stop(ctx context.Context) error {
	if m.reader != nil {
		m.reader.Close()
	}
	return m.Base.Stop(ctx)
}

func decodeTracepointRecord(raw []byte) (tracepointRecord, error) {
	var rec tracepointRecord
	if len(raw) < tracepointRecordSize {
		return rec, fmt.Errorf("short exec tracepoint record: %d bytes", len(raw))
	}
	off := 0
	copy(rec.Comm[:], raw[off:off+16])
	off += 16
	rec.UID = binary.LittleEndian.Uint32(raw[off : off+4])
	off += 4
	rec.PID = binary.LittleEndian.Uint32(raw[off : off+4])
	off += 4
	rec.PPID = binary.LittleEndian.Uint32(raw[off : off+4])
	off += 4
	for i := 0; i < argvTokens; i++ {
		copy(rec.Argv[i][:], raw[off:off+argvTokenLen])
		off += argvTokenLen
	}
	rec.Ret = int32(binary.LittleEndian.Uint32(raw[off : off+4]))
	off += 4
	rec.TimestampNs = binary.LittleEndian.Uint64(raw[off : off+8])
	return rec, nil
}

func decodeKprobeRecord(raw []byte) (kprobeRecord, error) {
	var rec kprobeRecord
	if len(raw) < kprobeRecordSize {
		return rec, fmt.Errorf("short exec kprobe record: %d bytes", len(raw))
	}
	off := 0
	copy(rec.Comm[:], raw[off:off+16])
	off += 16
	rec.UID = binary.LittleEndian.Uint32(raw[off : off+4])
	off += 4
	rec.PID = binary.LittleEndian.Uint32(raw[off : off+4])
	off += 4
	copy(rec.Filename[:], raw[off:off+filenameMax])
	off += filenameMax
	rec.TimestampNs = binary.LittleEndian.Uint64(raw[off : off+8])
	return rec, nil
}

func formatTracepointRow(rec tracepointRecord) ([]string, error) {
	wall, err := clock.FromKernelTimestamp(rec.TimestampNs)
	if err != nil {
		return nil, err
	}
	ts, tsStr := monitors.FormatTimestamp(wall)

	argv := ""
	for i, tok := range rec.Argv {
		s := nullTerminated(tok[:])
		if s == "" {
			break
		}
		if i > 0 {
			argv += " "
		}
		argv += s
	}

	return []string{
		ts, tsStr,
		rec.Comm.String(),
		monitors.FormatCount(uint64(rec.UID)),
		monitors.FormatCount(uint64(rec.PID)),
		monitors.FormatCount(uint64(rec.PPID)),
		fmt.Sprintf("%d", rec.Ret),
		argv,
	}, nil
}

func formatKprobeRow(rec kprobeRecord) ([]string, error) {
	wall, err := clock.FromKernelTimestamp(rec.TimestampNs)
	if err != nil {
		return nil, err
	}
	ts, tsStr := monitors.FormatTimestamp(wall)

	return []string{
		ts, tsStr,
		monitors.FormatCount(uint64(rec.UID)),
		monitors.FormatCount(uint64(rec.PID)),
		rec.Comm.String(),
		nullTerminated(rec.Filename[:]),
	}, nil
}

func nullTerminated(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
