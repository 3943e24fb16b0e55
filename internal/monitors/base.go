package monitors

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
	"github.com/cilium/ebpf/rlimit"

	"github.com/srodi/ebpf-monitor/internal/bpfobj"
	"github.com/srodi/ebpf-monitor/internal/core"
	"github.com/srodi/ebpf-monitor/pkg/logger"
)

// Base implements the load/attach/unload/state bookkeeping shared by
// every concrete monitor. Each
// concrete monitor embeds Base and supplies its own Run (sweep loop or
// ring-buffer loop) and CSVHeader.
type Base struct {
	NameStr    string
	Desc       string
	ObjectPath string
	Points     []core.AttachPoint
	Log        *logger.Logger

	// Filter is the per-PID/per-UID target filter. Load writes its
	// allow-lists into the collection's target_pids/target_uids maps,
	// and every drain path consults it before emitting a row.
	Filter *bpfobj.TargetFilter

	mu    sync.RWMutex
	coll  *ebpf.Collection
	links []link.Link
	state core.MonitorState

	ticks     atomic.Uint64
	drainErrs atomic.Uint64
	lost      atomic.Uint64
}

// Ticks reports how many sweep cycles (or, for an event-stream monitor,
// however the monitor chooses to count work units) have run.
func (b *Base) Ticks() uint64 { return b.ticks.Load() }

// DrainErrors reports how many transient drain failures occurred.
func (b *Base) DrainErrors() uint64 { return b.drainErrs.Load() }

// RecordLost accounts n kernel-side lost events (perf ring overwrites)
// without aborting the monitor.
func (b *Base) RecordLost(n uint64) { b.lost.Add(n) }

// LostEvents reports how many kernel-side events were lost.
func (b *Base) LostEvents() uint64 { return b.lost.Load() }

func (b *Base) Name() string        { return b.NameStr }
func (b *Base) Description() string { return b.Desc }

// ConsoleRow gives every concrete monitor a default columnar console
// encoding without needing to implement it itself; a monitor with a
// genuinely different console layout can still override it because Go
// method promotion only applies when the outer type doesn't define its
// own.
func (b *Base) ConsoleRow(row []string) string {
	return FormatConsoleRow(row)
}

func (b *Base) State() core.MonitorState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

func (b *Base) setState(s core.MonitorState) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()
}

// Load removes the process memlock limit (required before any BPF map
// can be created) and loads the monitor's compiled collection.
func (b *Base) Load(ctx context.Context) error {
	b.mu.RLock()
	alreadyLoaded := b.coll != nil
	b.mu.RUnlock()
	if alreadyLoaded {
		return nil
	}

	if err := rlimit.RemoveMemlock(); err != nil {
		b.setState(core.StateFailed)
		return &core.LoadError{Monitor: b.NameStr, Kind: core.LoadKindMemlock, Err: err}
	}

	coll, err := ebpf.LoadCollection(b.ObjectPath)
	if err != nil {
		b.setState(core.StateFailed)
		kind := core.LoadKindVerifier
		if errors.Is(err, os.ErrNotExist) {
			kind = core.LoadKindObjectMissing
		}
		return &core.LoadError{Monitor: b.NameStr, Kind: kind, Err: err}
	}

	b.applyTargetFilter(coll)

	b.mu.Lock()
	b.coll = coll
	b.mu.Unlock()
	b.setState(core.StateLoaded)
	return nil
}

// applyTargetFilter writes the configured PID/UID allow-lists into the
// collection's target_pids/target_uids hash maps, so the probe
// handlers drop non-matching events before aggregation. Maps are
// populated before any probe attaches, so no event races the filter.
// An object compiled without the target maps leaves the filter
// kernel-unfiltered; aggregating drains then drop unattributable rows
// via AllowAggregated rather than ignoring the operator's allow-list.
func (b *Base) applyTargetFilter(coll *ebpf.Collection) {
	if !bpfobj.TargetFilterEnabled || !b.Filter.Restrictive() {
		return
	}

	ok := true
	populate := func(mapName string, ids []uint32) {
		if len(ids) == 0 {
			return
		}
		m, present := coll.Maps[mapName]
		if !present {
			b.Log.Warnf("%s: object has no %s map, cannot filter kernel-side", b.NameStr, mapName)
			ok = false
			return
		}
		for _, id := range ids {
			if err := m.Put(id, uint8(1)); err != nil {
				b.Log.Warnf("%s: populating %s: %v", b.NameStr, mapName, err)
				ok = false
				return
			}
		}
	}
	populate("target_pids", b.Filter.PIDs())
	populate("target_uids", b.Filter.UIDs())
	if ok {
		b.Filter.SetKernelFiltered()
	}
}

// Attach binds every declared attach point, skipping optional points
// that fail.
func (b *Base) Attach(ctx context.Context) error {
	b.mu.RLock()
	coll := b.coll
	b.mu.RUnlock()
	if coll == nil {
		return &core.AttachError{Monitor: b.NameStr, Kind: core.AttachKindNotAvailable, Err: errNotLoaded}
	}

	links, err := AttachAll(b.NameStr, coll, b.Points, b.Log)
	if err != nil {
		b.setState(core.StateFailed)
		return err
	}

	b.mu.Lock()
	b.links = links
	b.mu.Unlock()
	b.setState(core.StateAttached)
	return nil
}

// Collection returns the loaded collection, for monitors (funcmon) that
// need to attach a variable, config-driven set of points rather than
// the fixed Points list Base.Attach handles.
func (b *Base) Collection() (*ebpf.Collection, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.coll == nil {
		return nil, errNotLoaded
	}
	return b.coll, nil
}

// SetCollection installs an externally-assembled collection, for
// callers that build maps without going through Load — drain tests
// construct an unattached stats map this way. The target filter is
// applied the same as on the Load path.
func (b *Base) SetCollection(coll *ebpf.Collection) {
	b.applyTargetFilter(coll)
	b.mu.Lock()
	b.coll = coll
	b.mu.Unlock()
}

// AddLinks records additionally-attached links so Unload closes them
// alongside the ones Base.Attach created from Points.
func (b *Base) AddLinks(links []link.Link) {
	b.mu.Lock()
	b.links = append(b.links, links...)
	b.mu.Unlock()
}

// AttachCount reports how many links are currently attached.
func (b *Base) AttachCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.links)
}

// SetState exposes the state transition to monitors that override
// Attach and need to report Attached/Failed themselves.
func (b *Base) SetState(s core.MonitorState) {
	b.setState(s)
}

// Map returns a named map from the loaded collection.
func (b *Base) Map(name string) (*ebpf.Map, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.coll == nil {
		return nil, errNotLoaded
	}
	m, ok := b.coll.Maps[name]
	if !ok {
		return nil, &core.DrainError{Monitor: b.NameStr, Kind: core.DrainKindMapIterate, Err: errMapMissing(name)}
	}
	return m, nil
}

// Stop marks the monitor stopping; concrete Run loops observe ctx
// cancellation and return on their own, so Stop here is a state update
// the supervisor uses for reporting, not a synchronous join.
func (b *Base) Stop(ctx context.Context) error {
	b.setState(core.StateStopping)
	return nil
}

// Unload closes every attach link and the loaded collection.
func (b *Base) Unload(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, l := range b.links {
		l.Close()
	}
	b.links = nil
	if b.coll != nil {
		b.coll.Close()
		b.coll = nil
	}
	b.state = core.StateStopped
	return nil
}

type errString string

func (e errString) Error() string { return string(e) }

const errNotLoaded = errString("monitor: collection not loaded")

func errMapMissing(name string) error {
	return errString("monitor: map " + name + " not found in collection")
}
