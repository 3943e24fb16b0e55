// Package bpfobj holds helpers shared by the concrete monitor packages
// for building and reading fixed-width BPF map keys, and the per-PID
// and per-UID target filter consulted on every drain path.
package bpfobj

import "sync/atomic"

// TargetFilterEnabled gates the per-PID/per-UID target filter. The
// plumbing is live — every monitor builds a TargetFilter from config,
// the load path populates the kernel-side target maps, and every drain
// consults the filter — but the switch stays off by default, so Allow
// reports true regardless of the configured lists until it is flipped.
const TargetFilterEnabled = false

// TargetFilter restricts collection to an allow-list of PIDs and/or
// UIDs. Per-event filtering happens kernel-side: the configured lists
// are written into the BPF object's target_pids/target_uids hash maps
// at load, and the probe handlers drop non-matching events before they
// ever reach a StatsMap or ring buffer. User space mirrors the same
// lookup: event-stream drains gate each record with Allow, and
// aggregating drains gate rows with AllowAggregated, since pid and uid
// do not survive kernel-side aggregation.
type TargetFilter struct {
	pids map[uint32]struct{}
	uids map[uint32]struct{}

	pidList []uint32
	uidList []uint32

	kernelFiltered atomic.Bool
}

// NewTargetFilter builds a filter from explicit allow-lists. An empty
// list for a dimension means "no restriction on that dimension."
func NewTargetFilter(pids, uids []uint32) *TargetFilter {
	f := &TargetFilter{
		pids:    make(map[uint32]struct{}, len(pids)),
		uids:    make(map[uint32]struct{}, len(uids)),
		pidList: pids,
		uidList: uids,
	}
	for _, p := range pids {
		f.pids[p] = struct{}{}
	}
	for _, u := range uids {
		f.uids[u] = struct{}{}
	}
	return f
}

// PIDs returns the configured PID allow-list, for populating the
// kernel-side target_pids map.
func (f *TargetFilter) PIDs() []uint32 {
	if f == nil {
		return nil
	}
	return f.pidList
}

// UIDs returns the configured UID allow-list, for populating the
// kernel-side target_uids map.
func (f *TargetFilter) UIDs() []uint32 {
	if f == nil {
		return nil
	}
	return f.uidList
}

// Restrictive reports whether the filter names any PID or UID at all.
func (f *TargetFilter) Restrictive() bool {
	if f == nil {
		return false
	}
	return len(f.pids) > 0 || len(f.uids) > 0
}

// SetKernelFiltered records that the allow-lists were written into the
// kernel-side target maps, so aggregated entries have already passed
// the per-event lookup.
func (f *TargetFilter) SetKernelFiltered() {
	if f == nil {
		return
	}
	f.kernelFiltered.Store(true)
}

// Allow reports whether an event from pid/uid should be kept. Used by
// the event-stream drains, whose records carry both.
func (f *TargetFilter) Allow(pid, uid uint32) bool {
	if !TargetFilterEnabled || f == nil {
		return true
	}
	if len(f.pids) > 0 {
		if _, ok := f.pids[pid]; !ok {
			return false
		}
	}
	if len(f.uids) > 0 {
		if _, ok := f.uids[uid]; !ok {
			return false
		}
	}
	return true
}

// AllowAggregated reports whether a row aggregated across processes
// should be kept. Aggregation erases pid and uid, so the per-event
// lookup has to happen kernel-side; once the target maps are populated
// every surviving entry already matched the filter and the row passes.
// A restrictive filter whose kernel maps could not be populated drops
// unattributable rows instead of emitting data the operator asked to
// exclude.
func (f *TargetFilter) AllowAggregated() bool {
	if !TargetFilterEnabled || f == nil {
		return true
	}
	if !f.Restrictive() {
		return true
	}
	return f.kernelFiltered.Load()
}
