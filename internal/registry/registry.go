// Package registry maps monitor names to factories. Every monitor
// package registers a Factory from its own init(), so the set of
// available monitors is fixed at link time and the supervisor needs no
// runtime reflection to build one by name.
package registry

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/srodi/ebpf-monitor/internal/bpfobj"
	"github.com/srodi/ebpf-monitor/internal/core"
	"github.com/srodi/ebpf-monitor/pkg/logger"
)

// Settings carries the per-monitor knobs (sweep interval,
// monitor-specific filters, host capabilities) from the
// loaded config down to a Factory, without the registry package
// depending on internal/config for the YAML shape.
type Settings struct {
	// Interval overrides an aggregating monitor's sweep period. Zero
	// means "use the monitor's own default."
	Interval time.Duration
	// Filters holds monitor-specific knobs (e.g. min_latency_us,
	// excluded_categories, symbols, probe_limit, min_switches) as
	// raw strings; each monitor parses only the keys it understands.
	Filters map[string]string
	// Capability is the startup probe's report. Monitors consult it in
	// Attach to pick a compatible attach-point variant, e.g. skipping
	// kprobe symbols absent from kallsyms. Nil means "probe by
	// attempting the attach."
	Capability *core.CapabilityReport
}

// String returns Filters[key], or def if key is absent or empty.
func (s Settings) String(key, def string) string {
	if v, ok := s.Filters[key]; ok && v != "" {
		return v
	}
	return def
}

// StringList splits Filters[key] on commas, trimming whitespace and
// dropping empty tokens. Returns nil if key is absent or empty.
func (s Settings) StringList(key string) []string {
	v, ok := s.Filters[key]
	if !ok || v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Int parses Filters[key] as an int, returning def if absent or invalid.
func (s Settings) Int(key string, def int) int {
	v, ok := s.Filters[key]
	if !ok {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}

// Uint32List splits Filters[key] on commas and parses each token as a
// uint32, dropping tokens that don't parse. Returns nil if key is
// absent or empty.
func (s Settings) Uint32List(key string) []uint32 {
	tokens := s.StringList(key)
	if len(tokens) == 0 {
		return nil
	}
	out := make([]uint32, 0, len(tokens))
	for _, tok := range tokens {
		n, err := strconv.ParseUint(tok, 10, 32)
		if err != nil {
			continue
		}
		out = append(out, uint32(n))
	}
	return out
}

// TargetFilter builds the per-PID/per-UID allow filter from the
// target_pids and target_uids filter keys. With neither configured the
// filter is empty and allows everything.
func (s Settings) TargetFilter() *bpfobj.TargetFilter {
	return bpfobj.NewTargetFilter(s.Uint32List("target_pids"), s.Uint32List("target_uids"))
}

// Uint64 parses Filters[key] as a uint64, returning def if absent or invalid.
func (s Settings) Uint64(key string, def uint64) uint64 {
	v, ok := s.Filters[key]
	if !ok {
		return def
	}
	n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return def
	}
	return n
}

// Float64 parses Filters[key] as a float64, returning def if absent or invalid.
func (s Settings) Float64(key string, def float64) float64 {
	v, ok := s.Filters[key]
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return def
	}
	return f
}

// Factory builds one Monitor instance, given a logger scoped to its
// name and the settings its MonitorConfig entry carries.
type Factory func(log *logger.Logger, settings Settings) core.Monitor

var (
	mu    sync.Mutex
	table = make(map[string]Factory)
)

// Register adds a monitor factory under name. Called from each monitor
// package's init(); a duplicate name is a programming error and panics
// at startup rather than silently shadowing the earlier registration.
func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := table[name]; exists {
		panic(fmt.Sprintf("registry: monitor %q already registered", name))
	}
	table[name] = f
}

// Names returns every registered monitor name, sorted.
func Names() []string {
	mu.Lock()
	defer mu.Unlock()
	names := make([]string, 0, len(table))
	for name := range table {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build constructs a monitor by name, or reports ok=false if unregistered.
func Build(name string, log *logger.Logger, settings Settings) (core.Monitor, bool) {
	mu.Lock()
	f, ok := table[name]
	mu.Unlock()
	if !ok {
		return nil, false
	}
	return f(log, settings), true
}
