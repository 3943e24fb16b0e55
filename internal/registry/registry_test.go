package registry

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/srodi/ebpf-monitor/internal/core"
	"github.com/srodi/ebpf-monitor/pkg/logger"
)

type fakeMonitor struct {
	name     string
	settings Settings
}

func (f *fakeMonitor) Name() string                                       { return f.name }
func (f *fakeMonitor) Description() string                                { return "fake" }
func (f *fakeMonitor) Load(ctx context.Context) error                      { return nil }
func (f *fakeMonitor) Attach(ctx context.Context) error                    { return nil }
func (f *fakeMonitor) Run(ctx context.Context, sink core.SinkHandle) error { return nil }
func (f *fakeMonitor) Stop(ctx context.Context) error                      { return nil }
func (f *fakeMonitor) Unload(ctx context.Context) error                    { return nil }
func (f *fakeMonitor) CSVHeader() []string                                { return []string{"a"} }
func (f *fakeMonitor) ConsoleRow(row []string) string                      { return "" }
func (f *fakeMonitor) State() core.MonitorState                           { return core.StateNew }

func TestRegisterAndBuild(t *testing.T) {
	name := "test-registry-monitor"
	Register(name, func(log *logger.Logger, settings Settings) core.Monitor {
		return &fakeMonitor{name: name, settings: settings}
	})

	want := Settings{Interval: 3 * time.Second, Filters: map[string]string{"k": "v"}}
	m, ok := Build(name, logger.New(os.Stderr, logger.ERROR), want)
	if !ok {
		t.Fatalf("expected %q to be registered", name)
	}
	if m.Name() != name {
		t.Errorf("got name %q, want %q", m.Name(), name)
	}
	got := m.(*fakeMonitor).settings
	if got.Interval != want.Interval || got.Filters["k"] != "v" {
		t.Errorf("settings not passed through: got %+v", got)
	}

	if _, ok := Build("does-not-exist", nil, Settings{}); ok {
		t.Error("expected unregistered name to report ok=false")
	}
}

func TestRegisterDuplicatePanics(t *testing.T) {
	name := "test-registry-dup"
	Register(name, func(log *logger.Logger, settings Settings) core.Monitor { return &fakeMonitor{name: name} })

	defer func() {
		if recover() == nil {
			t.Error("expected duplicate Register to panic")
		}
	}()
	Register(name, func(log *logger.Logger, settings Settings) core.Monitor { return &fakeMonitor{name: name} })
}

func TestNamesSorted(t *testing.T) {
	names := Names()
	for i := 1; i < len(names); i++ {
		if names[i-1] > names[i] {
			t.Errorf("Names() not sorted: %v", names)
			break
		}
	}
}

func TestSettingsAccessors(t *testing.T) {
	s := Settings{Filters: map[string]string{
		"symbols":             "vfs_read, vfs_write,",
		"probe_limit":         "8",
		"min_switches":        "10",
		"min_latency_us":      "2.5",
		"excluded_categories": "network,signal",
	}}

	if got := s.StringList("symbols"); len(got) != 2 || got[0] != "vfs_read" || got[1] != "vfs_write" {
		t.Errorf("StringList(symbols) = %v", got)
	}
	if got := s.Int("probe_limit", 32); got != 8 {
		t.Errorf("Int(probe_limit) = %d, want 8", got)
	}
	if got := s.Int("missing", 32); got != 32 {
		t.Errorf("Int(missing) = %d, want default 32", got)
	}
	if got := s.Uint64("min_switches", 0); got != 10 {
		t.Errorf("Uint64(min_switches) = %d, want 10", got)
	}
	if got := s.Float64("min_latency_us", 0); got != 2.5 {
		t.Errorf("Float64(min_latency_us) = %v, want 2.5", got)
	}
	if got := s.String("nope", "default"); got != "default" {
		t.Errorf("String(nope) = %q, want default", got)
	}
	if got := s.StringList("excluded_categories"); len(got) != 2 {
		t.Errorf("StringList(excluded_categories) = %v", got)
	}
}

func TestSettingsUint32ListAndTargetFilter(t *testing.T) {
	s := Settings{Filters: map[string]string{
		"target_pids": "1234, 5678, nonsense",
		"target_uids": "1000",
	}}

	if got := s.Uint32List("target_pids"); len(got) != 2 || got[0] != 1234 || got[1] != 5678 {
		t.Errorf("Uint32List(target_pids) = %v, want [1234 5678]", got)
	}
	if got := s.Uint32List("absent"); got != nil {
		t.Errorf("Uint32List(absent) = %v, want nil", got)
	}

	f := s.TargetFilter()
	if !f.Restrictive() {
		t.Error("configured lists should make the filter restrictive")
	}
	if got := f.UIDs(); len(got) != 1 || got[0] != 1000 {
		t.Errorf("UIDs() = %v, want [1000]", got)
	}

	if (Settings{}).TargetFilter().Restrictive() {
		t.Error("empty settings should build a permissive filter")
	}
}
