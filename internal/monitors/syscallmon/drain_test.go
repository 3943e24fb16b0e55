package syscallmon

import (
	"encoding/binary"
	"os"
	"testing"
	"time"

	"github.com/cilium/ebpf"

	"github.com/srodi/ebpf-monitor/internal/bpfobj"
	"github.com/srodi/ebpf-monitor/internal/registry"
	"github.com/srodi/ebpf-monitor/pkg/logger"
)

type captureSink struct {
	rows [][]string
}

func (s *captureSink) Send(row []string) bool {
	s.rows = append(s.rows, row)
	return true
}

func (s *captureSink) Close() {}

// newStatsMap builds a real, unattached BPF hash map with this
// monitor's key/value layout. Creating one needs CAP_BPF (or root), so
// the drain tests skip on unprivileged runners.
func newStatsMap(t *testing.T) *ebpf.Map {
	t.Helper()
	m, err := ebpf.NewMap(&ebpf.MapSpec{
		Name:       "stats_map",
		Type:       ebpf.Hash,
		KeySize:    uint32(binary.Size(statsKey{})),
		ValueSize:  uint32(binary.Size(statsValue{})),
		MaxEntries: 128,
	})
	if err != nil {
		t.Skipf("creating a BPF hash map requires privileges: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func newTestMonitor(t *testing.T, settings registry.Settings) (*Monitor, *ebpf.Map) {
	t.Helper()
	statsMap := newStatsMap(t)
	m := New(logger.New(os.Stderr, logger.ERROR), settings).(*Monitor)
	m.SetCollection(&ebpf.Collection{Maps: map[string]*ebpf.Map{"stats_map": statsMap}})
	return m, statsMap
}

func TestDrainErrorRateAndClear(t *testing.T) {
	m, statsMap := newTestMonitor(t, registry.Settings{})

	// openat failing every time, socket failing once in four.
	if err := statsMap.Put(statsKey{Comm: bpfobj.NewComm16("cat"), SyscallNr: 257}, statsValue{Count: 10, ErrorCount: 10}); err != nil {
		t.Fatal(err)
	}
	if err := statsMap.Put(statsKey{Comm: bpfobj.NewComm16("curl"), SyscallNr: 41}, statsValue{Count: 4, ErrorCount: 1}); err != nil {
		t.Fatal(err)
	}

	sink := &captureSink{}
	if err := m.drain(sink, time.Unix(1700000000, 0)); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(sink.rows) != 2 {
		t.Fatalf("drain emitted %d rows, want 2", len(sink.rows))
	}

	header := m.CSVHeader()
	rates := map[string]string{}
	for _, row := range sink.rows {
		if len(row) != len(header) {
			t.Errorf("row has %d fields, header has %d", len(row), len(header))
		}
		rates[row[3]] = row[9]
	}
	if rates["cat"] != "1.0000" {
		t.Errorf("cat error_rate = %q, want 1.0000", rates["cat"])
	}
	if rates["curl"] != "0.2500" {
		t.Errorf("curl error_rate = %q, want 0.2500", rates["curl"])
	}

	var k statsKey
	var v statsValue
	if statsMap.Iterate().Next(&k, &v) {
		t.Error("expected stats_map to be empty after drain")
	}
}

func TestDrainExcludedCategoryStillClears(t *testing.T) {
	m, statsMap := newTestMonitor(t, registry.Settings{
		Filters: map[string]string{"excluded_categories": "network"},
	})

	if err := statsMap.Put(statsKey{Comm: bpfobj.NewComm16("cat"), SyscallNr: 0}, statsValue{Count: 3}); err != nil {
		t.Fatal(err)
	}
	if err := statsMap.Put(statsKey{Comm: bpfobj.NewComm16("curl"), SyscallNr: 41}, statsValue{Count: 7}); err != nil {
		t.Fatal(err)
	}

	sink := &captureSink{}
	if err := m.drain(sink, time.Unix(1700000000, 0)); err != nil {
		t.Fatal(err)
	}

	// The network row is suppressed but its key is still swept out.
	if len(sink.rows) != 1 || sink.rows[0][3] != "cat" {
		t.Fatalf("rows = %v, want only the file_io row", sink.rows)
	}
	var k statsKey
	var v statsValue
	if statsMap.Iterate().Next(&k, &v) {
		t.Error("expected excluded keys to be cleared too")
	}
}
