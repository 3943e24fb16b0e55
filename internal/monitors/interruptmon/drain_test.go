package interruptmon

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
		ValueSize:  8,
		MaxEntries: 128,
	})
	if err != nil {
		t.Skipf("creating a BPF hash map requires privileges: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func TestDrainSweepsAndClears(t *testing.T) {
	statsMap := newStatsMap(t)
	m := New(logger.New(os.Stderr, logger.ERROR), registry.Settings{}).(*Monitor)
	m.SetCollection(&ebpf.Collection{Maps: map[string]*ebpf.Map{"stats_map": statsMap}})

	seeded := []struct {
		key   statsKey
		count uint64
	}{
		{statsKey{Comm: bpfobj.NewComm16("swapper/0"), IrqType: irqSoftware | irqTimer, CPU: 0}, 250},
		{statsKey{Comm: bpfobj.NewComm16("nginx"), IrqType: irqHardware, CPU: 3}, 12},
	}
	for _, s := range seeded {
		if err := statsMap.Put(s.key, s.count); err != nil {
			t.Fatal(err)
		}
	}

	sink := &captureSink{}
	if err := m.drain(sink, time.Unix(1700000000, 0)); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(sink.rows) != len(seeded) {
		t.Fatalf("drain emitted %d rows, want %d", len(sink.rows), len(seeded))
	}

	header := m.CSVHeader()
	types := map[string]string{}
	for _, row := range sink.rows {
		if len(row) != len(header) {
			t.Errorf("row has %d fields, header has %d", len(row), len(header))
		}
		types[row[2]] = row[4]
	}
	if types["swapper/0"] != "software|timer" {
		t.Errorf("swapper irq_type_str = %q, want software|timer", types["swapper/0"])
	}
	if types["nginx"] != "hardware" {
		t.Errorf("nginx irq_type_str = %q, want hardware", types["nginx"])
	}

	var k statsKey
	var v uint64
	if statsMap.Iterate().Next(&k, &v) {
		t.Error("expected stats_map to be empty after drain")
	}
}
