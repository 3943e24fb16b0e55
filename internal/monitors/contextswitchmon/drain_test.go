package contextswitchmon

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

func TestDrainMinSwitchesFilterStillClears(t *testing.T) {
	statsMap := newStatsMap(t)
	m := New(logger.New(os.Stderr, logger.ERROR), registry.Settings{
		Filters: map[string]string{"min_switches": "10"},
	}).(*Monitor)
	m.SetCollection(&ebpf.Collection{Maps: map[string]*ebpf.Map{"stats_map": statsMap}})

	busy := statsKey{Comm: bpfobj.NewComm16("postgres"), CPU: 0}
	idle := statsKey{Comm: bpfobj.NewComm16("sleepy"), CPU: 1}
	if err := statsMap.Put(busy, statsValue{SwitchIn: 8, SwitchOut: 7, Voluntary: 5, Involuntary: 10}); err != nil {
		t.Fatal(err)
	}
	if err := statsMap.Put(idle, statsValue{SwitchIn: 2, SwitchOut: 1, Voluntary: 3}); err != nil {
		t.Fatal(err)
	}

	sink := &captureSink{}
	if err := m.drain(sink, time.Unix(1700000000, 0)); err != nil {
		t.Fatalf("drain: %v", err)
	}

	// Only the busy key clears the min_switches floor; the idle key is
	// suppressed but still swept out of the map.
	if len(sink.rows) != 1 {
		t.Fatalf("drain emitted %d rows, want 1", len(sink.rows))
	}
	row := sink.rows[0]
	if len(row) != len(m.CSVHeader()) {
		t.Errorf("row has %d fields, header has %d", len(row), len(m.CSVHeader()))
	}
	if row[2] != "postgres" || row[4] != "8" || row[5] != "7" || row[6] != "5" || row[7] != "10" {
		t.Errorf("row = %v, want postgres 8/7/5/10", row)
	}

	var k statsKey
	var v statsValue
	if statsMap.Iterate().Next(&k, &v) {
		t.Error("expected stats_map to be empty after drain")
	}
}
