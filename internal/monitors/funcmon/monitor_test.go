package funcmon

import (
	"os"
	"testing"

	"github.com/srodi/ebpf-monitor/internal/registry"
	"github.com/srodi/ebpf-monitor/pkg/logger"
)

func TestFuncNameFallback(t *testing.T) {
	m := New(logger.New(os.Stderr, logger.ERROR), registry.Settings{}).(*Monitor)
	m.symbolNames = map[uint32]string{0: "vfs_read"}

	if got := m.funcName(0); got != "vfs_read" {
		t.Errorf("funcName(0) = %q, want vfs_read", got)
	}
	if got := m.funcName(7); got != "unknown" {
		t.Errorf("funcName(7) = %q, want unknown", got)
	}
}

func TestCSVHeader(t *testing.T) {
	m := New(logger.New(os.Stderr, logger.ERROR), registry.Settings{})
	want := []string{"timestamp", "time_str", "comm", "func_name", "count"}
	got := m.CSVHeader()
	if len(got) != len(want) {
		t.Fatalf("CSVHeader() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("CSVHeader()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
