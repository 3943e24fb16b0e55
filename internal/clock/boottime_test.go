package clock

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestReadBootTime(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stat")
	content := "cpu  100 200 300\nbtime 1700000000\nprocesses 42\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := readBootTime(path)
	if err != nil {
		t.Fatalf("readBootTime: %v", err)
	}
	want := time.Unix(1700000000, 0)
	if !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestReadBootTimeMissingLine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stat")
	if err := os.WriteFile(path, []byte("cpu 1 2 3\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := readBootTime(path); err == nil {
		t.Error("expected error for missing btime line")
	}
}
