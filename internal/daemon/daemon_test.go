package daemon

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

func TestPIDFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "monitor.pid")

	if err := WritePIDFile(path); err != nil {
		t.Fatalf("WritePIDFile: %v", err)
	}
	pid, err := ReadPIDFile(path)
	if err != nil {
		t.Fatalf("ReadPIDFile: %v", err)
	}
	if pid != os.Getpid() {
		t.Errorf("pid = %d, want %d", pid, os.Getpid())
	}

	// A live pid in the file blocks a second writer.
	if err := WritePIDFile(path); err == nil {
		t.Error("expected WritePIDFile to refuse while process is alive")
	}

	if err := RemovePIDFile(path); err != nil {
		t.Fatalf("RemovePIDFile: %v", err)
	}
	if err := RemovePIDFile(path); err != nil {
		t.Errorf("RemovePIDFile of absent file should be a no-op: %v", err)
	}
}

func TestWritePIDFileReplacesStaleEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "monitor.pid")
	// A pid far above pid_max never names a live process.
	if err := os.WriteFile(path, []byte("99999999"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := WritePIDFile(path); err != nil {
		t.Fatalf("WritePIDFile over a stale pid: %v", err)
	}
	pid, err := ReadPIDFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if pid != os.Getpid() {
		t.Errorf("pid = %d, want %d", pid, os.Getpid())
	}
}

func TestReadPIDFileMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "monitor.pid")
	if err := os.WriteFile(path, []byte("not-a-pid"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadPIDFile(path); err == nil {
		t.Error("expected error for malformed pid file")
	}
}

func TestStatusAbsentFile(t *testing.T) {
	running, _, err := Status(filepath.Join(t.TempDir(), "absent.pid"))
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if running {
		t.Error("absent pid file should report not running")
	}
}

func TestStatusLivePid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "monitor.pid")
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		t.Fatal(err)
	}
	running, pid, err := Status(path)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !running || pid != os.Getpid() {
		t.Errorf("Status = (%v, %d), want (true, %d)", running, pid, os.Getpid())
	}
}
