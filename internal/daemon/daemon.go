// Package daemon provides the collector's daemonize/status/stop helpers
// and privilege handling: PID file lifecycle, signal-based shutdown of
// a running instance, and dropping root once the privileged BPF
// load/attach calls have run.
package daemon

import (
	"fmt"
	"os"
	"os/user"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/srodi/ebpf-monitor/internal/core"
)

// WritePIDFile writes the current process id to path, failing if the
// file already exists and names a live process.
func WritePIDFile(path string) error {
	if pid, err := ReadPIDFile(path); err == nil {
		if processAlive(pid) {
			return fmt.Errorf("daemon: already running with pid %d (%s)", pid, path)
		}
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

// ReadPIDFile parses the pid stored at path.
func ReadPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("daemon: malformed pid file %s: %w", path, err)
	}
	return pid, nil
}

// RemovePIDFile removes path, ignoring a not-exist error.
func RemovePIDFile(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// Status reports whether the daemon named by the pid file is running.
func Status(pidFile string) (running bool, pid int, err error) {
	pid, err = ReadPIDFile(pidFile)
	if err != nil {
		if os.IsNotExist(err) {
			return false, 0, nil
		}
		return false, 0, err
	}
	return processAlive(pid), pid, nil
}

// Stop sends SIGTERM to the daemon named by the pid file and waits up
// to timeout for it to exit, escalating to SIGKILL if it hasn't.
func Stop(pidFile string, timeout time.Duration) error {
	running, pid, err := Status(pidFile)
	if err != nil {
		return err
	}
	if !running {
		return RemovePIDFile(pidFile)
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return err
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !processAlive(pid) {
			return RemovePIDFile(pidFile)
		}
		time.Sleep(100 * time.Millisecond)
	}

	if err := proc.Signal(syscall.SIGKILL); err != nil {
		return fmt.Errorf("daemon: pid %d survived SIGTERM and SIGKILL failed: %w", pid, err)
	}
	return RemovePIDFile(pidFile)
}

// OriginalUser resolves the invoking (pre-sudo) user via SUDO_USER,
// falling back to the current user when not running under sudo.
func OriginalUser() (*user.User, error) {
	if name := os.Getenv("SUDO_USER"); name != "" {
		return user.Lookup(name)
	}
	return user.Current()
}

// DropPrivileges switches the process's gid/uid to u's, for use after
// every privileged BPF load/attach call has completed. A failure here
// is reported as a PermissionError rather than left to the caller to
// interpret a bare syscall errno.
func DropPrivileges(u *user.User) error {
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return &core.PermissionError{Kind: core.PermissionKindDropFailed, Err: err}
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return &core.PermissionError{Kind: core.PermissionKindDropFailed, Err: err}
	}
	if err := syscall.Setgid(gid); err != nil {
		return &core.PermissionError{Kind: core.PermissionKindDropFailed, Err: err}
	}
	if err := syscall.Setuid(uid); err != nil {
		return &core.PermissionError{Kind: core.PermissionKindDropFailed, Err: err}
	}
	return nil
}
