// Package capability probes the running kernel for the facilities the
// monitors need: version, tracefs mount, kprobe/tracepoint/perf-event
// support and the kallsyms symbol table. The probe runs once at
// startup and produces a report the rest of the collector reads
// instead of re-probing.
package capability

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/srodi/ebpf-monitor/internal/core"
)

var tracefsCandidates = []string{
	"/sys/kernel/debug/tracing",
	"/sys/kernel/tracing",
}

// Probe builds a CapabilityReport describing the host's eBPF-relevant
// kernel facilities.
func Probe() (*core.CapabilityReport, error) {
	major, minor, patch, release, err := kernelVersion()
	if err != nil {
		return nil, err
	}

	tracefs, hasTracefs := findTracefs()
	hasKprobes := hasTracefs && pathExists(tracefs+"/kprobe_events")
	hasPerfEvents := pathExists("/proc/sys/kernel/perf_event_paranoid")

	symbols, err := readKallsyms("/proc/kallsyms")
	if err != nil {
		// Missing kallsyms access (common under restrictive ptrace
		// scoping) degrades kprobe targeting but is not fatal: report
		// an empty symbol set rather than failing the whole probe.
		symbols = map[string]struct{}{}
	}

	return &core.CapabilityReport{
		KernelMajor:         major,
		KernelMinor:         minor,
		KernelPatch:         patch,
		KernelRelease:       release,
		Architecture:        architecture(),
		TracefsPath:         tracefs,
		HasTracefs:          hasTracefs,
		HasKprobes:          hasKprobes,
		HasPerfEvents:       hasPerfEvents,
		Symbols:             symbols,
		EnhancedFields:      versionAtLeast(major, minor, 4, 18),
		EnhancedProcessInfo: versionAtLeast(major, minor, 5, 0),
		NewTracepoints:      versionAtLeast(major, minor, 5, 4),
		SecurityFeatures:    versionAtLeast(major, minor, 5, 8),
	}, nil
}

func kernelVersion() (major, minor, patch int, release string, err error) {
	var uts unix.Utsname
	if err = unix.Uname(&uts); err != nil {
		return 0, 0, 0, "", fmt.Errorf("uname: %w", err)
	}
	release = charsToString(uts.Release[:])

	parts := strings.SplitN(release, "-", 2)
	verParts := strings.Split(parts[0], ".")
	if len(verParts) > 0 {
		major, _ = strconv.Atoi(verParts[0])
	}
	if len(verParts) > 1 {
		minor, _ = strconv.Atoi(verParts[1])
	}
	if len(verParts) > 2 {
		patch, _ = strconv.Atoi(verParts[2])
	}
	return major, minor, patch, release, nil
}

func architecture() string {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return "unknown"
	}
	return charsToString(uts.Machine[:])
}

func charsToString(c []byte) string {
	n := 0
	for n < len(c) && c[n] != 0 {
		n++
	}
	return string(c[:n])
}

func versionAtLeast(major, minor, wantMajor, wantMinor int) bool {
	if major != wantMajor {
		return major > wantMajor
	}
	return minor >= wantMinor
}

func findTracefs() (string, bool) {
	for _, path := range tracefsCandidates {
		if pathExists(path) {
			return path, true
		}
	}
	return "", false
}

func pathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func readKallsyms(path string) (map[string]struct{}, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	symbols := make(map[string]struct{}, 4096)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 {
			continue
		}
		symbols[fields[2]] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return symbols, err
	}
	return symbols, nil
}
