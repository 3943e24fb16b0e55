// Package clock converts the monotonic nanosecond timestamps BPF
// programs stamp events with (ktime_get_ns, nanoseconds since boot)
// into wall-clock time. Boot time is read once from /proc/stat's btime
// line; keeping a single source of truth avoids a second derivation
// (e.g. /proc/uptime arithmetic) drifting apart from it.
package clock

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

var (
	bootOnce sync.Once
	bootTime time.Time
	bootErr  error
)

// BootTime returns the system boot time, cached after the first call.
func BootTime() (time.Time, error) {
	bootOnce.Do(func() {
		bootTime, bootErr = readBootTime("/proc/stat")
	})
	return bootTime, bootErr
}

func readBootTime(path string) (time.Time, error) {
	f, err := os.Open(path)
	if err != nil {
		return time.Time{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "btime ") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return time.Time{}, fmt.Errorf("malformed btime line %q", line)
		}
		secs, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse btime: %w", err)
		}
		return time.Unix(secs, 0), nil
	}
	if err := scanner.Err(); err != nil {
		return time.Time{}, err
	}
	return time.Time{}, fmt.Errorf("no btime line in %s", path)
}

// FromKernelTimestamp converts a ktime_get_ns nanosecond value (time
// since boot) into wall-clock time.
func FromKernelTimestamp(ns uint64) (time.Time, error) {
	boot, err := BootTime()
	if err != nil {
		return time.Time{}, err
	}
	return boot.Add(time.Duration(ns)), nil
}
