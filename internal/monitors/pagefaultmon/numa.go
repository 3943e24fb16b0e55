package pagefaultmon

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// cpuNode resolves a CPU number to its NUMA node. The kernel-side
// tracepoint only reports the CPU, so the node column is a user-space
// enrichment resolved from sysfs.
func cpuNode(cpu uint32) int {
	nodeOnce.Do(buildCPUNodeMap)
	if node, ok := cpuNodeMap[cpu]; ok {
		return node
	}
	return 0
}

var (
	nodeOnce    sync.Once
	cpuNodeMap  map[uint32]int
)

func buildCPUNodeMap() {
	cpuNodeMap = make(map[uint32]int)
	const base = "/sys/devices/system/node"
	entries, err := os.ReadDir(base)
	if err != nil {
		return
	}
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "node") {
			continue
		}
		node, err := strconv.Atoi(strings.TrimPrefix(name, "node"))
		if err != nil {
			continue
		}
		data, err := os.ReadFile(filepath.Join(base, name, "cpulist"))
		if err != nil {
			continue
		}
		for _, cpu := range parseCPUList(strings.TrimSpace(string(data))) {
			cpuNodeMap[cpu] = node
		}
	}
}

// parseCPUList expands a Linux cpulist string like "0-3,8,10-11" into
// individual CPU numbers.
func parseCPUList(s string) []uint32 {
	var cpus []uint32
	if s == "" {
		return cpus
	}
	for _, part := range strings.Split(s, ",") {
		if part == "" {
			continue
		}
		if lo, hi, ok := strings.Cut(part, "-"); ok {
			start, err1 := strconv.Atoi(lo)
			end, err2 := strconv.Atoi(hi)
			if err1 != nil || err2 != nil {
				continue
			}
			for c := start; c <= end; c++ {
				cpus = append(cpus, uint32(c))
			}
		} else {
			n, err := strconv.Atoi(part)
			if err != nil {
				continue
			}
			cpus = append(cpus, uint32(n))
		}
	}
	return cpus
}
