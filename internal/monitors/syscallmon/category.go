package syscallmon

import "fmt"

// category classification tables over x86_64 syscall numbers. Only
// the subset needed to label the common syscalls is listed; unlisted
// numbers fall back to "other".
type category string

const (
	categoryFileIO  category = "file_io"
	categoryNetwork category = "network"
	categoryMemory  category = "memory"
	categoryProcess category = "process"
	categorySignal  category = "signal"
	categoryTime    category = "time"
	categoryOther   category = "other"
)

var fileIOSyscalls = map[uint32]struct{}{
	0: {}, 1: {}, 2: {}, 3: {}, 8: {}, 17: {}, 18: {}, 19: {}, 20: {},
	21: {}, 79: {}, 82: {}, 83: {}, 257: {}, 263: {}, 316: {},
}

var networkSyscalls = map[uint32]struct{}{
	41: {}, 42: {}, 43: {}, 44: {}, 45: {}, 46: {}, 47: {}, 48: {},
	49: {}, 50: {}, 51: {}, 52: {}, 53: {}, 54: {}, 55: {},
}

var memorySyscalls = map[uint32]struct{}{
	9: {}, 10: {}, 11: {}, 12: {}, 25: {}, 28: {}, 158: {},
}

var processSyscalls = map[uint32]struct{}{
	56: {}, 57: {}, 58: {}, 59: {}, 60: {}, 61: {}, 62: {}, 247: {},
}

var signalSyscalls = map[uint32]struct{}{
	13: {}, 14: {}, 15: {}, 127: {}, 128: {}, 129: {}, 130: {},
}

var timeSyscalls = map[uint32]struct{}{
	35: {}, 96: {}, 201: {}, 228: {}, 229: {}, 230: {},
}

func classify(nr uint32) category {
	switch {
	case has(fileIOSyscalls, nr):
		return categoryFileIO
	case has(networkSyscalls, nr):
		return categoryNetwork
	case has(memorySyscalls, nr):
		return categoryMemory
	case has(processSyscalls, nr):
		return categoryProcess
	case has(signalSyscalls, nr):
		return categorySignal
	case has(timeSyscalls, nr):
		return categoryTime
	default:
		return categoryOther
	}
}

func has(set map[uint32]struct{}, nr uint32) bool {
	_, ok := set[nr]
	return ok
}

// syscallNameTable carries x86_64 syscall numbers for the subset
// classify() recognizes, enough to label the common cases without
// shipping the full architecture table.
var syscallNameTable = map[uint32]string{
	0: "read", 1: "write", 2: "open", 3: "close", 8: "lseek",
	9: "mmap", 10: "mprotect", 11: "munmap", 12: "brk",
	13: "rt_sigaction", 14: "rt_sigprocmask", 15: "rt_sigreturn",
	17: "pread64", 18: "pwrite64", 19: "readv", 20: "writev",
	21: "access", 25: "mremap", 28: "madvise",
	35: "nanosleep", 41: "socket", 42: "connect", 43: "accept",
	44: "sendto", 45: "recvfrom", 46: "sendmsg", 47: "recvmsg",
	48: "shutdown", 49: "bind", 50: "listen", 51: "getsockname",
	52: "getpeername", 53: "socketpair", 54: "setsockopt", 55: "getsockopt",
	56: "clone", 57: "fork", 58: "vfork", 59: "execve", 60: "exit",
	61: "wait4", 62: "kill", 79: "getcwd", 82: "rename", 83: "mkdir",
	96: "gettimeofday", 127: "rt_sigpending", 128: "rt_sigtimedwait",
	129: "rt_sigqueueinfo", 130: "rt_sigsuspend", 158: "arch_prctl",
	201: "time", 228: "clock_gettime", 229: "clock_getres",
	230: "clock_nanosleep", 247: "waitid", 257: "openat",
	263: "unlinkat", 316: "renameat2",
}

// syscallName returns the x86_64 name for nr, or "syscall_<nr>" if the
// number is outside the table above.
func syscallName(nr uint32) string {
	if name, ok := syscallNameTable[nr]; ok {
		return name
	}
	return "syscall_" + fmt.Sprint(nr)
}
