// Package monitors holds the shared plumbing every concrete monitor
// (exec, func, syscall, bio, open, interrupt, pagefault, contextswitch)
// builds on: BPF load/attach helpers, a periodic aggregating-sweep
// runner, and the CSV numeric formatting rules common to every row.
package monitors

import (
	"fmt"
	"strings"
	"time"
)

// FormatTimestamp renders t as the two CSV timestamp columns: seconds
// with millisecond precision, and a bracketed human-readable string.
func FormatTimestamp(t time.Time) (timestamp, timeStr string) {
	return fmt.Sprintf("%d.%03d", t.Unix(), t.Nanosecond()/1e6), "[" + t.Format("2006-01-02 15:04:05.000") + "]"
}

// FormatCount renders an integer counter column.
func FormatCount(n uint64) string {
	return fmt.Sprintf("%d", n)
}

// FormatMicros renders a nanosecond duration as microseconds with
// three decimal places, the latency-column convention.
func FormatMicros(ns uint64) string {
	return fmt.Sprintf("%.3f", float64(ns)/1000.0)
}

// FormatThroughputMBps renders bytes-per-second as MB/s with two
// decimal places.
func FormatThroughputMBps(bytesPerSec float64) string {
	return fmt.Sprintf("%.2f", bytesPerSec/(1024*1024))
}

// FormatMB renders a byte count as megabytes with two decimal places.
func FormatMB(bytes uint64) string {
	return fmt.Sprintf("%.2f", float64(bytes)/(1024*1024))
}

// FormatErrorRate renders a ratio with four decimal places.
func FormatErrorRate(errors, total uint64) string {
	if total == 0 {
		return "0.0000"
	}
	return fmt.Sprintf("%.4f", float64(errors)/float64(total))
}

// FormatConsoleRow renders an already CSV-encoded row for the
// single-monitor console mirror: the bracketed time_str column (row[1]
// in every monitor's header) left-aligned in a field at least 22
// characters wide, followed by
// the remaining fields space-joined, each quoted the way csv.Writer
// would quote it.
func FormatConsoleRow(row []string) string {
	if len(row) < 2 {
		parts := make([]string, len(row))
		for i, f := range row {
			parts[i] = QuoteCSVField(f)
		}
		return strings.Join(parts, " ")
	}
	rest := make([]string, len(row)-2)
	for i, f := range row[2:] {
		rest[i] = QuoteCSVField(f)
	}
	return fmt.Sprintf("%-22s %s", row[1], strings.Join(rest, " "))
}

// QuoteCSVField escapes a field per RFC 4180 only when it contains a
// comma, quote, or newline; the encoding/csv writer used by the output
// controller already does this during Write, so monitors normally pass
// raw fields straight through; this helper exists for any code path
// (e.g. the console mirror) that formats rows outside csv.Writer.
func QuoteCSVField(s string) string {
	if !strings.ContainsAny(s, ",\"\n") {
		return s
	}
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
