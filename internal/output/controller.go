// Package output implements the CSV sink layer: one file per monitor,
// batched writes, an optional console mirror, and bounded per-monitor
// channels so a slow monitor drain can't stall the others.
package output

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/srodi/ebpf-monitor/internal/core"
	"github.com/srodi/ebpf-monitor/pkg/logger"
)

// Mode controls whether rows are mirrored to the console in addition to
// being written to their CSV file.
type Mode int

const (
	ModeFileOnly Mode = iota
	ModeFileAndConsole
)

// Config holds the batching and channel-sizing knobs.
type Config struct {
	OutputDir           string
	BufferSize          int
	BatchSize           int
	LargeBatchThreshold int
	FlushInterval       time.Duration
	IncludeHeader       bool
}

// DefaultConfig returns the collector's stock output tuning.
func DefaultConfig(dir string) Config {
	return Config{
		OutputDir:           dir,
		BufferSize:          2000,
		BatchSize:           100,
		LargeBatchThreshold: 20,
		FlushInterval:       2 * time.Second,
		IncludeHeader:       true,
	}
}

type controllerState int

const (
	stateIdle controllerState = iota
	stateOpen
	stateDraining
	stateClosed
)

type monitorFile struct {
	name    string
	sink    *channelSink
	file    *os.File
	writer  *csv.Writer
	dropped atomic.Int64
	written atomic.Int64

	headerWritten bool
	headerLine    []string

	consoleEncode func(row []string) string
}

// defaultConsoleEncode is the fallback console formatter used when a
// caller doesn't supply one, e.g. in tests that only exercise the CSV
// path.
func defaultConsoleEncode(row []string) string {
	return strings.Join(row, " ")
}

// Controller owns every monitor's CSV file and, when exactly one
// monitor is active, mirrors rows to stdout; with several monitors
// interleaved console output would be unreadable, so it stays CSV-only.
type Controller struct {
	cfg    Config
	log    *logger.Logger
	mu     sync.Mutex
	state  controllerState
	files  map[string]*monitorFile
	mode   Mode
	wg     sync.WaitGroup
	closed chan struct{}
}

// NewController constructs a Controller in the Idle state.
func NewController(cfg Config, log *logger.Logger) *Controller {
	return &Controller{
		cfg:    cfg,
		log:    log,
		state:  stateIdle,
		files:  make(map[string]*monitorFile),
		closed: make(chan struct{}),
	}
}

// Open transitions the controller to Open, creating cfg.OutputDir if
// needed. It must be called before OpenSink.
func (c *Controller) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateIdle {
		return fmt.Errorf("output: Open called from state %d", c.state)
	}
	if err := os.MkdirAll(c.cfg.OutputDir, 0o755); err != nil {
		return &core.SinkError{Monitor: "controller", Kind: core.SinkKindOpenFile, Err: err}
	}
	c.state = stateOpen
	return nil
}

// OpenSink creates (or truncates) the CSV file for monitor, writes its
// header once, and returns a SinkHandle the monitor's Run loop writes
// rows into. Calling OpenSink updates the console-mirror mode: it
// switches to ModeFileAndConsole iff exactly one monitor is active.
// consoleEncode
// renders a row for the console mirror when that mode is active
// (typically the monitor's own Monitor.ConsoleRow); a nil consoleEncode
// falls back to a plain space-joined row.
func (c *Controller) OpenSink(monitor string, header []string, timestamp time.Time, consoleEncode func(row []string) string) (core.SinkHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateOpen {
		return nil, fmt.Errorf("output: OpenSink called from state %d", c.state)
	}
	if _, exists := c.files[monitor]; exists {
		return nil, fmt.Errorf("output: sink for %s already open", monitor)
	}

	filename := fmt.Sprintf("%s_%s.csv", monitor, timestamp.Format("20060102_150405"))
	path := filepath.Join(c.cfg.OutputDir, filename)
	f, err := os.Create(path)
	if err != nil {
		return nil, &core.SinkError{Monitor: monitor, Kind: core.SinkKindOpenFile, Err: err}
	}

	if consoleEncode == nil {
		consoleEncode = defaultConsoleEncode
	}
	mf := &monitorFile{name: monitor, file: f, writer: csv.NewWriter(f), headerLine: header, consoleEncode: consoleEncode}
	mf.sink = newChannelSink(monitor, c.cfg.BufferSize, c.cfg.FlushInterval/2, &mf.dropped)

	if c.cfg.IncludeHeader {
		if err := mf.writer.Write(header); err != nil {
			f.Close()
			return nil, &core.SinkError{Monitor: monitor, Kind: core.SinkKindWrite, Err: err}
		}
		mf.writer.Flush()
		mf.headerWritten = true
	}

	c.files[monitor] = mf
	c.updateModeLocked()

	c.wg.Add(1)
	go c.drainLoop(mf)

	return mf.sink, nil
}

func (c *Controller) updateModeLocked() {
	if len(c.files) == 1 {
		c.mode = ModeFileAndConsole
	} else {
		c.mode = ModeFileOnly
	}
}

func (c *Controller) drainLoop(mf *monitorFile) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([][]string, 0, c.cfg.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := c.writeBatch(mf, batch); err != nil {
			// Batch is abandoned after the retries; a full disk or
			// revoked file is not going to heal row by row.
			c.log.Errorf("output: write %s after %d attempts: %v", mf.name, sinkWriteAttempts, err)
			batch = batch[:0]
			return
		}
		mf.written.Add(int64(len(batch)))
		if c.snapshotMode() == ModeFileAndConsole {
			for _, row := range batch {
				fmt.Println(mf.consoleEncode(row))
			}
		}
		batch = batch[:0]
	}

	for {
		select {
		case row, ok := <-mf.sink.rows:
			if !ok {
				flush()
				return
			}
			batch = append(batch, row)
			// LargeBatchThreshold short-circuits the flush interval so
			// a burst of rows reaches disk without waiting for the
			// ticker; BatchSize is the ordinary write granularity.
			if len(batch) >= c.cfg.LargeBatchThreshold || len(batch) >= c.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

const (
	sinkWriteAttempts = 3
	sinkRetryBackoff  = 50 * time.Millisecond
)

// writeBatch writes rows to mf's CSV file, retrying transient I/O
// failures. A csv.Writer's error is sticky once its underlying
// buffered writer fails, so each retry starts a fresh writer over the
// same file handle.
func (c *Controller) writeBatch(mf *monitorFile, rows [][]string) error {
	var err error
	for attempt := 0; attempt < sinkWriteAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(sinkRetryBackoff)
			mf.writer = csv.NewWriter(mf.file)
		}
		if err = mf.writer.WriteAll(rows); err == nil {
			return nil
		}
	}
	return err
}

func (c *Controller) snapshotMode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// WrittenRows returns how many rows have been written to monitor's
// CSV file so far, header excluded.
func (c *Controller) WrittenRows(monitor string) int64 {
	c.mu.Lock()
	mf, ok := c.files[monitor]
	c.mu.Unlock()
	if !ok {
		return 0
	}
	return mf.written.Load()
}

// DroppedRows returns the cumulative dropped-row count for monitor.
func (c *Controller) DroppedRows(monitor string) int64 {
	c.mu.Lock()
	mf, ok := c.files[monitor]
	c.mu.Unlock()
	if !ok {
		return 0
	}
	return mf.dropped.Load()
}

// Close transitions Draining then Closed: it closes every sink (which
// stops accepting new rows and lets each drain loop flush its tail),
// waits for all drain loops to exit, then closes the underlying files.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.state == stateClosed {
		c.mu.Unlock()
		return nil
	}
	c.state = stateDraining
	files := make([]*monitorFile, 0, len(c.files))
	for _, mf := range c.files {
		files = append(files, mf)
	}
	c.mu.Unlock()

	for _, mf := range files {
		mf.sink.Close()
	}
	c.wg.Wait()

	var firstErr error
	for _, mf := range files {
		if err := mf.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	c.mu.Lock()
	c.state = stateClosed
	c.mu.Unlock()
	close(c.closed)
	return firstErr
}
