// Package supervisor drives the registered monitors through their
// lifecycle: New -> Loaded -> Running -> Stopping -> Stopped, with
// Failed reachable from any state. Stop signals every monitor before
// waiting on any of them, and unload fans out across monitors with
// golang.org/x/sync/errgroup so one slow monitor does not serialize
// the others' shutdown.
package supervisor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/srodi/ebpf-monitor/internal/core"
	"github.com/srodi/ebpf-monitor/internal/output"
	"github.com/srodi/ebpf-monitor/pkg/logger"
)

// State mirrors core.MonitorState but describes the supervisor's own
// aggregate lifecycle, not any single monitor's.
type State int

const (
	StateNew State = iota
	StateLoaded
	StateRunning
	StateStopping
	StateStopped
	StateFailed
)

// entry pairs a monitor with the goroutine-local state Run reports.
type entry struct {
	monitor core.Monitor
	sink    core.SinkHandle
	cancel  context.CancelFunc
	lastErr error
	exited  bool
}

// defaultStopTimeout bounds how long Stop waits for drain loops to
// exit before unloading anyway.
const defaultStopTimeout = 5 * time.Second

// Supervisor owns every active monitor's full lifecycle and the single
// state lock governing transitions. The lock is never held across a
// blocking drain, so one monitor's lifecycle call can't stall another's.
type Supervisor struct {
	mu          sync.Mutex
	state       State
	log         *logger.Logger
	out         *output.Controller
	entries     map[string]*entry
	runGroup    *errgroup.Group
	runCtx      context.Context
	runDone     chan struct{}
	stopTimeout time.Duration
}

// New builds an idle Supervisor bound to out for CSV output.
func New(out *output.Controller, log *logger.Logger) *Supervisor {
	return &Supervisor{
		state:       StateNew,
		log:         log,
		out:         out,
		entries:     make(map[string]*entry),
		stopTimeout: defaultStopTimeout,
	}
}

// SetStopTimeout overrides how long Stop waits for drain loops to exit
// before proceeding to unload. Non-positive values keep the default.
func (s *Supervisor) SetStopTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	s.stopTimeout = d
	s.mu.Unlock()
}

// LoadAndAttach loads then attaches every monitor in mons. A monitor
// that fails either step is logged and left out of the running set;
// the other configured monitors still proceed. Only when every
// monitor fails does LoadAndAttach itself return an error, matching
// the "exit code 3 only if ALL configured monitors fail to load"
// policy; per-monitor failures are reported through Status().
func (s *Supervisor) LoadAndAttach(ctx context.Context, mons []core.Monitor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateNew {
		return fmt.Errorf("supervisor: LoadAndAttach called from state %v", s.state)
	}

	var lastErr error
	for _, m := range mons {
		if err := m.Load(ctx); err != nil {
			s.log.Errorf("supervisor: %s failed to load: %v", m.Name(), err)
			lastErr = err
			continue
		}
		if err := m.Attach(ctx); err != nil {
			s.log.Errorf("supervisor: %s failed to attach: %v", m.Name(), err)
			_ = m.Unload(ctx)
			lastErr = err
			continue
		}
		s.entries[m.Name()] = &entry{monitor: m}
		s.log.Infof("supervisor: %s loaded and attached", m.Name())
	}

	if len(s.entries) == 0 {
		s.state = StateFailed
		return lastErr
	}

	s.state = StateLoaded
	return nil
}

// Run opens each monitor's CSV sink and starts its Run loop concurrently,
// returning once every monitor's Run has exited (on context cancellation,
// Stop, or its own error). The first error from any monitor is returned
// after all have exited, not before, so one crashing monitor doesn't cut
// the others off mid-drain.
func (s *Supervisor) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateLoaded {
		s.mu.Unlock()
		return fmt.Errorf("supervisor: Run called from state %v", s.state)
	}
	now := time.Now()
	g, runCtx := errgroup.WithContext(ctx)
	s.runGroup = g
	s.runCtx = runCtx
	s.state = StateRunning

	for name, e := range s.entries {
		sink, err := s.out.OpenSink(name, e.monitor.CSVHeader(), now, e.monitor.ConsoleRow)
		if err != nil {
			s.state = StateFailed
			s.mu.Unlock()
			return err
		}
		e.sink = sink
		monitorCtx, cancel := context.WithCancel(runCtx)
		e.cancel = cancel
		m := e.monitor
		ent := e
		g.Go(func() error {
			err := m.Run(monitorCtx, sink)
			s.mu.Lock()
			ent.exited = true
			if err != nil {
				ent.lastErr = err
			}
			s.mu.Unlock()
			if err != nil {
				s.log.Errorf("supervisor: %s run: %v", m.Name(), err)
			}
			return err
		})
	}
	done := make(chan struct{})
	s.runDone = done
	s.mu.Unlock()

	err := g.Wait()
	close(done)
	return err
}

// Stop cancels every monitor's Run context, waits up to the stop
// timeout for the drain loops to exit, then unloads each monitor in
// parallel. Drain loops still running when
// the timeout expires are abandoned (unload proceeds anyway) and
// recorded as a stop-timeout failure in the status table.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return nil
	}
	s.state = StateStopping
	entries := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	done := s.runDone
	timeout := s.stopTimeout
	s.mu.Unlock()

	for _, e := range entries {
		_ = e.monitor.Stop(ctx)
		if e.cancel != nil {
			e.cancel()
		}
	}

	if done != nil {
		timer := time.NewTimer(timeout)
		select {
		case <-done:
			timer.Stop()
		case <-timer.C:
			s.log.Errorf("supervisor: drain loops still running after %v stop timeout, unloading anyway", timeout)
			s.mu.Lock()
			for _, e := range entries {
				if !e.exited {
					e.lastErr = fmt.Errorf("stop timeout after %v", timeout)
				}
			}
			s.mu.Unlock()
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, e := range entries {
		m := e.monitor
		g.Go(func() error {
			return m.Unload(gctx)
		})
	}
	err := g.Wait()

	s.mu.Lock()
	s.state = StateStopped
	s.mu.Unlock()
	return err
}

// Status reports each monitor's current MonitorState.
func (s *Supervisor) Status() map[string]core.MonitorState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]core.MonitorState, len(s.entries))
	for name, e := range s.entries {
		out[name] = e.monitor.State()
	}
	return out
}

// MonitorSummary is the one-line-per-monitor accounting printed on
// graceful exit: rows written, rows dropped, ticks, errors.
type MonitorSummary struct {
	Name        string
	State       core.MonitorState
	RowsWritten int64
	RowsDropped int64
	Ticks       uint64
	DrainErrors uint64
	LastErr     error
}

// tickCounter is satisfied by any monitor embedding monitors.Base;
// event-stream monitors without sweep ticks simply report zero.
type tickCounter interface {
	Ticks() uint64
	DrainErrors() uint64
}

// Summary collects per-monitor accounting, sorted by name so the exit
// report is stable.
func (s *Supervisor) Summary() []MonitorSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]MonitorSummary, 0, len(s.entries))
	for name, e := range s.entries {
		sum := MonitorSummary{
			Name:        name,
			State:       e.monitor.State(),
			RowsWritten: s.out.WrittenRows(name),
			RowsDropped: s.out.DroppedRows(name),
			LastErr:     e.lastErr,
		}
		if tc, ok := e.monitor.(tickCounter); ok {
			sum.Ticks = tc.Ticks()
			sum.DrainErrors = tc.DrainErrors()
		}
		out = append(out, sum)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
