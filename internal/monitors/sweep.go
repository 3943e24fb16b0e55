package monitors

import (
	"context"
	"time"

	"github.com/srodi/ebpf-monitor/internal/core"
)

// maxConsecutiveDrainFailures is how many back-to-back failed sweeps a
// monitor tolerates before escalating from transient to fatal.
const maxConsecutiveDrainFailures = 5

// SweepFunc drains one round of rows out of a monitor's BPF map into
// sink. Every row it emits carries tick, the timestamp of the start of
// the sweep. All rows of one tick share one timestamp, never
// per-event times. It is expected to clear the map entries it reads,
// matching the "iterate and delete" semantics every StatsMap sweep
// uses.
type SweepFunc func(sink core.SinkHandle, tick time.Time) error

// RunSweep ticks every interval, calling drain once per tick, until ctx
// is cancelled. This is the shared Run loop body for every aggregating
// monitor (Func, Syscall, Bio, Open, Interrupt, PageFault,
// ContextSwitch); only the drain function and the map schema differ
// between them.
//
// A failed sweep is transient: it is counted, logged and retried on
// the next tick. Only maxConsecutiveDrainFailures back-to-back
// failures escalate, returning the last error so the supervisor marks
// the monitor Failed; any successful sweep resets the run.
func (b *Base) RunSweep(ctx context.Context, interval time.Duration, drain SweepFunc, sink core.SinkHandle) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	consecutive := 0
	for {
		select {
		case <-ctx.Done():
			// Final partial-interval sweep so counts accumulated since
			// the last tick aren't silently lost on shutdown.
			b.ticks.Add(1)
			return drain(sink, time.Now())
		case <-ticker.C:
			b.ticks.Add(1)
			if err := drain(sink, time.Now()); err != nil {
				b.drainErrs.Add(1)
				consecutive++
				if consecutive >= maxConsecutiveDrainFailures {
					return err
				}
				b.Log.Warnf("%s: sweep failed (%d consecutive), retrying next tick: %v", b.NameStr, consecutive, err)
				continue
			}
			consecutive = 0
		}
	}
}
