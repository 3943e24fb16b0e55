package output

import (
	"sync/atomic"
	"time"

	"github.com/srodi/ebpf-monitor/internal/core"
)

// channelSink is a bounded-channel core.SinkHandle. A full channel
// does not block the monitor's drain loop indefinitely:
// it waits up to a bounded grace period and then drops the row,
// counting it so the operator can see loss in the daemon's status.
type channelSink struct {
	monitor   string
	rows      chan []string
	wait      time.Duration
	dropped   *atomic.Int64
	closeOnce chan struct{}
}

func newChannelSink(monitor string, bufferSize int, wait time.Duration, dropped *atomic.Int64) *channelSink {
	return &channelSink{
		monitor:   monitor,
		rows:      make(chan []string, bufferSize),
		wait:      wait,
		dropped:   dropped,
		closeOnce: make(chan struct{}),
	}
}

// Send enqueues row, blocking up to s.wait if the channel is full before
// dropping it and incrementing the dropped counter.
func (s *channelSink) Send(row []string) bool {
	select {
	case s.rows <- row:
		return true
	default:
	}

	timer := time.NewTimer(s.wait)
	defer timer.Stop()
	select {
	case s.rows <- row:
		return true
	case <-timer.C:
		s.dropped.Add(1)
		return false
	}
}

func (s *channelSink) Close() {
	select {
	case <-s.closeOnce:
	default:
		close(s.closeOnce)
		close(s.rows)
	}
}

var _ core.SinkHandle = (*channelSink)(nil)
