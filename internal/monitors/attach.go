package monitors

import (
	"fmt"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"

	"github.com/srodi/ebpf-monitor/internal/core"
	"github.com/srodi/ebpf-monitor/pkg/logger"
)

// AttachAll binds every point in points to its kernel hook using the
// programs in coll. A failure on a point with Required=false is logged
// and skipped, so a monitor degrades to whichever of its optional
// hooks this kernel provides. A failure on a required point is
// returned immediately.
func AttachAll(monitorName string, coll *ebpf.Collection, points []core.AttachPoint, log *logger.Logger) ([]link.Link, error) {
	links := make([]link.Link, 0, len(points))
	for _, p := range points {
		prog, ok := coll.Programs[p.Program]
		if !ok {
			err := &core.AttachError{Monitor: monitorName, Point: p.Program, Kind: core.AttachKindNotAvailable, Err: fmt.Errorf("program %q not in collection", p.Program)}
			if p.Required {
				closeAll(links)
				return nil, err
			}
			log.Warnf("%s: optional attach point %s unavailable: %v", monitorName, p.Program, err)
			continue
		}

		l, err := attachOne(p, prog)
		if err != nil {
			wrapped := &core.AttachError{Monitor: monitorName, Point: p.Program, Kind: core.AttachKindLinkFailed, Err: err}
			if p.Required {
				closeAll(links)
				return nil, wrapped
			}
			log.Warnf("%s: optional attach point %s failed: %v", monitorName, p.Program, wrapped)
			continue
		}
		links = append(links, l)
	}
	return links, nil
}

func attachOne(p core.AttachPoint, prog *ebpf.Program) (link.Link, error) {
	switch p.Kind {
	case core.AttachTracepoint:
		return link.Tracepoint(p.Group, p.Symbol, prog, nil)
	case core.AttachKprobe:
		return link.Kprobe(p.Symbol, prog, nil)
	case core.AttachKretprobe:
		return link.Kretprobe(p.Symbol, prog, nil)
	default:
		return nil, fmt.Errorf("unknown attach point kind %v", p.Kind)
	}
}

func closeAll(links []link.Link) {
	for _, l := range links {
		l.Close()
	}
}
