package destination

import "log/slog"

// TkoEventKind identifies a TKO state transition.
type TkoEventKind int

const (
	EventMarkHardTko TkoEventKind = iota
	EventMarkSoftTko
	EventUnmarkTko
	EventRemovedWhileTko
)

func (k TkoEventKind) String() string {
	switch k {
	case EventMarkHardTko:
		return "marked hard TKO"
	case EventMarkSoftTko:
		return "marked soft TKO"
	case EventUnmarkTko:
		return "unmarked TKO"
	case EventRemovedWhileTko:
		return "was TKO, removed from config"
	default:
		return "unknown"
	}
}

// TkoEvent is the record emitted on every TKO state transition. It is
// fire-and-forget observability data, never consulted on the hot path.
type TkoEvent struct {
	Key            string
	Pool           string
	Kind           TkoEventKind
	IsHardTko      bool
	IsSoftTko      bool
	GlobalHardTkos int64
	GlobalSoftTkos int64
	AvgLatencyUs   float64
	ProbesSent     int
	Result         Outcome
}

// EventSink receives TKO transition events. Implementations must not
// block; the destination calls them while holding its own lock.
type EventSink interface {
	RecordTkoEvent(TkoEvent)
}

func (d *Destination) tkoEventLocked(kind TkoEventKind, result Outcome) {
	globalHard, globalSoft := d.tracker.GlobalCounts()

	d.logger.Info("destination "+kind.String(),
		slog.String("key", d.key),
		slog.String("pool", d.pool),
		slog.Int64("global_hard_tkos", globalHard),
		slog.Int64("global_soft_tkos", globalSoft),
		slog.String("reply", result.String()))

	if d.events == nil {
		return
	}
	d.events.RecordTkoEvent(TkoEvent{
		Key:            d.key,
		Pool:           d.pool,
		Kind:           kind,
		IsHardTko:      d.tracker.IsHardTko(),
		IsSoftTko:      d.tracker.IsSoftTko(),
		GlobalHardTkos: globalHard,
		GlobalSoftTkos: globalSoft,
		AvgLatencyUs:   d.avgLatency.Value(),
		ProbesSent:     d.probesSent,
		Result:         result,
	})
}
