package stats

import "sync/atomic"

// Gauge identifies one of the per-process server-state counts. A
// destination increments the gauge for its new state and decrements the
// old one on every transition.
type Gauge int

const (
	GaugeServersNew Gauge = iota
	GaugeServersUp
	GaugeServersDown
	GaugeServersClosed
	numGauges
)

func (g Gauge) String() string {
	switch g {
	case GaugeServersNew:
		return "new"
	case GaugeServersUp:
		return "up"
	case GaugeServersDown:
		return "down"
	case GaugeServersClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Sink receives gauge updates from destination handles. Implementations
// must be safe for concurrent use; calls happen on the reply path and
// must not block.
type Sink interface {
	Increment(Gauge)
	Decrement(Gauge)
}

// Counts is an in-memory Sink backed by atomic counters.
type Counts struct {
	gauges [numGauges]atomic.Int64
}

func NewCounts() *Counts {
	return &Counts{}
}

func (c *Counts) Increment(g Gauge) {
	if g >= 0 && g < numGauges {
		c.gauges[g].Add(1)
	}
}

func (c *Counts) Decrement(g Gauge) {
	if g >= 0 && g < numGauges {
		c.gauges[g].Add(-1)
	}
}

// Get returns the current value of one gauge.
func (c *Counts) Get(g Gauge) int64 {
	if g < 0 || g >= numGauges {
		return 0
	}
	return c.gauges[g].Load()
}

// Snapshot returns all gauges keyed by state name.
func (c *Counts) Snapshot() map[string]int64 {
	snap := make(map[string]int64, numGauges)
	for g := Gauge(0); g < numGauges; g++ {
		snap[g.String()] = c.gauges[g].Load()
	}
	return snap
}

// NopSink discards all updates. Used when no metrics backend is wired.
type NopSink struct{}

func (NopSink) Increment(Gauge) {}
func (NopSink) Decrement(Gauge) {}
