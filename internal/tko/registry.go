package tko

import (
	"sync"
	"sync/atomic"
)

// Registry hands out the shared Tracker for each logical destination key
// and reference-counts it across the handles that use it. It also owns the
// process-global TKO gauges every tracker reports into.
type Registry struct {
	mutex         sync.Mutex
	trackers      map[string]*Tracker
	hardThreshold int
	softThreshold int

	globalHard atomic.Int64
	globalSoft atomic.Int64
}

func NewRegistry(hardThreshold, softThreshold int) *Registry {
	return &Registry{
		trackers:      make(map[string]*Tracker),
		hardThreshold: hardThreshold,
		softThreshold: softThreshold,
	}
}

// Acquire returns the tracker for key, creating it on first use. Every
// Acquire must be paired with a Release when the handle is destroyed.
func (r *Registry) Acquire(key string) *Tracker {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	t, exists := r.trackers[key]
	if !exists {
		t = NewTracker(key, r.hardThreshold, r.softThreshold)
		t.globalHard = &r.globalHard
		t.globalSoft = &r.globalSoft
		r.trackers[key] = t
	}
	t.refs++
	return t
}

// Release detaches owner from the tracker and drops one reference. The
// tracker is removed from the registry once the last handle is gone; if it
// was still TKO at that point the global gauges are settled by the
// RemoveHandle success path.
func (r *Registry) Release(t *Tracker, owner Owner) {
	t.RemoveHandle(owner)

	r.mutex.Lock()
	defer r.mutex.Unlock()

	t.refs--
	if t.refs <= 0 {
		if t.hardTko.CompareAndSwap(true, false) {
			r.globalHard.Add(-1)
		}
		if t.softTko.CompareAndSwap(true, false) {
			r.globalSoft.Add(-1)
		}
		delete(r.trackers, t.key)
	}
}

// GlobalCounts returns the number of destinations currently hard- and
// soft-TKO across all trackers.
func (r *Registry) GlobalCounts() (hardTkos, softTkos int64) {
	return r.globalHard.Load(), r.globalSoft.Load()
}

// Stats returns the TKO status of every live tracker keyed by destination.
func (r *Registry) Stats() map[string]bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	stats := make(map[string]bool, len(r.trackers))
	for key, t := range r.trackers {
		stats[key] = t.IsTko()
	}
	return stats
}

// Len returns the number of live trackers.
func (r *Registry) Len() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return len(r.trackers)
}
