package registry

import (
	"sync"

	"github.com/kvrouter/kvrouter/internal/destination"
)

// Map holds the destinations of one router thread. It implements
// destination.ActiveList so handles can mark themselves active while
// probing and deregister on destruction.
type Map struct {
	mutex        sync.Mutex
	destinations map[string]*destination.Destination
	active       map[string]struct{}
}

func NewMap() *Map {
	return &Map{
		destinations: make(map[string]*destination.Destination),
		active:       make(map[string]struct{}),
	}
}

// GetOrCreate returns the destination for key, invoking create on first
// use. The factory runs under the map mutex and must not call back into
// the map.
func (m *Map) GetOrCreate(key string, create func() *destination.Destination) *destination.Destination {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if d, exists := m.destinations[key]; exists {
		return d
	}
	d := create()
	m.destinations[key] = d
	m.active[key] = struct{}{}
	return d
}

// Get returns the destination for key, or nil.
func (m *Map) Get(key string) *destination.Destination {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.destinations[key]
}

// MarkActive keeps d out of the next inactive sweep.
func (m *Map) MarkActive(d *destination.Destination) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if _, exists := m.destinations[d.Key()]; exists {
		m.active[d.Key()] = struct{}{}
	}
}

// Remove deregisters d. Called by the destination itself during Close.
func (m *Map) Remove(d *destination.Destination) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.destinations[d.Key()] == d {
		delete(m.destinations, d.Key())
		delete(m.active, d.Key())
	}
}

// ResetAllInactive resets the connections of every destination that was
// not marked active since the previous sweep, then clears the marks so
// the next sweep starts fresh.
func (m *Map) ResetAllInactive() {
	m.mutex.Lock()
	var idle []*destination.Destination
	for key, d := range m.destinations {
		if _, isActive := m.active[key]; !isActive {
			idle = append(idle, d)
		}
	}
	m.active = make(map[string]struct{})
	m.mutex.Unlock()

	for _, d := range idle {
		d.ResetInactive()
	}
}

// Snapshot returns the current destinations. The slice is a copy; the
// handles are live.
func (m *Map) Snapshot() []*destination.Destination {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	snap := make([]*destination.Destination, 0, len(m.destinations))
	for _, d := range m.destinations {
		snap = append(snap, d)
	}
	return snap
}

// Len returns the number of registered destinations.
func (m *Map) Len() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return len(m.destinations)
}

// CloseAll closes every destination, used when the owning router shuts
// down. Each Close deregisters itself from the map.
func (m *Map) CloseAll() {
	for _, d := range m.Snapshot() {
		d.Close()
	}
}
