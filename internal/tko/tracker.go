package tko

import "sync/atomic"

// Owner is a destination handle competing for probe responsibility.
// Owners are compared by identity.
type Owner interface {
	Key() string
}

// ownerBox wraps an Owner so the responsibility slot can be swapped with
// a single pointer CAS.
type ownerBox struct {
	owner Owner
}

// Tracker holds the shared failure accounting for one logical destination.
// All methods are safe for concurrent use from any router thread; no lock
// is ever held across a probe send.
type Tracker struct {
	key           string
	hardThreshold uint32
	softThreshold uint32

	consecutiveHard atomic.Uint32
	consecutiveSoft atomic.Uint32

	hardTko atomic.Bool
	softTko atomic.Bool

	// responsible is nil while nobody owns recovery probing. It only
	// transitions nil -> owner (claim) and owner -> nil (release by the
	// owner itself or its removal).
	responsible atomic.Pointer[ownerBox]

	globalHard *atomic.Int64
	globalSoft *atomic.Int64

	refs int
}

// NewTracker creates a standalone tracker. A threshold of 0 disables that
// failure class. Trackers shared across threads are normally obtained
// through a Registry instead.
func NewTracker(key string, hardThreshold, softThreshold int) *Tracker {
	return &Tracker{
		key:           key,
		hardThreshold: clampThreshold(hardThreshold),
		softThreshold: clampThreshold(softThreshold),
		globalHard:    &atomic.Int64{},
		globalSoft:    &atomic.Int64{},
	}
}

func clampThreshold(n int) uint32 {
	if n < 0 {
		return 0
	}
	return uint32(n)
}

// Key returns the logical destination key this tracker arbitrates.
func (t *Tracker) Key() string {
	return t.key
}

// RecordHardFailure counts one hard failure. It returns true iff this call
// made owner the responsible handle: the hard counter is at or beyond the
// threshold and nobody else holds responsibility. Soft accounting is
// unaffected.
func (t *Tracker) RecordHardFailure(owner Owner) bool {
	if t.hardThreshold == 0 {
		return false
	}
	if t.consecutiveHard.Add(1) < t.hardThreshold {
		return false
	}
	if t.hardTko.CompareAndSwap(false, true) {
		t.globalHard.Add(1)
	}
	return t.claim(owner)
}

// RecordSoftFailure is the soft-class counterpart of RecordHardFailure.
// Hard and soft failures are thresholded independently; either can knock
// the destination out.
func (t *Tracker) RecordSoftFailure(owner Owner) bool {
	if t.softThreshold == 0 {
		return false
	}
	if t.consecutiveSoft.Add(1) < t.softThreshold {
		return false
	}
	if t.softTko.CompareAndSwap(false, true) {
		t.globalSoft.Add(1)
	}
	return t.claim(owner)
}

// RecordSuccess resets both failure counters. Knocked-out status is
// cleared only when owner holds responsibility (which it then releases)
// or when the slot is vacant; a success reported by any other handle
// never unmarks the destination or evicts the owner, so in-flight plain
// traffic completing elsewhere cannot cut probing short.
func (t *Tracker) RecordSuccess(owner Owner) {
	t.consecutiveHard.Store(0)
	t.consecutiveSoft.Store(0)

	cur := t.responsible.Load()
	if cur != nil && cur.owner != owner {
		return
	}
	if t.hardTko.CompareAndSwap(true, false) {
		t.globalHard.Add(-1)
	}
	if t.softTko.CompareAndSwap(true, false) {
		t.globalSoft.Add(-1)
	}
	if cur != nil {
		t.responsible.CompareAndSwap(cur, nil)
	}
}

// RemoveHandle detaches a destination handle that is being destroyed. If
// the handle was responsible, its removal counts as a success so that a
// surviving handle can re-discover the failure and take over probing.
func (t *Tracker) RemoveHandle(owner Owner) {
	if t.IsResponsible(owner) {
		t.RecordSuccess(owner)
	}
}

func (t *Tracker) claim(owner Owner) bool {
	return t.responsible.CompareAndSwap(nil, &ownerBox{owner: owner})
}

// IsResponsible reports whether owner currently holds the probing role.
func (t *Tracker) IsResponsible(owner Owner) bool {
	cur := t.responsible.Load()
	return cur != nil && cur.owner == owner
}

// IsTko reports whether the destination is knocked out for any reason.
func (t *Tracker) IsTko() bool {
	return t.hardTko.Load() || t.softTko.Load()
}

// IsHardTko reports whether consecutive hard failures knocked the
// destination out.
func (t *Tracker) IsHardTko() bool {
	return t.hardTko.Load()
}

// IsSoftTko reports whether consecutive soft failures knocked the
// destination out.
func (t *Tracker) IsSoftTko() bool {
	return t.softTko.Load()
}

// Counts returns the current consecutive hard and soft failure counts.
func (t *Tracker) Counts() (hard, soft uint32) {
	return t.consecutiveHard.Load(), t.consecutiveSoft.Load()
}

// GlobalCounts returns the number of destinations currently hard- and
// soft-TKO across the whole process (all trackers sharing this tracker's
// registry).
func (t *Tracker) GlobalCounts() (hardTkos, softTkos int64) {
	return t.globalHard.Load(), t.globalSoft.Load()
}
