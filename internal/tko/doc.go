// Package tko arbitrates knocked-out (TKO) status for logical destinations.
//
// One Tracker is shared by every destination handle that targets the same
// backend, across all router threads. It counts consecutive hard and soft
// failures, flips the destination into TKO when a threshold is crossed, and
// guarantees that exactly one handle at a time owns recovery probing:
//
//	tracker := registry.Acquire("pool-a.shard-0")
//	if tracker.RecordHardFailure(handle) {
//	    // this handle is now responsible and must start probing
//	}
//
// Without the arbitration every thread observing the failure would probe
// independently, multiplying probe traffic by the thread count.
package tko
