package core

import "sync/atomic"

// Identifiers are process-unique and never reused. Persisted objects carry the
// value written in the gx3d container, so the counter is seeded past the last
// id the container has seen before anything transient is created.
var lastIdentifier atomic.Uint64

// NextID issues a fresh identifier.
func NextID() uint64 {
	return lastIdentifier.Add(1)
}

// LastID returns the most recently issued identifier.
func LastID() uint64 {
	return lastIdentifier.Load()
}

// SeedIdentifiers raises the counter so that the next id is greater than last.
// It never lowers the counter.
func SeedIdentifiers(last uint64) {
	for {
		cur := lastIdentifier.Load()
		if cur >= last {
			return
		}
		if lastIdentifier.CompareAndSwap(cur, last) {
			return
		}
	}
}
