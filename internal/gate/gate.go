// Package gate implements the single non-reentrant, non-blocking
// mutual-exclusion flag that serialises the DTC engine's mutators and
// readers: a single atomic.Bool guarded by one compare-and-swap.
// TryAcquire never blocks and never spins past that single CAS; a
// contended caller drops its operation rather than waiting.
package gate

import "sync/atomic"

// Gate is a single boolean lock. It is not reentrant: a goroutine holding
// the gate that calls TryAcquire again will simply fail, the same as any
// other caller.
type Gate struct {
	locked atomic.Bool
}

// TryAcquire attempts to take the gate. It returns true iff the gate was
// free and is now held by the caller.
func (g *Gate) TryAcquire() bool {
	return g.locked.CompareAndSwap(false, true)
}

// Release clears the gate. Calling Release without holding the gate is a
// caller error; like the source this does not detect that case.
func (g *Gate) Release() {
	g.locked.Store(false)
}

// Held reports whether the gate is currently taken. Intended for tests and
// diagnostics, not for acquire/release decisions (those races belong to
// TryAcquire).
func (g *Gate) Held() bool {
	return g.locked.Load()
}
