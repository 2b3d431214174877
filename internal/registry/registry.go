// Package registry implements the candidate/active DTC debounce state
// machine (spec §4.4): a bounded membership collection with
// insertion-order iteration and a change-notification path that promotes
// and prunes two fixed arrays and fires a single callback on change.
package registry

import (
	"github.com/dtcmesh/j1939dtc/internal/dm1"
	"github.com/dtcmesh/j1939dtc/internal/dtc"
	"github.com/dtcmesh/j1939dtc/internal/logging"
	"github.com/dtcmesh/j1939dtc/internal/metrics"
)

// Defaults for the registry's three timing knobs and two table capacities
// (spec §6).
const (
	DefaultThresholdReads  = 10
	DefaultWindowActive    = 10
	DefaultWindowInactive  = 20
	DefaultCandidateCap    = 40
	DefaultActiveCap       = 20
)

// Registry holds the candidate and active DTC sets. It has no internal
// locking: callers (the Engine) serialise access through the gate.
type Registry struct {
	candidates []dtc.Record
	active     []dtc.Record

	candCap int
	actCap  int

	thresholdReads uint32
	windowActive   uint32
	windowInactive uint32

	changed  bool
	callback func(active []dtc.Record)
}

// New returns a Registry with the given fixed capacities and default
// timing configuration.
func New(candCap, actCap int) *Registry {
	return &Registry{
		candidates:     make([]dtc.Record, 0, candCap),
		active:         make([]dtc.Record, 0, actCap),
		candCap:        candCap,
		actCap:         actCap,
		thresholdReads: DefaultThresholdReads,
		windowActive:   DefaultWindowActive,
		windowInactive: DefaultWindowInactive,
	}
}

// SetCapacities resizes the candidate/active table capacities. It is only
// meaningful before any observations have been recorded; a positive value
// for either argument overrides the corresponding capacity, zero leaves it
// unchanged. Existing entries beyond a shrunk capacity are preserved as-is
// (capacity only bounds future growth), matching the spec's "bounded,
// preallocated" model rather than truncating live state.
func (r *Registry) SetCapacities(candCap, actCap int) {
	if candCap > 0 {
		r.candCap = candCap
	}
	if actCap > 0 {
		r.actCap = actCap
	}
}

// SetFiltering updates the promotion/pruning configuration. A zero value
// for any argument leaves the corresponding setting unchanged.
func (r *Registry) SetFiltering(thresholdReads, windowActive, windowInactive uint32) {
	if thresholdReads != 0 {
		r.thresholdReads = thresholdReads
	}
	if windowActive != 0 {
		r.windowActive = windowActive
	}
	if windowInactive != 0 {
		r.windowInactive = windowInactive
	}
}

// RegisterCallback installs fn, invoked synchronously from Tick whenever
// the active set changes. fn must not re-enter the registry.
func (r *Registry) RegisterCallback(fn func(active []dtc.Record)) {
	r.callback = fn
}

// Update applies one decoded DM1 tuple observation to the registry
// (spec §4.4 Update). t is the observation timestamp, src/tup/lamps come
// straight from the DM1 decoder.
func (r *Registry) Update(t uint32, src uint8, tup dm1.Tuple, lamps dtc.Lamps) {
	key := dtc.Key{Src: src, SPN: tup.SPN, FMI: tup.FMI}

	if i := indexOf(r.active, key); i >= 0 {
		rec := &r.active[i]
		rec.Lamps = lamps
		rec.OC = tup.OC
		rec.LastSeen = t
		return
	}

	if i := indexOf(r.candidates, key); i >= 0 {
		rec := &r.candidates[i]
		rec.Lamps = lamps
		rec.OC = tup.OC
		rec.LastSeen = t
		rec.ReadCount++
	} else {
		if len(r.candidates) >= r.candCap {
			metrics.IncCandidateTableFull()
			logging.L().Debug("candidate_table_full", "src", src, "spn", tup.SPN, "fmi", tup.FMI)
			return
		}
		r.candidates = append(r.candidates, dtc.Record{
			Key: key,
			Payload: dtc.Payload{
				CM:    tup.CM,
				OC:    tup.OC,
				Lamps: lamps,
			},
			FirstSeen: t,
			LastSeen:  t,
			ReadCount: 1,
		})
	}

	r.promote(t)
}

// promote moves any eligible candidate into the active set, preserving
// insertion order via left-shift removal.
func (r *Registry) promote(t uint32) {
	i := 0
	for i < len(r.candidates) {
		c := r.candidates[i]
		if t-c.FirstSeen <= r.windowActive && uint32(c.ReadCount) >= r.thresholdReads {
			if len(r.active) >= r.actCap {
				metrics.IncActivePromotionDeclined()
				logging.L().Debug("active_table_full", "src", c.Src, "spn", c.SPN, "fmi", c.FMI)
				i++
				continue
			}
			r.active = append(r.active, c)
			r.candidates = removeAt(r.candidates, i)
			r.changed = true
			continue
		}
		i++
	}
}

// Prune ages out expired candidates and inactive DTCs (spec §4.4 Prune).
// Invoked only by the engine's tick, never from ingress.
func (r *Registry) Prune(t uint32) {
	i := 0
	for i < len(r.candidates) {
		if t-r.candidates[i].FirstSeen > r.windowActive {
			r.candidates = removeAt(r.candidates, i)
			continue
		}
		i++
	}

	i = 0
	for i < len(r.active) {
		if t-r.active[i].LastSeen > r.windowInactive {
			r.active = removeAt(r.active, i)
			r.changed = true
			continue
		}
		i++
	}
}

// Tick advances the registry by one observation of the current time: it
// prunes, then fires the registered callback if the active set changed
// since the last successful tick. It returns whether a change occurred.
func (r *Registry) Tick(t uint32) bool {
	r.Prune(t)
	changed := r.changed
	r.changed = false
	if changed && r.callback != nil {
		r.callback(r.active)
	}
	return changed
}

// Active returns the borrowed backing slice of the current active set, in
// insertion order. Callers must hold the gate for the duration of use.
func (r *Registry) Active() []dtc.Record { return r.active }

// Candidates returns the borrowed backing slice of the current candidate
// set, in insertion order.
func (r *Registry) Candidates() []dtc.Record { return r.candidates }

// Clear empties both sets and resets the change flag.
func (r *Registry) Clear() {
	r.candidates = r.candidates[:0]
	r.active = r.active[:0]
	r.changed = false
}

func indexOf(recs []dtc.Record, key dtc.Key) int {
	for i := range recs {
		if recs[i].Key == key {
			return i
		}
	}
	return -1
}

// removeAt deletes the element at i, preserving the relative order of the
// remaining elements (left-shift, O(n)) — insertion order is observable in
// callback deliveries so a swap-remove would violate S1-S5.
func removeAt(recs []dtc.Record, i int) []dtc.Record {
	copy(recs[i:], recs[i+1:])
	return recs[:len(recs)-1]
}
