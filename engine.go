// Package j1939dtc implements a J1939 Diagnostic Trouble Code parser: it
// classifies incoming CAN frames, reassembles multi-frame DM1 messages,
// decodes DTC tuples, and maintains a debounced, time-windowed active DTC
// list behind a single non-reentrant concurrency gate.
//
// Engine is constructed with functional options (NewEngine(opts...))
// instead of exposed as a package-level singleton, so a caller can run one
// Engine per CAN bus.
package j1939dtc

import (
	"errors"
	"fmt"
	"io"

	"github.com/dtcmesh/j1939dtc/internal/bam"
	"github.com/dtcmesh/j1939dtc/internal/classify"
	"github.com/dtcmesh/j1939dtc/internal/dm1"
	"github.com/dtcmesh/j1939dtc/internal/dtc"
	"github.com/dtcmesh/j1939dtc/internal/gate"
	"github.com/dtcmesh/j1939dtc/internal/metrics"
	"github.com/dtcmesh/j1939dtc/internal/registry"
)

// Sentinel errors, meant to be matched with errors.Is. All failure in this
// package is soft (spec §7): these are returned, never panicked.
var (
	ErrContended      = errors.New("j1939dtc: gate contended")
	ErrBufferTooSmall = errors.New("j1939dtc: destination buffer too small")
	ErrAllocFailed    = errors.New("j1939dtc: allocation failed")
)

// Engine owns one instance of the classifier + decoder + reassembler +
// registry pipeline and the single gate serialising access to it.
type Engine struct {
	gate    gate.Gate
	decoder dm1.Decoder
	reasm   *bam.Table
	reg     *registry.Registry
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithThresholds overrides the default promotion/pruning configuration
// (spec §6 set_filtering table). A zero value for any argument leaves the
// registry default for that field unchanged.
func WithThresholds(thresholdReads, windowActive, windowInactive uint32) Option {
	return func(e *Engine) {
		e.reg.SetFiltering(thresholdReads, windowActive, windowInactive)
	}
}

// WithTimeoutMultiFrame overrides timeout_multi_frame. Zero leaves the
// default unchanged.
func WithTimeoutMultiFrame(seconds uint32) Option {
	return func(e *Engine) {
		e.reasm.SetTimeout(seconds)
	}
}

// WithCapacities overrides the candidate/active table capacities. Zero
// leaves the spec default (N_CAND=40, N_ACT=20) for that field.
func WithCapacities(candCap, actCap int) Option {
	return func(e *Engine) {
		e.reg.SetCapacities(candCap, actCap)
	}
}

const defaultTimeoutMultiFrame = 5

// NewEngine constructs an Engine with spec-default capacities and timing,
// then applies opts.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		reasm: bam.NewTable(defaultTimeoutMultiFrame),
		reg:   registry.New(registry.DefaultCandidateCap, registry.DefaultActiveCap),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// RegisterCallback installs fn, invoked synchronously from Tick whenever
// the active set changes, with the gate held. fn must not call back into
// the Engine: IngestFrame/Tick/ClearAll all TryAcquire the same gate fn is
// already running under, so a re-entrant call is not a crash, just a
// dropped no-op — the gate's non-reentrance doubles as the documented
// reentry guard from spec §9.
func (e *Engine) RegisterCallback(fn func(active []dtc.Record)) {
	e.reg.RegisterCallback(fn)
}

// SetFiltering updates the four configuration knobs atomically (spec §6).
// A zero value for any argument leaves the current value unchanged.
func (e *Engine) SetFiltering(thresholdReads, windowActive, windowInactive, timeoutMultiFrame uint32) {
	e.reg.SetFiltering(thresholdReads, windowActive, windowInactive)
	e.reasm.SetTimeout(timeoutMultiFrame)
}

// IngestFrame processes one CAN frame. It returns false without touching
// any state if the gate is contended (spec §4.5, §7 "contended lock").
func (e *Engine) IngestFrame(id uint32, data [8]byte, t uint32) bool {
	if !e.gate.TryAcquire() {
		metrics.IncGateContended()
		return false
	}
	defer e.gate.Release()

	metrics.IncIngestedFrames()

	switch classify.Route(id, data) {
	case classify.DM1SingleFrame:
		src := classify.Source(id)
		e.decoder.Decode(src, data[:], t, e.observe)
	case classify.TPConnManagement:
		e.reasm.HandleCM(id, data, t)
	case classify.TPDataTransfer:
		e.reasm.HandleDT(id, data, t, func(src uint8, buf []byte, t uint32) {
			e.decoder.Decode(src, buf, t, e.observe)
		})
	}
	return true
}

func (e *Engine) observe(src uint8, tup dm1.Tuple, lamps dtc.Lamps, t uint32) {
	e.reg.Update(t, src, tup, lamps)
}

// Tick advances time to t: it sweeps the BAM table, prunes the registry and
// fires the callback if the active set changed. Unlike IngestFrame, Tick
// must succeed by protocol (the caller owns when it runs) but still uses
// TryAcquire per spec §4.5; a contended tick returns false having done
// nothing.
func (e *Engine) Tick(t uint32) bool {
	if !e.gate.TryAcquire() {
		metrics.IncGateContended()
		return false
	}
	defer e.gate.Release()

	e.reasm.Sweep(t)
	metrics.SetBAMSlotsInUse(e.reasm.InUse())
	changed := e.reg.Tick(t)
	metrics.SetActiveDTCs(len(e.reg.Active()))
	metrics.SetCandidateDTCs(len(e.reg.Candidates()))
	return changed
}

// CopyActive copies the current active set into buf (spec copy_active). It
// returns ErrContended if the gate is held, or ErrBufferTooSmall if
// len(buf) is less than the active count; buf is left untouched in both
// cases.
func (e *Engine) CopyActive(buf []dtc.Record) (int, error) {
	if !e.gate.TryAcquire() {
		metrics.IncGateContended()
		return 0, ErrContended
	}
	defer e.gate.Release()

	active := e.reg.Active()
	if len(buf) < len(active) {
		return 0, ErrBufferTooSmall
	}
	n := copy(buf, active)
	return n, nil
}

// DynCopyActive allocates and returns a copy of the current active set
// (spec dyn_copy_active). It returns ErrContended if the gate is held.
// ErrAllocFailed exists for interface parity with the embedded source,
// where the equivalent call can fail to malloc; Go's allocator does not
// fail this way; see DESIGN.md.
func (e *Engine) DynCopyActive() ([]dtc.Record, error) {
	if !e.gate.TryAcquire() {
		metrics.IncGateContended()
		return nil, ErrContended
	}
	defer e.gate.Release()

	active := e.reg.Active()
	out := make([]dtc.Record, len(active))
	copy(out, active)
	return out, nil
}

// DynCopyCandidates allocates and returns a copy of the current candidate
// set. Not part of the spec's Observation API (which only names the active
// set), but the same contended/allocated-copy shape as DynCopyActive, used
// by cmd/dtcmon's /dtcs/candidates view.
func (e *Engine) DynCopyCandidates() ([]dtc.Record, error) {
	if !e.gate.TryAcquire() {
		metrics.IncGateContended()
		return nil, ErrContended
	}
	defer e.gate.Release()

	cands := e.reg.Candidates()
	out := make([]dtc.Record, len(cands))
	copy(out, cands)
	return out, nil
}

// TryLock acquires the gate for a caller-held borrowed read. It mirrors
// IngestFrame/Tick's TryAcquire but is exported so external callers can
// pair it with ReferenceActive/Unlock.
func (e *Engine) TryLock() bool { return e.gate.TryAcquire() }

// Unlock releases a gate held via TryLock.
func (e *Engine) Unlock() { e.gate.Release() }

// ReferenceActive returns a borrowed view of the active set. The caller
// must hold the gate (via TryLock) for the entire duration the slice is
// read; reading it after Unlock is undefined behaviour, exactly as in the
// source (spec §4.6, §9 "Ownership and callbacks").
func (e *Engine) ReferenceActive() []dtc.Record {
	return e.reg.Active()
}

// ClearAll empties the registry and BAM table. Intended for tests and for
// hosts that want to reset an Engine without reconstructing it.
func (e *Engine) ClearAll() {
	if !e.gate.TryAcquire() {
		return
	}
	defer e.gate.Release()
	e.reg.Clear()
	e.reasm.Clear()
}

// FormatActive writes a tabular dump of the current active set to w, one
// record per line. It is a reporting convenience (cmd/dtcmon does not call
// it), not part of the spec's Observation API; callers that need a consistent snapshot
// should pair it with TryLock/Unlock the same as ReferenceActive.
func (e *Engine) FormatActive(w io.Writer) error {
	return formatRecords(w, e.reg.Active())
}

// FormatCandidates writes a tabular dump of the current candidate set to w.
func (e *Engine) FormatCandidates(w io.Writer) error {
	return formatRecords(w, e.reg.Candidates())
}

func formatRecords(w io.Writer, recs []dtc.Record) error {
	for _, r := range recs {
		if _, err := fmt.Fprintf(w,
			"src=%-3d spn=%-6d fmi=%-2d cm=%d oc=%-3d mil=%d rsl=%d awl=%d pl=%d first=%d last=%d reads=%d\n",
			r.Src, r.SPN, r.FMI, r.CM, r.OC, r.MIL, r.RSL, r.AWL, r.PL,
			r.FirstSeen, r.LastSeen, r.ReadCount); err != nil {
			return err
		}
	}
	return nil
}
