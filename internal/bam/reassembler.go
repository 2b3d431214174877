// Package bam reassembles J1939 Transport Protocol BAM (Broadcast Announce
// Message) sequences — a TP.CM announcement followed by TP.DT data frames —
// into a single contiguous DM1 buffer: a fixed-capacity table of slots,
// polled and mutated directly by the engine under its own gate rather than
// behind a channel-fed worker.
package bam

import "github.com/dtcmesh/j1939dtc/internal/metrics"

// MaxSize is the largest reassembled DM1 payload this table will hold
// (spec MAX_MF_SIZE).
const MaxSize = 256

// NumSlots is the number of concurrent in-flight reassemblies (spec N_MF).
const NumSlots = 4

// bufCap is the underlying storage size for a slot buffer. TP.DT frames
// always carry 7 payload bytes regardless of how many of them are
// meaningful, so the last packet of a message whose totalSize isn't a
// multiple of 7 writes a few bytes past MaxSize; bufCap pads for that
// without changing the MaxSize wire contract.
const bufCap = MaxSize + 6

// slot is a single in-flight reassembly. An empty slot has cmID == 0.
type slot struct {
	cmID       uint32
	dtID       uint32
	totalSize  uint16
	numPackets uint8
	received   uint8
	firstSeen  uint32
	lastSeen   uint32
	buf        [bufCap]byte
}

func (s *slot) free() { *s = slot{} }

func (s *slot) inUse() bool { return s.cmID != 0 }

// Table is the bounded set of in-flight BAM reassemblies.
type Table struct {
	slots   [NumSlots]slot
	timeout uint32 // timeout_multi_frame, seconds
}

// NewTable returns a Table with the given default timeout (seconds).
func NewTable(timeout uint32) *Table {
	return &Table{timeout: timeout}
}

// SetTimeout updates timeout_multi_frame. A zero value leaves it unchanged,
// matching the engine-wide configuration contract.
func (t *Table) SetTimeout(seconds uint32) {
	if seconds != 0 {
		t.timeout = seconds
	}
}

// Clear frees every slot without disturbing the configured timeout.
func (t *Table) Clear() {
	for i := range t.slots {
		t.slots[i].free()
	}
}

// InUse returns the number of occupied slots, for metrics/diagnostics.
func (t *Table) InUse() int {
	n := 0
	for i := range t.slots {
		if t.slots[i].inUse() {
			n++
		}
	}
	return n
}

// HandleCM processes a TP.CM (BAM) announcement already verified by the
// classifier to carry the DM1 PGN with a BAM control byte. id is the raw
// 29-bit CAN identifier, data the 8 data bytes, now the timestamp.
func (t *Table) HandleCM(id uint32, data [8]byte, now uint32) {
	totalSize := uint16(data[2])<<8 | uint16(data[1])
	numPackets := data[3]
	if totalSize > MaxSize {
		metrics.IncMalformedFrames()
		return
	}

	s := t.findByCMID(id)
	if s == nil {
		s = t.findEmpty()
	}
	if s == nil {
		metrics.IncBAMTableFull()
		return
	}

	s.free()
	s.cmID = id
	s.dtID = (id & 0xFF00FFFF) | 0x00EB0000
	s.totalSize = totalSize
	s.numPackets = numPackets
	s.firstSeen = now
	s.lastSeen = now
}

// HandleDT processes a TP.DT data frame. onComplete is invoked with the
// source address, the reassembled buffer (sized to totalSize) and the
// timestamp once the final packet of a sequence arrives; the slot is freed
// immediately afterwards.
func (t *Table) HandleDT(id uint32, data [8]byte, now uint32, onComplete func(src uint8, buf []byte, t uint32)) {
	dtID := id & 0x1FFFFFFF
	s := t.findByDTID(dtID)
	if s == nil {
		return
	}

	packetNumber := data[0]
	if uint8(packetNumber) != s.received+1 {
		metrics.IncMalformedFrames()
		metrics.IncBAMAborted()
		s.free()
		return
	}

	off := int(packetNumber-1) * 7
	if off+7 > len(s.buf) {
		// More packets than the slot buffer can hold: abort like a
		// reordered packet instead of writing out of range.
		metrics.IncMalformedFrames()
		metrics.IncBAMAborted()
		s.free()
		return
	}
	copy(s.buf[off:off+7], data[1:8])
	s.received++
	s.lastSeen = now

	if s.received == s.numPackets {
		src := uint8(s.cmID & 0xFF)
		buf := s.buf[:s.totalSize]
		// onComplete must run before free: buf is a slice over s.buf's
		// backing array, and free() zeroes that array in place.
		onComplete(src, buf, now)
		s.free()
	}
}

// Sweep frees any slot whose age exceeds timeout_multi_frame. Invoked by the
// engine's periodic tick, never from the ingress path.
func (t *Table) Sweep(now uint32) {
	for i := range t.slots {
		s := &t.slots[i]
		if s.inUse() && now-s.lastSeen > t.timeout {
			metrics.IncBAMAborted()
			s.free()
		}
	}
}

func (t *Table) findByCMID(id uint32) *slot {
	for i := range t.slots {
		if t.slots[i].inUse() && t.slots[i].cmID == id {
			return &t.slots[i]
		}
	}
	return nil
}

func (t *Table) findByDTID(dtID uint32) *slot {
	for i := range t.slots {
		if t.slots[i].inUse() && t.slots[i].dtID == dtID {
			return &t.slots[i]
		}
	}
	return nil
}

func (t *Table) findEmpty() *slot {
	for i := range t.slots {
		if !t.slots[i].inUse() {
			return &t.slots[i]
		}
	}
	return nil
}
