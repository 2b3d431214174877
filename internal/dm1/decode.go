// Package dm1 decodes a reassembled or single-frame DM1 (Active DTCs,
// PGN 0xFECA) payload into lamp status and DTC tuples. Decoder is a
// stateless struct whose methods are safe for concurrent use, with
// malformed input counted rather than erroring loudly.
package dm1

import (
	"github.com/dtcmesh/j1939dtc/internal/dtc"
	"github.com/dtcmesh/j1939dtc/internal/metrics"
)

// Tuple is one decoded 4-byte DTC entry from a DM1 payload.
type Tuple struct {
	SPN uint32
	FMI uint8
	CM  uint8
	OC  uint8
}

// Decoder decodes DM1 byte buffers. It holds no state.
type Decoder struct{}

// Decode parses buf (length L, already reassembled if it came from a
// multi-frame message) and invokes emit once per decoded tuple, in the
// order the tuples appear in buf. src and t are threaded straight through
// to the caller for registry bookkeeping.
//
// If L < 6 the buffer is dropped silently (too short to hold a prefix and
// one tuple). If the first decoded tuple has SPN == 0 the entire message is
// discarded, matching the source behaviour of treating an all-zero first
// SPN as an empty DM1; a zero SPN appearing later in the message is still
// emitted.
func (Decoder) Decode(src uint8, buf []byte, t uint32, emit func(src uint8, tup Tuple, lamps dtc.Lamps, t uint32)) {
	l := len(buf)
	if l < 6 {
		metrics.IncMalformedFrames()
		return
	}

	lamps := dtc.Lamps{
		MIL: (buf[0] >> 6) & 3,
		RSL: (buf[0] >> 4) & 3,
		AWL: (buf[0] >> 2) & 3,
		PL:  buf[0] & 3,
	}

	first := true
	for i := 2; i+3 < l; i += 4 {
		b0, b1, b2, b3 := buf[i], buf[i+1], buf[i+2], buf[i+3]
		tup := Tuple{
			SPN: uint32(b2&0xE0)>>5<<16 | uint32(b1)<<8 | uint32(b0),
			FMI: b2 & 0x1F,
			CM:  (b3 >> 7) & 1,
			OC:  b3 & 0x7F,
		}
		if first {
			first = false
			if tup.SPN == 0 {
				return
			}
		}
		emit(src, tup, lamps, t)
	}
}
