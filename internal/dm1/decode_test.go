package dm1

import (
	"testing"

	"github.com/dtcmesh/j1939dtc/internal/dtc"
)

// TestDecodeSingleTuple mirrors spec scenario S1's payload.
func TestDecodeSingleTuple(t *testing.T) {
	buf := []byte{0xFF, 0x00, 0x22, 0xEE, 0xE3, 0x81, 0xFF, 0xFF}
	var got []Tuple
	var gotLamps dtc.Lamps
	d := Decoder{}
	d.Decode(0x03, buf, 2, func(src uint8, tup Tuple, lamps dtc.Lamps, ts uint32) {
		if src != 0x03 || ts != 2 {
			t.Fatalf("unexpected src/ts: %d/%d", src, ts)
		}
		got = append(got, tup)
		gotLamps = lamps
	})
	if len(got) != 1 {
		t.Fatalf("expected 1 tuple, got %d", len(got))
	}
	tup := got[0]
	// ((0xE3&0xE0)>>5)<<16 | 0xEE<<8 | 0x22 = 0x7EE22
	if tup.SPN != 519714 {
		t.Fatalf("SPN = %d, want 519714", tup.SPN)
	}
	if tup.FMI != 3 {
		t.Fatalf("FMI = %d, want 3", tup.FMI)
	}
	if tup.CM != 1 || tup.OC != 1 {
		t.Fatalf("CM/OC = %d/%d, want 1/1", tup.CM, tup.OC)
	}
	if gotLamps != (dtc.Lamps{MIL: 3, RSL: 3, AWL: 3, PL: 3}) {
		t.Fatalf("lamps = %+v, want all 3", gotLamps)
	}
}

func TestDecodeShortBufferDropped(t *testing.T) {
	buf := []byte{0xFF, 0x00, 0x22, 0xEE}
	var called bool
	Decoder{}.Decode(0x03, buf, 0, func(uint8, Tuple, dtc.Lamps, uint32) { called = true })
	if called {
		t.Fatal("expected short buffer to be dropped silently")
	}
}

func TestDecodeZeroFirstSPNDiscardsMessage(t *testing.T) {
	buf := []byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x22, 0xEE, 0xE3, 0x81}
	var calls int
	Decoder{}.Decode(0x03, buf, 0, func(uint8, Tuple, dtc.Lamps, uint32) { calls++ })
	if calls != 0 {
		t.Fatalf("expected zero-first-SPN message to be discarded entirely, got %d tuples", calls)
	}
}

func TestDecodeMidMessageZeroSPNStillEmitted(t *testing.T) {
	// First tuple has a nonzero SPN; second tuple has SPN == 0 and must
	// still be emitted (spec: only the *first* decoded SPN is filtered).
	buf := []byte{0x00, 0x00, 0x22, 0xEE, 0xE3, 0x81, 0x00, 0x00, 0x00, 0x00}
	var got []Tuple
	Decoder{}.Decode(0x03, buf, 0, func(src uint8, tup Tuple, lamps dtc.Lamps, ts uint32) {
		got = append(got, tup)
	})
	if len(got) != 2 {
		t.Fatalf("expected 2 tuples, got %d", len(got))
	}
	if got[1].SPN != 0 {
		t.Fatalf("expected second tuple SPN == 0, got %d", got[1].SPN)
	}
}
