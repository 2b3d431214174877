package logcan

import (
	"strings"
	"testing"

	"github.com/dtcmesh/j1939dtc/internal/can"
)

func TestParseCandumpLine(t *testing.T) {
	cases := []struct {
		name    string
		line    string
		wantOK  bool
		wantID  uint32
		wantLen int
	}{
		{"timestamped", "(1700000012.345678) can0 18FECA03#FF0022EEE381FFFF", true, 0x18FECA03, 8},
		{"bare", "18FECA03#FF0022EEE381FFFF", true, 0x18FECA03, 8},
		{"short_payload", "1CECFF03#200D0002FFCAFE", true, 0x1CECFF03, 6},
		{"blank", "", false, 0, 0},
		{"comment", "# this is a comment", false, 0, 0},
		{"no_hash", "18FECA03 FF0022EEE381FFFF", false, 0, 0},
		{"bad_id", "ZZZZZZZZ#FF", false, 0, 0},
		{"bad_hex", "18FECA03#ZZ", false, 0, 0},
		{"too_long", "18FECA03#FF0022EEE381FFFFAA", false, 0, 0},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			fr, ok := ParseCandumpLine(c.line)
			if ok != c.wantOK {
				t.Fatalf("ok = %v, want %v", ok, c.wantOK)
			}
			if !ok {
				return
			}
			if fr.ID != c.wantID {
				t.Fatalf("ID = %#x, want %#x", fr.ID, c.wantID)
			}
		})
	}
}

func TestReplayCandump(t *testing.T) {
	log := strings.Join([]string{
		"(1700000012.345678) can0 18FECA03#FF0022EEE381FFFF",
		"# a comment line",
		"",
		"1CECFF03#200D0002FFCAFE00",
	}, "\n")

	var got []can.Frame
	if err := ReplayCandump(strings.NewReader(log), func(fr can.Frame) {
		got = append(got, fr)
	}); err != nil {
		t.Fatalf("ReplayCandump: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 frames emitted, got %d", len(got))
	}
	if got[0].ID != 0x18FECA03 {
		t.Fatalf("frame 0 ID = %#x, want 0x18FECA03", got[0].ID)
	}
	if got[1].ID != 0x1CECFF03 {
		t.Fatalf("frame 1 ID = %#x, want 0x1CECFF03", got[1].ID)
	}
}
