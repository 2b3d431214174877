// Package logcan supplies CAN frames to an Engine from offline logs and live
// backends: the CAN hardware driver and the log reader used for offline
// testing, neither of which is part of the core decoding pipeline.
// It funnels any number of live or file-backed sources into a single
// consumer via the fan-in pattern in feed.go, so Engine.IngestFrame only
// ever sees one frame at a time regardless of how many sources feed it.
package logcan

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dtcmesh/j1939dtc/internal/can"
)

// ParseCandumpLine parses one line of candump -L ascii log output, e.g.
//
//	(1700000012.345678) can0 18FECA03#FF0022EEE381FFFF
//
// The leading timestamp and interface name are accepted but not required;
// a bare "ID#DATA" line also parses. ok is false for blank lines, comments
// (leading '#'), and malformed records.
func ParseCandumpLine(line string) (frame can.Frame, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return can.Frame{}, false
	}

	fields := strings.Fields(line)
	last := fields[len(fields)-1]
	idData := strings.SplitN(last, "#", 2)
	if len(idData) != 2 {
		return can.Frame{}, false
	}

	id, err := strconv.ParseUint(idData[0], 16, 32)
	if err != nil {
		return can.Frame{}, false
	}
	data, err := hex.DecodeString(idData[1])
	if err != nil || len(data) > 8 {
		return can.Frame{}, false
	}

	frame.ID = uint32(id)
	copy(frame.Data[:], data)
	return frame, true
}

// ReplayCandump reads candump-format lines from r and calls emit for each
// one that parses, in file order. It stops at the first read error other
// than io.EOF.
func ReplayCandump(r io.Reader, emit func(can.Frame)) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), 1<<20)
	for sc.Scan() {
		if fr, ok := ParseCandumpLine(sc.Text()); ok {
			emit(fr)
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("logcan: reading candump log: %w", err)
	}
	return nil
}
