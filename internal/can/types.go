// Package can holds the wire-level CAN frame type shared by the classifier,
// decoders and reassembler.
package can

// 29-bit extended identifier masks, matching SocketCAN's <linux/can.h> layout
// for the bits this library actually inspects.
const (
	EFFMask = 0x1FFFFFFF // 29-bit extended identifier mask
	PDUMask = 0x00FFFF00 // PDU format + specific byte mask
)

// Frame is a single CAN frame as it would arrive from a controller: a 29-bit
// identifier, up to 8 data bytes, and the integer-second timestamp the host
// application associates with it. There is no FD/64-byte payload support;
// J1939 classic frames are always 8 bytes.
type Frame struct {
	ID   uint32
	Data [8]byte
	Time uint32
}

// CopyShallow returns a value copy of f. Nothing else in this module calls
// it; the Engine's copy-out readers copy dtc.Record values directly.
func (f Frame) CopyShallow() Frame {
	var g Frame
	g.ID, g.Time = f.ID, f.Time
	g.Data = f.Data
	return g
}
