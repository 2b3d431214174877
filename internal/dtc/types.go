// Package dtc holds the identity and payload types for a J1939 Diagnostic
// Trouble Code, independent of how it was decoded or where it is stored.
package dtc

// Key is the identity of a DTC: two DTCs are the same iff all three fields
// match.
type Key struct {
	Src uint8
	SPN uint32 // 19 bits used
	FMI uint8  // 5 bits used
}

// Lamps carries the four DM1 lamp states, common to every DTC reported in
// the same DM1 message.
type Lamps struct {
	MIL uint8
	RSL uint8
	AWL uint8
	PL  uint8
}

// Payload is the mutable metadata attached to a Key. CM is fixed at first
// sighting; OC and the lamps are rewritten on every observation.
type Payload struct {
	CM uint8 // conversion method, fixed at first sighting
	OC uint8 // occurrence counter, 7 bits used
	Lamps
}

// Record is a full DTC as stored in the registry.
type Record struct {
	Key
	Payload
	FirstSeen uint32
	LastSeen  uint32
	ReadCount uint16
}
