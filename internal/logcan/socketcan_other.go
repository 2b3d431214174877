//go:build !linux

package logcan

import (
	"errors"

	"github.com/dtcmesh/j1939dtc/internal/can"
)

// ErrSocketCANUnsupported is returned by OpenSocketCAN on non-Linux builds,
// so cross-compiled cmd/dtcmon builds still link on non-Linux hosts.
var ErrSocketCANUnsupported = errors.New("logcan: socketcan is only supported on linux")

type SocketCANSource struct{}

func OpenSocketCAN(iface string) (*SocketCANSource, error) {
	return nil, ErrSocketCANUnsupported
}

func (s *SocketCANSource) Close() error { return nil }

func (s *SocketCANSource) ReadFrame() (can.Frame, error) {
	return can.Frame{}, ErrSocketCANUnsupported
}

func (s *SocketCANSource) Run(emit func(can.Frame)) error {
	return ErrSocketCANUnsupported
}
