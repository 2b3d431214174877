//go:build linux

package logcan

import (
	"encoding/binary"
	"fmt"
	"net"

	"golang.org/x/sys/unix"

	"github.com/dtcmesh/j1939dtc/internal/can"
)

// SocketCANSource reads classic CAN frames from a raw AF_CAN socket.
// Narrowed to read-only since this library never transmits J1939 frames.
type SocketCANSource struct {
	fd int
}

// OpenSocketCAN binds a raw CAN_RAW socket to iface (e.g. "can0").
func OpenSocketCAN(iface string) (*SocketCANSource, error) {
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("logcan: socket(AF_CAN): %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FD_FRAMES, 0); err != nil {
		if err != unix.ENOPROTOOPT {
			_ = unix.Close(fd)
			return nil, fmt.Errorf("logcan: disable CAN FD: %w", err)
		}
	}
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("logcan: if %q: %w", iface, err)
	}
	sa := &unix.SockaddrCAN{Ifindex: ifi.Index}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("logcan: bind(can@%s): %w", iface, err)
	}
	return &SocketCANSource{fd: fd}, nil
}

func (s *SocketCANSource) Close() error { return unix.Close(s.fd) }

// ReadFrame reads one classic CAN frame (struct can_frame, linux/can.h).
func (s *SocketCANSource) ReadFrame() (can.Frame, error) {
	var buf [unix.CAN_MTU]byte
	n, err := unix.Read(s.fd, buf[:])
	if err != nil {
		return can.Frame{}, err
	}
	if n != unix.CAN_MTU {
		return can.Frame{}, fmt.Errorf("logcan: short read: %d", n)
	}

	// can_id(4, host order on little-endian archs) | can_dlc(1) | pad(3) | data(8)
	id := binary.LittleEndian.Uint32(buf[0:4]) & can.EFFMask
	dlc := int(buf[4])
	if dlc < 0 || dlc > 8 {
		dlc = 8
	}

	var fr can.Frame
	fr.ID = id
	copy(fr.Data[:dlc], buf[8:8+dlc])
	return fr, nil
}

// Run reads frames until ReadFrame errors, calling emit for each one.
func (s *SocketCANSource) Run(emit func(can.Frame)) error {
	for {
		fr, err := s.ReadFrame()
		if err != nil {
			return err
		}
		emit(fr)
	}
}
