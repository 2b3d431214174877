package logcan

import (
	"bytes"
	"encoding/binary"
	"time"

	"github.com/tarm/serial"

	"github.com/dtcmesh/j1939dtc/internal/can"
	"github.com/dtcmesh/j1939dtc/internal/metrics"
)

// SerialPort abstracts tarm/serial for testability.
type SerialPort interface {
	Read(p []byte) (int, error)
	Close() error
}

// OpenSerial opens a serial CAN dongle at name/baud.
func OpenSerial(name string, baud int, readTimeout time.Duration) (SerialPort, error) {
	cfg := &serial.Config{Name: name, Baud: baud, ReadTimeout: readTimeout}
	return serial.OpenPort(cfg)
}

// decodeFrame is the wire shape emitted by the dongle:
//
//	2D D4 LEN ID(4, big-endian) PAYLOAD(0..8) CHECKSUM
//
// LEN counts ID+PAYLOAD+checksum. CHECKSUM = (0x2D + LEN + sum(ID..PAYLOAD)) mod 256.
// Decode-only, since this library never transmits.
const (
	pre0  = 0x2D
	pre1  = 0xD4
	minLn = 4 + 0 + 1
	maxLn = 4 + 8 + 1
)

var header = []byte{pre0, pre1}

// decodeStream scans buf for complete frames, invoking emit for each and
// consuming the bytes as it goes. It never holds more than one frame's
// worth of backlog in buf once a resync discards a dangling partial
// header.
func decodeStream(buf *bytes.Buffer, emit func(can.Frame)) {
	for {
		data := buf.Bytes()
		if len(data) < 4 {
			return
		}
		i := bytes.Index(data, header)
		if i < 0 {
			if buf.Len() > 1 {
				last := data[len(data)-1]
				buf.Reset()
				_ = buf.WriteByte(last)
			}
			return
		}
		if i > 0 {
			buf.Next(i)
			continue
		}

		ln := int(data[2])
		if ln < minLn || ln > maxLn {
			metrics.IncMalformedFrames()
			buf.Next(1)
			continue
		}
		req := 3 + ln
		if len(data) < req {
			return
		}

		sum := uint(pre0) + uint(data[2])
		for _, b := range data[3 : req-1] {
			sum += uint(b)
		}
		if byte(sum) != data[req-1] {
			metrics.IncMalformedFrames()
			buf.Next(1)
			continue
		}

		id := binary.BigEndian.Uint32(data[3:7])
		payload := data[7 : req-1]

		var fr can.Frame
		fr.ID = id
		copy(fr.Data[:], payload)
		emit(fr)
		buf.Next(req)
	}
}

// ReadSerial loops reading from p, decoding dongle frames and calling emit,
// until p.Read returns a non-nil error.
func ReadSerial(p SerialPort, emit func(can.Frame)) error {
	var buf bytes.Buffer
	chunk := make([]byte, 256)
	for {
		n, err := p.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			decodeStream(&buf, emit)
		}
		if err != nil {
			return err
		}
	}
}
