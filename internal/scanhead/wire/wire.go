// Package wire implements the binary datagram contract spoken by JS-series
// scan heads: profile data fragments streamed from the device and control
// commands sent to it. All multi-byte fields are big-endian. The layouts in
// this package are the single source of truth for the on-wire format; they
// are versioned by the protocol version exchanged during the connect
// handshake.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Scan head datagram format constants.
// These define the fixed layout of UDP packets exchanged with the device.
const (
	DataMagic          = 0xDA7A     // 2-byte marker at the start of every data fragment
	ControlMagic       = 0xFACEDACE // 4-byte marker at the start of every control packet; disjoint prefix from DataMagic
	FragmentHeaderSize = 32         // fixed fragment header size in bytes
	MaxFragmentPayload = 1400       // largest payload the device puts in one fragment

	// Camera sensor geometry. Point-format payload sizes are derived from the
	// column window requested at scan start; image payloads are always one
	// full sensor readout.
	ImageWidth  = 1456 // camera columns
	ImageHeight = 1088 // camera rows
)

// ErrMalformed reports a datagram that fails structural validation. It is a
// classification, not a failure: callers count it and move on.
var ErrMalformed = errors.New("wire: malformed packet")

// Format identifies the payload encoding of a profile.
type Format uint8

const (
	FormatXY           Format = 0x01 // X/Y point pairs, 4 bytes per column
	FormatXYBrightness Format = 0x02 // X/Y point pairs plus brightness, 6 bytes per column
	FormatImage        Format = 0x03 // raw camera image, ImageWidth*ImageHeight bytes
)

// Valid reports whether f is a format tag this protocol version understands.
func (f Format) Valid() bool {
	switch f {
	case FormatXY, FormatXYBrightness, FormatImage:
		return true
	}
	return false
}

// BytesPerColumn returns the per-column payload size for point formats, or 0
// for image data (whose size does not depend on the column window).
func (f Format) BytesPerColumn() int {
	switch f {
	case FormatXY:
		return 4
	case FormatXYBrightness:
		return 6
	}
	return 0
}

func (f Format) String() string {
	switch f {
	case FormatXY:
		return "xy"
	case FormatXYBrightness:
		return "xy+brightness"
	case FormatImage:
		return "image"
	}
	return fmt.Sprintf("format(0x%02x)", uint8(f))
}

// Fragment is the parsed header and payload of one data datagram. A profile
// is split across Count fragments sharing the same Sequence and Camera; the
// capture metadata (timestamp, encoder, laser/exposure) is repeated in every
// fragment header so reassembly does not depend on fragment zero arriving.
type Fragment struct {
	Format       Format
	Camera       uint8  // stream key within the device
	Sequence     uint32 // record ordering key, increments per profile
	Index        uint16 // fragment position within the record
	Count        uint16 // total fragments in the record
	Timestamp    uint64 // device clock, nanoseconds
	Encoder      int64  // encoder counts at capture
	LaserOnTime  uint16 // microseconds
	ExposureTime uint16 // microseconds
	Payload      []byte
}

// DecodeFragment parses one received datagram. The returned Fragment's
// Payload aliases b; callers that retain the payload past the next read must
// copy it. Any structural violation yields ErrMalformed (wrapped with
// detail); DecodeFragment never panics.
func DecodeFragment(b []byte) (Fragment, error) {
	if len(b) < FragmentHeaderSize {
		return Fragment{}, fmt.Errorf("%w: short datagram (%d bytes)", ErrMalformed, len(b))
	}
	if binary.BigEndian.Uint16(b[0:2]) != DataMagic {
		return Fragment{}, fmt.Errorf("%w: bad magic 0x%04x", ErrMalformed, binary.BigEndian.Uint16(b[0:2]))
	}

	f := Fragment{
		Format:       Format(b[2]),
		Camera:       b[3],
		Sequence:     binary.BigEndian.Uint32(b[4:8]),
		Index:        binary.BigEndian.Uint16(b[8:10]),
		Count:        binary.BigEndian.Uint16(b[10:12]),
		Timestamp:    binary.BigEndian.Uint64(b[12:20]),
		Encoder:      int64(binary.BigEndian.Uint64(b[20:28])),
		LaserOnTime:  binary.BigEndian.Uint16(b[28:30]),
		ExposureTime: binary.BigEndian.Uint16(b[30:32]),
		Payload:      b[FragmentHeaderSize:],
	}

	if !f.Format.Valid() {
		return Fragment{}, fmt.Errorf("%w: unknown format tag 0x%02x", ErrMalformed, uint8(f.Format))
	}
	if f.Count == 0 {
		return Fragment{}, fmt.Errorf("%w: zero fragment count", ErrMalformed)
	}
	if f.Index >= f.Count {
		return Fragment{}, fmt.Errorf("%w: fragment index %d out of range (count %d)", ErrMalformed, f.Index, f.Count)
	}
	return f, nil
}

// EncodeFragment serialises f into a datagram. Used by the simulator and by
// replay tooling; the host never sends data fragments to a real device.
func EncodeFragment(f Fragment) []byte {
	b := make([]byte, FragmentHeaderSize+len(f.Payload))
	binary.BigEndian.PutUint16(b[0:2], DataMagic)
	b[2] = uint8(f.Format)
	b[3] = f.Camera
	binary.BigEndian.PutUint32(b[4:8], f.Sequence)
	binary.BigEndian.PutUint16(b[8:10], f.Index)
	binary.BigEndian.PutUint16(b[10:12], f.Count)
	binary.BigEndian.PutUint64(b[12:20], f.Timestamp)
	binary.BigEndian.PutUint64(b[20:28], uint64(f.Encoder))
	binary.BigEndian.PutUint16(b[28:30], f.LaserOnTime)
	binary.BigEndian.PutUint16(b[30:32], f.ExposureTime)
	copy(b[FragmentHeaderSize:], f.Payload)
	return b
}
