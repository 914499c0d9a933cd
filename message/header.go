// Package message implements the REPE wire codec (component C1): the fixed
// 48-byte header, the variable query/body sections, and serialization to
// and from a byte stream. It solves the same "how does the receiver know
// how many more bytes to read" problem the teacher's protocol package
// solves with its 14-byte header — generalized here to REPE's 48-byte,
// 10-field, little-endian layout.
package message

import (
	"encoding/binary"
	"fmt"
)

// Spec is the magic value identifying a REPE header.
const Spec uint16 = 0x1507

// Version is the only protocol version this package understands.
const Version uint8 = 1

// HeaderSize is the fixed size in bytes of a serialized Header.
const HeaderSize = 48

// QueryFormat identifies how a message's query bytes should be interpreted.
type QueryFormat uint16

const (
	QueryRawBinary   QueryFormat = 0
	QueryJSONPointer QueryFormat = 1
	QueryCustomBase  QueryFormat = 4096
)

// Header is the fixed 48-byte REPE frame header. Field order and widths
// are normative (spec.md §3); Encode/Decode write/read them in exactly
// this order, little-endian.
type Header struct {
	Length      uint64
	Magic       uint16
	Version     uint8
	Notify      uint8
	Reserved    [4]byte
	ID          uint64
	QueryLength uint64
	BodyLength  uint64
	QueryFormat uint16
	BodyFormat  uint16
	EC          uint32
}

// Encode serializes h into a 48-byte little-endian buffer.
func (h *Header) Encode() []byte {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint64(buf[0:8], h.Length)
	binary.LittleEndian.PutUint16(buf[8:10], h.Magic)
	buf[10] = h.Version
	buf[11] = h.Notify
	copy(buf[12:16], h.Reserved[:])
	binary.LittleEndian.PutUint64(buf[16:24], h.ID)
	binary.LittleEndian.PutUint64(buf[24:32], h.QueryLength)
	binary.LittleEndian.PutUint64(buf[32:40], h.BodyLength)
	binary.LittleEndian.PutUint16(buf[40:42], h.QueryFormat)
	binary.LittleEndian.PutUint16(buf[42:44], h.BodyFormat)
	binary.LittleEndian.PutUint32(buf[44:48], h.EC)
	return buf
}

// DecodeHeader parses a 48-byte buffer into a Header, validating the magic,
// version, and total-length invariant. Returns ErrInvalidHeader on any
// mismatch, per spec.md §4.1.
func DecodeHeader(buf []byte) (*Header, error) {
	if len(buf) < HeaderSize {
		return nil, fmt.Errorf("%w: buffer too short (%d < %d)", ErrInvalidHeader, len(buf), HeaderSize)
	}
	h := &Header{
		Length:      binary.LittleEndian.Uint64(buf[0:8]),
		Magic:       binary.LittleEndian.Uint16(buf[8:10]),
		Version:     buf[10],
		Notify:      buf[11],
		ID:          binary.LittleEndian.Uint64(buf[16:24]),
		QueryLength: binary.LittleEndian.Uint64(buf[24:32]),
		BodyLength:  binary.LittleEndian.Uint64(buf[32:40]),
		QueryFormat: binary.LittleEndian.Uint16(buf[40:42]),
		BodyFormat:  binary.LittleEndian.Uint16(buf[42:44]),
		EC:          binary.LittleEndian.Uint32(buf[44:48]),
	}
	copy(h.Reserved[:], buf[12:16])

	if h.Magic != Spec {
		return nil, fmt.Errorf("%w: bad magic %#x", ErrInvalidHeader, h.Magic)
	}
	if h.Version != Version {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidHeader, h.Version)
	}
	if h.Length != HeaderSize+h.QueryLength+h.BodyLength {
		return nil, fmt.Errorf("%w: length %d != %d+%d+%d", ErrInvalidHeader, h.Length, HeaderSize, h.QueryLength, h.BodyLength)
	}
	return h, nil
}

// Valid reports whether h satisfies every header invariant of spec.md §3:
// correct magic, version, reserved bytes all zero, and the length equation.
func (h *Header) Valid() bool {
	if h.Magic != Spec || h.Version != Version {
		return false
	}
	if h.Length != HeaderSize+h.QueryLength+h.BodyLength {
		return false
	}
	for _, b := range h.Reserved {
		if b != 0 {
			return false
		}
	}
	return true
}
