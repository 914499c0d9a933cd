// Package uniudp implements the one-way UDP transport (components
// C3/C4/C5/C10): a 30-byte packet header, chunking + redundancy + XOR
// forward error correction, a concurrent reassembly engine, and a
// fire-and-forget server/client/fleet built on top of it.
//
// The receive loop idiom is grounded in the teacher's
// transport.ClientTransport recvLoop (transport/client_transport.go): one
// goroutine reading continuously and routing what it reads into per-key
// state, generalized here from "per-request response channel" to
// "per-message reassembly state". The FEC shape is grounded in
// xtaci-kcptun's vendored kcp-go/fec.go (data/parity packet distinction,
// per-group accumulation), generalized down from Reed-Solomon to the
// single-parity XOR scheme this transport uses.
package uniudp

import (
	"encoding/binary"
	"fmt"
)

const (
	// HeaderLength is the fixed packet header size in bytes.
	HeaderLength = 30
	// SafeUDPPayload is the MTU-safe payload size warned against exceeding.
	SafeUDPPayload = 1452
)

// Packet is one UniUDP datagram: header fields plus its payload.
type Packet struct {
	MessageID     uint64
	ChunkIndex    uint32
	TotalChunks   uint32
	MessageLength uint32
	ChunkSize     uint16
	PayloadLen    uint16
	Redundancy    uint16
	Attempt       uint16
	FECField      uint16
	Payload       []byte
}

// GroupSize extracts the FEC group size from FECField. A value of 1 means
// FEC is disabled for this message.
func (p *Packet) GroupSize() uint16 { return p.FECField >> 1 }

// IsParity reports whether this packet carries a parity chunk.
func (p *Packet) IsParity() bool { return p.FECField&1 == 1 }

func fecField(groupSize uint16, parity bool) uint16 {
	f := groupSize << 1
	if parity {
		f |= 1
	}
	return f
}

// Pack serializes the header (big-endian, fixed offsets) followed by the
// payload.
func (p *Packet) Pack() []byte {
	buf := make([]byte, HeaderLength+len(p.Payload))
	binary.BigEndian.PutUint64(buf[0:8], p.MessageID)
	binary.BigEndian.PutUint32(buf[8:12], p.ChunkIndex)
	binary.BigEndian.PutUint32(buf[12:16], p.TotalChunks)
	binary.BigEndian.PutUint32(buf[16:20], p.MessageLength)
	binary.BigEndian.PutUint16(buf[20:22], p.ChunkSize)
	binary.BigEndian.PutUint16(buf[22:24], p.PayloadLen)
	binary.BigEndian.PutUint16(buf[24:26], p.Redundancy)
	binary.BigEndian.PutUint16(buf[26:28], p.Attempt)
	binary.BigEndian.PutUint16(buf[28:30], p.FECField)
	copy(buf[HeaderLength:], p.Payload)
	return buf
}

// ParsePacket parses buf into a Packet, validating the structural
// invariants spec.md §4.3 requires: minimum length, declared payload
// length consistency, and a non-zero FEC field/group size.
func ParsePacket(buf []byte) (*Packet, error) {
	if len(buf) < HeaderLength {
		return nil, fmt.Errorf("uniudp: packet shorter than header (%d bytes)", len(buf))
	}
	p := &Packet{
		MessageID:     binary.BigEndian.Uint64(buf[0:8]),
		ChunkIndex:    binary.BigEndian.Uint32(buf[8:12]),
		TotalChunks:   binary.BigEndian.Uint32(buf[12:16]),
		MessageLength: binary.BigEndian.Uint32(buf[16:20]),
		ChunkSize:     binary.BigEndian.Uint16(buf[20:22]),
		PayloadLen:    binary.BigEndian.Uint16(buf[22:24]),
		Redundancy:    binary.BigEndian.Uint16(buf[24:26]),
		Attempt:       binary.BigEndian.Uint16(buf[26:28]),
		FECField:      binary.BigEndian.Uint16(buf[28:30]),
	}
	if len(buf) < HeaderLength+int(p.PayloadLen) {
		return nil, fmt.Errorf("uniudp: packet shorter than header+payload_len")
	}
	if p.PayloadLen > p.ChunkSize {
		return nil, fmt.Errorf("uniudp: payload_len %d exceeds chunk_size %d", p.PayloadLen, p.ChunkSize)
	}
	if p.FECField == 0 || p.GroupSize() == 0 {
		return nil, fmt.Errorf("uniudp: invalid fec_field (group_size cannot be 0)")
	}
	p.Payload = buf[HeaderLength : HeaderLength+int(p.PayloadLen)]
	return p, nil
}
