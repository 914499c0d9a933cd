package uniudp

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"log"
	"net"
	"sync/atomic"
	"time"

	"github.com/templexxx/xorsimd"
)

// idCounter is the process-wide atomic message-id generator, seeded with a
// random initial value per spec.md §4.5.
var idCounter = newIDCounter()

func newIDCounter() *atomic.Uint64 {
	var seed [8]byte
	if _, err := rand.Read(seed[:]); err != nil {
		// crypto/rand failing means the platform RNG is broken; there is no
		// sane fallback that preserves the "random seed" property.
		panic(fmt.Sprintf("uniudp: crypto/rand unavailable: %v", err))
	}
	c := &atomic.Uint64{}
	c.Store(binary.BigEndian.Uint64(seed[:]))
	return c
}

// nextID returns the pre-increment value of the shared counter, per
// spec.md §4.5 ("next_id returns the pre-increment value").
func nextID() uint64 {
	return idCounter.Add(1) - 1
}

// SendOptions configures one send_message call.
type SendOptions struct {
	Redundancy   uint16
	ChunkSize    uint16
	FECGroupSize uint16
	Delay        time.Duration
	MessageID    *uint64
}

func (o SendOptions) withDefaults() SendOptions {
	if o.Redundancy == 0 {
		o.Redundancy = 1
	}
	if o.ChunkSize == 0 {
		o.ChunkSize = 1024
	}
	if o.FECGroupSize == 0 {
		o.FECGroupSize = 1
	}
	return o
}

// SendMessage chunks data into packets, emits `redundancy` replicas of
// each, optionally XOR-accumulating FEC parity per group, and writes them
// all to dest over conn. Returns the message id used.
func SendMessage(conn net.PacketConn, dest net.Addr, data []byte, opts SendOptions) (uint64, error) {
	opts = opts.withDefaults()
	if opts.FECGroupSize > 0x7FFF {
		return 0, fmt.Errorf("uniudp: fec_group_size exceeds 0x7FFF")
	}

	totalChunks := (len(data) + int(opts.ChunkSize) - 1) / int(opts.ChunkSize)
	if totalChunks == 0 {
		totalChunks = 1
	}
	if totalChunks > (1 << 32) {
		return 0, fmt.Errorf("uniudp: message too large (%d chunks)", totalChunks)
	}

	if HeaderLength+int(opts.ChunkSize) > SafeUDPPayload {
		log.Printf("uniudp: chunk_size %d exceeds the MTU-safe payload size (%d)", opts.ChunkSize, SafeUDPPayload)
	}

	msgID := nextID()
	if opts.MessageID != nil {
		msgID = *opts.MessageID
	}

	fecEnabled := opts.FECGroupSize > 1
	var groupChunks [][]byte
	groupStart := uint32(0)

	for idx := 0; idx < totalChunks; idx++ {
		start := idx * int(opts.ChunkSize)
		end := start + int(opts.ChunkSize)
		if end > len(data) {
			end = len(data)
		}
		chunk := data[start:end]

		if fecEnabled {
			if groupChunks == nil {
				groupStart = uint32(idx)
			}
			groupChunks = append(groupChunks, padToChunkSize(chunk, opts.ChunkSize))
		}

		pkt := &Packet{
			MessageID:     msgID,
			ChunkIndex:    uint32(idx),
			TotalChunks:   uint32(totalChunks),
			MessageLength: uint32(len(data)),
			ChunkSize:     opts.ChunkSize,
			PayloadLen:    uint16(len(chunk)),
			Redundancy:    opts.Redundancy,
			FECField:      fecField(opts.FECGroupSize, false),
			Payload:       chunk,
		}
		for attempt := uint16(1); attempt <= opts.Redundancy; attempt++ {
			pkt.Attempt = attempt
			if _, err := conn.WriteTo(pkt.Pack(), dest); err != nil {
				return msgID, fmt.Errorf("uniudp: write data chunk %d attempt %d: %w", idx, attempt, err)
			}
			if opts.Delay > 0 {
				time.Sleep(opts.Delay)
			}
		}

		groupOffset := idx - int(groupStart)
		groupClosing := fecEnabled && (groupOffset == int(opts.FECGroupSize)-1 || idx == totalChunks-1)
		if groupClosing {
			parity := make([]byte, opts.ChunkSize)
			xorsimd.Encode(parity, groupChunks)
			ppkt := &Packet{
				MessageID:     msgID,
				ChunkIndex:    groupStart,
				TotalChunks:   uint32(totalChunks),
				MessageLength: uint32(len(data)),
				ChunkSize:     opts.ChunkSize,
				PayloadLen:    opts.ChunkSize,
				Redundancy:    opts.Redundancy,
				FECField:      fecField(opts.FECGroupSize, true),
				Payload:       parity,
			}
			for attempt := uint16(1); attempt <= opts.Redundancy; attempt++ {
				ppkt.Attempt = attempt
				if _, err := conn.WriteTo(ppkt.Pack(), dest); err != nil {
					return msgID, fmt.Errorf("uniudp: write parity group %d attempt %d: %w", groupStart, attempt, err)
				}
				if opts.Delay > 0 {
					time.Sleep(opts.Delay)
				}
			}
			groupChunks = nil
		}
	}

	return msgID, nil
}

// padToChunkSize returns chunk if it already fills size bytes, otherwise a
// zero-padded copy — the sender implicitly zero-pads the final short chunk
// before folding it into the FEC parity accumulation (spec.md §4.5).
func padToChunkSize(chunk []byte, size uint16) []byte {
	if len(chunk) == int(size) {
		return chunk
	}
	padded := make([]byte, size)
	copy(padded, chunk)
	return padded
}
