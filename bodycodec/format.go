// Package bodycodec implements the format-tagged body codec adapter (REPE
// component C2): conversion between a message body's raw bytes and an
// arbitrary Go value, keyed by the wire BodyFormat carried in the header.
//
// JSON and BEVE are "external collaborators" per spec — they're consumed
// through the injected Codec interface rather than implemented here as the
// one true encoding. RAW_BINARY and UTF8 need no injection: their semantics
// are fixed (identity on bytes, and string<->bytes respectively).
package bodycodec

import "repe/rpcerr"

// Format identifies how a message body's bytes should be interpreted.
type Format uint16

const (
	RawBinary  Format = 0
	BEVE       Format = 1
	JSON       Format = 2
	UTF8       Format = 3
	CustomBase Format = 4096
)

// Codec is the interface an external JSON or BEVE implementation must
// satisfy to be injected into an Adapter.
type Codec interface {
	// Encode serializes an arbitrary value to bytes.
	Encode(v any) ([]byte, error)
	// Decode deserializes bytes into a generic value (e.g. map[string]any
	// for JSON), with no caller-supplied shape.
	Decode(data []byte) (any, error)
	// DecodeAs deserializes bytes into the shape pointed to by out.
	DecodeAs(data []byte, out any) error
}

// ErrUnsupportedFormat is returned when Encode/Decode is asked to handle a
// body format for which no codec is configured (JSON/BEVE formats with a
// nil injected codec).
var ErrUnsupportedFormat = &rpcerr.RPCError{Code: rpcerr.InvalidBody, Body: "unsupported body format"}
