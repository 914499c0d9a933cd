package message

import (
	"fmt"

	"repe/bodycodec"
	"repe/rpcerr"
)

// Message is the REPE envelope: a header plus its query and body sections.
type Message struct {
	Header Header
	Query  []byte
	Body   []byte
}

// New constructs a Message, computing QueryLength/BodyLength/Length on the
// header and refusing to build one with a mismatched header (spec.md §4.1
// "the constructor computes ... refuses mismatches" — here that just means
// the lengths are always derived from the actual slices, so mismatch can
// only happen if a caller hand-builds a Header and passes it to NewRaw).
func New(id uint64, query []byte, body []byte, queryFormat QueryFormat, bodyFormat bodycodec.Format, notify bool, ec rpcerr.ErrorCode) *Message {
	h := Header{
		Length:      HeaderSize + uint64(len(query)) + uint64(len(body)),
		Magic:       Spec,
		Version:     Version,
		Notify:      0,
		ID:          id,
		QueryLength: uint64(len(query)),
		BodyLength:  uint64(len(body)),
		QueryFormat: uint16(queryFormat),
		BodyFormat:  uint16(bodyFormat),
		EC:          uint32(ec),
	}
	if notify {
		h.Notify = 1
	}
	return &Message{Header: h, Query: query, Body: body}
}

// NewRaw builds a Message from an already-populated Header, validating that
// its declared lengths match the supplied query/body slices.
func NewRaw(h Header, query []byte, body []byte) (*Message, error) {
	if h.QueryLength != uint64(len(query)) || h.BodyLength != uint64(len(body)) {
		return nil, fmt.Errorf("%w: header declares query=%d body=%d, got query=%d body=%d",
			ErrInvalidHeader, h.QueryLength, h.BodyLength, len(query), len(body))
	}
	h.Length = HeaderSize + h.QueryLength + h.BodyLength
	h.Magic = Spec
	h.Version = Version
	return &Message{Header: h, Query: query, Body: body}, nil
}

// Serialize concatenates the header, query, and body into one buffer ready
// for a single socket write (under the caller's write lock, see client/server).
func (m *Message) Serialize() []byte {
	buf := make([]byte, 0, HeaderSize+len(m.Query)+len(m.Body))
	buf = append(buf, m.Header.Encode()...)
	buf = append(buf, m.Query...)
	buf = append(buf, m.Body...)
	return buf
}

// Deserialize parses a full message out of a single buffer: it decodes the
// header, then fails if the buffer is shorter than the header declares,
// then slices out query and body.
func Deserialize(buf []byte) (*Message, error) {
	h, err := DecodeHeader(buf)
	if err != nil {
		return nil, err
	}
	need := HeaderSize + h.QueryLength + h.BodyLength
	if uint64(len(buf)) < need {
		return nil, fmt.Errorf("%w: buffer has %d bytes, need %d", ErrInvalidHeader, len(buf), need)
	}
	query := buf[HeaderSize : HeaderSize+h.QueryLength]
	body := buf[HeaderSize+h.QueryLength : need]
	return &Message{Header: *h, Query: query, Body: body}, nil
}

// ParseQuery returns the query bytes decoded as UTF-8. Per spec.md §4.1
// this is format-agnostic: callers interpret the string further (e.g. as a
// JSON Pointer) according to QueryFormat themselves.
func (m *Message) ParseQuery() string {
	return string(m.Query)
}

// ParseBody decodes the body through adapter according to BodyFormat,
// returning a generic (untyped) value.
func (m *Message) ParseBody(adapter *bodycodec.Adapter) (any, error) {
	return adapter.Decode(m.Body, bodycodec.Format(m.Header.BodyFormat))
}

// ParseBodyAs decodes the body into out's pointed-to shape. Only valid for
// JSON and BEVE body formats; anything else fails with an *rpcerr.RPCError
// carrying the InvalidBody code, exactly as spec.md §4.1 specifies.
func (m *Message) ParseBodyAs(adapter *bodycodec.Adapter, out any) error {
	return adapter.DecodeAs(m.Body, bodycodec.Format(m.Header.BodyFormat), out)
}
