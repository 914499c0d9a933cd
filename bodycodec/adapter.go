package bodycodec

import "repe/rpcerr"

// Adapter is the format-tagged body codec adapter of spec.md §4.2: JSON and
// BEVE are injected collaborators, RAW_BINARY and UTF8 are handled directly,
// and any custom format (>= CustomBase) is passed through as opaque bytes.
type Adapter struct {
	JSON Codec
	BEVE Codec
}

// NewAdapter builds an Adapter with the reference JSON (encoding/json) and
// BEVE (encoding/gob placeholder, see DESIGN.md) codecs. Either can be
// swapped out after construction, or replaced with a caller's own Codec.
func NewAdapter() *Adapter {
	return &Adapter{
		JSON: jsonCodec{},
		BEVE: beveCodec{},
	}
}

// Encode serializes v into bytes under the given format.
func (a *Adapter) Encode(v any, format Format) ([]byte, error) {
	switch format {
	case RawBinary:
		b, ok := v.([]byte)
		if !ok {
			return nil, &rpcerr.RPCError{Code: rpcerr.InvalidBody, Body: "raw binary body must be []byte"}
		}
		return b, nil
	case UTF8:
		switch s := v.(type) {
		case string:
			return []byte(s), nil
		case []byte:
			return s, nil
		default:
			return nil, &rpcerr.RPCError{Code: rpcerr.InvalidBody, Body: "utf8 body must be string or []byte"}
		}
	case JSON:
		if a.JSON == nil {
			return nil, ErrUnsupportedFormat
		}
		return a.JSON.Encode(v)
	case BEVE:
		if a.BEVE == nil {
			return nil, ErrUnsupportedFormat
		}
		return a.BEVE.Encode(v)
	default:
		// Custom formats are opaque: the caller already supplied bytes.
		b, ok := v.([]byte)
		if !ok {
			return nil, &rpcerr.RPCError{Code: rpcerr.InvalidBody, Body: "custom format body must be []byte"}
		}
		return b, nil
	}
}

// Decode deserializes data under the given format into a generic value.
func (a *Adapter) Decode(data []byte, format Format) (any, error) {
	switch format {
	case RawBinary:
		return data, nil
	case UTF8:
		return string(data), nil
	case JSON:
		if a.JSON == nil {
			return nil, ErrUnsupportedFormat
		}
		return a.JSON.Decode(data)
	case BEVE:
		if a.BEVE == nil {
			return nil, ErrUnsupportedFormat
		}
		return a.BEVE.Decode(data)
	default:
		return data, nil
	}
}

// DecodeAs deserializes data under the given format into the shape pointed
// to by out. Only JSON and BEVE support a typed decode; any other format
// fails with InvalidBody, per spec.md §4.1.
func (a *Adapter) DecodeAs(data []byte, format Format, out any) error {
	switch format {
	case JSON:
		if a.JSON == nil {
			return ErrUnsupportedFormat
		}
		return a.JSON.DecodeAs(data, out)
	case BEVE:
		if a.BEVE == nil {
			return ErrUnsupportedFormat
		}
		return a.BEVE.DecodeAs(data, out)
	default:
		return &rpcerr.RPCError{Code: rpcerr.InvalidBody, Body: "typed decode only supported for json/beve"}
	}
}
