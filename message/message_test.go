package message

import (
	"bytes"
	"testing"

	"repe/bodycodec"
	"repe/rpcerr"
)

func TestHeaderEncodeDecodeRoundTrip(t *testing.T) {
	h := Header{
		Length:      HeaderSize + 5 + 11,
		Magic:       Spec,
		Version:     Version,
		Notify:      0,
		ID:          12345,
		QueryLength: 5,
		BodyLength:  11,
		QueryFormat: uint16(QueryJSONPointer),
		BodyFormat:  uint16(bodycodec.JSON),
		EC:          0,
	}

	decoded, err := DecodeHeader(h.Encode())
	if err != nil {
		t.Fatalf("DecodeHeader failed: %v", err)
	}
	if *decoded != h {
		t.Errorf("round trip mismatch: got %+v, want %+v", *decoded, h)
	}
}

func TestMessageSerializeDeserializeRoundTrip(t *testing.T) {
	m := New(42, []byte("/add"), []byte(`{"a":1}`), QueryJSONPointer, bodycodec.JSON, false, rpcerr.OK)
	buf := m.Serialize()

	got, err := Deserialize(buf)
	if err != nil {
		t.Fatalf("Deserialize failed: %v", err)
	}
	if got.Header.ID != m.Header.ID {
		t.Errorf("ID mismatch: got %d, want %d", got.Header.ID, m.Header.ID)
	}
	if !bytes.Equal(got.Query, m.Query) {
		t.Errorf("Query mismatch: got %q, want %q", got.Query, m.Query)
	}
	if !bytes.Equal(got.Body, m.Body) {
		t.Errorf("Body mismatch: got %q, want %q", got.Body, m.Body)
	}
}

func TestHeaderFramingBoundary(t *testing.T) {
	// Exactly 47 bytes: must fail with an invalid-header error.
	short := make([]byte, 47)
	if _, err := DecodeHeader(short); err == nil {
		t.Fatal("expected error decoding a 47-byte buffer, got nil")
	}

	// Exactly 48 bytes of a valid, empty header: must succeed.
	h := Header{Length: HeaderSize, Magic: Spec, Version: Version}
	msg, err := Deserialize(h.Encode())
	if err != nil {
		t.Fatalf("expected success decoding an empty 48-byte message, got %v", err)
	}
	if len(msg.Query) != 0 || len(msg.Body) != 0 {
		t.Errorf("expected empty query/body, got query=%d body=%d", len(msg.Query), len(msg.Body))
	}
}

func TestDecodeHeaderInvalidMagic(t *testing.T) {
	h := Header{Length: HeaderSize, Magic: 0xBEEF, Version: Version}
	if _, err := DecodeHeader(h.Encode()); err == nil {
		t.Fatal("expected error for bad magic, got nil")
	}
}

func TestDecodeHeaderInvalidVersion(t *testing.T) {
	h := Header{Length: HeaderSize, Magic: Spec, Version: 9}
	if _, err := DecodeHeader(h.Encode()); err == nil {
		t.Fatal("expected error for bad version, got nil")
	}
}

func TestDecodeHeaderLengthMismatch(t *testing.T) {
	h := Header{Length: HeaderSize + 100, Magic: Spec, Version: Version, QueryLength: 1, BodyLength: 1}
	if _, err := DecodeHeader(h.Encode()); err == nil {
		t.Fatal("expected error for length invariant violation, got nil")
	}
}

func TestNewRawRejectsLengthMismatch(t *testing.T) {
	h := Header{QueryLength: 3, BodyLength: 0}
	if _, err := NewRaw(h, []byte("ab"), nil); err == nil {
		t.Fatal("expected NewRaw to reject a declared/actual length mismatch")
	}
}

func TestParseQueryAndBody(t *testing.T) {
	adapter := bodycodec.NewAdapter()
	m := New(1, []byte("/add"), []byte(`{"result":8}`), QueryJSONPointer, bodycodec.JSON, false, rpcerr.OK)

	if got := m.ParseQuery(); got != "/add" {
		t.Errorf("ParseQuery: got %q, want %q", got, "/add")
	}

	var out struct {
		Result int `json:"result"`
	}
	if err := m.ParseBodyAs(adapter, &out); err != nil {
		t.Fatalf("ParseBodyAs failed: %v", err)
	}
	if out.Result != 8 {
		t.Errorf("Result: got %d, want 8", out.Result)
	}
}

func TestParseBodyRejectsTypedDecodeForRaw(t *testing.T) {
	adapter := bodycodec.NewAdapter()
	m := New(1, nil, []byte("abc"), QueryRawBinary, bodycodec.RawBinary, false, rpcerr.OK)
	var out []byte
	if err := m.ParseBodyAs(adapter, &out); err == nil {
		t.Fatal("expected ParseBodyAs to reject RAW_BINARY, got nil")
	}
}
