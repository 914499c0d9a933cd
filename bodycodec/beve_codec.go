package bodycodec

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"reflect"
)

// beveCodec is the bundled reference implementation for the BEVE body
// format slot. BEVE itself is an out-of-scope external collaborator (spec.md
// §1): no BEVE encoder/decoder exists anywhere in the example pack this
// repository was grounded on, so this placeholder exercises the Adapter's
// BEVE path end-to-end using encoding/gob as a stand-in binary codec. Any
// caller wanting wire-compatible BEVE output supplies their own Codec and
// assigns it to Adapter.BEVE.
type beveCodec struct{}

// envelope lets Decode return a generic value without the caller having to
// know the concrete type ahead of time, the same way encoding/json's
// Unmarshal into `any` works for untyped JSON decode.
type envelope struct {
	Value any
}

func init() {
	gob.Register(map[string]any{})
	gob.Register([]any{})
}

func (beveCodec) Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(envelope{Value: v}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (beveCodec) Decode(data []byte) (any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var e envelope
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&e); err != nil {
		return nil, err
	}
	return e.Value, nil
}

// DecodeAs decodes the envelope generically, then reflect-assigns the
// result into *out — out must be a non-nil pointer whose pointed-to type
// is assignable from the decoded value, mirroring encoding/json.Unmarshal's
// contract for its `v any` parameter.
func (beveCodec) DecodeAs(data []byte, out any) error {
	v, err := (beveCodec{}).Decode(data)
	if err != nil {
		return err
	}
	outVal := reflect.ValueOf(out)
	if outVal.Kind() != reflect.Ptr || outVal.IsNil() {
		return fmt.Errorf("beve: DecodeAs requires a non-nil pointer")
	}
	target := outVal.Elem()
	valRefl := reflect.ValueOf(v)
	if !valRefl.IsValid() {
		return nil
	}
	if !valRefl.Type().AssignableTo(target.Type()) {
		return fmt.Errorf("beve: cannot decode %s into %s", valRefl.Type(), target.Type())
	}
	target.Set(valRefl)
	return nil
}
