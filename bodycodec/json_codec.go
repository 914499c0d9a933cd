package bodycodec

import "encoding/json"

// jsonCodec implements Codec using the standard library's encoding/json,
// the same choice the teacher's codec.JSONCodec makes.
type jsonCodec struct{}

func (jsonCodec) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Decode(data []byte) (any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func (jsonCodec) DecodeAs(data []byte, out any) error {
	return json.Unmarshal(data, out)
}
