package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// JSONCodec encodes envelopes as compact JSON objects, the only form the phone
// app parses. Decode accepts a single JSON value; trailing data after it is
// an error, so two envelopes glued together by a framing fault are not
// silently read as the first.
type JSONCodec struct{}

func (c *JSONCodec) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (c *JSONCodec) Decode(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("codec: trailing data after JSON value")
	}
	return nil
}

func (c *JSONCodec) Type() CodecType {
	return CodecTypeJSON
}
