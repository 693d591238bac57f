// Package codec serializes RPC envelopes and compresses them for the radio
// link.
//
// Encoding happens in two steps: the Codec turns an envelope into bytes, then
// the Compressor shrinks those bytes, because every byte costs airtime on a
// slow, small-MTU characteristic.
package codec

import "fmt"

type CodecType byte

const (
	CodecTypeJSON CodecType = 0
)

type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	Type() CodecType
}

func GetCodec(codecType CodecType) Codec {
	return &JSONCodec{}
}

// Compressor is a generic byte-level compression stage.
type Compressor interface {
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
	Name() string
}

// GetCompressor returns the compressor registered under name: "gzip" (the
// default, understood by deployed phone apps) or "none". maxSize caps the
// decompressed size of a message; zero selects DefaultMaxDecompressedSize.
func GetCompressor(name string, maxSize int) (Compressor, error) {
	switch name {
	case "", "gzip":
		return &Gzip{MaxSize: maxSize}, nil
	case "none":
		return Identity{}, nil
	}
	return nil, fmt.Errorf("codec: unknown compression %q", name)
}
