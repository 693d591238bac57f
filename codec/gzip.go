package codec

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

// DefaultMaxDecompressedSize bounds a decompressed message when Gzip.MaxSize
// is zero.
const DefaultMaxDecompressedSize = 16 << 20

var ErrTooLarge = errors.New("codec: decompressed message exceeds size limit")

// Gzip compresses with the gzip container format.
type Gzip struct {
	MaxSize int // decompressed bytes; DefaultMaxDecompressedSize if zero
}

func (Gzip) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (g Gzip) Decompress(data []byte) ([]byte, error) {
	limit := g.MaxSize
	if limit <= 0 {
		limit = DefaultMaxDecompressedSize
	}
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	defer r.Close()
	out, err := io.ReadAll(io.LimitReader(r, int64(limit)+1))
	if err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	if len(out) > limit {
		return nil, ErrTooLarge
	}
	return out, nil
}

func (Gzip) Name() string { return "gzip" }

// Identity leaves data untouched.
type Identity struct{}

func (Identity) Compress(data []byte) ([]byte, error)   { return data, nil }
func (Identity) Decompress(data []byte) ([]byte, error) { return data, nil }
func (Identity) Name() string                           { return "none" }
