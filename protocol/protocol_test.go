package protocol

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pattern(n int) []byte {
	body := make([]byte, n)
	for i := range body {
		body[i] = byte(i % 251)
	}
	return body
}

func drain(w *Writer, mtu int) [][]byte {
	var chunks [][]byte
	for {
		chunk, ok := w.Next(mtu)
		if !ok {
			return chunks
		}
		chunks = append(chunks, bytes.Clone(chunk))
	}
}

func TestHeaderEncodeDecode(t *testing.T) {
	n, err := DecodeHeader(EncodeHeader(12345))
	require.NoError(t, err)
	assert.Equal(t, 12345, n)
}

func TestDecodeHeaderInvalid(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{name: "short", data: []byte{MagicNumber, MagicByte2}, want: "short header"},
		{name: "bad magic", data: []byte{0, 0, 0, Version, 0, 0, 0, 1}, want: "invalid magic number"},
		{name: "bad version", data: []byte{MagicNumber, MagicByte2, MagicByte3, 0xFF, 0, 0, 0, 1}, want: "unsupported version"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeHeader(tt.data)
			require.ErrorIs(t, err, ErrBadHeader)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestSentinelChunking(t *testing.T) {
	const mtu = 20
	body := pattern(3*mtu + 7)

	w := NewWriter(FramingSentinel, body)
	chunks := drain(w, mtu)
	require.Len(t, chunks, 5, "4 data chunks and the sentinel")
	for i := 0; i < 3; i++ {
		assert.Len(t, chunks[i], mtu)
	}
	assert.Len(t, chunks[3], 7)
	assert.True(t, IsEOM(chunks[4]))
	assert.True(t, w.Done())

	r := NewReader(FramingSentinel, 0)
	var got []byte
	for i, chunk := range chunks {
		msg, done, err := r.Feed(chunk)
		require.NoError(t, err)
		assert.Equal(t, i == len(chunks)-1, done)
		if done {
			got = msg
		}
	}
	assert.Equal(t, body, got)
}

func TestLengthChunking(t *testing.T) {
	const mtu = 20
	body := pattern(3*mtu + 7)

	chunks := drain(NewWriter(FramingLength, body), mtu)
	// 8 header bytes + 67 body bytes = 75 bytes → 4 chunks, no sentinel.
	require.Len(t, chunks, 4)
	for _, chunk := range chunks {
		assert.False(t, IsEOM(chunk))
	}

	r := NewReader(FramingLength, 0)
	for i, chunk := range chunks {
		msg, done, err := r.Feed(chunk)
		require.NoError(t, err)
		if i < len(chunks)-1 {
			assert.False(t, done)
			continue
		}
		require.True(t, done)
		assert.Equal(t, body, msg)
	}
}

func TestWriterFollowsMTUChanges(t *testing.T) {
	w := NewWriter(FramingSentinel, pattern(100))

	c1, _ := w.Next(20)
	c2, _ := w.Next(50)
	c3, _ := w.Next(23)
	c4, _ := w.Next(185)
	assert.Len(t, c1, 20)
	assert.Len(t, c2, 50)
	assert.Len(t, c3, 23)
	assert.Len(t, c4, 7)
	assert.Equal(t, 100, w.Sent())

	eom, ok := w.Next(20)
	require.True(t, ok)
	assert.True(t, IsEOM(eom))
	_, ok = w.Next(20)
	assert.False(t, ok)
}

func TestWriterRewind(t *testing.T) {
	w := NewWriter(FramingSentinel, pattern(30))
	first := drain(w, 20)
	require.True(t, w.Done())

	w.Rewind()
	assert.False(t, w.Done())
	assert.Equal(t, first, drain(w, 20))
}

func TestWriterClampsTinyMTU(t *testing.T) {
	chunk, ok := NewWriter(FramingSentinel, pattern(64)).Next(0)
	require.True(t, ok)
	assert.Len(t, chunk, MinMTU)
}

func TestSentinelReaderErrors(t *testing.T) {
	r := NewReader(FramingSentinel, 10)

	_, _, err := r.Feed(EOM)
	assert.ErrorIs(t, err, ErrEmptyMessage)

	_, _, err = r.Feed(pattern(8))
	require.NoError(t, err)
	_, _, err = r.Feed(pattern(8))
	assert.ErrorIs(t, err, ErrFrameTooLarge)
	assert.Equal(t, 0, r.Pending())

	// The reader recovers for the next message.
	_, _, err = r.Feed([]byte("hello"))
	require.NoError(t, err)
	msg, done, err := r.Feed(EOM)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, []byte("hello"), msg)
}

func TestLengthReaderErrors(t *testing.T) {
	r := NewReader(FramingLength, 16)

	_, _, err := r.Feed(EncodeHeader(17))
	assert.ErrorIs(t, err, ErrFrameTooLarge)

	_, _, err = r.Feed([]byte("GET / HTTP/1.1\r\n"))
	assert.ErrorIs(t, err, ErrBadHeader)

	// A new header arriving before the previous body is complete.
	_, _, err = r.Feed(append(EncodeHeader(4), 'a', 'b'))
	require.NoError(t, err)
	_, _, err = r.Feed(append([]byte("cd"), EncodeHeader(4)...))
	assert.ErrorIs(t, err, ErrBadHeader)
	assert.Equal(t, 0, r.Pending())
}

func TestLengthReaderSplitHeader(t *testing.T) {
	frame := append(EncodeHeader(3), 'x', 'y', 'z')
	r := NewReader(FramingLength, 0)

	_, done, err := r.Feed(frame[:5])
	require.NoError(t, err)
	assert.False(t, done)

	msg, done, err := r.Feed(frame[5:])
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, []byte("xyz"), msg)
}

func TestParseFraming(t *testing.T) {
	f, err := ParseFraming("")
	require.NoError(t, err)
	assert.Equal(t, FramingSentinel, f)

	f, err = ParseFraming("length")
	require.NoError(t, err)
	assert.Equal(t, FramingLength, f)
	assert.Equal(t, "length", f.String())

	_, err = ParseFraming("cobs")
	assert.Error(t, err)
}
