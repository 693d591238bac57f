// Package protocol splits messages into MTU-sized chunks for a characteristic
// that carries one small buffer at a time, and reassembles them on the other
// side.
//
// Two framings are supported:
//
// FramingSentinel (legacy, understood by deployed phone apps): the message
// bytes are cut into chunks and followed by one chunk holding exactly the
// ASCII sentinel "==EOM==".
//
//	┌────────┬────────┬─────┬──────────┬─────────┐
//	│ chunk0 │ chunk1 │ ... │ chunkN-1 │ ==EOM== │
//	└────────┴────────┴─────┴──────────┴─────────┘
//
// FramingLength: the message is prefixed with an 8-byte header carrying the
// body length, so the receiver knows where a message ends without a magic
// sentinel that could collide with payload bytes.
//
//	0      3  4         8
//	┌──────┬──┬─────────┬────────────────┐
//	│magic │v │ bodyLen │  body ...      │  (then cut into chunks)
//	│ anb  │01│ uint32  │ bodyLen bytes  │
//	└──────┴──┴─────────┴────────────────┘
//
// In both framings the sender must re-read the MTU before every chunk: it may
// be renegotiated in the middle of a message.
package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// Framing selects how message boundaries are marked.
type Framing byte

const (
	FramingSentinel Framing = 0
	FramingLength   Framing = 1
)

func (f Framing) String() string {
	switch f {
	case FramingSentinel:
		return "sentinel"
	case FramingLength:
		return "length"
	}
	return fmt.Sprintf("framing(%d)", byte(f))
}

// ParseFraming maps a configuration name to a Framing.
func ParseFraming(name string) (Framing, error) {
	switch name {
	case "", "sentinel":
		return FramingSentinel, nil
	case "length":
		return FramingLength, nil
	}
	return 0, fmt.Errorf("protocol: unknown framing %q", name)
}

// Magic number bytes: "anb" (anemobox). Used to reject chunks that do not
// start a length-framed message.
const (
	MagicNumber byte = 0x61 // 'a'
	MagicByte2  byte = 0x6e // 'n'
	MagicByte3  byte = 0x62 // 'b'
	Version     byte = 0x01
	HeaderSize  int  = 8 // 3 (magic) + 1 (version) + 4 (bodyLen)

	// MinMTU is the smallest chunk size we accept; BLE guarantees 20 bytes
	// of notification payload.
	MinMTU = 20
)

// EOM marks the end of a message in FramingSentinel.
var EOM = []byte("==EOM==")

var (
	ErrEmptyMessage  = errors.New("protocol: end of message without data")
	ErrFrameTooLarge = errors.New("protocol: message exceeds size limit")
	ErrBadHeader     = errors.New("protocol: bad frame header")
)

// IsEOM reports whether chunk is the end-of-message sentinel.
func IsEOM(chunk []byte) bool {
	return bytes.Equal(chunk, EOM)
}

// EncodeHeader returns the FramingLength header for a body of bodyLen bytes.
func EncodeHeader(bodyLen int) []byte {
	buf := make([]byte, HeaderSize)
	copy(buf[0:3], []byte{MagicNumber, MagicByte2, MagicByte3})
	buf[3] = Version
	binary.BigEndian.PutUint32(buf[4:8], uint32(bodyLen))
	return buf
}

// DecodeHeader validates a FramingLength header and returns the body length.
func DecodeHeader(buf []byte) (int, error) {
	if len(buf) < HeaderSize {
		return 0, fmt.Errorf("%w: short header (%d bytes)", ErrBadHeader, len(buf))
	}
	if buf[0] != MagicNumber || buf[1] != MagicByte2 || buf[2] != MagicByte3 {
		return 0, fmt.Errorf("%w: invalid magic number: %x", ErrBadHeader, buf[0:3])
	}
	if buf[3] != Version {
		return 0, fmt.Errorf("%w: unsupported version: %d", ErrBadHeader, buf[3])
	}
	return int(binary.BigEndian.Uint32(buf[4:8])), nil
}
