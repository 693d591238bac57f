package protocol

import "fmt"

// Reader reassembles chunks into messages. Only one message is in progress
// at a time. It is not safe for concurrent use.
type Reader struct {
	framing Framing
	maxSize int
	buf     []byte
	bodyLen int // FramingLength only; -1 until the header is complete
}

// NewReader creates a reassembler. maxSize bounds the message body; zero
// means no limit.
func NewReader(framing Framing, maxSize int) *Reader {
	return &Reader{framing: framing, maxSize: maxSize, bodyLen: -1}
}

// Feed appends chunk to the message in progress. When the chunk completes a
// message, the message body is returned with done set. On error the partial
// message is discarded and the Reader is ready for the next message.
func (r *Reader) Feed(chunk []byte) (msg []byte, done bool, err error) {
	if r.framing == FramingSentinel {
		return r.feedSentinel(chunk)
	}
	return r.feedLength(chunk)
}

// Reset drops any partially received message.
func (r *Reader) Reset() {
	r.buf = nil
	r.bodyLen = -1
}

// Pending returns the number of buffered bytes of the message in progress.
func (r *Reader) Pending() int {
	return len(r.buf)
}

func (r *Reader) feedSentinel(chunk []byte) ([]byte, bool, error) {
	if IsEOM(chunk) {
		msg := r.buf
		r.Reset()
		if len(msg) == 0 {
			return nil, false, ErrEmptyMessage
		}
		return msg, true, nil
	}
	if r.maxSize > 0 && len(r.buf)+len(chunk) > r.maxSize {
		r.Reset()
		return nil, false, fmt.Errorf("%w: more than %d bytes before EOM", ErrFrameTooLarge, r.maxSize)
	}
	r.buf = append(r.buf, chunk...)
	return nil, false, nil
}

func (r *Reader) feedLength(chunk []byte) ([]byte, bool, error) {
	r.buf = append(r.buf, chunk...)

	if r.bodyLen < 0 {
		if len(r.buf) < HeaderSize {
			return nil, false, nil
		}
		n, err := DecodeHeader(r.buf)
		if err != nil {
			r.Reset()
			return nil, false, err
		}
		if r.maxSize > 0 && n > r.maxSize {
			r.Reset()
			return nil, false, fmt.Errorf("%w: header announces %d bytes", ErrFrameTooLarge, n)
		}
		r.bodyLen = n
	}

	total := HeaderSize + r.bodyLen
	switch {
	case len(r.buf) < total:
		return nil, false, nil
	case len(r.buf) > total:
		// A chunk never spans two messages; trailing bytes mean the sender
		// started a new message before finishing the previous one.
		extra := len(r.buf) - total
		r.Reset()
		return nil, false, fmt.Errorf("%w: %d bytes past the announced length", ErrBadHeader, extra)
	}
	msg := r.buf[HeaderSize:]
	r.Reset()
	if len(msg) == 0 {
		return nil, false, ErrEmptyMessage
	}
	return msg, true, nil
}
