package protocol

// Writer cuts one message into chunks. It is not safe for concurrent use.
type Writer struct {
	framing Framing
	data    []byte
	sent    int
	eomSent bool
}

// NewWriter prepares body for transmission with the given framing.
func NewWriter(framing Framing, body []byte) *Writer {
	data := body
	if framing == FramingLength {
		data = append(EncodeHeader(len(body)), body...)
	}
	return &Writer{framing: framing, data: data}
}

// Next returns the next chunk of at most mtu bytes. In FramingSentinel the
// chunk after the last data chunk is EOM. ok is false when nothing is left.
func (w *Writer) Next(mtu int) (chunk []byte, ok bool) {
	if mtu < MinMTU {
		mtu = MinMTU
	}
	if w.sent < len(w.data) {
		end := min(w.sent+mtu, len(w.data))
		chunk = w.data[w.sent:end]
		w.sent = end
		return chunk, true
	}
	if w.framing == FramingSentinel && !w.eomSent {
		w.eomSent = true
		return EOM, true
	}
	return nil, false
}

// Done reports whether every chunk, including the sentinel, was handed out.
func (w *Writer) Done() bool {
	if w.sent < len(w.data) {
		return false
	}
	return w.framing != FramingSentinel || w.eomSent
}

// Sent returns the number of message bytes handed out so far.
func (w *Writer) Sent() int {
	return w.sent
}

// Len returns the total number of message bytes, header included.
func (w *Writer) Len() int {
	return len(w.data)
}

// Rewind restarts the message from its first chunk, e.g. after the peer went
// away in the middle of a transfer.
func (w *Writer) Rewind() {
	w.sent = 0
	w.eomSent = false
}
