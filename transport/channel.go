// Package transport implements the chunked RPC channel that carries whole
// messages over a characteristic that accepts one small buffer at a time.
//
// The radio stack drives the Channel through callbacks; the Channel drives the
// radio through a Notifier. At most one chunk is outstanding: the next one is
// pushed only after the stack reports the previous notify as consumed.
//
//	Send(A) ─┐                       ┌─ Notify(A0) ─ consumed ─ Notify(A1) ─ ... ─ Notify(EOM) ─ consumed → A done
//	Send(B) ─┼─→ queue [A, B, C] ──→ │
//	Send(C) ─┘                       └─ then B, then C
//
// If the peer unsubscribes in the middle of a message, the message goes back
// to the head of the queue and is resent from its first chunk on the next
// subscription.
package transport

import (
	"context"
	"errors"
	"sync"

	"github.com/lithammer/shortuuid/v4"
	"github.com/sirupsen/logrus"

	"anemobox/codec"
	"anemobox/protocol"
)

var ErrClosed = errors.New("transport: channel closed")

// Notifier pushes one chunk to the subscribed peer. A successful Notify must
// be followed by exactly one Channel.OnNotifyConsumed once the peer drained
// the chunk.
type Notifier interface {
	Notify(chunk []byte) error
}

// Options configures a Channel. Zero values select the defaults understood by
// deployed phone apps: sentinel framing and gzip compression.
type Options struct {
	Framing        protocol.Framing
	Compressor     codec.Compressor
	MaxMessageSize int // compressed bytes; 0 means unlimited
}

type outbound struct {
	w    *protocol.Writer
	done chan error
}

func (f *outbound) finish(err error) {
	f.done <- err
}

// Channel is safe for concurrent use. Notifier and handler callbacks are
// never invoked while the channel lock is held.
type Channel struct {
	opts Options

	mu       sync.Mutex
	queue    []*outbound
	inFlight *outbound
	awaiting bool // a chunk was notified and not yet consumed
	notifier Notifier
	mtu      int
	session  string
	closed   bool

	recvMu  sync.Mutex
	reader  *protocol.Reader
	handler func(msg []byte)
}

func NewChannel(opts Options) *Channel {
	if opts.Compressor == nil {
		opts.Compressor = &codec.Gzip{}
	}
	return &Channel{
		opts:   opts,
		mtu:    protocol.MinMTU,
		reader: protocol.NewReader(opts.Framing, opts.MaxMessageSize),
	}
}

// SetHandler installs the consumer of decoded inbound messages. Messages are
// delivered one at a time in arrival order.
func (c *Channel) SetHandler(h func(msg []byte)) {
	c.recvMu.Lock()
	c.handler = h
	c.recvMu.Unlock()
}

// Send compresses msg and queues it. The returned channel yields nil once the
// peer consumed the final chunk, or an error if the message could not be
// queued or the channel was closed first.
func (c *Channel) Send(msg []byte) <-chan error {
	done := make(chan error, 1)
	if len(msg) == 0 {
		done <- protocol.ErrEmptyMessage
		return done
	}
	body, err := c.opts.Compressor.Compress(msg)
	if err != nil {
		done <- err
		return done
	}
	if c.opts.MaxMessageSize > 0 && len(body) > c.opts.MaxMessageSize {
		done <- protocol.ErrFrameTooLarge
		return done
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		done <- ErrClosed
		return done
	}
	c.queue = append(c.queue, &outbound{w: protocol.NewWriter(c.opts.Framing, body), done: done})
	c.mu.Unlock()

	c.pump()
	return done
}

// SendContext is Send that waits for completion. If ctx ends first the
// message stays queued.
func (c *Channel) SendContext(ctx context.Context, msg []byte) error {
	select {
	case err := <-c.Send(msg):
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnSubscribe is called when a peer subscribes to notifications.
func (c *Channel) OnSubscribe(maxValueSize int, n Notifier) {
	c.recvMu.Lock()
	c.reader.Reset()
	c.recvMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.notifier != nil || c.inFlight != nil {
		// A new peer without an unsubscribe in between never saw the start
		// of the in-flight message.
		c.dropPeerLocked()
	}
	c.notifier = n
	c.awaiting = false
	c.mtu = max(maxValueSize, protocol.MinMTU)
	c.session = shortuuid.New()
	log := logrus.WithFields(logrus.Fields{"session": c.session, "mtu": c.mtu, "queued": len(c.queue)})
	c.mu.Unlock()

	log.Info("transport: peer subscribed")
	c.pump()
}

// OnUnsubscribe is called when the peer goes away.
func (c *Channel) OnUnsubscribe() {
	c.mu.Lock()
	session := c.session
	c.dropPeerLocked()
	c.mu.Unlock()

	c.recvMu.Lock()
	c.reader.Reset()
	c.recvMu.Unlock()

	logrus.WithField("session", session).Info("transport: peer unsubscribed")
}

// dropPeerLocked clears the peer and puts the in-flight message back at the
// head of the queue.
func (c *Channel) dropPeerLocked() {
	if c.inFlight != nil {
		c.inFlight.w.Rewind()
		c.queue = append([]*outbound{c.inFlight}, c.queue...)
		c.inFlight = nil
	}
	c.notifier = nil
	c.awaiting = false
	c.session = ""
}

// OnMTUChange records a renegotiated MTU. It applies from the next chunk.
func (c *Channel) OnMTUChange(mtu int) {
	c.mu.Lock()
	c.mtu = max(mtu, protocol.MinMTU)
	c.mu.Unlock()
}

// OnNotifyConsumed is called when the peer drained the last notified chunk.
func (c *Channel) OnNotifyConsumed() {
	c.mu.Lock()
	if !c.awaiting {
		c.mu.Unlock()
		return
	}
	c.awaiting = false
	var finished *outbound
	if c.inFlight != nil && c.inFlight.w.Done() {
		finished = c.inFlight
		c.inFlight = nil
	}
	c.mu.Unlock()

	if finished != nil {
		finished.finish(nil)
	}
	c.pump()
}

// pump pushes the next chunk if the peer is ready and nothing is
// outstanding.
func (c *Channel) pump() {
	c.mu.Lock()
	if c.closed || c.notifier == nil || c.awaiting {
		c.mu.Unlock()
		return
	}
	if c.inFlight == nil {
		if len(c.queue) == 0 {
			c.mu.Unlock()
			return
		}
		c.inFlight = c.queue[0]
		c.queue[0] = nil
		c.queue = c.queue[1:]
	}
	chunk, ok := c.inFlight.w.Next(c.mtu)
	if !ok {
		// Only reachable for a writer that was already drained.
		finished := c.inFlight
		c.inFlight = nil
		c.mu.Unlock()
		finished.finish(nil)
		c.pump()
		return
	}
	c.awaiting = true
	n, session := c.notifier, c.session
	c.mu.Unlock()

	if err := n.Notify(chunk); err != nil {
		logrus.WithField("session", session).WithError(err).Warn("transport: notify failed, treating peer as gone")
		c.mu.Lock()
		if c.notifier == n && c.session == session {
			c.dropPeerLocked()
		}
		c.mu.Unlock()
	}
}

// OnWriteReceived feeds one chunk written by the peer.
func (c *Channel) OnWriteReceived(chunk []byte) {
	c.recvMu.Lock()
	defer c.recvMu.Unlock()

	raw, done, err := c.reader.Feed(chunk)
	if err != nil {
		logrus.WithError(err).Warn("transport: dropping inbound message")
		return
	}
	if !done {
		return
	}
	msg, err := c.opts.Compressor.Decompress(raw)
	if err != nil {
		logrus.WithError(err).Warn("transport: dropping undecodable message")
		return
	}
	if c.handler == nil {
		logrus.Debug("transport: no handler, message dropped")
		return
	}
	c.handler(msg)
}

// Connected reports whether a peer is subscribed.
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.notifier != nil
}

// Queued returns the number of messages not yet completed, the in-flight one
// included.
func (c *Channel) Queued() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.queue)
	if c.inFlight != nil {
		n++
	}
	return n
}

// Close fails every queued message with ErrClosed. It is idempotent.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	pending := c.queue
	if c.inFlight != nil {
		pending = append([]*outbound{c.inFlight}, pending...)
	}
	c.queue = nil
	c.inFlight = nil
	c.notifier = nil
	c.mu.Unlock()

	for _, f := range pending {
		f.finish(ErrClosed)
	}
}
