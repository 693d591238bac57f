// Package client runs the outbound half of the RPC dispatcher: it allocates
// call ids, keeps the table of calls waiting for an answer, and matches
// replies to them.
//
//	goroutine-1 ──Call(id=1)──┐
//	goroutine-2 ──Call(id=2)──┼──→ Sender (one chunked channel) ──→ phone
//	goroutine-3 ──Call(id=3)──┘
//
//	Deliver(reply answerId=2) → pending[2] → goroutine-2 wakes up
//
// Every pending call carries a deadline, so a reply that never comes frees
// its id instead of leaking it.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"anemobox/codec"
	"anemobox/message"
)

var (
	ErrTimeout        = errors.New("client: call timed out")
	ErrShutdown       = errors.New("client: shut down")
	ErrTooManyPending = errors.New("client: every call id is pending")
)

// DefaultTimeout bounds a call when neither the client nor the context sets
// a deadline.
const DefaultTimeout = 30 * time.Second

// maxPending is the size of the call id space.
const maxPending = 1 << 16

// RemoteError is an error reply from the peer's handler.
type RemoteError struct {
	Func    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s", e.Func, e.Message)
}

// Sender transmits one encoded envelope. The returned channel yields the
// outcome of the transmission.
type Sender interface {
	Send(msg []byte) <-chan error
}

// Call represents an active RPC.
type Call struct {
	ID    uint16
	Func  string
	Args  any
	Reply any        // decoded answer, if non-nil
	Error error      // after completion, the error status
	Done  chan *Call // receives *Call when the call completes
}

func (call *Call) done() {
	select {
	case call.Done <- call:
	default:
		// Done is full; the caller sized it too small.
		logrus.WithFields(logrus.Fields{"callId": call.ID, "func": call.Func}).
			Warn("rpc: discarding completion, done channel full")
	}
}

type pendingCall struct {
	call  *Call
	timer *time.Timer
}

type Client struct {
	sender  Sender
	codec   codec.Codec
	timeout time.Duration

	mu      sync.Mutex
	next    uint16
	pending map[uint16]*pendingCall
	closing bool
}

// NewClient creates a client sending through s. A timeout <= 0 selects
// DefaultTimeout.
func NewClient(s Sender, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		sender:  s,
		codec:   codec.GetCodec(codec.CodecTypeJSON),
		timeout: timeout,
		pending: make(map[uint16]*pendingCall),
	}
}

// Go invokes fn asynchronously. The returned Call's Done channel receives it
// when the reply arrives, the call times out, or it fails. done may be nil,
// in which case a new channel is allocated.
func (c *Client) Go(fn string, args, reply any, done chan *Call) *Call {
	return c.start(fn, args, reply, done, c.timeout)
}

// Call invokes fn and waits for the answer, which is decoded into reply.
// The call fails with ErrTimeout once the client timeout or the context
// deadline, whichever is earlier, has passed.
func (c *Client) Call(ctx context.Context, fn string, args, reply any) error {
	timeout := c.timeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = min(timeout, time.Until(deadline))
	}
	call := c.start(fn, args, reply, make(chan *Call, 1), timeout)
	select {
	case call = <-call.Done:
		return call.Error
	case <-ctx.Done():
		c.forget(call.ID, call)
		return ctx.Err()
	}
}

func (c *Client) start(fn string, args, reply any, done chan *Call, timeout time.Duration) *Call {
	if done == nil {
		done = make(chan *Call, 1)
	} else if cap(done) == 0 {
		panic("client: done channel is unbuffered")
	}
	call := &Call{Func: fn, Args: args, Reply: reply, Done: done}

	var raw json.RawMessage
	if args != nil {
		b, err := json.Marshal(args)
		if err != nil {
			call.Error = fmt.Errorf("client: marshal args: %w", err)
			call.done()
			return call
		}
		raw = b
	}

	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		call.Error = ErrShutdown
		call.done()
		return call
	}
	id, err := c.allocID()
	if err != nil {
		c.mu.Unlock()
		call.Error = err
		call.done()
		return call
	}
	call.ID = id
	c.pending[id] = &pendingCall{
		call:  call,
		timer: time.AfterFunc(max(timeout, 0), func() { c.fail(id, call, ErrTimeout) }),
	}
	c.mu.Unlock()

	data, err := c.codec.Encode(message.NewCall(id, fn, raw))
	if err != nil {
		c.fail(id, call, err)
		return call
	}
	sent := c.sender.Send(data)
	go func() {
		if err := <-sent; err != nil {
			c.fail(id, call, fmt.Errorf("client: send %s: %w", fn, err))
		}
	}()
	return call
}

// allocID returns the next id not held by a pending call. c.mu must be held.
func (c *Client) allocID() (uint16, error) {
	if len(c.pending) >= maxPending {
		return 0, ErrTooManyPending
	}
	for {
		id := c.next
		c.next++
		if _, busy := c.pending[id]; !busy {
			return id, nil
		}
	}
}

// take removes the pending entry for id if it still belongs to call. A nil
// call matches any entry.
func (c *Client) take(id uint16, call *Call) *Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[id]
	if !ok || (call != nil && p.call != call) {
		return nil
	}
	delete(c.pending, id)
	p.timer.Stop()
	return p.call
}

func (c *Client) fail(id uint16, call *Call, err error) {
	if call = c.take(id, call); call == nil {
		return
	}
	if errors.Is(err, ErrTimeout) {
		logrus.WithFields(logrus.Fields{"callId": id, "func": call.Func}).Warn("rpc: call timed out")
	}
	call.Error = err
	call.done()
}

func (c *Client) forget(id uint16, call *Call) {
	c.take(id, call)
}

// Deliver completes the pending call answered by reply. Replies that match
// no pending call are logged and dropped.
func (c *Client) Deliver(reply *message.Reply) {
	call := c.take(reply.ID, nil)
	if call == nil {
		logrus.WithField("answerId", reply.ID).Warn("rpc: reply for unknown call dropped")
		return
	}
	switch {
	case reply.Error != "":
		call.Error = &RemoteError{Func: call.Func, Message: reply.Error}
	case call.Reply != nil && len(reply.Answer) > 0:
		if err := c.codec.Decode(reply.Answer, call.Reply); err != nil {
			call.Error = fmt.Errorf("client: decode answer of %s: %w", call.Func, err)
		}
	}
	call.done()
}

// Pending returns the number of calls waiting for a reply.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Shutdown fails every pending call with ErrShutdown and rejects new calls.
func (c *Client) Shutdown() {
	c.mu.Lock()
	c.closing = true
	pending := c.pending
	c.pending = make(map[uint16]*pendingCall)
	c.mu.Unlock()

	for _, p := range pending {
		p.timer.Stop()
		p.call.Error = ErrShutdown
		p.call.done()
	}
}
