// Package dispatcher ties the inbound and outbound halves of the RPC stack
// to one message channel. Every decoded envelope is routed by kind: replies
// complete pending calls, calls are served by the function table.
package dispatcher

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"anemobox/client"
	"anemobox/codec"
	"anemobox/message"
	"anemobox/middleware"
	"anemobox/registry"
	"anemobox/server"
)

// Conn carries whole messages to and from the peer. transport.Channel
// implements it.
type Conn interface {
	Send(msg []byte) <-chan error
	SetHandler(h func(msg []byte))
}

type Options struct {
	CallTimeout time.Duration // outbound calls; client.DefaultTimeout if zero
}

type Dispatcher struct {
	conn   Conn
	codec  codec.Codec
	server *server.Server
	client *client.Client

	mu        sync.Mutex
	registry  registry.Registry
	announced string // box id, empty if not announced
}

// New creates a dispatcher and installs it as conn's message handler.
func New(conn Conn, opts Options) *Dispatcher {
	d := &Dispatcher{
		conn:   conn,
		codec:  codec.GetCodec(codec.CodecTypeJSON),
		server: server.NewServer(),
		client: client.NewClient(conn, opts.CallTimeout),
	}
	conn.SetHandler(d.handleMessage)
	return d
}

func (d *Dispatcher) Register(name string, h server.Handler) error {
	return d.server.Register(name, h)
}

func (d *Dispatcher) RegisterService(prefix string, rcvr any) error {
	return d.server.RegisterService(prefix, rcvr)
}

func (d *Dispatcher) Use(mw middleware.Middleware) {
	d.server.Use(mw)
}

// Functions returns the names callable by the peer.
func (d *Dispatcher) Functions() []string {
	return d.server.Functions()
}

// Call invokes fn on the peer and decodes its answer into reply.
func (d *Dispatcher) Call(ctx context.Context, fn string, args, reply any) error {
	return d.client.Call(ctx, fn, args, reply)
}

// Go invokes fn on the peer asynchronously.
func (d *Dispatcher) Go(fn string, args, reply any, done chan *client.Call) *client.Call {
	return d.client.Go(fn, args, reply, done)
}

func (d *Dispatcher) handleMessage(msg []byte) {
	env, err := message.Decode(msg)
	if err != nil {
		logrus.WithError(err).Warn("rpc: dropping undecodable message")
		return
	}
	switch env.Kind {
	case message.KindReply:
		d.client.Deliver(env.Reply)
	case message.KindCall:
		// Unknown functions and calls arriving during shutdown are logged by
		// the server and left unanswered.
		_ = d.server.Handle(env.Call, d.respond)
	}
}

func (d *Dispatcher) respond(reply *message.Reply) {
	env := &message.Envelope{Kind: message.KindReply, Reply: reply}
	data, err := d.codec.Encode(env)
	if err != nil {
		logrus.WithField("answerId", reply.ID).WithError(err).Error("rpc: failed to encode reply")
		return
	}
	sent := d.conn.Send(data)
	go func() {
		if err := <-sent; err != nil {
			logrus.WithField("answerId", reply.ID).WithError(err).Warn("rpc: failed to send reply")
		}
	}()
}

// Announce publishes the box and its function table to reg.
func (d *Dispatcher) Announce(ctx context.Context, reg registry.Registry, inst registry.Instance, ttl int64) error {
	inst.Functions = d.Functions()
	if err := reg.Register(ctx, inst, ttl); err != nil {
		return err
	}
	d.mu.Lock()
	d.registry = reg
	d.announced = inst.BoxID
	d.mu.Unlock()
	logrus.WithFields(logrus.Fields{"box": inst.BoxID, "functions": len(inst.Functions)}).Info("rpc: announced")
	return nil
}

// Shutdown withdraws the announcement first so that nobody new finds the
// box, then fails pending outbound calls and waits up to timeout for inbound
// handlers.
func (d *Dispatcher) Shutdown(timeout time.Duration) error {
	d.mu.Lock()
	reg, boxID := d.registry, d.announced
	d.registry, d.announced = nil, ""
	d.mu.Unlock()

	if reg != nil {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		if err := reg.Deregister(ctx, boxID); err != nil {
			logrus.WithField("box", boxID).WithError(err).Warn("rpc: deregister failed")
		}
		cancel()
	}
	d.client.Shutdown()
	return d.server.Shutdown(timeout)
}
