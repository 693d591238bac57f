// Package server runs the inbound half of the RPC dispatcher: it owns the
// function table, runs each call through the middleware chain on its own
// goroutine, and hands the reply to the caller-supplied responder.
//
// Request processing pipeline:
//
//	Handle(call) → lookup func (unknown: logged, dropped, no reply)
//	  → go serve: Middleware Chain → Recover → businessHandler → respond(reply)
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"anemobox/message"
	"anemobox/middleware"
)

var (
	ErrUnknownFunc = errors.New("server: unknown function")
	ErrShutdown    = errors.New("server: shutting down")
)

// Handler runs one function. The returned value is marshaled to JSON as the
// answer; a non-nil error is sent back as an error reply.
type Handler func(ctx context.Context, args json.RawMessage) (any, error)

// Responder delivers a reply to the peer that issued the call.
type Responder func(reply *message.Reply)

type Server struct {
	mu          sync.RWMutex
	handlers    map[string]Handler
	middlewares []middleware.Middleware
	handler     middleware.HandlerFunc // built on first Handle
	build       sync.Once

	baseCtx  context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup // in-flight calls, for graceful shutdown
	shutdown atomic.Bool
}

func NewServer() *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		handlers: make(map[string]Handler),
		baseCtx:  ctx,
		cancel:   cancel,
	}
}

// Register adds a function to the table. Names are unique.
func (svr *Server) Register(name string, h Handler) error {
	if name == "" || h == nil {
		return errors.New("server: register needs a name and a handler")
	}
	svr.mu.Lock()
	defer svr.mu.Unlock()
	if _, dup := svr.handlers[name]; dup {
		return fmt.Errorf("server: function %q already registered", name)
	}
	svr.handlers[name] = h
	return nil
}

// RegisterService registers every exported method of rcvr with the signature
// M(*Args, *Reply) error, optionally taking a leading context.Context, under
// the name prefix+m (first letter lowered): prefix "ep_" and method Deliver
// give "ep_deliver".
func (svr *Server) RegisterService(prefix string, rcvr any) error {
	svc, err := newService(prefix, rcvr)
	if err != nil {
		return err
	}
	for name, mt := range svc.method {
		if err := svr.Register(name, svc.handler(mt)); err != nil {
			return err
		}
	}
	return nil
}

// Use registers a middleware. Middlewares must be added before the first call
// is handled; they are applied in the order they are added.
func (svr *Server) Use(mw middleware.Middleware) {
	svr.middlewares = append(svr.middlewares, mw)
}

// Functions returns the sorted function table.
func (svr *Server) Functions() []string {
	svr.mu.RLock()
	defer svr.mu.RUnlock()
	names := make([]string, 0, len(svr.handlers))
	for name := range svr.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (svr *Server) lookup(name string) (Handler, bool) {
	svr.mu.RLock()
	defer svr.mu.RUnlock()
	h, ok := svr.handlers[name]
	return h, ok
}

// Handle starts serving call and returns immediately. Calls to unknown
// functions are not answered at all, so the function table is not revealed
// to a peer probing names.
func (svr *Server) Handle(call *message.Call, respond Responder) error {
	if _, ok := svr.lookup(call.Func); !ok {
		logrus.WithFields(logrus.Fields{"callId": call.ID, "func": call.Func}).
			Warn("rpc: call to unknown function dropped")
		return fmt.Errorf("%w: %q", ErrUnknownFunc, call.Func)
	}

	svr.build.Do(func() {
		// Recover sits innermost: Timeout runs its next handler on another
		// goroutine, where an outer recover would not see the panic.
		chain := append(append([]middleware.Middleware{}, svr.middlewares...), middleware.RecoverMiddleware())
		svr.handler = middleware.Chain(chain...)(svr.businessHandler)
	})

	svr.mu.RLock()
	if svr.shutdown.Load() {
		svr.mu.RUnlock()
		return ErrShutdown
	}
	svr.wg.Add(1)
	svr.mu.RUnlock()

	go func() {
		defer svr.wg.Done()
		respond(svr.handler(svr.baseCtx, call))
	}()
	return nil
}

// businessHandler invokes the registered function and marshals its result.
func (svr *Server) businessHandler(ctx context.Context, call *message.Call) *message.Reply {
	h, ok := svr.lookup(call.Func)
	if !ok {
		return &message.Reply{ID: call.ID, Error: ErrUnknownFunc.Error()}
	}
	result, err := h(ctx, call.Args)
	if err != nil {
		return &message.Reply{ID: call.ID, Error: err.Error()}
	}
	answer, err := json.Marshal(result)
	if err != nil {
		logrus.WithField("func", call.Func).WithError(err).Error("rpc: failed to marshal result")
		return &message.Reply{ID: call.ID, Error: "failed to marshal result"}
	}
	return &message.Reply{ID: call.ID, Answer: answer}
}

// Shutdown stops accepting calls and waits up to timeout for running ones to
// finish. The context of handlers still running afterwards is cancelled.
func (svr *Server) Shutdown(timeout time.Duration) error {
	svr.mu.Lock()
	svr.shutdown.Store(true)
	svr.mu.Unlock()

	done := make(chan struct{})
	go func() {
		svr.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		svr.cancel()
		return nil
	case <-time.After(timeout):
		svr.cancel()
		return fmt.Errorf("timeout waiting for ongoing requests to finish")
	}
}
