// Package middleware wraps inbound call handling.
//
// Middlewares compose like an onion: Chain(A, B, C)(h) runs A's "before"
// first and A's "after" last.
package middleware

import (
	"context"

	"anemobox/message"
)

// HandlerFunc answers one inbound call. It never returns nil.
type HandlerFunc func(ctx context.Context, call *message.Call) *message.Reply

type Middleware func(next HandlerFunc) HandlerFunc

// Chain 将多个中间件组合成一个中间件
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

func errorReply(call *message.Call, msg string) *message.Reply {
	return &message.Reply{ID: call.ID, Error: msg}
}
