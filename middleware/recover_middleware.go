package middleware

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/sirupsen/logrus"

	"anemobox/message"
)

// RecoverMiddleware turns a handler panic into an error reply so that one
// bad handler cannot take the device down.
func RecoverMiddleware() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *message.Call) (reply *message.Reply) {
			defer func() {
				if r := recover(); r != nil {
					logrus.WithFields(logrus.Fields{
						"callId": call.ID,
						"func":   call.Func,
						"stack":  string(debug.Stack()),
					}).Errorf("rpc: handler panicked: %v", r)
					reply = errorReply(call, fmt.Sprintf("%s: internal error: %v", call.Func, r))
				}
			}()
			return next(ctx, call)
		}
	}
}
