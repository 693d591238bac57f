package middleware

import (
	"context"
	"time"

	"anemobox/message"
)

func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *message.Call) *message.Reply {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan *message.Reply, 1)
			go func() {
				done <- next(ctx, call)
			}()

			select {
			case reply := <-done:
				return reply
			case <-ctx.Done():
				return errorReply(call, "request timed out")
			}
		}
	}
}
