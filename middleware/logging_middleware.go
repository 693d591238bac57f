package middleware

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"anemobox/message"
)

func LoggingMiddleware() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *message.Call) *message.Reply {
			start := time.Now()
			reply := next(ctx, call)
			entry := logrus.WithFields(logrus.Fields{
				"callId":   call.ID,
				"func":     call.Func,
				"duration": time.Since(start),
			})
			if reply.Error != "" {
				entry.WithField("error", reply.Error).Warn("rpc: call failed")
			} else {
				entry.Debug("rpc: call served")
			}
			return reply
		}
	}
}
