package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"order-rpc/message"
)

// LoggingMiddleware logs every call with its method, terminal code, and
// duration. For streaming calls the duration covers the whole stream.
func LoggingMiddleware(log *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Envelope) *message.Envelope {
			start := time.Now()
			resp := next(ctx, req)
			fields := []zap.Field{
				zap.String("method", req.Method),
				zap.Stringer("code", resp.Code),
				zap.Duration("duration", time.Since(start)),
			}
			if resp.Code != message.CodeOK {
				fields = append(fields, zap.String("error", resp.Error))
				log.Warn("call", fields...)
				return resp
			}
			log.Info("call", fields...)
			return resp
		}
	}
}
