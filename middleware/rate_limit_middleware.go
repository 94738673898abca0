package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"order-rpc/message"
)

// RateLimitMiddleware rejects call starts beyond the token-bucket limit.
// Rejection happens before the handler runs, so no stream is opened and no
// order state is touched.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Envelope) *message.Envelope {
			if !limiter.Allow() {
				return &message.Envelope{
					Method: req.Method,
					Code:   message.CodeUnavailable,
					Error:  "rate limit exceeded",
				}
			}
			return next(ctx, req)
		}
	}
}
