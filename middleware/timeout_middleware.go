package middleware

import (
	"context"
	"time"

	"order-rpc/message"
)

// TimeOutMiddleware bounds the whole call. Intended for the unary and
// client-streaming shapes; an open-ended chat under this middleware will be
// cut off at the deadline with a Cancelled status.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Envelope) *message.Envelope {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan *message.Envelope, 1)
			go func() {
				done <- next(ctx, req)
			}()

			select {
			case resp := <-done:
				return resp
			case <-ctx.Done():
				return &message.Envelope{
					Method: req.Method,
					Code:   message.CodeCancelled,
					Error:  "call timed out",
				}
			}
		}
	}
}
