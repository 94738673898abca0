// Package middleware provides the onion-model handler chain wrapped around
// every call on the server.
//
// The chain sees the whole call: the Request envelope goes in, the terminal
// envelope (Response payload or error status) comes out. For streaming
// methods the data frames flow inside next(), so a middleware brackets the
// complete stream lifetime.
package middleware

import (
	"context"

	"order-rpc/message"
)

type HandlerFunc func(ctx context.Context, req *message.Envelope) *message.Envelope

type Middleware func(next HandlerFunc) HandlerFunc

// Chain combines middlewares into one. Chain(A, B, C)(handler) wraps as
// A(B(C(handler))): A runs outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
