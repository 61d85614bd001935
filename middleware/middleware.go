// Package middleware decorates receive handlers.
//
// A pipe invokes one Handler per delivered message; middleware wraps that
// handler the same way HTTP middleware wraps http.Handler:
//
//	Chain(A, B, C)(handler) → A(B(C(handler)))
//
// A runs first on the way in, C last before the handler.
package middleware

import "msgpipe/message"

// Handler consumes one delivered message.
type Handler func(*message.Message)

// Middleware wraps a Handler with extra behavior.
type Middleware func(next Handler) Handler

// Chain composes middlewares into one, applied in the order given.
func Chain(middlewares ...Middleware) Middleware {
	return func(next Handler) Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
