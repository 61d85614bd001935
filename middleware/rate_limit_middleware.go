package middleware

import (
	"golang.org/x/time/rate"

	"msgpipe/message"
)

// RateLimit drops messages once the token bucket runs dry.
// r is the refill rate per second, burst the bucket size.
func RateLimit(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next Handler) Handler {
		return func(m *message.Message) {
			if !limiter.Allow() {
				return
			}
			next(m)
		}
	}
}
