package middleware

import (
	"go.uber.org/zap"

	"msgpipe/message"
)

// Recover catches a panicking handler. Handlers run on the connection read
// loop's goroutine, so an uncaught panic would take the whole process down
// with it.
func Recover(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next Handler) Handler {
		return func(m *message.Message) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("receive handler panicked",
						zap.String("name", m.Name),
						zap.String("from", m.RemoteAddress.GetOrDefault("<none>")),
						zap.Any("panic", r))
				}
			}()
			next(m)
		}
	}
}
