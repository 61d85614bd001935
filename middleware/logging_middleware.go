package middleware

import (
	"time"

	"go.uber.org/zap"

	"msgpipe/message"
)

// Logging logs every delivered message with its sender and the handler's
// run time.
func Logging(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next Handler) Handler {
		return func(m *message.Message) {
			start := time.Now()
			next(m)
			logger.Debug("message handled",
				zap.String("name", m.Name),
				zap.String("from", m.RemoteAddress.GetOrDefault("<none>")),
				zap.Duration("duration", time.Since(start)))
		}
	}
}
