package pipe

import (
	"go.uber.org/zap"

	"msgpipe/discovery"
	"msgpipe/middleware"
)

type options struct {
	customDir   bool
	logger      *zap.Logger
	names       NameRegistry
	directory   discovery.Directory
	middlewares []middleware.Middleware
}

// Option configures New.
type Option func(*options)

func defaultOptions() *options {
	return &options{
		logger: zap.NewNop(),
		names:  defaultNames,
	}
}

// WithCustomDirectory makes New treat the pipe name as a literal socket
// path instead of resolving it under $XDG_RUNTIME_DIR.
func WithCustomDirectory() Option {
	return func(o *options) { o.customDir = true }
}

// WithLogger sets the logger; the default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithNameRegistry replaces the process-wide active-name set, e.g. to
// isolate pipes from each other in tests.
func WithNameRegistry(names NameRegistry) Option {
	return func(o *options) {
		if names != nil {
			o.names = names
		}
	}
}

// WithDirectory makes the pipe announce its socket path in the given
// directory after binding, and withdraw it on Clean.
func WithDirectory(d discovery.Directory) Option {
	return func(o *options) { o.directory = d }
}

// WithMiddleware wraps every Receive handler of this pipe with the given
// middlewares, applied in order.
func WithMiddleware(mw ...middleware.Middleware) Option {
	return func(o *options) { o.middlewares = append(o.middlewares, mw...) }
}
