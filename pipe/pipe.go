// Package pipe is the façade over the messaging stack: one Pipe per named
// local endpoint, owning one listening Unix socket, its connection registry,
// its event bus and its callback engine.
//
// Outbound path:
//
//	Send(addr, m) → registry.Dial (reuse or connect+hello) → stamp own
//	address → codec encode → socket write
//
// Inbound path:
//
//	accept → handshake → per-connection read loop → codec decode → bus
//	publish → Receive handlers and callback matchers
package pipe

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"msgpipe/address"
	"msgpipe/bus"
	"msgpipe/callback"
	"msgpipe/discovery"
	"msgpipe/message"
	"msgpipe/middleware"
	"msgpipe/transport"
)

var (
	// ErrUnsupportedPlatform is returned by New on hosts without
	// Unix-domain sockets.
	ErrUnsupportedPlatform = errors.New("pipe: unix domain sockets are not supported on this platform")
	// ErrRuntimeDirUnset is returned by New when XDG_RUNTIME_DIR is needed
	// but missing.
	ErrRuntimeDirUnset = errors.New("pipe: XDG_RUNTIME_DIR is not set")
	// ErrDuplicateName is returned by New when the name is already active
	// in this process.
	ErrDuplicateName = errors.New("pipe: name already active in this process")
	// ErrClosed is returned by every operation after Clean.
	ErrClosed = errors.New("pipe: pipe has been cleaned")
)

// directoryTTL is the lease, in seconds, on directory announcements.
const directoryTTL = 10

// Pipe is one bound local messaging endpoint.
type Pipe struct {
	name      string
	self      address.Address
	listener  net.Listener
	bus       *bus.Bus[*message.Message]
	registry  *transport.Registry
	engine    *callback.Engine
	names     NameRegistry
	directory discovery.Directory
	chain     middleware.Middleware
	logger    *zap.Logger
	closed    atomic.Bool
}

// New binds a pipe named name and starts accepting connections.
//
// The bind path is $XDG_RUNTIME_DIR/<name>, or name taken as a literal path
// with WithCustomDirectory. New fails when the name is already active in
// this process, when the path cannot be bound, or on a platform without
// Unix sockets; in every failure case no pipe is created.
func New(name string, opts ...Option) (*Pipe, error) {
	if runtime.GOOS == "windows" {
		return nil, ErrUnsupportedPlatform
	}
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("pipe: empty name")
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	path := name
	if !o.customDir {
		runtimeDir := os.Getenv("XDG_RUNTIME_DIR")
		if runtimeDir == "" {
			return nil, fmt.Errorf("pipe: bind %s: %w", name, ErrRuntimeDirUnset)
		}
		path = filepath.Join(runtimeDir, name)
	}

	if err := o.names.Register(name); err != nil {
		return nil, err
	}
	listener, err := net.Listen("unix", path)
	if err != nil {
		o.names.Unregister(name)
		return nil, fmt.Errorf("pipe: bind %s: %w", path, err)
	}

	self := address.New(path)
	b := bus.New[*message.Message]()

	p := &Pipe{
		name:      name,
		self:      self,
		listener:  listener,
		bus:       b,
		engine:    callback.NewEngine(b, o.logger),
		names:     o.names,
		directory: o.directory,
		chain:     middleware.Chain(o.middlewares...),
		logger:    o.logger,
	}
	p.registry = transport.NewRegistry(self, b.Publish, o.logger)

	if p.directory != nil {
		// Advisory: a pipe that cannot announce itself still works for
		// peers that know its path.
		if err := p.directory.Announce(name, path, directoryTTL); err != nil {
			p.logger.Warn("directory announce failed",
				zap.String("pipe", name), zap.Error(err))
		}
	}

	go p.acceptLoop()

	p.logger.Info("pipe bound", zap.String("pipe", name), zap.String("path", path))
	return p, nil
}

// Name returns the pipe's registered name.
func (p *Pipe) Name() string {
	return p.name
}

// Address returns the pipe's own listening address.
func (p *Pipe) Address() address.Address {
	return p.self
}

// ConnectTo dials the peer now instead of lazily on the first Send.
// Dialing an already connected address reuses the existing connection.
func (p *Pipe) ConnectTo(to address.Address) error {
	if p.closed.Load() {
		return ErrClosed
	}
	_, err := p.registry.Dial(to)
	return err
}

// Send delivers m to the pipe listening on to, dialing first if needed.
// The message is stamped with this pipe's own address so the receiver knows
// where it came from. A failed connect or write is the send outcome; there
// is no automatic retry.
func (p *Pipe) Send(to address.Address, m *message.Message) error {
	if p.closed.Load() {
		return ErrClosed
	}
	conn, err := p.registry.Dial(to)
	if err != nil {
		return err
	}
	m.RemoteAddress = p.self
	return conn.WriteMessage(m)
}

// SendExpectReply sends m with a fresh correlation id attached and returns
// the handle to wait on. When the send itself fails, the correlation record
// is withdrawn and no handle is returned.
func (p *Pipe) SendExpectReply(to address.Address, m *message.Message) (*callback.Pending, error) {
	if p.closed.Load() {
		return nil, ErrClosed
	}
	pending := p.engine.Expect(to)
	m.CallbackID = pending.ID
	if err := p.Send(to, m); err != nil {
		p.engine.Abort(pending)
		return nil, err
	}
	return pending, nil
}

// WaitReply blocks until the reply for pending arrives or timeout elapses
// (non-positive means callback.DefaultWaitTimeout). The result is always a
// reply message; a timeout yields the synthetic error reply described in
// package callback.
func (p *Pipe) WaitReply(pending *callback.Pending, timeout time.Duration) *message.Message {
	return p.engine.Wait(pending, timeout)
}

// ReceiveOption adjusts one Receive subscription.
type ReceiveOption func(*receiveOptions)

type receiveOptions struct {
	allowReplies bool
}

// AllowReplies also delivers callback-reply frames to the handler. By
// default they are filtered out, since replies are consumed by the callback
// engine.
func AllowReplies() ReceiveOption {
	return func(o *receiveOptions) { o.allowReplies = true }
}

// Receive invokes handler for every message received from the given peer
// address, wrapped in the pipe's middleware chain. Handlers run on the
// delivering connection's read loop. The returned subscription can be passed
// to StopReceiving.
func (p *Pipe) Receive(from address.Address, handler middleware.Handler, opts ...ReceiveOption) *bus.Subscription[*message.Message] {
	var o receiveOptions
	for _, opt := range opts {
		opt(&o)
	}

	wrapped := p.chain(handler)
	return p.bus.Subscribe(func(m *message.Message) bool {
		if !m.RemoteAddress.Equal(from) {
			return false
		}
		if !o.allowReplies && m.Type() == message.TypeCallbackReply {
			return false
		}
		return true
	}, func(m *message.Message) {
		wrapped(m)
	})
}

// ReceiveAll is Receive without the sender filter: handler runs for every
// message from every peer. Callback replies are still excluded unless
// AllowReplies is given.
func (p *Pipe) ReceiveAll(handler middleware.Handler, opts ...ReceiveOption) *bus.Subscription[*message.Message] {
	var o receiveOptions
	for _, opt := range opts {
		opt(&o)
	}

	wrapped := p.chain(handler)
	return p.bus.Subscribe(func(m *message.Message) bool {
		return o.allowReplies || m.Type() != message.TypeCallbackReply
	}, func(m *message.Message) {
		wrapped(m)
	})
}

// StopReceiving removes a single Receive subscription.
func (p *Pipe) StopReceiving(sub *bus.Subscription[*message.Message]) {
	p.bus.Unsubscribe(sub)
}

// ConnectedFromAddresses lists the verified addresses of peers that dialed
// this pipe, sorted.
func (p *Pipe) ConnectedFromAddresses() []address.Address {
	return p.registry.InboundAddresses()
}

// ConnectedToAddresses lists the addresses this pipe has dialed, sorted.
func (p *Pipe) ConnectedToAddresses() []address.Address {
	return p.registry.OutboundAddresses()
}

// Clean tears the pipe down: drops all subscriptions, closes every
// connection, withdraws the directory entry, releases the name and closes
// the listening socket (which also unlinks the socket file). The pipe is
// permanently inert afterwards; Clean is idempotent.
func (p *Pipe) Clean() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	p.bus.Clear()
	p.registry.CloseAll()
	if p.directory != nil {
		if err := p.directory.Withdraw(p.name); err != nil {
			p.logger.Warn("directory withdraw failed",
				zap.String("pipe", p.name), zap.Error(err))
		}
	}
	p.names.Unregister(p.name)
	p.listener.Close()
	p.logger.Info("pipe cleaned", zap.String("pipe", p.name))
}

// acceptLoop runs until the listener closes, handing each accepted socket
// to the registry for its handshake.
func (p *Pipe) acceptLoop() {
	for {
		conn, err := p.listener.Accept()
		if err != nil {
			if !p.closed.Load() {
				p.logger.Error("accept failed", zap.String("pipe", p.name), zap.Error(err))
			}
			return
		}
		go p.registry.AcceptInbound(conn)
	}
}
