package transport

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"msgpipe/address"
	"msgpipe/codec"
	"msgpipe/message"
)

const (
	// DialTimeout bounds the connect attempt of an outbound connection.
	DialTimeout = 5 * time.Second
	// HandshakeTimeout bounds how long an accepted socket may take to
	// deliver its hello frame before it is dropped.
	HandshakeTimeout = 5 * time.Second
)

var (
	// ErrConnect wraps every failed outbound connection attempt.
	ErrConnect = errors.New("transport: connect failed")
	// ErrRegistryClosed is returned by Dial after CloseAll.
	ErrRegistryClosed = errors.New("transport: registry closed")
)

// Registry tracks every live connection of one pipe: accepted connections in
// the inbound set, dialed connections in the outbound map keyed by the
// normalized peer address. At most one outbound connection exists per
// address. The inbound and outbound sides are never merged, so when two
// pipes dial each other simultaneously, each ends up with one socket in each
// map — a known, accepted race.
type Registry struct {
	self   address.Address
	sink   func(*message.Message)
	logger *zap.Logger

	// group collapses concurrent Dial calls for the same address into one
	// connect + handshake.
	group singleflight.Group

	// handshakeTimeout defaults to HandshakeTimeout; tests shorten it.
	handshakeTimeout time.Duration

	mu       sync.Mutex
	inbound  map[*Conn]struct{}
	outbound map[string]*Conn
	closed   bool
}

// NewRegistry creates the registry for a pipe listening on self. Every
// decoded frame from every registered connection is passed to sink.
func NewRegistry(self address.Address, sink func(*message.Message), logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		self:             self,
		sink:             sink,
		logger:           logger,
		handshakeTimeout: HandshakeTimeout,
		inbound:          make(map[*Conn]struct{}),
		outbound:         make(map[string]*Conn),
	}
}

// Dial returns the registered outbound connection for addr, dialing and
// performing the hello handshake first if none exists. Concurrent calls for
// the same address share one connect attempt and receive the same *Conn.
func (r *Registry) Dial(addr address.Address) (*Conn, error) {
	path, ok := addr.Get()
	if !ok {
		return nil, fmt.Errorf("%w: invalid address", ErrConnect)
	}

	// Fast path: already connected.
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRegistryClosed
	}
	if c, ok := r.outbound[path]; ok {
		r.mu.Unlock()
		return c, nil
	}
	r.mu.Unlock()

	v, err, _ := r.group.Do(path, func() (any, error) {
		return r.dialLocked(addr, path)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Conn), nil
}

// dialLocked performs the actual connect, hello send and registration.
// Runs inside the singleflight group, so at most once per address at a time.
func (r *Registry) dialLocked(addr address.Address, path string) (*Conn, error) {
	// Recheck under the lock: a racing Dial may have registered the
	// connection between the fast path and the group call.
	r.mu.Lock()
	if c, ok := r.outbound[path]; ok {
		r.mu.Unlock()
		return c, nil
	}
	r.mu.Unlock()

	raw, err := net.DialTimeout("unix", path, DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrConnect, path, err)
	}

	c := newConn(raw, bufio.NewReader(raw), addr, Outbound, func(c *Conn) {
		r.mu.Lock()
		if r.outbound[path] == c {
			delete(r.outbound, path)
		}
		r.mu.Unlock()
	}, r.logger)

	// The dialing side speaks first: a hello frame carrying our own
	// listening address, so the acceptor can bind this connection to it.
	hello := message.New(message.HelloName, nil)
	hello.RemoteAddress = r.self
	if err := c.WriteMessage(hello); err != nil {
		raw.Close()
		return nil, fmt.Errorf("%w: hello to %s: %v", ErrConnect, path, err)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		raw.Close()
		return nil, ErrRegistryClosed
	}
	r.outbound[path] = c
	r.mu.Unlock()

	// Replies to our sends come back on this same socket.
	go c.readLoop(r.sink)

	r.logger.Debug("outbound connection established", zap.String("peer", path))
	return c, nil
}

// AcceptInbound runs the accepting side of the handshake on a freshly
// accepted socket. The first frame must arrive within HandshakeTimeout and
// must be a hello carrying a valid address; anything else closes the socket
// without it ever becoming visible to the application.
func (r *Registry) AcceptInbound(raw net.Conn) {
	if err := raw.SetReadDeadline(time.Now().Add(r.handshakeTimeout)); err != nil {
		raw.Close()
		return
	}

	// The reader is created before the handshake and reused by the read
	// loop, so frames buffered behind the hello are not lost.
	rd := bufio.NewReader(raw)
	line, err := rd.ReadString('\n')
	if err != nil {
		r.logger.Debug("handshake failed, dropping connection", zap.Error(err))
		raw.Close()
		return
	}

	hello := codec.Decode(line)
	if hello.Name != message.HelloName || !hello.RemoteAddress.Valid() {
		r.logger.Debug("first frame is not a valid hello, dropping connection",
			zap.String("name", hello.Name))
		raw.Close()
		return
	}
	if err := raw.SetReadDeadline(time.Time{}); err != nil {
		raw.Close()
		return
	}

	c := newConn(raw, rd, hello.RemoteAddress, Inbound, func(c *Conn) {
		r.mu.Lock()
		delete(r.inbound, c)
		r.mu.Unlock()
	}, r.logger)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		raw.Close()
		return
	}
	r.inbound[c] = struct{}{}
	r.mu.Unlock()

	r.logger.Debug("inbound connection bound",
		zap.String("peer", hello.RemoteAddress.GetOrDefault("<none>")))
	go c.readLoop(r.sink)
}

// CloseAll closes every registered connection and empties both maps.
// Subsequent Dial calls fail with ErrRegistryClosed. Idempotent.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	conns := make([]*Conn, 0, len(r.inbound)+len(r.outbound))
	for c := range r.inbound {
		conns = append(conns, c)
	}
	for _, c := range r.outbound {
		conns = append(conns, c)
	}
	r.inbound = make(map[*Conn]struct{})
	r.outbound = make(map[string]*Conn)
	r.mu.Unlock()

	// Close outside the lock: each Close runs the conn's close observer,
	// which takes the lock again to deregister (and finds nothing).
	for _, c := range conns {
		c.Close()
	}
}

// InboundAddresses lists the verified addresses of all accepted
// connections, sorted.
func (r *Registry) InboundAddresses() []address.Address {
	r.mu.Lock()
	addrs := make([]address.Address, 0, len(r.inbound))
	for c := range r.inbound {
		addrs = append(addrs, c.Peer())
	}
	r.mu.Unlock()
	sortAddresses(addrs)
	return addrs
}

// OutboundAddresses lists the addresses of all dialed connections, sorted.
func (r *Registry) OutboundAddresses() []address.Address {
	r.mu.Lock()
	addrs := make([]address.Address, 0, len(r.outbound))
	for _, c := range r.outbound {
		addrs = append(addrs, c.Peer())
	}
	r.mu.Unlock()
	sortAddresses(addrs)
	return addrs
}

func sortAddresses(addrs []address.Address) {
	sort.Slice(addrs, func(i, j int) bool { return addrs[i].Less(addrs[j]) })
}
