// Package transport implements connection bookkeeping for a single pipe:
// dialing with reuse, the hello handshake on accepted sockets, and one read
// loop per connection.
//
//	Dial(addr)  ──→ reuse registered conn, or connect + send hello + register
//	Accept(raw) ──→ await hello (5s) → bind to verified peer address → register
//
// Every registered connection runs a read loop that decodes one frame per
// line and hands it to the registry's sink (the pipe's event bus). Frames
// from one connection reach the sink in socket order; there is no ordering
// across connections.
package transport

import (
	"bufio"
	"net"
	"sync"

	"go.uber.org/zap"

	"msgpipe/address"
	"msgpipe/codec"
	"msgpipe/message"
)

// Direction tells how a connection came to exist.
type Direction int

const (
	// Inbound connections were accepted and passed the hello handshake.
	Inbound Direction = iota
	// Outbound connections were dialed by this pipe.
	Outbound
)

func (d Direction) String() string {
	if d == Inbound {
		return "inbound"
	}
	return "outbound"
}

// Conn is one registered socket connection bound to a peer address.
type Conn struct {
	raw  net.Conn
	rd   *bufio.Reader
	peer address.Address
	dir  Direction

	// writeMu serializes frame writes; without it concurrent sends would
	// interleave bytes of different frames on the stream.
	writeMu sync.Mutex

	closeOnce sync.Once
	onClose   func(*Conn)
	logger    *zap.Logger
}

func newConn(raw net.Conn, rd *bufio.Reader, peer address.Address, dir Direction, onClose func(*Conn), logger *zap.Logger) *Conn {
	return &Conn{
		raw:     raw,
		rd:      rd,
		peer:    peer,
		dir:     dir,
		onClose: onClose,
		logger:  logger,
	}
}

// Peer returns the verified address of the other end.
func (c *Conn) Peer() address.Address {
	return c.peer
}

// Direction reports whether the connection was accepted or dialed.
func (c *Conn) Direction() Direction {
	return c.dir
}

// WriteMessage encodes m and writes it as one newline-terminated frame.
func (c *Conn) WriteMessage(m *message.Message) error {
	frame, err := codec.Encode(m)
	if err != nil {
		return err
	}
	return c.writeFrame(frame)
}

func (c *Conn) writeFrame(frame string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.raw.Write(append([]byte(frame), '\n'))
	return err
}

// Close shuts the socket down and runs the registry's close observer.
// Idempotent; every exit path of the read loop funnels through here.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.raw.Close()
		if c.onClose != nil {
			c.onClose(c)
		}
	})
	return err
}

// readLoop reads frames until the socket dies, decoding each line and
// handing the message to sink. Runs on its own goroutine, one per
// connection. A message whose frame carried no sender address is stamped
// with the connection's verified peer address.
func (c *Conn) readLoop(sink func(*message.Message)) {
	defer c.Close()
	for {
		line, err := c.rd.ReadString('\n')
		if err != nil {
			c.logger.Debug("connection read loop ended",
				zap.String("peer", c.peer.GetOrDefault("<none>")),
				zap.String("direction", c.dir.String()),
				zap.Error(err))
			return
		}
		m := codec.Decode(line)
		if !m.RemoteAddress.Valid() {
			m.RemoteAddress = c.peer
		}
		sink(m)
	}
}
