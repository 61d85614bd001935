// Package callback implements reply correlation for pipes.
//
// A sender that wants an answer registers a Pending record before the
// message leaves: Expect draws a fresh correlation id and subscribes a
// matcher on the pipe's bus. When a reply frame with the same (address, id)
// pair arrives, the matcher resolves the record exactly once and
// unsubscribes itself, so later unrelated frames can never leak into an
// already answered wait. Wait blocks the caller on the record until the
// reply lands or the timeout fires; a timeout is surfaced as a synthetic
// error-kind reply, never as an error value, so "peer replied with error"
// and "no reply arrived" come back through the same type.
//
// A reply that matches no live record is simply not matched by any
// subscription — it can legitimately arrive after its waiter timed out.
package callback

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"msgpipe/address"
	"msgpipe/bus"
	"msgpipe/message"
)

// DefaultWaitTimeout is used by Wait when the caller passes no positive
// timeout.
const DefaultWaitTimeout = 2 * time.Second

// Payload of the synthetic reply Wait fabricates on timeout. This payload
// convention is the only way to tell a local timeout from a genuine peer
// error reply.
const (
	TimeoutErrorKey  = "error"
	TimeoutErrorText = "callback wait timed out"
)

// Pending is one in-flight correlation record, owned by the engine from
// Expect until resolution.
type Pending struct {
	ID        uuid.UUID
	Target    address.Address
	CreatedAt time.Time

	result chan *message.Message
	sub    *bus.Subscription[*message.Message]
}

// pendingKey addresses a record by (target address, correlation id), not by
// connection: a reply may arrive after the socket it relates to is gone.
type pendingKey struct {
	addr string
	id   uuid.UUID
}

// Engine owns the pending-callback table of one pipe.
type Engine struct {
	bus    *bus.Bus[*message.Message]
	logger *zap.Logger

	mu      sync.Mutex
	pending map[pendingKey]*Pending
}

// NewEngine creates an engine matching replies published on b.
func NewEngine(b *bus.Bus[*message.Message], logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		bus:     b,
		logger:  logger,
		pending: make(map[pendingKey]*Pending),
	}
}

// Expect registers a fresh correlation record for a message about to be sent
// to target, and returns the handle the caller will later Wait on. The
// caller must stamp the returned ID onto the outgoing message.
func (e *Engine) Expect(target address.Address) *Pending {
	p := &Pending{
		ID:        uuid.New(),
		Target:    target,
		CreatedAt: time.Now(),
		result:    make(chan *message.Message, 1),
	}
	k := e.keyOf(p)

	e.mu.Lock()
	e.pending[k] = p
	e.mu.Unlock()

	p.sub = e.bus.Subscribe(func(m *message.Message) bool {
		return m.Type() == message.TypeCallbackReply &&
			m.CallbackID == p.ID &&
			m.RemoteAddress.Equal(target)
	}, func(m *message.Message) {
		e.resolve(k, p, m)
	})

	return p
}

// Wait blocks until the reply for p arrives or timeout elapses (a
// non-positive timeout means DefaultWaitTimeout). On timeout the record is
// withdrawn and a synthetic error reply is returned; callers always get a
// message, never nil.
func (e *Engine) Wait(p *Pending, timeout time.Duration) *message.Message {
	if timeout <= 0 {
		timeout = DefaultWaitTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case m := <-p.result:
		return m
	case <-timer.C:
		e.withdraw(p)
		// A reply may have resolved the record between the timer firing
		// and the withdrawal; prefer it over the synthetic result.
		select {
		case m := <-p.result:
			return m
		default:
		}
		e.logger.Debug("callback wait timed out",
			zap.String("id", p.ID.String()),
			zap.String("target", p.Target.GetOrDefault("<none>")))
		return e.syntheticTimeout(p)
	}
}

// Abort withdraws a record whose message never made it onto the wire.
func (e *Engine) Abort(p *Pending) {
	e.withdraw(p)
}

// PendingCount returns the number of unresolved records.
func (e *Engine) PendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// resolve delivers m to the waiter. The table entry guards exactly-once
// resolution: whoever removes the entry owns the delivery.
func (e *Engine) resolve(k pendingKey, p *Pending, m *message.Message) {
	e.mu.Lock()
	if e.pending[k] != p {
		// Already resolved or withdrawn; drop the duplicate match.
		e.mu.Unlock()
		return
	}
	delete(e.pending, k)
	e.mu.Unlock()

	// Unsubscribe immediately so no later frame can match this record.
	e.bus.Unsubscribe(p.sub)
	p.result <- m
}

func (e *Engine) withdraw(p *Pending) {
	k := e.keyOf(p)
	e.mu.Lock()
	if e.pending[k] == p {
		delete(e.pending, k)
	}
	e.mu.Unlock()
	e.bus.Unsubscribe(p.sub)
}

func (e *Engine) syntheticTimeout(p *Pending) *message.Message {
	m := message.NewReply(p.ID, message.KindError, map[string]string{
		TimeoutErrorKey: TimeoutErrorText,
	})
	m.RemoteAddress = p.Target
	return m
}

func (e *Engine) keyOf(p *Pending) pendingKey {
	return pendingKey{addr: p.Target.GetOrDefault(""), id: p.ID}
}
