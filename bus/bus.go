// Package bus provides a small synchronous multicast bus.
//
// Subscribers register a filter plus a handler; Publish invokes, on the
// caller's goroutine, the handler of every subscription whose filter accepts
// the value. The pipe uses one Bus per endpoint to fan received messages out
// to Receive handlers and to the callback engine.
package bus

import "sync"

// Filter decides whether a subscription wants a published value.
// A nil filter accepts everything.
type Filter[T any] func(T) bool

// Handler consumes a published value.
type Handler[T any] func(T)

// Subscription is the handle returned by Subscribe, used to unsubscribe.
type Subscription[T any] struct {
	filter  Filter[T]
	handler Handler[T]
}

// Bus is a synchronous multicast bus. The zero value is not usable; use New.
type Bus[T any] struct {
	mu   sync.RWMutex
	subs []*Subscription[T]
}

// New creates an empty bus.
func New[T any]() *Bus[T] {
	return &Bus[T]{}
}

// Subscribe registers a handler behind a filter and returns its handle.
// Handlers are invoked in subscription order.
func (b *Bus[T]) Subscribe(filter Filter[T], handler Handler[T]) *Subscription[T] {
	sub := &Subscription[T]{filter: filter, handler: handler}
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes a subscription. Unknown or already removed handles are
// ignored, so double-unsubscribe is harmless.
func (b *Bus[T]) Unsubscribe(sub *Subscription[T]) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	for i, s := range b.subs {
		if s == sub {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			break
		}
	}
	b.mu.Unlock()
}

// Publish delivers v to every subscription whose filter accepts it, on the
// calling goroutine. The subscriber list is snapshotted first, so handlers
// may subscribe or unsubscribe without deadlocking; such changes take effect
// for the next Publish.
func (b *Bus[T]) Publish(v T) {
	b.mu.RLock()
	snapshot := make([]*Subscription[T], len(b.subs))
	copy(snapshot, b.subs)
	b.mu.RUnlock()

	for _, s := range snapshot {
		if s.filter == nil || s.filter(v) {
			s.handler(v)
		}
	}
}

// Clear drops every subscription.
func (b *Bus[T]) Clear() {
	b.mu.Lock()
	b.subs = nil
	b.mu.Unlock()
}

// Len returns the number of live subscriptions.
func (b *Bus[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
