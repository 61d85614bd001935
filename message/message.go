// Package message defines the Message structure exchanged between pipes.
//
// Message is the "envelope" for every exchange. It gets serialized by the
// codec layer into a single text frame and written to a Unix-domain socket.
//
//   - Normal message:  Name is an application identifier, Args carry the data.
//     CallbackID is set when the sender expects a reply to this exact message.
//   - Callback reply:  Name is the reserved ReplyName, CallbackID echoes the
//     id of the message being answered, Kind classifies the outcome.
package message

import (
	"github.com/google/uuid"

	"msgpipe/address"
)

// Reserved frame names and argument keys. The transport injects and strips
// these on the wire; they never appear in a decoded Message's Args map and
// applications must not reuse them.
const (
	// HelloName is the name of the mandatory first frame on a new connection,
	// carrying the dialer's own listening address.
	HelloName = "pipe/hello"

	// ReplyName is the name of every callback-reply frame. A message is a
	// reply if and only if it carries this name together with a callback id.
	ReplyName = "pipe/callback-reply"

	// AddressKey carries the sender's own listening address on every frame.
	AddressKey = "pipe-address"

	// CallbackIDKey carries the correlation id, on both the originating
	// message and its reply.
	CallbackIDKey = "pipe-callback-id"

	// CallbackKindKey carries the reply outcome, present only on reply frames.
	CallbackKindKey = "pipe-callback-kind"
)

// Type distinguishes ordinary messages from callback replies.
type Type int

const (
	TypeNormal Type = iota
	TypeCallbackReply
)

// ReplyKind classifies the outcome a reply reports.
// It is meaningful only on messages of TypeCallbackReply.
type ReplyKind int

const (
	KindUnspecified ReplyKind = iota
	KindSuccess
	KindError
)

// Wire spellings of ReplyKind.
const (
	kindUnspecifiedWire = "unspecified"
	kindSuccessWire     = "success"
	kindErrorWire       = "error"
)

// Wire returns the wire spelling of the kind.
func (k ReplyKind) Wire() string {
	switch k {
	case KindSuccess:
		return kindSuccessWire
	case KindError:
		return kindErrorWire
	default:
		return kindUnspecifiedWire
	}
}

// ParseKind maps a wire spelling back to a ReplyKind.
// Unknown spellings decode to KindUnspecified (the decoder is lenient).
func ParseKind(s string) ReplyKind {
	switch s {
	case kindSuccessWire:
		return KindSuccess
	case kindErrorWire:
		return KindError
	default:
		return KindUnspecified
	}
}

// Message carries the data for a single exchange between two pipes.
type Message struct {
	// Name identifies the message. Must be non-empty; internal spaces are
	// legal and get escaped on the wire.
	Name string

	// Args is the application payload: unique string keys to string values,
	// order irrelevant. Reserved keys never appear here.
	Args map[string]string

	// RemoteAddress is the sender's listening address. The transport stamps
	// it before sending and the decoder restores it on receipt; applications
	// never set it themselves.
	RemoteAddress address.Address

	// CallbackID correlates a reply to the message that requested it.
	// uuid.Nil means no correlation.
	CallbackID uuid.UUID

	// Kind is the reply outcome. Meaningful only when Type() is
	// TypeCallbackReply.
	Kind ReplyKind
}

// New builds an ordinary message. A nil args map is replaced by an empty one
// so callers can always range over Args.
func New(name string, args map[string]string) *Message {
	if args == nil {
		args = make(map[string]string)
	}
	return &Message{Name: name, Args: args}
}

// NewReply builds a callback reply answering the given correlation id.
func NewReply(id uuid.UUID, kind ReplyKind, args map[string]string) *Message {
	m := New(ReplyName, args)
	m.CallbackID = id
	m.Kind = kind
	return m
}

// Reply builds a callback reply answering this message. It returns nil when
// the message carries no correlation id (the sender did not ask for one).
func (m *Message) Reply(kind ReplyKind, args map[string]string) *Message {
	if m.CallbackID == uuid.Nil {
		return nil
	}
	return NewReply(m.CallbackID, kind, args)
}

// Type derives the message type: TypeCallbackReply iff the message carries
// the reserved reply name together with a correlation id.
func (m *Message) Type() Type {
	if m.Name == ReplyName && m.CallbackID != uuid.Nil {
		return TypeCallbackReply
	}
	return TypeNormal
}

// ExpectsReply reports whether this is an ordinary message that carries a
// correlation id, i.e. the sender is waiting for an answer to it.
func (m *Message) ExpectsReply() bool {
	return m.Type() == TypeNormal && m.CallbackID != uuid.Nil
}
