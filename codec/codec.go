// Package codec implements the text wire format for pipe frames.
//
// A frame is a single UTF-8 line:
//
//	<name> "<key>":"<value>"; "<key>":"<value>"; ...
//
// The name token ends at the first unescaped space; internal spaces in the
// name are written as `\-`. Inside keys and values the characters `"`, `:`
// and `;` are escaped by a `\` prefix, so an unescaped `;` always terminates
// one argument pair and an unescaped `:` always separates key from value.
// A bare `\` that does not precede a reserved character is literal and
// survives a round-trip unchanged.
//
// The transport's reserved argument keys (sender address, callback id,
// callback kind) are injected by Encode from the Message fields and stripped
// back into them by Decode; they never show up in the application-visible
// Args map.
//
// Decode is deliberately lenient: a frame with no space or no valid argument
// pair yields a best-effort Message with empty Args rather than an error, so
// one malformed frame cannot kill a session.
package codec

import (
	"errors"
	"sort"
	"strings"

	"github.com/google/uuid"

	"msgpipe/address"
	"msgpipe/message"
)

// ErrEmptyName is returned by Encode for a message without a name.
var ErrEmptyName = errors.New("codec: message name is empty")

// Encode serializes m into a single wire frame, without a trailing newline.
// The message name must be non-empty.
func Encode(m *message.Message) (string, error) {
	if m.Name == "" {
		return "", ErrEmptyName
	}

	var b strings.Builder
	b.WriteString(escapeName(m.Name))

	writePair := func(k, v string) {
		b.WriteByte(' ')
		b.WriteByte('"')
		b.WriteString(escapeArg(k))
		b.WriteString(`":"`)
		b.WriteString(escapeArg(v))
		b.WriteString(`";`)
	}

	// Reserved keys first: sender address, then correlation id, then the
	// reply kind (replies only).
	if path, ok := m.RemoteAddress.Get(); ok {
		writePair(message.AddressKey, path)
	}
	if m.CallbackID != uuid.Nil {
		writePair(message.CallbackIDKey, m.CallbackID.String())
	}
	if m.Type() == message.TypeCallbackReply {
		writePair(message.CallbackKindKey, m.Kind.Wire())
	}

	// Application args in sorted key order so encoding is deterministic.
	keys := make([]string, 0, len(m.Args))
	for k := range m.Args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		writePair(k, m.Args[k])
	}

	return b.String(), nil
}

// Decode parses one complete frame back into a Message.
//
// Steps: split the name off at the first unescaped space, split the
// remainder on unescaped `;`, split each pair on its first unescaped `:`,
// strip the surrounding quotes, unescape. Reserved keys are popped out of
// the arg map into the Message fields. Malformed input degrades to a
// Message with empty Args; Decode never fails.
func Decode(frame string) *message.Message {
	frame = strings.TrimSpace(frame)

	var name, rest string
	if sp := strings.IndexByte(frame, ' '); sp >= 0 {
		name, rest = frame[:sp], frame[sp+1:]
	} else {
		name = frame
	}

	args := make(map[string]string)
	for _, pair := range splitUnescaped(rest, ';') {
		ci := indexUnescaped(pair, ':')
		if ci < 0 {
			continue
		}
		k := unescapeArg(stripQuotes(strings.TrimSpace(pair[:ci])))
		v := unescapeArg(stripQuotes(strings.TrimSpace(pair[ci+1:])))
		if k == "" {
			continue
		}
		args[k] = v
	}

	m := message.New(unescapeName(name), args)

	// Strip the transport-reserved keys back into their fields.
	if path, ok := args[message.AddressKey]; ok {
		m.RemoteAddress = address.New(path)
		delete(args, message.AddressKey)
	}
	if raw, ok := args[message.CallbackIDKey]; ok {
		// A garbled id degrades to "no correlation" rather than an error.
		if id, err := uuid.Parse(raw); err == nil {
			m.CallbackID = id
		}
		delete(args, message.CallbackIDKey)
	}
	if raw, ok := args[message.CallbackKindKey]; ok {
		m.Kind = message.ParseKind(raw)
		delete(args, message.CallbackKindKey)
	}

	return m
}

// escapeArg prefixes `"`, `:` and `;` with a backslash. A backslash itself
// is not escaped; see the package comment for the trailing-backslash rule.
func escapeArg(s string) string {
	if !strings.ContainsAny(s, `":;`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 4)
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"', ':', ';':
			b.WriteByte('\\')
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// unescapeArg reverses escapeArg: a backslash immediately before `"`, `:`
// or `;` is dropped; any other backslash is kept as-is.
func unescapeArg(s string) string {
	if !strings.ContainsRune(s, '\\') {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			switch s[i+1] {
			case '"', ':', ';':
				b.WriteByte(s[i+1])
				i++
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// escapeName writes internal spaces as `\-` so the name token never
// contains an unescaped space.
func escapeName(s string) string {
	return strings.ReplaceAll(s, " ", `\-`)
}

// unescapeName turns `\-` back into a space.
func unescapeName(s string) string {
	return strings.ReplaceAll(s, `\-`, " ")
}

// stripQuotes removes one pair of surrounding double quotes, if present.
func stripQuotes(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

// indexUnescaped returns the index of the first sep not preceded by a
// backslash, or -1.
func indexUnescaped(s string, sep byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == sep && (i == 0 || s[i-1] != '\\') {
			return i
		}
	}
	return -1
}

// splitUnescaped splits s on every unescaped sep, dropping empty segments
// (the encoder terminates every pair with sep, so the tail is empty).
func splitUnescaped(s string, sep byte) []string {
	var parts []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == sep && (i == 0 || s[i-1] != '\\') {
			if i > start {
				parts = append(parts, s[start:i])
			}
			start = i + 1
		}
	}
	if start < len(s) {
		parts = append(parts, s[start:])
	}
	return parts
}
