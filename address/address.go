// Package address defines the Address value type that identifies pipe endpoints.
//
// An Address wraps a socket path string. Construction normalizes the raw
// input once (trim surrounding whitespace, replace '\' with '/'), and every
// comparison afterwards operates on the normalized form. An Address built
// from an empty or whitespace-only string is invalid — Get reports it as
// absent rather than returning an empty path.
package address

import "strings"

// Address is an immutable, normalized socket path. The zero value is invalid.
//
// Address deliberately has no String method: code that needs a printable form
// must call Get or GetOrDefault, so an invalid address can never leak into a
// log line or a wire frame as an empty string.
type Address struct {
	normalized string
	valid      bool
}

// New builds an Address from a raw path string.
// Normalization: trim whitespace, then replace every '\' with '/'.
// An empty (or whitespace-only) raw string yields an invalid Address.
func New(raw string) Address {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Address{}
	}
	return Address{
		normalized: strings.ReplaceAll(trimmed, `\`, "/"),
		valid:      true,
	}
}

// Get returns the normalized path and whether the address is valid.
func (a Address) Get() (string, bool) {
	return a.normalized, a.valid
}

// GetOrDefault returns the normalized path, or placeholder for an invalid
// address. Intended for diagnostics where "<none>" beats a silent empty string.
func (a Address) GetOrDefault(placeholder string) string {
	if !a.valid {
		return placeholder
	}
	return a.normalized
}

// Valid reports whether the address carries a usable path.
func (a Address) Valid() bool {
	return a.valid
}

// Equal reports whether two addresses have the same normalized path.
// Two invalid addresses compare equal. Since Address stores only the
// normalized form, Equal is the same as ==; it exists for readability
// at call sites.
func (a Address) Equal(b Address) bool {
	return a == b
}

// Less orders addresses by normalized path, invalid before valid.
// Used to produce stable peer listings.
func (a Address) Less(b Address) bool {
	if a.valid != b.valid {
		return !a.valid
	}
	return a.normalized < b.normalized
}
