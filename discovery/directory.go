// Package discovery lets pipes publish where they listen.
//
// A Directory maps pipe names to socket paths, so a process that wants to
// reach "worker-3" does not need the path hard-coded. Discovery is advisory:
// it has no part in duplicate-name enforcement (that stays in-process) or in
// the handshake — it only answers "which path does this name listen on".
package discovery

import "errors"

// ErrNotFound is returned by Lookup for a name no pipe has announced.
var ErrNotFound = errors.New("discovery: pipe not found")

// Directory is the pipe name → socket path registry.
type Directory interface {
	// Announce publishes that the named pipe listens on socketPath.
	// ttl is in seconds; implementations that support expiry renew the
	// entry until Withdraw is called.
	Announce(name, socketPath string, ttl int64) error

	// Withdraw removes the entry for name.
	Withdraw(name string) error

	// Lookup returns the socket path announced for name.
	Lookup(name string) (string, error)

	// Watch emits the current socket path for name whenever it changes;
	// an empty string means the entry disappeared.
	Watch(name string) <-chan string
}
