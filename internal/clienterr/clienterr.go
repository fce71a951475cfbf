// Package clienterr holds the sentinel errors shared across the
// transport and flow orchestrators, so callers can use errors.Is
// regardless of which layer actually produced the failure.
package clienterr

import "errors"

var (
	// ErrVersionMismatch means the server's handshake version did not
	// match the configured Session.Version. Fatal: the connection is
	// unusable.
	ErrVersionMismatch = errors.New("clienterr: server version mismatch")

	// ErrUnexpectedHandshakeOpcode means the first post-dial frame
	// was not RequestVersion. Fatal.
	ErrUnexpectedHandshakeOpcode = errors.New("clienterr: unexpected handshake opcode")

	// ErrConnectionClosed is returned by waiters cancelled by Dispose.
	ErrConnectionClosed = errors.New("clienterr: connection closed")

	// ErrNotConnected is returned by Send after Dispose.
	ErrNotConnected = errors.New("clienterr: session not connected")

	// ErrTimeout is returned by a Waiter whose deadline elapsed before
	// a matching packet arrived.
	ErrTimeout = errors.New("clienterr: wait timed out")

	// ErrMigrationFailed means the server reported a non-zero
	// migrationError during login-to-game migration or field entry.
	ErrMigrationFailed = errors.New("clienterr: migration failed")

	// ErrInvalidArgument means a caller-supplied argument violated a
	// precondition (e.g. AttackTarget given fewer target ids than
	// targetCount).
	ErrInvalidArgument = errors.New("clienterr: invalid argument")

	// ErrMultiCharacterUnsupported is returned by Login when the
	// character list advertises more than one character: only the first
	// entry can be parsed, and no option exists to parse the rest.
	ErrMultiCharacterUnsupported = errors.New("clienterr: account has more than one character, only the first is supported")
)
