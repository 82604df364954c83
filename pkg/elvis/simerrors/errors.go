// Package simerrors declares the sentinel errors the core surfaces,
// in the teacher's style of one package-level `var Err... = errors.New(...)`
// per failure mode (see protocol.go's ErrUnsupportedProtocol and
// state_machine.go's ErrCommandUnknown), checked by callers with
// errors.Is rather than type assertions.
package simerrors

import "errors"

var (
	// FrameTooLarge is returned synchronously to a send-path caller
	// when a payload exceeds the downstream MTU.
	FrameTooLarge = errors.New("elvis: frame exceeds network MTU")

	// NoRoute is returned when no routing or demux entry matches a
	// destination.
	NoRoute = errors.New("elvis: no route to destination")

	// BadChecksum marks a received header that failed validation.
	// Per the error handling policy, this never propagates to a
	// caller; it is recorded for the silent-drop path only.
	BadChecksum = errors.New("elvis: checksum validation failed")

	// ConnectionRefused is delivered to a TCP session's owner when a
	// RST arrives during SYN_SENT.
	ConnectionRefused = errors.New("elvis: connection refused")

	// ConnectionReset is delivered to a TCP session's owner when a
	// RST arrives on an established connection.
	ConnectionReset = errors.New("elvis: connection reset")

	// TimedOut is returned when an operation exhausts its retry
	// budget or an explicit deadline expires.
	TimedOut = errors.New("elvis: operation timed out")

	// OutOfRange is returned by Message.Slice on invalid bounds. It is
	// defined here; the message package re-exports it as ErrOutOfRange,
	// so callers can errors.Is against either name.
	OutOfRange = errors.New("elvis: slice out of range")

	// ShuttingDown is returned by operations aborted by the global
	// cancellation token.
	ShuttingDown = errors.New("elvis: shutting down")
)
