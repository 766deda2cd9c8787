// Package transport implements the three ways a Worker process can exchange
// framed protocol messages with the host: subprocess stdio, HTTP POST, and
// an in-process embedded runtime. All three share the
// same lifecycle contract so internal/protocol and internal/pool never need
// to know which one they are driving.
package transport

import "context"

// Frame is one item delivered on a Transport's Incoming channel: either a
// successfully read response line, or a transport error (the worker died,
// the connection dropped, a write could not be completed, or an
// over-length line was skipped). A Frame with a non-nil Err and
// Recoverable unset makes internal/protocol quarantine the worker and stop
// reading.
type Frame struct {
	Line []byte
	Err  error
	// Recoverable is set when Err is a framing violation the Transport
	// already resynchronized from (an over-length line) rather than a fatal
	// connection failure. internal/protocol uses this to decide between
	// failing the oldest in-flight request and quarantining the whole
	// worker.
	Recoverable bool
}

// Transport is the host-side half of a single worker connection.
//
// Send must never duplicate a write: if Send returns an error, the caller
// (internal/protocol) knows the request may or may not have reached the
// worker, and the surrounding Pool is responsible for deciding whether that
// makes the worker unusable — Send itself must not retry, since retrying a
// write that actually succeeded would have the worker see the same request
// id twice.
type Transport interface {
	// Start brings the transport up (spawns the subprocess, or simply marks
	// an HTTP/embedded transport ready) and begins delivering response
	// frames on the channel returned by Incoming. It must be called exactly
	// once before Send.
	Start(ctx context.Context) error

	// Send writes a single already-framed request line (no trailing
	// newline required; each Transport applies its own framing).
	Send(ctx context.Context, line []byte) error

	// Incoming returns the channel of inbound response frames. It is
	// closed after Dispose completes.
	Incoming() <-chan Frame

	// Stderr returns the tail of the worker's stderr ring buffer, for
	// attaching to TimeoutError/crash diagnostics. Transports with no
	// notion of stderr (HTTP, embedded) return nil.
	Stderr() []byte

	// Dispose terminates the transport and releases all resources. It is
	// idempotent.
	Dispose(ctx context.Context) error
}
