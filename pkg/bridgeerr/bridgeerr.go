// Package bridgeerr defines the closed error taxonomy shared by every layer
// of the host-side runtime bridge (codec, framer, transport, protocol, pool,
// and the bridge façade). Every error the bridge raises for an expected
// failure mode belongs to exactly one Kind.
package bridgeerr

import (
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
)

// Kind is the closed set of bridge error kinds.
type Kind string

const (
	// KindCodec covers encoding/decoding and size-limit violations at the
	// SafeCodec layer.
	KindCodec Kind = "CodecError"
	// KindProtocol covers wire-level violations: bad JSON, bad framing,
	// missing/duplicate id, both result+error, malformed error object,
	// missing module/name.
	KindProtocol Kind = "ProtocolError"
	// KindExecution covers errors the worker raised while executing a call;
	// it carries the worker-side type, message, and traceback.
	KindExecution Kind = "ExecutionError"
	// KindTimeout covers a deadline exceeded before a response arrived.
	KindTimeout Kind = "TimeoutError"
	// KindDisposed covers calls made after Bridge.dispose / Transport.dispose.
	KindDisposed Kind = "DisposedError"
	// KindInstanceHandle covers unknown or freed instance handles.
	KindInstanceHandle Kind = "InstanceHandleError"
	// KindConfig covers invalid construction options.
	KindConfig Kind = "ConfigError"
)

// BridgeError is the concrete error type raised by this module. Every
// returned error can be inspected with errors.As to recover the Kind and any
// structured fields (Path, Type, Traceback, Stderr).
type BridgeError struct {
	Kind Kind
	// Msg is the human-readable message.
	Msg string
	// Path is a JSON-pointer-like path to the offending value (CodecError only).
	Path string
	// Type is the worker-side exception type name (ExecutionError only).
	Type string
	// Traceback is the worker-side traceback, if the worker supplied one
	// (ExecutionError only).
	Traceback string
	// Stderr is the tail of the worker's stderr ring buffer, attached to
	// TimeoutError and crash-flavoured ProtocolError instances.
	Stderr string
	// Err is the underlying cause, if any (unwrapped via errors.Unwrap).
	Err error
}

func (e *BridgeError) Error() string {
	msg := string(e.Kind) + ": " + e.Msg
	if e.Path != "" {
		msg += " (at " + e.Path + ")"
	}
	if e.Type != "" {
		msg += " [" + e.Type + "]"
	}
	if e.Stderr != "" {
		msg += "\nRecent stderr: " + e.Stderr
	}
	return msg
}

func (e *BridgeError) Unwrap() error { return e.Err }

// Is reports whether target is (or wraps) a *BridgeError of the same Kind,
// so errors.Is(err, bridgeerr.New(bridgeerr.KindTimeout, "")) matches any
// TimeoutError. A bare Kind value is not an error and cannot be the target.
func (e *BridgeError) Is(target error) bool {
	var other *BridgeError
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// New constructs a BridgeError of the given kind.
func New(kind Kind, format string, args ...any) *BridgeError {
	return &BridgeError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap constructs a BridgeError of the given kind wrapping an underlying
// error with fmt.Errorf("...: %w", err) semantics.
func Wrap(kind Kind, err error, format string, args ...any) *BridgeError {
	return &BridgeError{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// Codec builds a CodecError carrying the JSON-pointer-like path of the
// offending value.
func Codec(path, format string, args ...any) *BridgeError {
	return &BridgeError{Kind: KindCodec, Msg: fmt.Sprintf(format, args...), Path: path}
}

// CodecSize builds a CodecError for a payload-size violation, formatting both
// sizes with humanize.Bytes so operators see "12.4 MB" rather than a raw byte
// count.
func CodecSize(path string, actual, limit uint64) *BridgeError {
	return &BridgeError{
		Kind: KindCodec,
		Msg: fmt.Sprintf("payload exceeds maxPayloadBytes (%s > %s)",
			humanize.Bytes(actual), humanize.Bytes(limit)),
		Path: path,
	}
}

// Protocol builds a ProtocolError.
func Protocol(format string, args ...any) *BridgeError {
	return &BridgeError{Kind: KindProtocol, Msg: fmt.Sprintf(format, args...)}
}

// Execution builds an ExecutionError carrying the worker-side type, message,
// and optional traceback.
func Execution(typ, message, traceback string) *BridgeError {
	return &BridgeError{Kind: KindExecution, Msg: message, Type: typ, Traceback: traceback}
}

// Timeout builds a TimeoutError, attaching the tail of the worker's stderr
// ring buffer for operator diagnosis.
func Timeout(format, stderr string, args ...any) *BridgeError {
	return &BridgeError{Kind: KindTimeout, Msg: fmt.Sprintf(format, args...), Stderr: stderr}
}

// Disposed builds a DisposedError. reason defaults to "dispose" when empty.
func Disposed(reason string) *BridgeError {
	if reason == "" {
		reason = "dispose"
	}
	return &BridgeError{Kind: KindDisposed, Msg: fmt.Sprintf("bridge disposed (%s)", reason)}
}

// InstanceHandle builds an InstanceHandleError.
func InstanceHandle(format string, args ...any) *BridgeError {
	return &BridgeError{Kind: KindInstanceHandle, Msg: fmt.Sprintf(format, args...)}
}

// Config builds a ConfigError.
func Config(format string, args ...any) *BridgeError {
	return &BridgeError{Kind: KindConfig, Msg: fmt.Sprintf(format, args...)}
}

// KindOf returns the Kind of err if it is (or wraps) a *BridgeError, and ok=false
// otherwise.
func KindOf(err error) (Kind, bool) {
	var be *BridgeError
	if errors.As(err, &be) {
		return be.Kind, true
	}
	return "", false
}
