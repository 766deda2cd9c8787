package transport

import (
	"context"

	"github.com/tywrap/hostbridge/pkg/bridgeerr"
)

// Handler is the in-process worker implementation an Embedded Transport
// dispatches to: a single request line in, a single response line (or
// error) out. It exists so a host application that links an in-process
// Python runtime (e.g. via cgo or a language-specific embedding) can reuse
// the entire Bridge/Pool/Protocol stack without ever spawning a process or
// opening a socket.
type Handler func(ctx context.Context, line []byte) ([]byte, error)

// Embedded is the in-process Transport variant: Send calls Handler directly
// on the caller's goroutine and synthesizes a Frame from its result, the
// same way HTTP does for a round trip that happens to be a network call
// instead of a function call.
type Embedded struct {
	handler  Handler
	incoming chan Frame
	closed   chan struct{}
}

// NewEmbedded builds an Embedded Transport around handler.
func NewEmbedded(handler Handler) *Embedded {
	return &Embedded{
		handler:  handler,
		incoming: make(chan Frame, 16),
		closed:   make(chan struct{}),
	}
}

func (e *Embedded) Start(ctx context.Context) error { return nil }

func (e *Embedded) Incoming() <-chan Frame { return e.incoming }

func (e *Embedded) Stderr() []byte { return nil }

func (e *Embedded) Send(ctx context.Context, line []byte) error {
	resp, err := e.handler(ctx, line)
	var frame Frame
	if err != nil {
		frame = Frame{Err: bridgeerr.Wrap(bridgeerr.KindExecution, err, "embedded handler failed")}
	} else {
		frame = Frame{Line: resp}
	}

	select {
	case <-e.closed:
		return bridgeerr.Disposed("transport")
	default:
	}
	select {
	case e.incoming <- frame:
		return frame.Err
	case <-e.closed:
		return bridgeerr.Disposed("transport")
	}
}

func (e *Embedded) Dispose(ctx context.Context) error {
	select {
	case <-e.closed:
		return nil
	default:
		close(e.closed)
		close(e.incoming)
	}
	return nil
}
