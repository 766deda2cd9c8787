package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tywrap/hostbridge/pkg/bridgeerr"
)

// HTTP is the HTTP-POST Transport variant: each request line is POSTed as
// the request body to a worker HTTP endpoint and the response body is
// delivered back as a single Frame. There is no persistent connection to
// read asynchronously from, so HTTP synthesizes the same Frame-channel
// contract other Transports expose by completing each round trip inline
// inside Send and pushing its result onto Incoming.
//
// It uses a plain http.Client with a per-call context timeout; worker
// quarantine on repeated failure is internal/pool's job, not this
// transport's.
type HTTP struct {
	endpoint string
	client   *http.Client

	incoming chan Frame

	disposeCh chan struct{}
}

// NewHTTP builds an HTTP Transport targeting endpoint. timeout bounds each
// individual round trip at the http.Client level in addition to whatever
// deadline ctx.Context carries into Send.
func NewHTTP(endpoint string, timeout time.Duration) *HTTP {
	return &HTTP{
		endpoint:  endpoint,
		client:    &http.Client{Timeout: timeout},
		incoming:  make(chan Frame, 16),
		disposeCh: make(chan struct{}),
	}
}

func (h *HTTP) Start(ctx context.Context) error { return nil }

func (h *HTTP) Incoming() <-chan Frame { return h.incoming }

func (h *HTTP) Stderr() []byte { return nil }

func (h *HTTP) Send(ctx context.Context, line []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(line))
	if err != nil {
		return bridgeerr.Wrap(bridgeerr.KindProtocol, err, "build worker HTTP request")
	}
	req.Header.Set("Content-Type", "application/x-ndjson")

	resp, err := h.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return h.deliver(Frame{Err: bridgeerr.Wrap(bridgeerr.KindTimeout, err, "worker HTTP request aborted")})
		}
		return h.deliver(Frame{Err: bridgeerr.Wrap(bridgeerr.KindProtocol, err, "worker HTTP request failed")})
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return h.deliver(Frame{Err: bridgeerr.Wrap(bridgeerr.KindProtocol, err, "read worker HTTP response")})
	}
	if resp.StatusCode != http.StatusOK {
		msg := fmt.Sprintf("HTTP %d: %s", resp.StatusCode, body)
		return h.deliver(Frame{Err: bridgeerr.Execution("HTTPError", msg, "")})
	}

	return h.deliver(Frame{Line: body})
}

func (h *HTTP) deliver(f Frame) error {
	select {
	case h.incoming <- f:
		return f.Err
	case <-h.disposeCh:
		return bridgeerr.Disposed("transport")
	}
}

func (h *HTTP) Dispose(ctx context.Context) error {
	select {
	case <-h.disposeCh:
		return nil
	default:
		close(h.disposeCh)
		close(h.incoming)
	}
	return nil
}

