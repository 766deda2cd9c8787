// Package protocol implements the "tywrap/1" correlation-id multiplexer: it
// assigns request ids, matches worker responses back to the caller waiting
// on them, and classifies every framing/response anomaly as either a
// single-request failure or a worker-wide quarantine. It keeps a
// map[uint64]*pending plus a per-request channel, read by a single
// dispatch goroutine, generalized from JSON-RPC's free-form id type to a
// plain uint64 id and from "any read error closes the connection" to a
// three-way split between a single bad response, a recoverable framing
// reset, and a fatal worker condition.
package protocol

import (
	"context"
	"sync"

	"github.com/tywrap/hostbridge/internal/codec"
	"github.com/tywrap/hostbridge/internal/transport"
	"github.com/tywrap/hostbridge/pkg/bridgeerr"
	"github.com/tywrap/hostbridge/pkg/types"
)

type pending struct {
	ch chan result
}

type result struct {
	value any
	err   error
}

// QuarantineFunc is invoked exactly once when the worker behind this
// Protocol must no longer be trusted with new requests: an id-less or
// duplicate-id response, or a fatal transport failure. internal/pool
// supplies this to trigger worker replacement.
type QuarantineFunc func(err error)

// Protocol multiplexes concurrent Call invocations over a single Transport.
// It is safe for concurrent use.
type Protocol struct {
	transport transport.Transport
	codec     *codec.Codec
	onQuarantine QuarantineFunc

	mu      sync.Mutex
	seq     uint64
	pend    map[uint64]*pending
	fifo    []uint64 // oldest-first order of currently pending ids
	closed  bool
	quarantined bool
}

// New constructs a Protocol driving t, decoding responses with c. quarantine
// is called at most once; at that point every pending Call fails with the
// error that caused the quarantine, and every later Call fails with a
// DisposedError.
func New(t transport.Transport, c *codec.Codec, quarantine QuarantineFunc) *Protocol {
	return &Protocol{
		transport:    t,
		codec:        c,
		onQuarantine: quarantine,
		pend:         make(map[uint64]*pending),
	}
}

// Start starts the underlying Transport and begins the read loop. It must
// be called once before any Call.
func (p *Protocol) Start(ctx context.Context) error {
	if err := p.transport.Start(ctx); err != nil {
		return err
	}
	go p.readLoop()
	return nil
}

// Call sends method/params as a new request and blocks until a matching
// response arrives, ctx is done, or the worker is quarantined.
func (p *Protocol) Call(ctx context.Context, method types.Method, params any) (any, error) {
	p.mu.Lock()
	if p.closed || p.quarantined {
		p.mu.Unlock()
		return nil, bridgeerr.Disposed("protocol")
	}
	id := p.seq
	p.seq++
	pend := &pending{ch: make(chan result, 1)}
	p.pend[id] = pend
	p.fifo = append(p.fifo, id)
	p.mu.Unlock()

	line, err := p.codec.EncodeRequest(&types.Message{
		ID:       id,
		Protocol: types.ProtocolName,
		Method:   method,
		Params:   params,
	})
	if err != nil {
		p.forget(id)
		return nil, err
	}

	sent := make(chan error, 1)
	go func() { sent <- p.transport.Send(ctx, line) }()
	select {
	case <-ctx.Done():
		p.forget(id)
		return nil, bridgeerr.Timeout("request %d timed out: %v", string(p.transport.Stderr()), id, ctx.Err())
	case res := <-pend.ch:
		return res.value, res.err
	case err := <-sent:
		if err != nil {
			p.forget(id)
			return nil, bridgeerr.Wrap(bridgeerr.KindProtocol, err, "send request %d", id)
		}
	}

	select {
	case <-ctx.Done():
		p.forget(id)
		return nil, bridgeerr.Timeout("request %d timed out: %v", string(p.transport.Stderr()), id, ctx.Err())
	case res := <-pend.ch:
		return res.value, res.err
	}
}

func (p *Protocol) forget(id uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.pend, id)
	for i, v := range p.fifo {
		if v == id {
			p.fifo = append(p.fifo[:i], p.fifo[i+1:]...)
			break
		}
	}
}

func (p *Protocol) deliver(id uint64, value any, err error) bool {
	p.mu.Lock()
	pend, ok := p.pend[id]
	if ok {
		delete(p.pend, id)
		for i, v := range p.fifo {
			if v == id {
				p.fifo = append(p.fifo[:i], p.fifo[i+1:]...)
				break
			}
		}
	}
	p.mu.Unlock()
	if !ok {
		return false
	}
	pend.ch <- result{value: value, err: err}
	return true
}

// failOldest implements the FIFO-oldest-request-fails recovery policy for an
// unparseable or framing-broken line: the host cannot know which in-flight
// request the garbled line belonged to, so the oldest pending request is the
// one assumed lost.
func (p *Protocol) failOldest(err error) {
	p.mu.Lock()
	if len(p.fifo) == 0 {
		p.mu.Unlock()
		return
	}
	id := p.fifo[0]
	p.fifo = p.fifo[1:]
	pend := p.pend[id]
	delete(p.pend, id)
	p.mu.Unlock()
	if pend != nil {
		pend.ch <- result{err: err}
	}
}

func (p *Protocol) quarantine(err error) {
	p.mu.Lock()
	if p.quarantined {
		p.mu.Unlock()
		return
	}
	p.quarantined = true
	drained := p.pend
	p.pend = map[uint64]*pending{}
	p.fifo = nil
	p.mu.Unlock()

	for _, pend := range drained {
		pend.ch <- result{err: err}
	}
	if p.onQuarantine != nil {
		p.onQuarantine(err)
	}
}

func (p *Protocol) readLoop() {
	for frame := range p.transport.Incoming() {
		if frame.Err != nil {
			if frame.Recoverable {
				p.failOldest(frame.Err)
				continue
			}
			p.quarantine(frame.Err)
			return
		}

		resp, err := types.ParseRawResponse(frame.Line)
		if err != nil {
			p.failOldest(bridgeerr.Protocol("unparseable response line: %v", err))
			continue
		}
		if !resp.HasID {
			p.quarantine(bridgeerr.Protocol("worker sent a response with no id"))
			return
		}

		value, decodeErr := p.codec.DecodeValue(resp)
		if !p.deliver(*resp.ID, value, decodeErr) {
			// Unknown or duplicate id: the worker is no longer trustworthy
			// to correlate responses with requests.
			p.quarantine(bridgeerr.Protocol("response for unknown or already-resolved id %d", *resp.ID))
			return
		}
	}
}

// Dispose stops accepting new calls, fails every pending call with a
// DisposedError, and tears down the Transport.
func (p *Protocol) Dispose(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	drained := p.pend
	p.pend = map[uint64]*pending{}
	p.fifo = nil
	p.mu.Unlock()

	for _, pend := range drained {
		pend.ch <- result{err: bridgeerr.Disposed("protocol")}
	}
	return p.transport.Dispose(ctx)
}
