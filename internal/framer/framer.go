// Package framer splits a byte stream into newline-delimited protocol
// messages. It is deliberately the only place in the bridge that knows
// about line termination and the max-line-length guard; every Transport
// hands it raw bytes and gets back whole message lines.
//
// It reads with a bufio.Reader (ReadBytes('\n')) and checks each line
// against the maximum length; an oversize line is discarded and reported as
// a recoverable framing error, so the stream stays usable instead of
// stopping the way bufio.Scanner does with its terminal ErrTooLong.
package framer

import (
	"bufio"
	"bytes"
	"io"

	"github.com/tywrap/hostbridge/pkg/bridgeerr"
)

// DefaultMaxLineBytes is the default cap on a single framed line, matching
// SafeCodec's default payload limit plus slack for JSON framing overhead.
const DefaultMaxLineBytes = 10*1024*1024 + 4096

// Framer reads newline-delimited messages from an io.Reader, enforcing a
// maximum line length. It is not safe for concurrent use by multiple
// readers; each stream gets its own Framer.
type Framer struct {
	r          *bufio.Reader
	maxLine    int
	overLength bool // set once an overlong line is mid-discard
}

// New constructs a Framer reading from r. maxLine <= 0 selects
// DefaultMaxLineBytes.
func New(r io.Reader, maxLine int) *Framer {
	if maxLine <= 0 {
		maxLine = DefaultMaxLineBytes
	}
	return &Framer{r: bufio.NewReaderSize(r, 64*1024), maxLine: maxLine}
}

// ReadMessage returns the next newline-delimited message with its trailing
// \n (and any \r immediately preceding it) stripped. It returns io.EOF when
// the underlying stream is exhausted cleanly between messages.
//
// When a line exceeds maxLine, ReadMessage discards bytes up to and
// including the next newline, resets its internal state, and returns a
// ProtocolError — there is no resynchronization beyond "find the next
// newline". The stream stays usable: the next call returns the following
// line, and the subprocess transport reports this error as recoverable, so
// the worker is kept.
func (f *Framer) ReadMessage() ([]byte, error) {
	line, err := f.r.ReadBytes('\n')
	if err != nil {
		if err == io.EOF {
			if len(line) == 0 {
				return nil, io.EOF
			}
			// A final message with no trailing newline is still a message.
			return trimCR(line), nil
		}
		return nil, err
	}

	if len(line) > f.maxLine {
		return nil, f.handleOverlong(line)
	}

	return trimCR(bytes.TrimSuffix(line, []byte("\n"))), nil
}

func (f *Framer) handleOverlong(firstChunk []byte) error {
	total := len(firstChunk)
	for !bytes.HasSuffix(firstChunk, []byte("\n")) {
		chunk, err := f.r.ReadBytes('\n')
		total += len(chunk)
		if err != nil {
			if err == io.EOF {
				break
			}
			return err
		}
		firstChunk = chunk
	}
	return bridgeerr.Protocol("line exceeds maximum length of %d bytes (got %d); buffer reset", f.maxLine, total)
}

func trimCR(line []byte) []byte {
	return bytes.TrimSuffix(line, []byte("\r"))
}

// WriteMessage writes msg to w followed by a single newline. Callers must
// ensure msg itself contains no embedded newline (SafeCodec's JSON encoding
// never produces one).
func WriteMessage(w io.Writer, msg []byte) error {
	if _, err := w.Write(msg); err != nil {
		return err
	}
	_, err := w.Write([]byte{'\n'})
	return err
}
