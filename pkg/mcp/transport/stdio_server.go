// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/teradata-labs/mcp-core/pkg/mcp/codec"
	"github.com/teradata-labs/mcp-core/pkg/mcp/protocol"
)

// readResult holds the result of a single chunk read from the reader.
type readResult struct {
	data []byte
	err  error
}

// StdioServerTransport implements the Transport interface for server-side
// stdio communication. It reads JSON-RPC messages from a reader (typically
// os.Stdin) and writes responses to a writer (typically os.Stdout), framing
// each message per its configured codec.Framing.
//
// A persistent reader goroutine runs for the transport's lifetime,
// preventing goroutine leaks when Receive calls are cancelled via context.
// A framing error on one frame is recoverable: Receive answers it with a
// -32700 response and the transport keeps reading subsequent frames.
type StdioServerTransport struct {
	reader io.Reader
	writer io.Writer
	codec  *codec.Codec
	mu     sync.Mutex // protects writer and closed
	closed bool

	pending []json.RawMessage // decoded frames awaiting delivery via Receive

	readCh chan readResult // persistent channel from reader goroutine
	once   sync.Once       // ensures reader goroutine starts exactly once
}

// NewStdioServerTransport creates a server-side stdio transport using
// newline-delimited framing, the simpler default.
func NewStdioServerTransport(r io.Reader, w io.Writer) *StdioServerTransport {
	return NewStdioServerTransportWithFraming(r, w, codec.Newline)
}

// NewStdioServerTransportWithFraming creates a server-side stdio transport
// using the given frame codec, so a deployment can select Content-Length
// framing for clients (language-server style) that require it.
func NewStdioServerTransportWithFraming(r io.Reader, w io.Writer, framing codec.Framing, opts ...codec.Option) *StdioServerTransport {
	return &StdioServerTransport{
		reader: r,
		writer: w,
		codec:  codec.New(framing, opts...),
		readCh: make(chan readResult, 1),
	}
}

// startReader launches a persistent goroutine that reads raw chunks from the
// underlying reader and sends them to readCh. The goroutine exits when it
// encounters an error (including io.EOF) or when the reader is closed.
// It is safe to call multiple times; only the first call starts the goroutine.
func (t *StdioServerTransport) startReader() {
	t.once.Do(func() {
		go func() {
			defer close(t.readCh)
			buf := make([]byte, 64*1024)
			for {
				n, err := t.reader.Read(buf)
				if n > 0 {
					chunk := make([]byte, n)
					copy(chunk, buf[:n])
					t.readCh <- readResult{data: chunk}
				}
				if err != nil {
					t.readCh <- readResult{err: err}
					return
				}
			}
		}()
	})
}

// Send encodes message (a complete JSON-RPC envelope) per the transport's
// framing and writes it to the writer.
func (t *StdioServerTransport) Send(_ context.Context, message []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return fmt.Errorf("transport closed")
	}

	framed, err := t.codec.Encode(json.RawMessage(message))
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if _, err := t.writer.Write(framed); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// sendParseError writes a JSON-RPC -32700 response with a null id directly,
// bypassing the engine: a framing error means the frame never carried a
// usable request id to correlate through the normal dispatch path.
func (t *StdioServerTransport) sendParseError(reason string) {
	resp := protocol.Response{
		JSONRPC: "2.0",
		Error:   protocol.NewError(protocol.ParseError, reason, nil),
	}
	body, err := json.Marshal(resp)
	if err != nil {
		return
	}
	_ = t.Send(context.Background(), body)
}

// Receive returns the next decoded JSON-RPC message. Blocks until a frame is
// available or the context is cancelled. A framing error on one frame is
// reported back to the peer as a -32700 response and does not end the
// session; Receive continues waiting for the next frame.
func (t *StdioServerTransport) Receive(ctx context.Context) ([]byte, error) {
	t.startReader()

	for {
		t.mu.Lock()
		closed := t.closed
		if !closed && len(t.pending) > 0 {
			msg := t.pending[0]
			t.pending = t.pending[1:]
			t.mu.Unlock()
			return msg, nil
		}
		t.mu.Unlock()
		if closed {
			return nil, fmt.Errorf("transport closed")
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case result, ok := <-t.readCh:
			if !ok {
				return nil, io.EOF
			}
			if result.err != nil {
				if result.err == io.EOF {
					return nil, io.EOF
				}
				return nil, fmt.Errorf("read message: %w", result.err)
			}

			msgs, feedErr := t.codec.Feed(result.data)
			var protoErr *codec.ProtocolError
			if feedErr != nil && errors.As(feedErr, &protoErr) {
				t.sendParseError(protoErr.Error())
			} else if feedErr != nil {
				return nil, feedErr
			}
			if len(msgs) == 0 {
				continue
			}

			t.mu.Lock()
			t.pending = append(t.pending, msgs...)
			first := t.pending[0]
			t.pending = t.pending[1:]
			t.mu.Unlock()
			return first, nil
		}
	}
}

// Close marks the transport as closed. It does not close the underlying
// reader/writer since those are typically os.Stdin/os.Stdout.
// The persistent reader goroutine will exit naturally when the underlying
// reader is closed or returns an error.
func (t *StdioServerTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}
