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

// Package dispatch implements the JSON-RPC 2.0 envelope classification and
// method table that sit between the frame codec and the MCP protocol engine.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/teradata-labs/mcp-core/pkg/mcp/protocol"
)

// Kind classifies a decoded JSON-RPC envelope.
type Kind int

const (
	// KindInvalid marks an envelope that violates JSON-RPC 2.0 invariants.
	KindInvalid Kind = iota
	// KindRequest is a method call expecting a response (has id).
	KindRequest
	// KindNotification is a method call with no response expected (no id).
	KindNotification
	// KindResponse is a reply to a request the server itself initiated.
	KindResponse
)

// envelopeProbe is used only to classify a raw message without committing to
// a full Request or Response unmarshal.
type envelopeProbe struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  *string         `json:"method"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   json.RawMessage `json:"error"`
}

// Classify inspects a raw decoded frame and determines whether it is a
// request, notification, response, or an invalid envelope.
func Classify(raw json.RawMessage) (Kind, error) {
	var probe envelopeProbe
	if err := json.Unmarshal(raw, &probe); err != nil {
		return KindInvalid, fmt.Errorf("classify envelope: %w", err)
	}

	if probe.JSONRPC != protocol.JSONRPCVersion {
		return KindInvalid, nil
	}

	hasID := len(probe.ID) > 0 && string(probe.ID) != "null"

	if probe.Method != nil {
		if hasID {
			return KindRequest, nil
		}
		return KindNotification, nil
	}

	// No method: either a response (has result or error) or invalid.
	if len(probe.Result) > 0 || len(probe.Error) > 0 {
		return KindResponse, nil
	}

	return KindInvalid, nil
}

// Handler processes one classified request or notification.
// id is nil for notifications.
type Handler func(ctx HandlerContext) (interface{}, error)

// HandlerContext carries the per-call inputs a Handler needs. It is a
// struct rather than positional args because C7 handlers commonly need
// only a subset and grow new fields (session, cancel signal) over time.
type HandlerContext struct {
	Ctx    context.Context
	ID     *protocol.RequestID
	Params json.RawMessage
}

// Table is a concurrency-safe mapping from JSON-RPC method name to Handler.
// Registration is a data operation: no reflection, no hidden dispatch.
type Table struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewTable creates an empty method table.
func NewTable() *Table {
	return &Table{handlers: make(map[string]Handler)}
}

// Register adds or replaces the handler for method. Safe to call after boot
// for hot re-registration, but callers must serialize their own registration
// sequence (the table itself only guarantees the map write is atomic).
func (t *Table) Register(method string, h Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[method] = h
}

// Unregister removes the handler for method, if any.
func (t *Table) Unregister(method string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.handlers, method)
}

// Lookup returns the handler for method and whether it was found.
func (t *Table) Lookup(method string) (Handler, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	h, ok := t.handlers[method]
	return h, ok
}

// Has reports whether method has a registered handler.
func (t *Table) Has(method string) bool {
	_, ok := t.Lookup(method)
	return ok
}

// Methods returns the registered method names in no particular order.
func (t *Table) Methods() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.handlers))
	for m := range t.handlers {
		out = append(out, m)
	}
	return out
}

// Correlator tracks requests the server itself initiated towards a peer
// (server-to-client RPC, e.g. sampling/createMessage) so their responses can
// be routed back to the waiting caller by id instead of being misread as a
// fresh inbound request.
type Correlator struct {
	mu      sync.Mutex
	pending map[string]chan *protocol.Response
}

// NewCorrelator creates an empty Correlator.
func NewCorrelator() *Correlator {
	return &Correlator{pending: make(map[string]chan *protocol.Response)}
}

// Await registers id as outstanding and returns a channel that receives the
// matching response exactly once. Callers must eventually call Forget(id) if
// they give up waiting (e.g. on context cancellation) to avoid a leak.
func (c *Correlator) Await(id *protocol.RequestID) <-chan *protocol.Response {
	ch := make(chan *protocol.Response, 1)
	c.mu.Lock()
	c.pending[id.String()] = ch
	c.mu.Unlock()
	return ch
}

// Forget removes id from the outstanding set without delivering a response.
func (c *Correlator) Forget(id *protocol.RequestID) {
	c.mu.Lock()
	delete(c.pending, id.String())
	c.mu.Unlock()
}

// Resolve delivers resp to the waiter registered for its id, if any. It
// reports false for an orphaned response (no outstanding request with that
// id), which callers should log as a warning rather than treat as fatal.
func (c *Correlator) Resolve(resp *protocol.Response) bool {
	key := resp.ID.String()
	c.mu.Lock()
	ch, ok := c.pending[key]
	if ok {
		delete(c.pending, key)
	}
	c.mu.Unlock()
	if !ok {
		return false
	}
	ch <- resp
	close(ch)
	return true
}
