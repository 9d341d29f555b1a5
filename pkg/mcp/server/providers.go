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

// Package server implements the MCP Protocol Engine atop the registry,
// validator, broker and queue packages: capability negotiation, session
// lifecycle, and the tools/resources/prompts method family.
package server

import (
	"encoding/base64"
	"fmt"
	"strconv"

	"github.com/teradata-labs/mcp-core/pkg/mcp/protocol"
)

// Subscribable is the capability a resource handler opts into to receive a
// publish callback for resources/subscribe: the handler is stateful and
// emits updates itself rather than being polled by the engine. The engine
// calls the function form, registry.ResourceSubscribeHandler (which also
// takes a context), and does not use this interface itself; this type
// documents the contract at the engine boundary.
type Subscribable interface {
	Subscribe(uri string, publish func(protocol.ResourceUpdatedNotification)) (unsubscribe func(), err error)
}

// encodeCursor turns a zero-based page offset into an opaque base64 cursor:
// a server-generated token with at-least-once semantics across pages.
func encodeCursor(offset int) string {
	return base64.RawURLEncoding.EncodeToString([]byte(strconv.Itoa(offset)))
}

// decodeCursor reverses encodeCursor. An empty cursor decodes to offset 0 (first page).
func decodeCursor(cursor string) (int, error) {
	if cursor == "" {
		return 0, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return 0, fmt.Errorf("malformed cursor: %w", err)
	}
	offset, err := strconv.Atoi(string(raw))
	if err != nil || offset < 0 {
		return 0, fmt.Errorf("malformed cursor: %w", err)
	}
	return offset, nil
}

// defaultPageSize bounds every tools/resources/prompts list page when the
// engine wasn't configured with a specific size.
const defaultPageSize = 50

// paginate slices items starting at cursor's offset, returning at most
// pageSize entries and the cursor for the next page (empty once exhausted).
func paginate[T any](items []T, cursor string, pageSize int) ([]T, string, error) {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	offset, err := decodeCursor(cursor)
	if err != nil {
		return nil, "", err
	}
	if offset >= len(items) {
		return nil, "", nil
	}
	end := offset + pageSize
	if end > len(items) {
		end = len(items)
	}
	page := items[offset:end]
	next := ""
	if end < len(items) {
		next = encodeCursor(end)
	}
	return page, next, nil
}
