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

package server

import "github.com/teradata-labs/mcp-core/pkg/mcp/protocol"

// State is the session's position in the initialize/shutdown lifecycle. Most
// methods are rejected outside Initialized.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateInitialized
	StateShuttingDown
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateInitialized:
		return "initialized"
	case StateShuttingDown:
		return "shutting_down"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// alwaysAllowed lists the methods permitted regardless of lifecycle state,
// per spec's "any MCP method other than initialize/ping called in
// Uninitialized yields -32002" testable property.
var alwaysAllowed = map[string]bool{
	"initialize": true,
	"ping":       true,
}

// checkLifecycle reports a *protocol.Error with code NotInitialized when
// method may not run in the engine's current state.
func (e *Engine) checkLifecycle(method string) *protocol.Error {
	if alwaysAllowed[method] {
		return nil
	}

	e.mu.RLock()
	state := e.state
	e.mu.RUnlock()

	switch state {
	case StateInitialized:
		return nil
	case StateInitializing:
		// The client may send notifications/initialized and nothing else
		// before the handshake completes.
		if method == "notifications/initialized" {
			return nil
		}
		return protocol.NewError(protocol.NotInitialized, "server is initializing, method not yet available: "+method, nil)
	default:
		return protocol.NewError(protocol.NotInitialized, "server not initialized, method not available: "+method, nil)
	}
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// State returns the engine's current lifecycle state.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}
