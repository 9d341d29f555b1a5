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

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teradata-labs/mcp-core/pkg/mcp/protocol"
)

func TestRequestTimeout_CancelsHandlerContext(t *testing.T) {
	e := New(Config{
		Info:           protocol.Implementation{Name: "test", Version: "1.0.0"},
		Logger:         zaptest.NewLogger(t),
		RequestTimeout: 20 * time.Millisecond,
	})

	done := make(chan error, 1)
	e.RegisterHandler("slow", func(ctx context.Context, _ json.RawMessage, _ json.RawMessage) (interface{}, error) {
		<-ctx.Done()
		done <- ctx.Err()
		return nil, ctx.Err()
	})

	req, err := json.Marshal(protocol.Request{JSONRPC: "2.0", ID: protocol.NewNumericRequestID(1), Method: "slow"})
	require.NoError(t, err)

	_, _ = e.HandleMessage(context.Background(), req)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(time.Second):
		t.Fatal("handler never observed context cancellation")
	}
}

func TestRequestTimeout_ZeroMeansNoDeadline(t *testing.T) {
	e := New(Config{
		Info:   protocol.Implementation{Name: "test", Version: "1.0.0"},
		Logger: zaptest.NewLogger(t),
	})

	e.RegisterHandler("check", func(ctx context.Context, _ json.RawMessage, _ json.RawMessage) (interface{}, error) {
		_, hasDeadline := ctx.Deadline()
		assert.False(t, hasDeadline)
		return struct{}{}, nil
	})

	req, err := json.Marshal(protocol.Request{JSONRPC: "2.0", ID: protocol.NewNumericRequestID(1), Method: "check"})
	require.NoError(t, err)

	resp, err := e.HandleMessage(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, resp)
}

func TestHandleMessage_ResolvesCorrelatedResponse(t *testing.T) {
	e := newTestEngine(t)

	id := protocol.NewNumericRequestID(42)
	waiter := e.correlator.Await(id)

	respBytes, err := json.Marshal(protocol.Response{JSONRPC: "2.0", ID: id, Result: json.RawMessage(`{"ok":true}`)})
	require.NoError(t, err)

	out, err := e.HandleMessage(context.Background(), respBytes)
	require.NoError(t, err)
	assert.Nil(t, out)

	select {
	case resp := <-waiter:
		require.NotNil(t, resp)
		assert.JSONEq(t, `{"ok":true}`, string(resp.Result))
	case <-time.After(time.Second):
		t.Fatal("correlator never delivered the response")
	}
}

func TestHandleMessage_OrphanedResponseIsIgnored(t *testing.T) {
	e := newTestEngine(t)

	respBytes, err := json.Marshal(protocol.Response{JSONRPC: "2.0", ID: protocol.NewNumericRequestID(7), Result: json.RawMessage(`{}`)})
	require.NoError(t, err)

	out, err := e.HandleMessage(context.Background(), respBytes)
	require.NoError(t, err)
	assert.Nil(t, out)
}
