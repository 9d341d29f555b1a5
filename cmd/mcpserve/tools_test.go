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
package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teradata-labs/mcp-core/pkg/mcp/registry"
)

func TestRegisterBuiltinTools(t *testing.T) {
	reg := registry.New()
	logger := zaptest.NewLogger(t)

	require.NoError(t, registerBuiltinTools(reg, logger))

	_, ok := reg.GetTool("echo")
	assert.True(t, ok, "echo must be registered")

	_, ok = reg.GetTool("add")
	assert.True(t, ok, "add must be registered")
}

func TestRegisterBuiltinTools_DuplicateFails(t *testing.T) {
	reg := registry.New()
	logger := zaptest.NewLogger(t)

	require.NoError(t, registerBuiltinTools(reg, logger))
	err := registerBuiltinTools(reg, logger)
	require.Error(t, err)

	var alreadyRegistered *registry.AlreadyRegisteredError
	assert.ErrorAs(t, err, &alreadyRegistered)
}

func TestEchoHandler(t *testing.T) {
	result, err := echoHandler(context.Background(), map[string]interface{}{"message": "hello"})
	require.NoError(t, err)
	require.Len(t, result.Content, 1)
	assert.Equal(t, "hello", result.Content[0].Text)
	assert.False(t, result.IsError)
}

func TestAddHandler(t *testing.T) {
	result, err := addHandler(context.Background(), map[string]interface{}{"a": 2.0, "b": 3.5})
	require.NoError(t, err)
	require.Len(t, result.Content, 1)
	assert.Equal(t, "5.5", result.Content[0].Text)
}

func TestAddHandler_MissingArgsDefaultToZero(t *testing.T) {
	result, err := addHandler(context.Background(), map[string]interface{}{})
	require.NoError(t, err)
	assert.Equal(t, "0", result.Content[0].Text)
}

func TestTimingMiddleware_WrapsHandlerUnchanged(t *testing.T) {
	logger := zaptest.NewLogger(t)
	wrapped := timingMiddleware(logger)(echoHandler)

	result, err := wrapped(context.Background(), map[string]interface{}{"message": "wrapped"})
	require.NoError(t, err)
	assert.Equal(t, "wrapped", result.Content[0].Text)
}
