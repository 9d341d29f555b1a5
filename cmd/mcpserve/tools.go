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
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/mcp-core/pkg/mcp/protocol"
	"github.com/teradata-labs/mcp-core/pkg/mcp/registry"
)

// timingMiddleware logs how long each builtin tool invocation took, without
// touching the handler's own signature or error handling.
func timingMiddleware(logger *zap.Logger) registry.Middleware {
	return func(next registry.ToolHandler) registry.ToolHandler {
		return func(ctx context.Context, args map[string]interface{}) (*protocol.CallToolResult, error) {
			start := time.Now()
			result, err := next(ctx, args)
			logger.Debug("tool invocation", zap.Duration("elapsed", time.Since(start)), zap.Error(err))
			return result, err
		}
	}
}

// registerBuiltinTools registers the tools mcpserve exposes out of the box:
// echo, a diagnostic round-trip tool, and add, a minimal two-argument
// arithmetic tool exercising schema validation on a required field. Both are
// registered through an unprefixed Group so timingMiddleware wraps every
// builtin handler uniformly.
func registerBuiltinTools(reg *registry.Registry, logger *zap.Logger) error {
	g := registry.NewGroup(reg).Use(timingMiddleware(logger))

	if err := g.RegisterTool(registry.ToolDescriptor{
		Tool: protocol.Tool{
			Name:        "echo",
			Description: "Echoes back the given message.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"message": map[string]interface{}{"type": "string"},
				},
				"required": []interface{}{"message"},
			},
		},
		Handler: echoHandler,
	}); err != nil {
		return err
	}

	return g.RegisterTool(registry.ToolDescriptor{
		Tool: protocol.Tool{
			Name:        "add",
			Description: "Adds two numbers.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"a": map[string]interface{}{"type": "number"},
					"b": map[string]interface{}{"type": "number"},
				},
				"required": []interface{}{"a", "b"},
			},
		},
		Handler: addHandler,
	})
}

func echoHandler(_ context.Context, args map[string]interface{}) (*protocol.CallToolResult, error) {
	message, _ := args["message"].(string)
	return &protocol.CallToolResult{
		Content: []protocol.Content{{Type: "text", Text: message}},
	}, nil
}

func addHandler(_ context.Context, args map[string]interface{}) (*protocol.CallToolResult, error) {
	a, _ := args["a"].(float64)
	b, _ := args["b"].(float64)
	return &protocol.CallToolResult{
		Content: []protocol.Content{{Type: "text", Text: fmt.Sprintf("%g", a+b)}},
	}, nil
}
