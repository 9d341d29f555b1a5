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
	"errors"
	"fmt"

	"github.com/teradata-labs/mcp-core/pkg/mcp/protocol"
	"github.com/teradata-labs/mcp-core/pkg/mcp/registry"
	"github.com/teradata-labs/mcp-core/pkg/mcp/validator"
	"go.uber.org/zap"
)

func (e *Engine) handleToolsList(ctx context.Context, _ json.RawMessage, params json.RawMessage) (interface{}, error) {
	var lp protocol.ListParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &lp); err != nil {
			return nil, protocol.NewError(protocol.InvalidParams, fmt.Sprintf("invalid tools/list params: %v", err), nil)
		}
	}

	descriptors := e.registry.ListTools()
	tools := make([]protocol.Tool, len(descriptors))
	for i, d := range descriptors {
		tools[i] = d.Tool
	}

	page, next, err := paginate(tools, lp.Cursor, e.listPageSize)
	if err != nil {
		return nil, protocol.NewError(protocol.InvalidParams, err.Error(), nil)
	}
	return protocol.ToolListResult{Tools: page, NextCursor: next}, nil
}

func (e *Engine) handleToolsCall(ctx context.Context, _ json.RawMessage, params json.RawMessage) (interface{}, error) {
	var callParams protocol.CallToolParams
	if err := json.Unmarshal(params, &callParams); err != nil {
		return nil, protocol.NewError(protocol.InvalidParams, fmt.Sprintf("invalid tool call params: %v", err), nil)
	}
	if callParams.Name == "" {
		return nil, protocol.NewError(protocol.InvalidParams, "tool name is required", nil)
	}

	descriptor, ok := e.registry.GetTool(callParams.Name)
	if !ok {
		return nil, protocol.NewError(protocol.MethodNotFound, fmt.Sprintf("unknown tool: %s", callParams.Name), nil)
	}

	if err := validator.Validate(descriptor.Tool.InputSchema, callParams.Arguments); err != nil {
		var verr *validator.Error
		if errors.As(err, &verr) {
			return nil, protocol.NewError(protocol.InvalidParams, err.Error(), verr.Fields)
		}
		return nil, protocol.NewError(protocol.InvalidParams, err.Error(), nil)
	}

	if async, _ := descriptor.Metadata["async"].(bool); async && e.queue != nil {
		return e.dispatchToolAsync(descriptor, callParams.Arguments)
	}

	result, err := descriptor.Handler(ctx, callParams.Arguments)
	if err != nil {
		return &protocol.CallToolResult{
			Content: []protocol.Content{{Type: "text", Text: err.Error()}},
			IsError: true,
		}, nil
	}
	return result, nil
}

// dispatchToolAsync enqueues a tool invocation marked async in its metadata
// onto the job queue and returns immediately with the assigned request id, so
// the caller can poll or wait for notifications/progress and the eventual
// completion event instead of blocking the RPC round trip.
func (e *Engine) dispatchToolAsync(descriptor registry.ToolDescriptor, args map[string]interface{}) (*protocol.CallToolResult, error) {
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("marshal async tool arguments: %w", err)
	}

	id := e.queue.Enqueue(descriptor.Tool.Name, argsJSON)
	// The tool name goes in the job's method slot: the queue's Dispatch
	// signature is (method, params), and the Dispatch the queue was built
	// with looks the tool's handler up by that name.
	return &protocol.CallToolResult{
		Content: []protocol.Content{{Type: "text", Text: "queued"}},
		StructuredContent: map[string]interface{}{
			"requestId": id,
			"status":    "queued",
		},
	}, nil
}

func (e *Engine) handleResourcesList(ctx context.Context, _ json.RawMessage, params json.RawMessage) (interface{}, error) {
	var lp protocol.ListParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &lp); err != nil {
			return nil, protocol.NewError(protocol.InvalidParams, fmt.Sprintf("invalid resources/list params: %v", err), nil)
		}
	}

	descriptors := e.registry.ListResources()
	resources := make([]protocol.Resource, len(descriptors))
	for i, d := range descriptors {
		resources[i] = d.Resource
	}

	page, next, err := paginate(resources, lp.Cursor, e.listPageSize)
	if err != nil {
		return nil, protocol.NewError(protocol.InvalidParams, err.Error(), nil)
	}
	return protocol.ResourceListResult{Resources: page, NextCursor: next}, nil
}

func (e *Engine) handleResourcesRead(ctx context.Context, _ json.RawMessage, params json.RawMessage) (interface{}, error) {
	var readParams protocol.ReadResourceParams
	if err := json.Unmarshal(params, &readParams); err != nil {
		return nil, protocol.NewError(protocol.InvalidParams, fmt.Sprintf("invalid resource read params: %v", err), nil)
	}
	if readParams.URI == "" {
		return nil, protocol.NewError(protocol.InvalidParams, "resource URI is required", nil)
	}

	descriptor, ok := e.registry.GetResourceByURI(readParams.URI)
	if !ok {
		return nil, protocol.NewError(protocol.ResourceNotFound, fmt.Sprintf("unknown resource: %s", readParams.URI), nil)
	}

	result, err := descriptor.Read(ctx, readParams.URI)
	if err != nil {
		return nil, fmt.Errorf("read resource %q: %w", readParams.URI, err)
	}
	return result, nil
}

func (e *Engine) handleResourcesSubscribe(ctx context.Context, _ json.RawMessage, params json.RawMessage) (interface{}, error) {
	var p protocol.SubscribeResourceParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, protocol.NewError(protocol.InvalidParams, fmt.Sprintf("invalid subscribe params: %v", err), nil)
	}

	descriptor, ok := e.registry.GetResourceByURI(p.URI)
	if !ok {
		return nil, protocol.NewError(protocol.ResourceNotFound, fmt.Sprintf("unknown resource: %s", p.URI), nil)
	}
	if !descriptor.Resource.SupportsSubscription || descriptor.Subscribe == nil {
		return nil, protocol.NewError(protocol.SubscriptionDenied, fmt.Sprintf("resource does not support subscription: %s", p.URI), nil)
	}

	publish := func(n protocol.ResourceUpdatedNotification) {
		if e.broker != nil {
			e.broker.Publish(context.Background(), "notifications/resources/updated", map[string]interface{}{"uri": n.URI})
		}
		notif, err := marshalNotification("notifications/resources/updated", n)
		if err != nil {
			e.logger.Error("failed to marshal resource updated notification", zap.String("uri", n.URI))
			return
		}
		select {
		case e.notifyCh <- notif:
		default:
			e.logger.Warn("notification channel full, dropping resources/updated", zap.String("uri", n.URI))
		}
	}

	unsubscribe, err := descriptor.Subscribe(ctx, p.URI, publish)
	if err != nil {
		return nil, fmt.Errorf("subscribe %q: %w", p.URI, err)
	}

	e.subMu.Lock()
	if previous, exists := e.resourceUnsubs[p.URI]; exists {
		previous()
	}
	e.resourceUnsubs[p.URI] = unsubscribe
	e.subMu.Unlock()

	return struct{}{}, nil
}

func (e *Engine) handleResourcesUnsubscribe(ctx context.Context, _ json.RawMessage, params json.RawMessage) (interface{}, error) {
	var p protocol.SubscribeResourceParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, protocol.NewError(protocol.InvalidParams, fmt.Sprintf("invalid unsubscribe params: %v", err), nil)
	}

	e.subMu.Lock()
	unsubscribe, exists := e.resourceUnsubs[p.URI]
	delete(e.resourceUnsubs, p.URI)
	e.subMu.Unlock()

	if exists {
		unsubscribe()
	}
	return struct{}{}, nil
}

func (e *Engine) handlePromptsList(ctx context.Context, _ json.RawMessage, params json.RawMessage) (interface{}, error) {
	var lp protocol.ListParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &lp); err != nil {
			return nil, protocol.NewError(protocol.InvalidParams, fmt.Sprintf("invalid prompts/list params: %v", err), nil)
		}
	}

	descriptors := e.registry.ListPrompts()
	prompts := make([]protocol.Prompt, len(descriptors))
	for i, d := range descriptors {
		prompts[i] = d.Prompt
	}

	page, next, err := paginate(prompts, lp.Cursor, e.listPageSize)
	if err != nil {
		return nil, protocol.NewError(protocol.InvalidParams, err.Error(), nil)
	}
	return protocol.PromptListResult{Prompts: page, NextCursor: next}, nil
}

func (e *Engine) handlePromptsGet(ctx context.Context, _ json.RawMessage, params json.RawMessage) (interface{}, error) {
	var gp protocol.GetPromptParams
	if err := json.Unmarshal(params, &gp); err != nil {
		return nil, protocol.NewError(protocol.InvalidParams, fmt.Sprintf("invalid prompts/get params: %v", err), nil)
	}
	if gp.Name == "" {
		return nil, protocol.NewError(protocol.InvalidParams, "prompt name is required", nil)
	}

	descriptor, ok := e.registry.GetPrompt(gp.Name)
	if !ok {
		return nil, protocol.NewError(protocol.MethodNotFound, fmt.Sprintf("unknown prompt: %s", gp.Name), nil)
	}

	if err := validator.Validate(promptArgumentsSchema(descriptor.Prompt.Arguments), gp.Arguments); err != nil {
		var verr *validator.Error
		if errors.As(err, &verr) {
			return nil, protocol.NewError(protocol.InvalidParams, err.Error(), verr.Fields)
		}
		return nil, protocol.NewError(protocol.InvalidParams, err.Error(), nil)
	}

	result, err := descriptor.Handler(ctx, gp.Arguments)
	if err != nil {
		return nil, fmt.Errorf("render prompt %q: %w", gp.Name, err)
	}
	return result, nil
}

// promptArgumentsSchema builds the JSON Schema subset C6 validates against
// from a prompt's declared arguments. Prompts describe their parameters as
// protocol.PromptArgument (name/description/required), not a full schema
// document, so one is synthesized here: every declared argument is a string
// (prompt arguments are always rendered into template text), required ones
// go in "required".
func promptArgumentsSchema(args []protocol.PromptArgument) map[string]interface{} {
	if len(args) == 0 {
		return nil
	}
	props := make(map[string]interface{}, len(args))
	var required []interface{}
	for _, a := range args {
		props[a.Name] = map[string]interface{}{"type": "string"}
		if a.Required {
			required = append(required, a.Name)
		}
	}
	schema := map[string]interface{}{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}
