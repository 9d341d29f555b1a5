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
	"sync"
	"time"

	"github.com/teradata-labs/mcp-core/pkg/mcp/broker"
	"github.com/teradata-labs/mcp-core/pkg/mcp/dispatch"
	"github.com/teradata-labs/mcp-core/pkg/mcp/protocol"
	"github.com/teradata-labs/mcp-core/pkg/mcp/queue"
	"github.com/teradata-labs/mcp-core/pkg/mcp/registry"
	"github.com/teradata-labs/mcp-core/pkg/mcp/transport"
	"go.uber.org/zap"
)

// MethodHandler processes a JSON-RPC method call. id is the request's raw id
// (nil for notifications); params is the raw JSON params from the request.
type MethodHandler func(ctx context.Context, id json.RawMessage, params json.RawMessage) (interface{}, error)

// Config assembles the components a Protocol Engine is built from. Registry,
// Broker and Queue are explicitly constructed and injected by the caller
// (cmd/mcpserve) rather than reached via a singleton, so multiple engines
// can run in the same process with independent state.
type Config struct {
	Info           protocol.Implementation
	Capabilities   protocol.ServerCapabilities
	Registry       *registry.Registry
	Broker         *broker.Broker
	Queue          *queue.Queue
	Logger         *zap.Logger
	ListPageSize   int
	RequestTimeout time.Duration
}

// Engine implements the MCP methods atop the registry, validator, broker and
// queue: capability negotiation, session lifecycle, and method dispatch.
type Engine struct {
	info         protocol.Implementation
	capabilities protocol.ServerCapabilities
	registry     *registry.Registry
	broker       *broker.Broker
	queue        *queue.Queue
	logger       *zap.Logger
	listPageSize int

	table *dispatch.Table

	requestTimeout time.Duration
	correlator     *dispatch.Correlator

	mu                 sync.RWMutex
	state              State
	clientInfo         *protocol.Implementation
	clientCapabilities *protocol.ClientCapabilities

	notifyCh chan []byte

	subMu          sync.Mutex
	resourceUnsubs map[string]func() // uri -> handler-provided unsubscribe
}

// New creates an Engine and registers its built-in method handlers.
func New(cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Registry == nil {
		cfg.Registry = registry.New()
	}

	e := &Engine{
		info:           cfg.Info,
		capabilities:   cfg.Capabilities,
		registry:       cfg.Registry,
		broker:         cfg.Broker,
		queue:          cfg.Queue,
		logger:         cfg.Logger,
		listPageSize:   cfg.ListPageSize,
		requestTimeout: cfg.RequestTimeout,
		correlator:     dispatch.NewCorrelator(),
		table:          dispatch.NewTable(),
		state:          StateUninitialized,
		notifyCh:       make(chan []byte, 64),
		resourceUnsubs: make(map[string]func()),
	}

	e.registerBuiltins()
	return e
}

func (e *Engine) registerBuiltins() {
	e.RegisterHandler("initialize", e.handleInitialize)
	e.RegisterHandler("notifications/initialized", e.handleNotificationsInitialized)
	e.RegisterHandler("ping", e.handlePing)
	e.RegisterHandler("logging/setLevel", e.handleSetLevel)

	e.RegisterHandler("tools/list", e.handleToolsList)
	e.RegisterHandler("tools/call", e.handleToolsCall)

	e.RegisterHandler("resources/list", e.handleResourcesList)
	e.RegisterHandler("resources/read", e.handleResourcesRead)
	e.RegisterHandler("resources/subscribe", e.handleResourcesSubscribe)
	e.RegisterHandler("resources/unsubscribe", e.handleResourcesUnsubscribe)

	e.RegisterHandler("prompts/list", e.handlePromptsList)
	e.RegisterHandler("prompts/get", e.handlePromptsGet)
}

// RegisterHandler registers (or replaces) a handler for a JSON-RPC method.
func (e *Engine) RegisterHandler(method string, handler MethodHandler) {
	e.table.Register(method, func(hc dispatch.HandlerContext) (interface{}, error) {
		var rawID json.RawMessage
		if hc.ID != nil {
			b, err := json.Marshal(hc.ID)
			if err != nil {
				return nil, fmt.Errorf("marshal request id: %w", err)
			}
			rawID = b
		}

		ctx := hc.Ctx
		if ctx == nil {
			ctx = context.Background()
		}
		if e.requestTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, e.requestTimeout)
			defer cancel()
		}
		return handler(ctx, rawID, hc.Params)
	})
}

// HandleMessage processes a single decoded JSON-RPC message and returns the
// response bytes. For notifications (no id), returns nil, nil.
func (e *Engine) HandleMessage(ctx context.Context, msg []byte) ([]byte, error) {
	kind, classifyErr := dispatch.Classify(msg)
	if kind == dispatch.KindInvalid {
		if !json.Valid(msg) {
			return marshalResponse(nil, nil, protocol.NewError(protocol.ParseError, "invalid JSON", nil))
		}
		reason := "invalid JSON-RPC envelope"
		if classifyErr != nil {
			reason = classifyErr.Error()
		}
		return marshalResponse(nil, nil, protocol.NewError(protocol.InvalidRequest, reason, nil))
	}

	if kind == dispatch.KindResponse {
		var resp protocol.Response
		if err := json.Unmarshal(msg, &resp); err != nil {
			e.logger.Warn("failed to decode inbound response envelope", zap.Error(err))
			return nil, nil
		}
		if !e.correlator.Resolve(&resp) {
			e.logger.Warn("received response with no matching outstanding request", zap.Any("id", resp.ID))
		}
		return nil, nil
	}

	var req protocol.Request
	if err := json.Unmarshal(msg, &req); err != nil {
		return marshalResponse(nil, nil, protocol.NewError(protocol.ParseError, "invalid JSON", nil))
	}

	if lifecycleErr := e.checkLifecycle(req.Method); lifecycleErr != nil {
		if req.ID == nil {
			e.logger.Warn("rejecting notification before initialization", zap.String("method", req.Method))
			return nil, nil
		}
		return marshalResponse(req.ID, nil, lifecycleErr)
	}

	e.logger.Debug("handling request", zap.String("method", req.Method), zap.Any("id", req.ID))
	start := time.Now()

	handler, ok := e.table.Lookup(req.Method)
	if !ok {
		if req.ID == nil {
			return nil, nil
		}
		return marshalResponse(req.ID, nil, protocol.NewError(protocol.MethodNotFound, fmt.Sprintf("method not found: %s", req.Method), nil))
	}

	result, err := handler(dispatch.HandlerContext{Ctx: ctx, ID: req.ID, Params: req.Params})
	duration := time.Since(start)

	if err != nil {
		e.logger.Warn("handler error",
			zap.String("method", req.Method),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		if req.ID == nil {
			return nil, nil
		}
		var rpcErr *protocol.Error
		if errors.As(err, &rpcErr) {
			return marshalResponse(req.ID, nil, rpcErr)
		}
		return marshalResponse(req.ID, nil, protocol.NewError(protocol.InternalError, err.Error(), nil))
	}

	e.logger.Debug("request handled", zap.String("method", req.Method), zap.Duration("duration", duration))

	if req.ID == nil {
		return nil, nil
	}
	return marshalResponse(req.ID, result, nil)
}

// Serve runs the engine's read loop on the given transport until ctx is
// cancelled or the transport is closed, concurrently dispatching inbound
// messages and outbound notifications.
func (e *Engine) Serve(ctx context.Context, t transport.Transport) error {
	e.logger.Info("MCP engine starting", zap.String("name", e.info.Name), zap.String("version", e.info.Version))

	msgCh := make(chan []byte)
	errCh := make(chan error, 1)
	go func() {
		for {
			msg, err := t.Receive(ctx)
			if err != nil {
				errCh <- err
				return
			}
			msgCh <- msg
		}
	}()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("MCP engine stopping (context cancelled)")
			e.setState(StateClosed)
			return ctx.Err()

		case err := <-errCh:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			e.logger.Error("receive error", zap.Error(err))
			return fmt.Errorf("receive error: %w", err)

		case msg := <-msgCh:
			resp, err := e.HandleMessage(ctx, msg)
			if err != nil {
				e.logger.Error("handle error", zap.Error(err))
				continue
			}
			if resp == nil {
				continue
			}
			if err := t.Send(ctx, resp); err != nil {
				e.logger.Error("send error", zap.Error(err))
				return fmt.Errorf("send error: %w", err)
			}

		case notif := <-e.notifyCh:
			if err := t.Send(ctx, notif); err != nil {
				e.logger.Error("notification send error", zap.Error(err))
				return fmt.Errorf("notification send error: %w", err)
			}
		}
	}
}

func (e *Engine) handleInitialize(_ context.Context, _ json.RawMessage, params json.RawMessage) (interface{}, error) {
	e.setState(StateInitializing)

	var initParams protocol.InitializeParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &initParams); err != nil {
			e.setState(StateUninitialized)
			return nil, protocol.NewError(protocol.InvalidParams, fmt.Sprintf("invalid initialize params: %v", err), nil)
		}
	}

	if initParams.ProtocolVersion != "" && initParams.ProtocolVersion != protocol.ProtocolVersion {
		e.logger.Warn("rejecting unsupported client protocol version",
			zap.String("client_version", initParams.ProtocolVersion),
			zap.String("server_version", protocol.ProtocolVersion),
		)
		e.setState(StateUninitialized)
		return nil, protocol.NewError(protocol.InvalidParams,
			fmt.Sprintf("unsupported protocol version: %s (server supports %s)", initParams.ProtocolVersion, protocol.ProtocolVersion),
			nil)
	}

	e.mu.Lock()
	caps := initParams.Capabilities
	e.clientCapabilities = &caps
	if initParams.ClientInfo.Name != "" {
		e.clientInfo = &initParams.ClientInfo
	}
	e.mu.Unlock()

	if initParams.ClientInfo.Name != "" {
		e.logger.Info("client connected",
			zap.String("client_name", initParams.ClientInfo.Name),
			zap.String("client_version", initParams.ClientInfo.Version),
		)
	}

	result := protocol.InitializeResult{
		ProtocolVersion: protocol.ProtocolVersion,
		Capabilities:    e.capabilities,
		ServerInfo:      e.info,
	}
	return result, nil
}

func (e *Engine) handleNotificationsInitialized(_ context.Context, _ json.RawMessage, _ json.RawMessage) (interface{}, error) {
	e.setState(StateInitialized)
	e.logger.Debug("client initialized")
	return nil, nil
}

func (e *Engine) handlePing(_ context.Context, _ json.RawMessage, _ json.RawMessage) (interface{}, error) {
	return struct{}{}, nil
}

func (e *Engine) handleSetLevel(_ context.Context, _ json.RawMessage, params json.RawMessage) (interface{}, error) {
	var p protocol.SetLevelParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, protocol.NewError(protocol.InvalidParams, fmt.Sprintf("invalid setLevel params: %v", err), nil)
	}
	if !protocol.IsValidLogLevel(p.Level) {
		return nil, protocol.NewError(protocol.InvalidParams, fmt.Sprintf("unrecognized log level: %s", p.Level), nil)
	}
	e.logger.Info("log level changed by client", zap.String("level", p.Level))
	return struct{}{}, nil
}

// ClientInfo returns the connected client's information, or nil if not yet initialized.
func (e *Engine) ClientInfo() *protocol.Implementation {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.clientInfo
}

// ClientCapabilities returns the connected client's capabilities, or nil if not yet initialized.
func (e *Engine) ClientCapabilities() *protocol.ClientCapabilities {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.clientCapabilities
}

// Registry exposes the engine's backing registry, e.g. for discovery to feed
// registrations into before Serve starts.
func (e *Engine) Registry() *registry.Registry { return e.registry }

// Queue exposes the engine's async job queue, or nil if none was configured.
func (e *Engine) Queue() *queue.Queue { return e.queue }

// notifyListChanged publishes a list-changed event over the broker (if any)
// and additionally enqueues it for direct delivery over notifyCh, covering
// both the stdio Serve loop (notifyCh) and HTTP SSE (broker) transports.
func (e *Engine) notifyListChanged(kind registry.Kind) {
	var method string
	switch kind {
	case registry.KindTool:
		method = "notifications/tools/list_changed"
	case registry.KindResource:
		method = "notifications/resources/list_changed"
	case registry.KindPrompt:
		method = "notifications/prompts/list_changed"
	default:
		return
	}

	if e.broker != nil {
		e.broker.Publish(context.Background(), method, map[string]interface{}{})
	}

	notif, err := marshalNotification(method, nil)
	if err != nil {
		e.logger.Error("failed to marshal list changed notification", zap.Error(err), zap.String("method", method))
		return
	}
	select {
	case e.notifyCh <- notif:
	default:
		e.logger.Warn("notification channel full, dropping list changed notification", zap.String("method", method))
	}
}

// NotifyToolsListChanged announces that the registered tool set changed.
func (e *Engine) NotifyToolsListChanged() { e.notifyListChanged(registry.KindTool) }

// NotifyResourceListChanged announces that the registered resource set changed.
func (e *Engine) NotifyResourceListChanged() { e.notifyListChanged(registry.KindResource) }

// NotifyPromptsListChanged announces that the registered prompt set changed.
func (e *Engine) NotifyPromptsListChanged() { e.notifyListChanged(registry.KindPrompt) }

// marshalNotification creates a JSON-RPC notification (no id field).
func marshalNotification(method string, params interface{}) ([]byte, error) {
	msg := struct {
		JSONRPC string      `json:"jsonrpc"`
		Method  string      `json:"method"`
		Params  interface{} `json:"params,omitempty"`
	}{
		JSONRPC: protocol.JSONRPCVersion,
		Method:  method,
		Params:  params,
	}
	return json.Marshal(msg)
}

// marshalResponse creates a JSON-RPC response.
func marshalResponse(id *protocol.RequestID, result interface{}, rpcErr *protocol.Error) ([]byte, error) {
	resp := protocol.Response{
		JSONRPC: protocol.JSONRPCVersion,
		ID:      id,
		Error:   rpcErr,
	}

	if result != nil {
		resultBytes, err := json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal result: %w", err)
		}
		resp.Result = resultBytes
	}

	return json.Marshal(resp)
}
