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
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/teradata-labs/mcp-core/pkg/mcp/broker"
	"github.com/teradata-labs/mcp-core/pkg/mcp/codec"
	"github.com/teradata-labs/mcp-core/pkg/mcp/discovery"
	"github.com/teradata-labs/mcp-core/pkg/mcp/protocol"
	"github.com/teradata-labs/mcp-core/pkg/mcp/queue"
	"github.com/teradata-labs/mcp-core/pkg/mcp/registry"
	"github.com/teradata-labs/mcp-core/pkg/mcp/server"
	"github.com/teradata-labs/mcp-core/pkg/mcp/transport"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server",
	Long: `Start the MCP server.

The server will:
- Register the built-in echo and add tools and any tools/resources/prompts a
  discovery root declares (if discovery.enabled)
- Start the notification broker and async job queue
- Listen on the configured transport (stdio or http)

Press Ctrl+C to gracefully shut down.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// runServe wires every Protocol Engine dependency and runs it to
// completion, translating the outcome into one of the documented process
// exit codes via the package-level exitCode variable.
func runServe(_ *cobra.Command, _ []string) error {
	logger := setupLogger(logFile, logLevel)
	defer func() { _ = logger.Sync() }()

	reg := registry.New()
	if err := registerBuiltinTools(reg, logger.Named("tools")); err != nil {
		exitCode = 1
		return fmt.Errorf("register builtin tools: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if config.Discovery.Enabled {
		if err := applyDiscovery(ctx, reg, logger); err != nil {
			exitCode = 1
			return fmt.Errorf("discovery: %w", err)
		}
	}

	overflow, err := parseOverflowPolicy(config.Notifications.OverflowPolicy)
	if err != nil {
		exitCode = 2
		return err
	}
	b := broker.New(broker.Config{
		Overflow:        overflow,
		QueueSize:       config.Notifications.QueueSize,
		RetentionWindow: config.Notifications.RetentionWindow,
		Logger:          logger.Named("broker"),
	})

	engineCfg := server.Config{
		Info: protocol.Implementation{
			Name:    "mcpserve",
			Version: serverVersion,
		},
		Capabilities:   buildCapabilities(config.Capabilities),
		Registry:       reg,
		Broker:         b,
		Logger:         logger.Named("engine"),
		RequestTimeout: config.Async.DefaultTimeout,
	}

	q := queue.New(queue.Config{
		Workers:         config.Async.Workers,
		QueueSize:       config.Async.QueueSize,
		RetentionWindow: config.Async.RetentionWindow,
		DefaultTimeout:  config.Async.DefaultTimeout,
		Logger:          logger.Named("queue"),
	}, toolDispatch(reg), b)
	engineCfg.Queue = q

	engine := server.New(engineCfg)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	receivedSignal := make(chan os.Signal, 1)
	go func() {
		sig := <-sigCh
		receivedSignal <- sig
		logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
		cancel()
	}()

	var serveErr error
	switch config.Transports.Default {
	case "http":
		serveErr = serveHTTP(ctx, engine, reg, b, logger)
	default:
		serveErr = serveStdio(ctx, engine, logger)
	}

	select {
	case <-receivedSignal:
		exitCode = 130
		return nil
	default:
	}

	if serveErr != nil && ctx.Err() == nil {
		exitCode = 1
		return serveErr
	}
	exitCode = 0
	return nil
}

func serveStdio(ctx context.Context, engine *server.Engine, logger *zap.Logger) error {
	framing := codec.Newline
	if config.Transports.Stdio.UseContentLength {
		framing = codec.ContentLength
	}
	maxSize := config.Transports.Stdio.MaxMessageSize
	var opts []codec.Option
	if maxSize > 0 {
		opts = append(opts, codec.WithMaxMessageSize(maxSize))
	}

	t := transport.NewStdioServerTransportWithFraming(os.Stdin, os.Stdout, framing, opts...)
	logger.Info("MCP server ready on stdio")
	err := engine.Serve(ctx, t)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func serveHTTP(ctx context.Context, engine *server.Engine, reg *registry.Registry, b *broker.Broker, logger *zap.Logger) error {
	handler := transport.MCPHandler(func(reqCtx context.Context, msg []byte) ([]byte, error) {
		return engine.HandleMessage(reqCtx, msg)
	})

	mcpServer, err := transport.NewStreamableHTTPServer(transport.StreamableHTTPServerConfig{
		Handler: handler,
		Logger:  logger.Named("http"),
	})
	if err != nil {
		return fmt.Errorf("build http server: %w", err)
	}
	defer mcpServer.Close()

	resumption := transport.NewStreamResumption(256)
	sse := &transport.SSEHandler{
		Broker:     b,
		Resumption: resumption,
		Heartbeat:  30 * time.Second,
		Logger:     logger.Named("sse"),
	}

	health := transport.NewHealthHandler("http", func() (bool, map[string]string) {
		return true, map[string]string{"registry": fmt.Sprintf("%d tools", len(reg.ListTools()))}
	})
	info := transport.NewInfoHandler(transport.ServerInfo{
		Name:            "mcpserve",
		Version:         serverVersion,
		ProtocolVersion: protocol.ProtocolVersion,
		TransportName:   "http",
		Endpoints:       []string{"/", "/events", "/health", "/info"},
	})

	mux := http.NewServeMux()
	mux.Handle("/", mcpServer)
	mux.Handle("/events", sse)
	mux.Handle("/health", health)
	mux.Handle("/info", info)

	cors := transport.CORSConfig{
		Origins: config.Transports.HTTP.CORS.Origins,
		Methods: config.Transports.HTTP.CORS.Methods,
		Headers: config.Transports.HTTP.CORS.Headers,
		MaxAge:  config.Transports.HTTP.CORS.MaxAge,
	}
	handlerWithCORS := transport.WithCORS(cors, mux)

	addr := fmt.Sprintf("%s:%d", config.Transports.HTTP.Host, config.Transports.HTTP.Port)
	transport.WarnIfNotLocalhost(logger, addr)

	srv := &http.Server{
		Addr:              addr,
		Handler:           handlerWithCORS,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErrCh := make(chan error, 1)
	go func() {
		logger.Info("MCP server ready on http", zap.String("addr", addr))
		serveErrCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-serveErrCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func parseOverflowPolicy(s string) (broker.OverflowPolicy, error) {
	switch s {
	case "drop-oldest", "":
		return broker.DropOldest, nil
	case "drop-newest":
		return broker.DropNewest, nil
	case "block":
		return broker.Block, nil
	default:
		return 0, fmt.Errorf("notifications.overflow_policy: unknown value %q", s)
	}
}

func buildCapabilities(cfg CapabilitiesConfig) protocol.ServerCapabilities {
	caps := protocol.ServerCapabilities{
		Tools: &protocol.ToolsCapability{},
		Resources: &protocol.ResourcesCapability{
			Subscribe:   contains(cfg.Resources.Supports, "subscribe"),
			ListChanged: cfg.Resources.ListChanged,
		},
		Prompts: &protocol.PromptsCapability{ListChanged: cfg.Prompts.ListChanged},
	}
	return caps
}

func contains(ss []string, target string) bool {
	for _, s := range ss {
		if s == target {
			return true
		}
	}
	return false
}

// applyDiscovery scans the configured discovery roots, binds each declared
// entry to a generic handler, and — when the filesystem supports it — starts
// a background watch that re-scans and re-binds on change. Discovery only
// supplies wire metadata; mcpserve has no way to load arbitrary executable
// code for a discovered entry, so the bound handler only reports that the
// declaration has no bound implementation.
func applyDiscovery(ctx context.Context, reg *registry.Registry, logger *zap.Logger) error {
	// discovery.Config.Roots keys by kind (Mcp/Tools, Mcp/Resources,
	// Mcp/Prompts by default); the flat discovery.paths config list doesn't
	// map onto that per-kind shape, so an unset Roots map falls through to
	// the documented defaults rather than guessing which path is which kind.
	d := discovery.New(discovery.Config{
		Roots:           nil,
		Recursive:       config.Discovery.Recursive,
		ExcludePatterns: config.Discovery.ExcludePatterns,
		CacheTTL:        config.Discovery.CacheTTL,
		Logger:          logger.Named("discovery"),
	})

	bound := map[registry.Kind][]string{}
	if err := rescanAndBind(d, reg, logger, bound); err != nil {
		return err
	}

	changes, err := d.Watch(ctx)
	if err != nil {
		logger.Warn("discovery watch unavailable, roots will only be scanned once", zap.Error(err))
		return nil
	}
	go func() {
		for range changes {
			if err := rescanAndBind(d, reg, logger, bound); err != nil {
				logger.Warn("discovery re-scan failed", zap.Error(err))
			}
		}
	}()
	return nil
}

// rescanAndBind re-walks every discovery root, unregisters the previously
// bound set (recorded in bound, keyed by kind) so renamed or deleted
// declarations don't linger, and binds the fresh scan in their place.
func rescanAndBind(d *discovery.Discoverer, reg *registry.Registry, logger *zap.Logger, bound map[registry.Kind][]string) error {
	entries, err := d.ScanAll()
	if err != nil {
		return err
	}

	for kind, names := range bound {
		for _, name := range names {
			reg.Unregister(kind, name)
		}
	}

	for _, e := range entries[registry.KindTool] {
		entry := e
		if err := reg.RegisterTool(registry.ToolDescriptor{
			Tool: protocol.Tool{
				Name:        entry.Name,
				Description: entry.Description,
				InputSchema: entry.Schema,
			},
			Handler:  unboundToolHandler(entry.Name),
			Metadata: map[string]interface{}{"source": entry.SourcePath},
		}); err != nil {
			return err
		}
	}

	for _, e := range entries[registry.KindResource] {
		entry := e
		if err := reg.RegisterResource(registry.ResourceDescriptor{
			Resource: protocol.Resource{
				URI:                  entry.URI,
				Name:                 entry.Name,
				Description:          entry.Description,
				MimeType:             entry.MimeType,
				SupportsSubscription: entry.SupportsSubscription,
			},
			Read:     unboundResourceHandler(entry.Name),
			Metadata: map[string]interface{}{"source": entry.SourcePath},
		}); err != nil {
			return err
		}
	}

	for _, e := range entries[registry.KindPrompt] {
		entry := e
		args := make([]protocol.PromptArgument, 0, len(entry.Arguments))
		for _, a := range entry.Arguments {
			args = append(args, protocol.PromptArgument{Name: a.Name, Description: a.Description, Required: a.Required})
		}
		if err := reg.RegisterPrompt(registry.PromptDescriptor{
			Prompt: protocol.Prompt{
				Name:        entry.Name,
				Description: entry.Description,
				Arguments:   args,
			},
			Handler:  unboundPromptHandler(entry.Name),
			Metadata: map[string]interface{}{"source": entry.SourcePath},
		}); err != nil {
			return err
		}
	}

	bound[registry.KindTool] = namesOf(entries[registry.KindTool])
	bound[registry.KindResource] = namesOf(entries[registry.KindResource])
	bound[registry.KindPrompt] = namesOf(entries[registry.KindPrompt])

	logger.Info("discovery scan complete",
		zap.Int("tools", len(entries[registry.KindTool])),
		zap.Int("resources", len(entries[registry.KindResource])),
		zap.Int("prompts", len(entries[registry.KindPrompt])))
	return nil
}

func namesOf(entries []discovery.Entry) []string {
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	return names
}

// unboundToolHandler, unboundResourceHandler and unboundPromptHandler report
// back that a discovered declaration has no bound implementation: discovery
// supplies wire metadata only, never executable code, so a name that is not
// also wired explicitly at startup can only ever fail this way when invoked.
func unboundToolHandler(name string) registry.ToolHandler {
	return func(_ context.Context, _ map[string]interface{}) (*protocol.CallToolResult, error) {
		return &protocol.CallToolResult{
			IsError: true,
			Content: []protocol.Content{{Type: "text", Text: fmt.Sprintf("tool %q is declared via discovery but has no bound implementation", name)}},
		}, nil
	}
}

func unboundResourceHandler(name string) registry.ResourceHandler {
	return func(_ context.Context, uri string) (*protocol.ReadResourceResult, error) {
		return nil, fmt.Errorf("resource %q (%s) is declared via discovery but has no bound implementation", name, uri)
	}
}

func unboundPromptHandler(name string) registry.PromptHandler {
	return func(_ context.Context, _ map[string]interface{}) (*protocol.GetPromptResult, error) {
		return nil, fmt.Errorf("prompt %q is declared via discovery but has no bound implementation", name)
	}
}

// toolDispatch adapts the registry's tool handlers to queue.Dispatch, so an
// async tool invocation (tools/call with metadata["async"]=true) runs
// through the same registry lookup a synchronous call would.
func toolDispatch(reg *registry.Registry) queue.Dispatch {
	return func(ctx context.Context, method string, params json.RawMessage) (interface{}, error) {
		descriptor, ok := reg.GetTool(method)
		if !ok {
			return nil, fmt.Errorf("unknown tool %q", method)
		}
		var args map[string]interface{}
		if len(params) > 0 {
			if err := json.Unmarshal(params, &args); err != nil {
				return nil, fmt.Errorf("decode arguments: %w", err)
			}
		}
		return descriptor.Handler(ctx, args)
	}
}
