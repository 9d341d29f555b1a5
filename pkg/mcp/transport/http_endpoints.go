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
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teradata-labs/mcp-core/pkg/mcp/broker"
)

// CORSConfig controls the headers written for the HTTP transport's preflight
// and actual responses.
type CORSConfig struct {
	Origins []string
	Methods []string
	Headers []string
	MaxAge  int
}

func (c CORSConfig) apply(w http.ResponseWriter) {
	origins := c.Origins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	methods := c.Methods
	if len(methods) == 0 {
		methods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	}
	headers := c.Headers
	if len(headers) == 0 {
		headers = []string{"Content-Type", "Mcp-Session-Id", "Last-Event-ID"}
	}

	w.Header().Set("Access-Control-Allow-Origin", strings.Join(origins, ", "))
	w.Header().Set("Access-Control-Allow-Methods", strings.Join(methods, ", "))
	w.Header().Set("Access-Control-Allow-Headers", strings.Join(headers, ", "))
	if c.MaxAge > 0 {
		w.Header().Set("Access-Control-Max-Age", strconv.Itoa(c.MaxAge))
	}
}

// WithCORS wraps next so every response, including an `OPTIONS /` preflight,
// carries the configured CORS headers.
func WithCORS(cfg CORSConfig, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cfg.apply(w)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// HealthCheck reports the transport's liveness for the `GET /health` endpoint.
type HealthCheck func() (healthy bool, checks map[string]string)

// NewHealthHandler serves `GET /health`, reporting
// {status: "healthy"|"unhealthy", checks: {...}, transport: {...}} with 200/503.
func NewHealthHandler(transportName string, check HealthCheck) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		healthy, checks := check()
		status := "healthy"
		code := http.StatusOK
		if !healthy {
			status = "unhealthy"
			code = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status": status,
			"checks": checks,
			"transport": map[string]string{
				"type": transportName,
			},
		})
	})
}

// ServerInfo is the static identity/capability payload `GET /info` reports.
type ServerInfo struct {
	Name            string
	Version         string
	ProtocolVersion string
	TransportName   string
	Capabilities    interface{}
	Endpoints       []string
}

// NewInfoHandler serves `GET /info`, reporting
// {server:{name,version}, protocol:{version, transport}, capabilities:{...}, endpoints:[...]}.
func NewInfoHandler(info ServerInfo) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"server": map[string]string{
				"name":    info.Name,
				"version": info.Version,
			},
			"protocol": map[string]string{
				"version":   info.ProtocolVersion,
				"transport": info.TransportName,
			},
			"capabilities": info.Capabilities,
			"endpoints":    info.Endpoints,
		})
	})
}

// SSEHandler binds a broker subscription to a live HTTP response stream: a
// GET registers the subscription, writes "id: <id>\ndata: <json>\n\n" per
// delivery plus periodic heartbeats, and replays buffered events after
// Last-Event-ID on reconnect. Closing the connection tears down the
// subscription.
type SSEHandler struct {
	Broker        *broker.Broker
	Resumption    *StreamResumption
	Heartbeat     time.Duration
	Logger        *zap.Logger
	SubscribeType []string // empty subscribes to all notification types
}

func (h *SSEHandler) logger() *zap.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return zap.NewNop()
}

func (h *SSEHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	clientID := r.Header.Get("Mcp-Session-Id")
	if clientID == "" {
		clientID = uuid.New().String()
	}

	if h.Resumption != nil {
		if lastID := r.Header.Get("Last-Event-ID"); lastID != "" {
			for _, evt := range h.Resumption.GetEventsAfter(lastID) {
				writeSSEFrame(w, evt.ID, evt.Data)
			}
			flusher.Flush()
		}
	}

	sub := h.Broker.Subscribe(clientID, h.SubscribeType, nil)
	defer h.Broker.Unsubscribe(sub.ID)

	heartbeat := h.Heartbeat
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return

		case delivery, open := <-sub.Outbound():
			if !open {
				return
			}
			data, err := json.Marshal(delivery.Payload)
			if err != nil {
				h.logger().Warn("failed to marshal SSE delivery", zap.Error(err))
				continue
			}
			eventID := delivery.NotificationID
			if h.Resumption != nil {
				h.Resumption.AddEvent(SSEEvent{ID: eventID, Data: data})
			}
			writeSSEFrame(w, eventID, data)
			h.Broker.MarkSent(delivery.NotificationID, sub.ID)
			flusher.Flush()

		case <-ticker.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		}
	}
}

func writeSSEFrame(w http.ResponseWriter, id string, data []byte) {
	if id != "" {
		fmt.Fprintf(w, "id: %s\n", id)
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}
