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

// Package registry implements the MCP component registry: a typed,
// write-once store of tool/resource/prompt handler descriptors, partitioned
// by kind, with name uniqueness enforced within each partition.
package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/teradata-labs/mcp-core/pkg/mcp/protocol"
)

// Kind identifies which partition a descriptor belongs to.
type Kind string

const (
	KindTool     Kind = "tool"
	KindResource Kind = "resource"
	KindPrompt   Kind = "prompt"
)

// AlreadyRegisteredError reports a name clash within a kind's partition.
type AlreadyRegisteredError struct {
	Kind Kind
	Name string
}

func (e *AlreadyRegisteredError) Error() string {
	return fmt.Sprintf("%s %q is already registered", e.Kind, e.Name)
}

// ToolHandler invokes a registered tool with validated arguments.
type ToolHandler func(ctx context.Context, args map[string]interface{}) (*protocol.CallToolResult, error)

// ResourceHandler reads a registered resource by URI.
type ResourceHandler func(ctx context.Context, uri string) (*protocol.ReadResourceResult, error)

// ResourceSubscribeHandler is implemented by resources that opt into the
// Subscribable capability: subscriptions are stateful in the handler, which
// receives a publish callback and emits updates itself rather than the
// engine polling.
type ResourceSubscribeHandler func(ctx context.Context, uri string, publish func(protocol.ResourceUpdatedNotification)) (unsubscribe func(), err error)

// PromptHandler renders a registered prompt with arguments.
type PromptHandler func(ctx context.Context, args map[string]interface{}) (*protocol.GetPromptResult, error)

// ToolDescriptor is one registered tool: its wire definition plus the
// invocable handler and free-form metadata (tags, version, middleware hints).
type ToolDescriptor struct {
	Tool     protocol.Tool
	Handler  ToolHandler
	Metadata map[string]interface{}
}

// ResourceDescriptor is one registered resource.
type ResourceDescriptor struct {
	Resource  protocol.Resource
	Read      ResourceHandler
	Subscribe ResourceSubscribeHandler // nil unless Resource.SupportsSubscription
	Metadata  map[string]interface{}
}

// PromptDescriptor is one registered prompt.
type PromptDescriptor struct {
	Prompt   protocol.Prompt
	Handler  PromptHandler
	Metadata map[string]interface{}
}

// partition stores one kind's descriptors in insertion order alongside a
// name index, so List() is deterministic without re-sorting.
type partition struct {
	order []string
	byKey map[string]interface{}
}

func newPartition() *partition {
	return &partition{byKey: make(map[string]interface{})}
}

func (p *partition) register(name string, descriptor interface{}) error {
	if _, exists := p.byKey[name]; exists {
		return fmt.Errorf("duplicate") // wrapped by caller with Kind context
	}
	p.byKey[name] = descriptor
	p.order = append(p.order, name)
	return nil
}

func (p *partition) unregister(name string) {
	if _, exists := p.byKey[name]; !exists {
		return
	}
	delete(p.byKey, name)
	for i, n := range p.order {
		if n == name {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
}

// Registry is the write-once store of handler descriptors for the server's
// lifetime. It owns tools/resources/prompts exclusively; nothing else holds
// a mutable reference to a descriptor once registered.
type Registry struct {
	mu        sync.RWMutex
	tools     *partition
	resources *partition
	prompts   *partition
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		tools:     newPartition(),
		resources: newPartition(),
		prompts:   newPartition(),
	}
}

func (r *Registry) partitionFor(kind Kind) *partition {
	switch kind {
	case KindTool:
		return r.tools
	case KindResource:
		return r.resources
	case KindPrompt:
		return r.prompts
	default:
		return nil
	}
}

// RegisterTool adds a tool descriptor. Fails with *AlreadyRegisteredError on
// a name clash within the tools partition.
func (r *Registry) RegisterTool(d ToolDescriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.tools.register(d.Tool.Name, d); err != nil {
		return &AlreadyRegisteredError{Kind: KindTool, Name: d.Tool.Name}
	}
	return nil
}

// RegisterResource adds a resource descriptor. Fails with
// *AlreadyRegisteredError on a name clash within the resources partition.
// Only names are checked: two resources with different names may share a
// URI, and GetResourceByURI then returns the one registered first.
func (r *Registry) RegisterResource(d ResourceDescriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.resources.register(d.Resource.Name, d); err != nil {
		return &AlreadyRegisteredError{Kind: KindResource, Name: d.Resource.Name}
	}
	return nil
}

// RegisterPrompt adds a prompt descriptor. Fails with *AlreadyRegisteredError
// on a name clash within the prompts partition.
func (r *Registry) RegisterPrompt(d PromptDescriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.prompts.register(d.Prompt.Name, d); err != nil {
		return &AlreadyRegisteredError{Kind: KindPrompt, Name: d.Prompt.Name}
	}
	return nil
}

// Unregister removes name from kind's partition, if present.
func (r *Registry) Unregister(kind Kind, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p := r.partitionFor(kind); p != nil {
		p.unregister(name)
	}
}

// Has reports whether name is registered within kind.
func (r *Registry) Has(kind Kind, name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p := r.partitionFor(kind)
	if p == nil {
		return false
	}
	_, ok := p.byKey[name]
	return ok
}

// GetTool looks up a tool descriptor by name.
func (r *Registry) GetTool(name string) (ToolDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.tools.byKey[name]
	if !ok {
		return ToolDescriptor{}, false
	}
	return v.(ToolDescriptor), true
}

// GetResource looks up a resource descriptor by name.
func (r *Registry) GetResource(name string) (ResourceDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.resources.byKey[name]
	if !ok {
		return ResourceDescriptor{}, false
	}
	return v.(ResourceDescriptor), true
}

// GetResourceByURI looks up a resource descriptor by its URI, scanning the
// resources partition. Called far less often than GetResource (only on
// resources/read, /subscribe, /unsubscribe), so a linear scan under the
// read lock is acceptable and avoids keeping a second, easily-desynced index.
func (r *Registry) GetResourceByURI(uri string) (ResourceDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range r.resources.order {
		d := r.resources.byKey[name].(ResourceDescriptor)
		if d.Resource.URI == uri {
			return d, true
		}
	}
	return ResourceDescriptor{}, false
}

// GetPrompt looks up a prompt descriptor by name.
func (r *Registry) GetPrompt(name string) (PromptDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.prompts.byKey[name]
	if !ok {
		return PromptDescriptor{}, false
	}
	return v.(PromptDescriptor), true
}

// ListTools returns all registered tools in registration order.
func (r *Registry) ListTools() []ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ToolDescriptor, 0, len(r.tools.order))
	for _, name := range r.tools.order {
		out = append(out, r.tools.byKey[name].(ToolDescriptor))
	}
	return out
}

// ListResources returns all registered resources in registration order.
func (r *Registry) ListResources() []ResourceDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ResourceDescriptor, 0, len(r.resources.order))
	for _, name := range r.resources.order {
		out = append(out, r.resources.byKey[name].(ResourceDescriptor))
	}
	return out
}

// ListPrompts returns all registered prompts in registration order.
func (r *Registry) ListPrompts() []PromptDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]PromptDescriptor, 0, len(r.prompts.order))
	for _, name := range r.prompts.order {
		out = append(out, r.prompts.byKey[name].(PromptDescriptor))
	}
	return out
}
