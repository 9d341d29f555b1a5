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

package registry

// Middleware wraps a ToolHandler to compose cross-cutting behavior (timing,
// auth checks, rate limiting) without the handler itself knowing about it.
type Middleware func(ToolHandler) ToolHandler

// Group applies a shared name prefix, middleware chain, and metadata keys to
// every registration made through it. Groups nest: a child group's prefix is
// concatenated onto its parent's, and middleware/metadata accumulate rather
// than replace.
type Group struct {
	registry   *Registry
	prefix     string
	middleware []Middleware
	metadata   map[string]interface{}
}

// NewGroup creates a root group bound to registry with no prefix.
func NewGroup(r *Registry) *Group {
	return &Group{registry: r, metadata: map[string]interface{}{}}
}

// WithPrefix returns a child group whose name prefix is the parent's prefix
// concatenated with prefix.
func (g *Group) WithPrefix(prefix string) *Group {
	return g.clone(func(child *Group) { child.prefix = g.prefix + prefix })
}

// Use returns a child group with mw appended to the inherited middleware chain.
func (g *Group) Use(mw ...Middleware) *Group {
	return g.clone(func(child *Group) {
		child.middleware = append(append([]Middleware{}, g.middleware...), mw...)
	})
}

// WithMetadata returns a child group with the given keys merged over the
// inherited metadata (child keys win on conflict).
func (g *Group) WithMetadata(kv map[string]interface{}) *Group {
	return g.clone(func(child *Group) {
		merged := make(map[string]interface{}, len(g.metadata)+len(kv))
		for k, v := range g.metadata {
			merged[k] = v
		}
		for k, v := range kv {
			merged[k] = v
		}
		child.metadata = merged
	})
}

func (g *Group) clone(mutate func(*Group)) *Group {
	child := &Group{
		registry:   g.registry,
		prefix:     g.prefix,
		middleware: append([]Middleware{}, g.middleware...),
		metadata:   make(map[string]interface{}, len(g.metadata)),
	}
	for k, v := range g.metadata {
		child.metadata[k] = v
	}
	mutate(child)
	return child
}

func (g *Group) applyMiddleware(h ToolHandler) ToolHandler {
	// Apply in registration order so the first-listed middleware is
	// outermost (runs first on the way in, last on the way out).
	for i := len(g.middleware) - 1; i >= 0; i-- {
		h = g.middleware[i](h)
	}
	return h
}

func (g *Group) mergeMetadata(extra map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(g.metadata)+len(extra))
	for k, v := range g.metadata {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// RegisterTool registers d with the group's prefix prepended to its name,
// the group's middleware wrapped around its handler, and the group's
// metadata merged under it.
func (g *Group) RegisterTool(d ToolDescriptor) error {
	d.Tool.Name = g.prefix + d.Tool.Name
	d.Handler = g.applyMiddleware(d.Handler)
	d.Metadata = g.mergeMetadata(d.Metadata)
	return g.registry.RegisterTool(d)
}

// RegisterResource registers d with the group's prefix prepended to its name
// and the group's metadata merged under it.
func (g *Group) RegisterResource(d ResourceDescriptor) error {
	d.Resource.Name = g.prefix + d.Resource.Name
	d.Metadata = g.mergeMetadata(d.Metadata)
	return g.registry.RegisterResource(d)
}

// RegisterPrompt registers d with the group's prefix prepended to its name
// and the group's metadata merged under it.
func (g *Group) RegisterPrompt(d PromptDescriptor) error {
	d.Prompt.Name = g.prefix + d.Prompt.Name
	d.Metadata = g.mergeMetadata(d.Metadata)
	return g.registry.RegisterPrompt(d)
}
