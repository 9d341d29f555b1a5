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

// Package discovery implements filesystem auto-discovery of tool, resource,
// and prompt declarations, feeding the registry alongside explicit
// registration. Each declaration file names a handler's wire shape
// (name/description/schema); binding the name to an actual Go handler is the
// caller's responsibility — discovery never executes anything, it only
// reads declarations.
package discovery

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/teradata-labs/mcp-core/pkg/mcp/registry"
)

// DefaultToolsRoot, DefaultResourcesRoot, DefaultPromptsRoot are the
// conventional filesystem roots scanned when Config.Roots leaves a kind
// unset.
const (
	DefaultToolsRoot     = "Mcp/Tools"
	DefaultResourcesRoot = "Mcp/Resources"
	DefaultPromptsRoot   = "Mcp/Prompts"
)

// DefaultExcludePatterns is applied when Config.ExcludePatterns is nil.
var DefaultExcludePatterns = []string{"*Test.*"}

// Config controls which roots are scanned and how.
type Config struct {
	Roots           map[registry.Kind]string
	Recursive       bool
	ExcludePatterns []string
	CacheTTL        time.Duration
	Logger          *zap.Logger
}

func (c Config) root(kind registry.Kind) string {
	if r, ok := c.Roots[kind]; ok && r != "" {
		return r
	}
	switch kind {
	case registry.KindTool:
		return DefaultToolsRoot
	case registry.KindResource:
		return DefaultResourcesRoot
	case registry.KindPrompt:
		return DefaultPromptsRoot
	default:
		return ""
	}
}

func (c Config) excludePatterns() []string {
	if c.ExcludePatterns != nil {
		return c.ExcludePatterns
	}
	return DefaultExcludePatterns
}

// Entry is one discovered declaration: enough to build a registry descriptor
// minus the invocable handler, which the caller supplies by Name.
type Entry struct {
	Kind                 registry.Kind
	Name                 string
	Description          string
	Schema               map[string]interface{} // tools only
	URI                  string                  // resources only
	MimeType             string                  // resources only
	SupportsSubscription bool                    // resources only
	Arguments             []declaredArgument      // prompts only
	SourcePath           string
}

type declaredArgument struct {
	Name        string
	Description string
	Required    bool
}

// declFile is the YAML frontmatter shape shared by tool/resource/prompt
// declaration files. Not every field applies to every kind; irrelevant
// fields are simply left zero.
type declFile struct {
	Name                 string                   `yaml:"name"`
	Description          string                   `yaml:"description"`
	Schema               map[string]interface{}   `yaml:"schema"`
	URI                  string                   `yaml:"uri"`
	MimeType             string                   `yaml:"mimeType"`
	SupportsSubscription bool                     `yaml:"supportsSubscription"`
	Arguments            []map[string]interface{} `yaml:"arguments"`
}

type cacheEntry struct {
	entries []Entry
	mtimes  map[string]time.Time
	scanned time.Time
}

// Discoverer scans configured roots and caches results keyed by
// (root path, file mtimes), invalidated explicitly via Clear or by CacheTTL.
type Discoverer struct {
	cfg    Config
	mu     sync.Mutex
	caches map[registry.Kind]*cacheEntry
}

// New creates a Discoverer with the given configuration.
func New(cfg Config) *Discoverer {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Discoverer{
		cfg:    cfg,
		caches: make(map[registry.Kind]*cacheEntry),
	}
}

// Clear invalidates all cached scan results, forcing the next Scan to re-walk
// the filesystem.
func (d *Discoverer) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.caches = make(map[registry.Kind]*cacheEntry)
}

// Scan returns the declarations under kind's configured root, using the
// cache when the root's file mtimes are unchanged and the cache has not
// exceeded CacheTTL.
func (d *Discoverer) Scan(kind registry.Kind) ([]Entry, error) {
	root := d.cfg.root(kind)
	if root == "" {
		return nil, nil
	}

	mtimes, err := collectMtimes(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}

	d.mu.Lock()
	cached, ok := d.caches[kind]
	d.mu.Unlock()

	if ok && sameMtimes(cached.mtimes, mtimes) {
		if d.cfg.CacheTTL <= 0 || time.Since(cached.scanned) < d.cfg.CacheTTL {
			return cached.entries, nil
		}
	}

	entries, err := d.walk(kind, root)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.caches[kind] = &cacheEntry{entries: entries, mtimes: mtimes, scanned: time.Now()}
	d.mu.Unlock()

	return entries, nil
}

// ScanAll scans all three kinds and rejects a name that appears twice within
// one kind's scan, reported as a *registry.AlreadyRegisteredError. The same
// name under two different kinds is not a clash.
func (d *Discoverer) ScanAll() (map[registry.Kind][]Entry, error) {
	out := make(map[registry.Kind][]Entry, 3)
	for _, kind := range []registry.Kind{registry.KindTool, registry.KindResource, registry.KindPrompt} {
		entries, err := d.Scan(kind)
		if err != nil {
			return nil, err
		}
		seen := make(map[string]bool, len(entries))
		for _, e := range entries {
			if seen[e.Name] {
				return nil, &registry.AlreadyRegisteredError{Kind: kind, Name: e.Name}
			}
			seen[e.Name] = true
		}
		out[kind] = entries
	}
	return out, nil
}

func (d *Discoverer) walk(kind registry.Kind, root string) ([]Entry, error) {
	var entries []Entry

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if !d.cfg.Recursive && path != root {
				return filepath.SkipDir
			}
			return nil
		}

		ext := filepath.Ext(path)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}

		base := filepath.Base(path)
		for _, pattern := range d.cfg.excludePatterns() {
			if matched, _ := filepath.Match(pattern, base); matched {
				return nil
			}
		}

		entry, err := d.loadFile(kind, root, path)
		if err != nil {
			d.cfg.Logger.Warn("skipping malformed discovery file",
				zap.String("path", path), zap.Error(err))
			return nil
		}

		entries = append(entries, entry)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].SourcePath < entries[j].SourcePath })
	return entries, nil
}

func (d *Discoverer) loadFile(kind registry.Kind, root, path string) (Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Entry{}, err
	}

	var decl declFile
	if err := yaml.Unmarshal(data, &decl); err != nil {
		return Entry{}, fmt.Errorf("parse yaml: %w", err)
	}

	name := decl.Name
	if name == "" {
		name = stemName(path)
	}

	entry := Entry{
		Kind:                 kind,
		Name:                 name,
		Description:          decl.Description,
		Schema:               decl.Schema,
		URI:                  decl.URI,
		MimeType:             decl.MimeType,
		SupportsSubscription: decl.SupportsSubscription,
		SourcePath:           path,
	}

	if entry.Kind == registry.KindResource && entry.URI == "" {
		entry.URI = "file://" + filepath.ToSlash(path)
	}

	for _, raw := range decl.Arguments {
		arg := declaredArgument{}
		if v, ok := raw["name"].(string); ok {
			arg.Name = v
		}
		if v, ok := raw["description"].(string); ok {
			arg.Description = v
		}
		if v, ok := raw["required"].(bool); ok {
			arg.Required = v
		}
		entry.Arguments = append(entry.Arguments, arg)
	}

	_ = root
	return entry, nil
}

func stemName(path string) string {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	return strings.TrimSuffix(base, ext)
}

func collectMtimes(root string) (map[string]time.Time, error) {
	mtimes := make(map[string]time.Time)
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			mtimes[path] = info.ModTime()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return mtimes, nil
}

func sameMtimes(a, b map[string]time.Time) bool {
	if len(a) != len(b) {
		return false
	}
	for path, t := range a {
		if bt, ok := b[path]; !ok || !bt.Equal(t) {
			return false
		}
	}
	return true
}
