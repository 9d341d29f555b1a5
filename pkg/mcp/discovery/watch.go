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

package discovery

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/teradata-labs/mcp-core/pkg/mcp/registry"
)

// Change reports that a discovery root changed and should be re-scanned.
type Change struct {
	Kind registry.Kind
	Path string
}

// Watch starts an fsnotify watcher over every configured root and emits a
// Change for every fsnotify event (create, write, remove, rename or chmod)
// on a path under it. Watch
// also invalidates the affected kind's cache entry so the next Scan re-walks
// the filesystem rather than serving a stale result. The returned channel is
// closed when ctx is cancelled.
func (d *Discoverer) Watch(ctx context.Context) (<-chan Change, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	roots := map[registry.Kind]string{
		registry.KindTool:     d.cfg.root(registry.KindTool),
		registry.KindResource: d.cfg.root(registry.KindResource),
		registry.KindPrompt:   d.cfg.root(registry.KindPrompt),
	}

	for kind, root := range roots {
		if root == "" {
			continue
		}
		if err := addRecursive(watcher, root); err != nil {
			d.cfg.Logger.Warn("discovery watch: failed to watch root",
				zap.String("kind", string(kind)), zap.String("root", root), zap.Error(err))
		}
	}

	out := make(chan Change, 16)

	go func() {
		defer watcher.Close()
		defer close(out)

		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				kind := kindForPath(roots, event.Name)
				if kind == "" {
					continue
				}

				d.mu.Lock()
				delete(d.caches, kind)
				d.mu.Unlock()

				select {
				case out <- Change{Kind: kind, Path: event.Name}:
				case <-ctx.Done():
					return
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				d.cfg.Logger.Warn("discovery watch error", zap.Error(err))
			}
		}
	}()

	return out, nil
}

func addRecursive(watcher *fsnotify.Watcher, root string) error {
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return nil
	}
	if err := watcher.Add(root); err != nil {
		return err
	}
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() && path != root {
			return watcher.Add(path)
		}
		return nil
	})
}

func kindForPath(roots map[registry.Kind]string, path string) registry.Kind {
	for kind, root := range roots {
		if root == "" {
			continue
		}
		if rel, err := filepath.Rel(root, path); err == nil && !strings.HasPrefix(rel, "..") {
			return kind
		}
	}
	return ""
}
