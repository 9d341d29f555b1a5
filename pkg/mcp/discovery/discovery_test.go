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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teradata-labs/mcp-core/pkg/mcp/registry"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDiscoverer_ScanToolsFindsDeclaration(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "echo.yaml", `
name: echo
description: echoes its input
schema:
  type: object
  properties:
    text:
      type: string
  required: [text]
`)

	d := New(Config{
		Roots:  map[registry.Kind]string{registry.KindTool: dir},
		Logger: zaptest.NewLogger(t),
	})

	entries, err := d.Scan(registry.KindTool)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "echo", entries[0].Name)
	assert.Equal(t, "echoes its input", entries[0].Description)
	assert.Equal(t, "object", entries[0].Schema["type"])
}

func TestDiscoverer_NameDefaultsToFileStem(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "greet.yaml", "description: says hello\n")

	d := New(Config{Roots: map[registry.Kind]string{registry.KindTool: dir}})
	entries, err := d.Scan(registry.KindTool)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "greet", entries[0].Name)
}

func TestDiscoverer_ExcludePatternSkipsTestFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "echoTest.yaml", "name: echoTest\n")
	writeFile(t, dir, "echo.yaml", "name: echo\n")

	d := New(Config{Roots: map[registry.Kind]string{registry.KindTool: dir}})
	entries, err := d.Scan(registry.KindTool)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "echo", entries[0].Name)
}

func TestDiscoverer_MalformedFileLoggedAndSkipped(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "broken.yaml", "{ this is not: valid: yaml: [")
	writeFile(t, dir, "good.yaml", "name: good\n")

	d := New(Config{
		Roots:  map[registry.Kind]string{registry.KindTool: dir},
		Logger: zaptest.NewLogger(t),
	})

	entries, err := d.Scan(registry.KindTool)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "good", entries[0].Name)
}

func TestDiscoverer_MissingRootReturnsEmpty(t *testing.T) {
	d := New(Config{Roots: map[registry.Kind]string{registry.KindTool: filepath.Join(t.TempDir(), "does-not-exist")}})
	entries, err := d.Scan(registry.KindTool)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDiscoverer_CacheServedUntilMtimeChanges(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "echo.yaml", "name: echo\ndescription: v1\n")

	d := New(Config{Roots: map[registry.Kind]string{registry.KindTool: dir}})

	first, err := d.Scan(registry.KindTool)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, "v1", first[0].Description)

	// Rewrite with new content but bump mtime explicitly so the cache key changes
	// regardless of filesystem timestamp resolution.
	require.NoError(t, os.WriteFile(path, []byte("name: echo\ndescription: v2\n"), 0o644))
	future := time.Now().Add(time.Second)
	require.NoError(t, os.Chtimes(path, future, future))

	second, err := d.Scan(registry.KindTool)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, "v2", second[0].Description)
}

func TestDiscoverer_ClearForcesRescan(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "echo.yaml", "name: echo\n")

	d := New(Config{Roots: map[registry.Kind]string{registry.KindTool: dir}})
	_, err := d.Scan(registry.KindTool)
	require.NoError(t, err)

	d.Clear()
	entries, err := d.Scan(registry.KindTool)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestDiscoverer_ScanAllDetectsDuplicateNamesWithinKind(t *testing.T) {
	toolsDir := t.TempDir()
	writeFile(t, toolsDir, "dup.yaml", "name: dup\n")

	// Simulate a duplicate within the same root partition, since ScanAll's
	// invariant is per-kind uniqueness (distinct kinds may share a name).
	writeFile(t, toolsDir, "dup2.yaml", "name: dup\n")

	d := New(Config{Roots: map[registry.Kind]string{registry.KindTool: toolsDir}})
	_, err := d.ScanAll()
	require.Error(t, err)
	var dup *registry.AlreadyRegisteredError
	assert.ErrorAs(t, err, &dup)
}

func TestDiscoverer_ResourceURIDefaultsToFilePath(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.yaml", "name: config\nmimeType: text/plain\n")

	d := New(Config{Roots: map[registry.Kind]string{registry.KindResource: dir}})
	entries, err := d.Scan(registry.KindResource)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].URI, "config.yaml")
}
