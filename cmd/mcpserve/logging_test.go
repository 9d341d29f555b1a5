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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestBuildLogger_ToStderr(t *testing.T) {
	logger, err := buildLogger("", "info")
	require.NoError(t, err)
	require.NotNil(t, logger)
}

func TestBuildLogger_ToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mcpserve.log")
	logger, err := buildLogger(path, "debug")
	require.NoError(t, err)
	logger.Info("hello")
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello")
}

func TestBuildLogger_InvalidPathErrors(t *testing.T) {
	_, err := buildLogger(filepath.Join(t.TempDir(), "missing-dir", "mcpserve.log"), "info")
	require.Error(t, err)
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zap.AtomicLevel
	}{
		{"debug", zap.NewAtomicLevelAt(zap.DebugLevel)},
		{"warn", zap.NewAtomicLevelAt(zap.WarnLevel)},
		{"error", zap.NewAtomicLevelAt(zap.ErrorLevel)},
		{"info", zap.NewAtomicLevelAt(zap.InfoLevel)},
		{"", zap.NewAtomicLevelAt(zap.InfoLevel)},
		{"nonsense", zap.NewAtomicLevelAt(zap.InfoLevel)},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want.Level(), parseLogLevel(tt.in))
	}
}
