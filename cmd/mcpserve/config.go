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
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration recognized by mcpserve.
// Priority: CLI flags > env vars > config file > defaults.
type Config struct {
	Transports    TransportsConfig    `mapstructure:"transports"`
	Discovery     DiscoveryConfig     `mapstructure:"discovery"`
	Capabilities  CapabilitiesConfig  `mapstructure:"capabilities"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Async         AsyncConfig         `mapstructure:"async"`
}

// TransportsConfig selects and configures the wire transport.
type TransportsConfig struct {
	Default string             `mapstructure:"default"`
	Stdio   StdioConfig        `mapstructure:"stdio"`
	HTTP    HTTPTransportConfig `mapstructure:"http"`
}

// StdioConfig controls the stdio transport's framing and timing.
type StdioConfig struct {
	BufferSize        int           `mapstructure:"buffer_size"`
	MaxMessageSize    int           `mapstructure:"max_message_size"`
	UseContentLength  bool          `mapstructure:"use_content_length"`
	KeepaliveInterval time.Duration `mapstructure:"keepalive_interval"`
	Timeout           time.Duration `mapstructure:"timeout"`
}

// HTTPTransportConfig controls the HTTP transport's listener and auxiliary
// endpoint behavior.
type HTTPTransportConfig struct {
	Host     string           `mapstructure:"host"`
	Port     int              `mapstructure:"port"`
	CORS     CORSSettings     `mapstructure:"cors"`
	Auth     AuthSettings     `mapstructure:"auth"`
	Batching BatchingSettings `mapstructure:"batching"`
}

// CORSSettings mirrors transport.CORSConfig for unmarshaling from config.
type CORSSettings struct {
	Origins []string `mapstructure:"origins"`
	Methods []string `mapstructure:"methods"`
	Headers []string `mapstructure:"headers"`
	MaxAge  int      `mapstructure:"max_age"`
}

// AuthSettings controls the (optional) bearer-token check on HTTP requests.
type AuthSettings struct {
	Enabled bool   `mapstructure:"enabled"`
	Type    string `mapstructure:"type"`
	Token   string `mapstructure:"token"`
}

// BatchingSettings controls whether the HTTP transport accepts JSON-RPC
// batch arrays and how large a batch it tolerates.
type BatchingSettings struct {
	Enabled bool `mapstructure:"enabled"`
	Size    int  `mapstructure:"size"`
	Timeout int  `mapstructure:"timeout"`
}

// DiscoveryConfig controls filesystem declaration scanning.
type DiscoveryConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Paths           []string      `mapstructure:"paths"`
	Recursive       bool          `mapstructure:"recursive"`
	ExcludePatterns []string      `mapstructure:"exclude_patterns"`
	CacheTTL        time.Duration `mapstructure:"cache_ttl"`
}

// CapabilitiesConfig holds the per-kind listChanged flag and supported
// operations the server advertises at initialize. All three kinds are always
// advertised; the tools entry is not applied, because the advertised tools
// capability carries no fields.
type CapabilitiesConfig struct {
	Tools     CapabilityKind `mapstructure:"tools"`
	Resources CapabilityKind `mapstructure:"resources"`
	Prompts   CapabilityKind `mapstructure:"prompts"`
}

// CapabilityKind is one entry of CapabilitiesConfig.
type CapabilityKind struct {
	ListChanged bool     `mapstructure:"listChanged"`
	Supports    []string `mapstructure:"supports"`
}

// NotificationsConfig controls the notification broker's backpressure policy.
type NotificationsConfig struct {
	OverflowPolicy  string        `mapstructure:"overflow_policy"`
	QueueSize       int           `mapstructure:"queue_size"`
	RetentionWindow time.Duration `mapstructure:"retention_window"`
}

// AsyncConfig controls the async job queue's worker pool and retention.
type AsyncConfig struct {
	Workers         int           `mapstructure:"workers"`
	QueueSize       int           `mapstructure:"queue_size"`
	RetentionWindow time.Duration `mapstructure:"retention_window"`
	DefaultTimeout  time.Duration `mapstructure:"default_timeout"`
}

// setDefaults seeds viper with mcpserve's defaults before any config file or
// environment override is applied.
func setDefaults() {
	viper.SetDefault("transports.default", "stdio")
	viper.SetDefault("transports.stdio.buffer_size", 64*1024)
	viper.SetDefault("transports.stdio.max_message_size", 10*1024*1024)
	viper.SetDefault("transports.stdio.use_content_length", false)
	viper.SetDefault("transports.stdio.keepalive_interval", 0)
	viper.SetDefault("transports.stdio.timeout", 0)

	viper.SetDefault("transports.http.host", "127.0.0.1")
	viper.SetDefault("transports.http.port", 8080)
	viper.SetDefault("transports.http.cors.origins", []string{"*"})
	viper.SetDefault("transports.http.cors.max_age", 600)
	viper.SetDefault("transports.http.auth.enabled", false)
	viper.SetDefault("transports.http.batching.enabled", true)
	viper.SetDefault("transports.http.batching.size", 32)

	viper.SetDefault("discovery.enabled", false)
	viper.SetDefault("discovery.recursive", true)
	viper.SetDefault("discovery.cache_ttl", "30s")

	viper.SetDefault("capabilities.tools.listChanged", true)
	viper.SetDefault("capabilities.resources.listChanged", true)
	viper.SetDefault("capabilities.resources.supports", []string{"subscribe"})
	viper.SetDefault("capabilities.prompts.listChanged", true)

	viper.SetDefault("notifications.overflow_policy", "drop-oldest")
	viper.SetDefault("notifications.queue_size", 256)
	viper.SetDefault("notifications.retention_window", "10m")

	viper.SetDefault("async.workers", 4)
	viper.SetDefault("async.queue_size", 256)
	viper.SetDefault("async.retention_window", "10m")
	viper.SetDefault("async.default_timeout", "30s")
}

// LoadConfig reads configuration from, in increasing priority: built-in
// defaults, a config file (explicit path, or discovered from standard
// locations), MCPSERVE_-prefixed environment variables, and finally any
// already-bound CLI flags.
func LoadConfig(cfgFile string) (*Config, error) {
	setDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/mcpserve/")
		viper.SetConfigName("mcpserve")
		viper.SetConfigType("yaml")
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file %s: %w", viper.ConfigFileUsed(), err)
		}
	}

	viper.SetEnvPrefix("MCPSERVE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// validate rejects configuration combinations that would leave the server
// unable to start, mapping to the ConfigError kind (process exit code 2).
func (c *Config) validate() error {
	switch c.Transports.Default {
	case "stdio", "http":
	default:
		return fmt.Errorf("transports.default must be \"stdio\" or \"http\", got %q", c.Transports.Default)
	}

	switch c.Notifications.OverflowPolicy {
	case "drop-oldest", "drop-newest", "block":
	default:
		return fmt.Errorf("notifications.overflow_policy must be one of drop-oldest, drop-newest, block, got %q", c.Notifications.OverflowPolicy)
	}

	if c.Transports.Default == "http" && c.Transports.HTTP.Port <= 0 {
		return fmt.Errorf("transports.http.port must be positive, got %d", c.Transports.HTTP.Port)
	}

	return nil
}
