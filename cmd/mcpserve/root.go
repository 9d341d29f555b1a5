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

// Command mcpserve runs a Model Context Protocol JSON-RPC 2.0 server over
// stdio or HTTP, dispatching tools/resources/prompts registered explicitly
// at startup or declared under a discovery root.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// serverVersion is stamped at build time via -ldflags "-X main.serverVersion=...".
var serverVersion = "dev"

var (
	cfgFile  string
	logFile  string
	logLevel string
	config   *Config
)

// rootCmd is the base command; Execute() is called from main. Running
// mcpserve with no subcommand is equivalent to "mcpserve serve".
var rootCmd = &cobra.Command{
	Use:     "mcpserve",
	Short:   "Model Context Protocol server",
	Long:    `mcpserve is a Model Context Protocol JSON-RPC 2.0 server exposing registered tools, resources, and prompts over stdio or HTTP.`,
	Version: serverVersion,
	RunE:    runServe,
}

// Execute runs the root command and returns the process exit code the
// caller should use. Bad configuration exits directly from initConfig with
// code 2; a failure returned by a subcommand's RunE exits with the nonzero
// exitCode the subcommand set (2 for a bad overflow policy), or 1 when it
// set none; a clean run reports exitCode, which the subcommand sets to
// distinguish normal shutdown (0) from SIGINT (130).
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if exitCode != 0 {
			return exitCode
		}
		return 1
	}
	return exitCode
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./mcpserve.yaml or /etc/mcpserve/mcpserve.yaml)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "log file path (defaults to stderr; never stdout)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	rootCmd.PersistentFlags().String("transport", "", "transport to use: stdio or http (overrides transports.default)")

	_ = viper.BindPFlag("transports.default", rootCmd.PersistentFlags().Lookup("transport"))
}

// initConfig loads configuration once cobra has parsed flags, exiting with
// code 2 (bad configuration) on failure per the documented process exit codes.
func initConfig() {
	var err error
	config, err = LoadConfig(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(2)
	}
}

// exitCode is set by the running subcommand before returning, since cobra's
// RunE only reports success/failure, not which of the documented exit codes
// applies.
var exitCode int
