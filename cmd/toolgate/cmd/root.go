// Package cmd provides the CLI commands for the toolgate server.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/toolgate/toolgate/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "toolgate",
	Short: "Toolgate - MCP Tool Invocation Gateway",
	Long: `Toolgate is a gateway that exposes backend tools to MCP clients over
HTTP and Server-Sent Events.

It authenticates callers with JWT bearer tokens, authorizes tool access
through a role policy, rate limits per user and per tool, forwards
invocations to backend services, and records every attempt in an audit
trail.

Quick start:
  1. Create a config file: toolgate.yaml
  2. Run: toolgate start

Configuration:
  Config is loaded from toolgate.yaml in the current directory,
  $HOME/.toolgate/, or /etc/toolgate/.

  Environment variables can override config values with the TOOLGATE_
  prefix, e.g. TOOLGATE_APP_HTTP_ADDR=:9090. The well-known names
  JWT_SECRET_KEY, TOOL_GATEWAY_SHARED_SECRET, and DATABASE_URL are also
  read without a prefix.

Commands:
  start       Start the gateway server
  stop        Stop the running server
  token       Mint a development JWT
  version     Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./toolgate.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
