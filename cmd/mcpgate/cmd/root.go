// Package cmd provides the CLI commands for mcpgate.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sentinelcore/mcpgate/internal/config"
)

var (
	cfgFile      string
	policyFlag   string
	upstreamFlag string
	logLevelFlag string
	maxFrameFlag int
)

var rootCmd = &cobra.Command{
	Use:   "mcpgate [flags] -- <command> [args...]",
	Short: "mcpgate - MCP tool-invocation security middleware",
	Long: `mcpgate sits between an agent and a Model Context Protocol tool server,
enforcing a policy document over every tool call and resource read before
forwarding JSON-RPC traffic between the two.

Quick start:
  1. Create a policy document: policy.yaml
  2. Run: mcpgate --policy policy.yaml -- my-tool-server --its-own-flags

Configuration:
  Process configuration (log level, frame size, drain timeout, audit
  output, telemetry) is loaded from mcpgate.yaml in the current
  directory, or the file named by --config, then overridden by
  environment variables with the SENTINELGATE_ prefix, e.g.
  SENTINELGATE_LOG_LEVEL=debug.

Everything after a literal "--" belongs to the supervised tool server;
everything before it is parsed as mcpgate's own flags.`,
	Args:               cobra.ArbitraryArgs,
	DisableFlagParsing: false,
	RunE:               runMiddleware,
	SilenceUsage:       true,
}

// Execute runs the root command, translating the error it returns into
// the process exit codes documented for this gateway: 0 clean shutdown,
// 1 configuration/policy error, 2 failure to spawn the upstream child,
// 101 an internal panic recovered here rather than left to crash the
// process uncaught, 137 the session ended because an external signal
// asked it to.
func Execute() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "mcpgate: internal error: %v\n", r)
			os.Exit(101)
		}
	}()

	err := rootCmd.Execute()
	os.Exit(exitCodeFor(err))
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "process config file (default: ./mcpgate.yaml)")
	rootCmd.Flags().StringVar(&policyFlag, "policy", "", "path to the policy document (overrides config/env)")
	rootCmd.Flags().StringVar(&upstreamFlag, "upstream-cmd", "", "alias for naming the upstream command instead of the first positional argument")
	rootCmd.Flags().StringVar(&logLevelFlag, "log-level", "", "log level override: debug, info, warn, or error")
	rootCmd.Flags().IntVar(&maxFrameFlag, "max-frame-size", 0, "maximum decoded JSON-RPC frame size in bytes (overrides config/env)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
