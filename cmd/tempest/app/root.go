// Package app contains the tempest CLI commands.
package app

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tempest-mcp/tempest/pkg/logger"
)

// version is set at build time via -ldflags.
var version = "dev"

// NewRootCmd creates the root command for the tempest CLI.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "tempest",
		Short: "An OAuth 2.0-protected weather MCP server",
		Long: `Tempest serves weather tools over the Model Context Protocol behind
OAuth 2.0 bearer-token authentication. It can run its own authorization
server with PKCE support, or validate externally issued JWTs against a
remote JWKS endpoint.`,
		SilenceUsage: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			logger.Initialize()
		},
	}

	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		logger.Errorf("Failed to bind debug flag: %v", err)
	}

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}

// newVersionCommand creates the 'version' subcommand.
func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the tempest version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "tempest %s\n", version)
		},
	}
}
