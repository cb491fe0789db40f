// Command tempest runs an OAuth 2.0-protected weather MCP server.
package main

import (
	"os"

	"github.com/tempest-mcp/tempest/cmd/tempest/app"
)

func main() {
	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
