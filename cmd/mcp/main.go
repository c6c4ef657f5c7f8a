// Signature directory MCP server.
// Exposes selector lookup and derivation tools over MCP stdio transport.
package main

import (
	"fmt"
	"os"

	mcptools "github.com/gateway-fm/abisig/internal/mcp"
	"github.com/mark3labs/mcp-go/server"
)

func main() {
	apiURL := os.Getenv("ABISIG_URL")
	if apiURL == "" {
		apiURL = "http://localhost:3002"
	}

	s := server.NewMCPServer(
		"abisig",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	client := mcptools.NewClient(apiURL)
	mcptools.RegisterTools(s, client)

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}
