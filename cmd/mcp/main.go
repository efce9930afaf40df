// SecureWatch MCP Server - exposes login risk decisions as MCP tools for LLMs
package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/securewatch/securewatch/internal/apiclient"
	"github.com/securewatch/securewatch/internal/mcpserver"
)

func main() {
	cfg := apiclient.Config{
		APIURL:      envOrDefault("SECUREWATCH_API_URL", "http://localhost:8080"),
		AdminSecret: os.Getenv("SECUREWATCH_ADMIN_SECRET"),
	}

	s := mcpserver.NewMCPServer(cfg)
	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
