package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"

	"github.com/securewatch/securewatch/internal/apiclient"
)

// NewMCPServer creates a configured MCP server with all SecureWatch tools registered.
func NewMCPServer(cfg apiclient.Config) *server.MCPServer {
	s := server.NewMCPServer("securewatch", "1.0.0")
	h := NewHandlers(apiclient.New(cfg))

	s.AddTool(ToolAnalyzeLogin, h.HandleAnalyzeLogin)
	s.AddTool(ToolListIncidents, h.HandleListIncidents)
	s.AddTool(ToolGetIncident, h.HandleGetIncident)
	s.AddTool(ToolSubmitFeedback, h.HandleSubmitFeedback)
	s.AddTool(ToolResetLedger, h.HandleResetLedger)

	return s
}
