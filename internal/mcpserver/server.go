package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all faucetd tools registered.
func NewMCPServer(cfg Config, version string) *server.MCPServer {
	s := server.NewMCPServer("faucetd", version)
	h := NewHandlers(NewFaucetClient(cfg))

	s.AddTool(ToolStartSession, h.HandleStartSession)
	s.AddTool(ToolGetSessionStatus, h.HandleGetSessionStatus)
	s.AddTool(ToolListActiveSessions, h.HandleListActiveSessions)
	s.AddTool(ToolStopSession, h.HandleStopSession)
	s.AddTool(ToolGetWalletStats, h.HandleGetWalletStats)
	s.AddTool(ToolListClaimLogs, h.HandleListClaimLogs)
	s.AddTool(ToolListFaucetSites, h.HandleListFaucetSites)
	s.AddTool(ToolListTransactions, h.HandleListTransactions)

	return s
}
