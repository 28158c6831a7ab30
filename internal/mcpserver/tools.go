package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the faucetd MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolStartSession = mcp.NewTool("start_session",
	mcp.WithDescription(
		"Start a faucet claiming session. Each pass visits every active faucet site once; "+
			"session_count passes are made. Earnings accumulate in the tracked wallet and are paid out "+
			"automatically once the withdrawal threshold is reached."),
	mcp.WithString("id",
		mcp.Description("Session id. Omit to have one generated.")),
	mcp.WithNumber("session_count",
		mcp.Description("Number of passes over the faucet catalog (1-10000, default 1)")),
	mcp.WithBoolean("auto_withdrawal",
		mcp.Description("Pay out automatically when the balance reaches the threshold (default true)")),
	mcp.WithString("withdrawal_threshold",
		mcp.Description("Balance in BTC that triggers a payout (e.g. '0.0000093')")),
	mcp.WithString("withdrawal_address",
		mcp.Description("Bitcoin address that receives automatic payouts")),
	mcp.WithBoolean("proxy_enabled",
		mcp.Description("Rotate claims through the egress resource pool (default true)")),
	mcp.WithBoolean("captcha_solving",
		mcp.Description("Hand detected CAPTCHA images to the recognizer (default true)")),
)

var ToolGetSessionStatus = mcp.NewTool("get_session_status",
	mcp.WithDescription(
		"Get the status and claim counters of one session: running, completed, failed or stopped."),
	mcp.WithString("session_id",
		mcp.Required(),
		mcp.Description("The session id returned by start_session")),
)

var ToolListActiveSessions = mcp.NewTool("list_active_sessions",
	mcp.WithDescription(
		"List the ids of every tracked session, including ended sessions that are still retained."),
)

var ToolStopSession = mcp.NewTool("stop_session",
	mcp.WithDescription(
		"Stop a session. No new claims are launched; claims already in flight finish and are recorded."),
	mcp.WithString("session_id",
		mcp.Required(),
		mcp.Description("The session id to stop")),
)

var ToolGetWalletStats = mcp.NewTool("get_wallet_stats",
	mcp.WithDescription(
		"Get the tracked BTC balance, today's claimed total, today's successful and failed claim counts, "+
			"and the number of running sessions."),
)

var ToolListClaimLogs = mcp.NewTool("list_claim_logs",
	mcp.WithDescription(
		"List recent claim attempts, newest first, with site, status and amount."),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of entries to return (default 20, max 100)")),
)

var ToolListFaucetSites = mcp.NewTool("list_faucet_sites",
	mcp.WithDescription(
		"List the faucet sites in the catalog with their cooldowns and reward ranges."),
	mcp.WithBoolean("active_only",
		mcp.Description("Only list sites that sessions claim against")),
)

var ToolListTransactions = mcp.NewTool("list_transactions",
	mcp.WithDescription(
		"List recorded payouts (automatic and manual), newest first."),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of payouts to return (default 20, max 100)")),
)
