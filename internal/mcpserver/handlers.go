package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// defaultListLimit is used when a list tool is called without a limit.
const defaultListLimit = 20

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *FaucetClient
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *FaucetClient) *Handlers {
	return &Handlers{client: client}
}

// startFields are the start_session arguments forwarded to the API.
var startFields = []string{
	"id", "session_count", "auto_withdrawal", "withdrawal_threshold",
	"withdrawal_address", "proxy_enabled", "captcha_solving",
}

// HandleStartSession starts a session with only the fields the caller set.
func (h *Handlers) HandleStartSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	body := make(map[string]any, len(startFields))
	for _, f := range startFields {
		if v, ok := args[f]; ok && v != nil {
			body[f] = v
		}
	}
	if n, ok := body["session_count"].(float64); ok {
		body["session_count"] = int(n)
	}

	raw, err := h.client.StartSession(ctx, body)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to start session: %v", err)), nil
	}

	var res struct {
		SessionID string `json:"session_id"`
		Message   string `json:"message"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse response: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("%s.\nSession ID: %s\nUse get_session_status to follow progress.",
		res.Message, res.SessionID)), nil
}

// HandleGetSessionStatus reports one session.
func (h *Handlers) HandleGetSessionStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("session_id", "")
	if id == "" {
		return mcp.NewToolResultError("session_id is required"), nil
	}

	raw, err := h.client.SessionStatus(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get session status: %v", err)), nil
	}

	text, err := formatSession(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse session: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleListActiveSessions lists tracked session ids.
func (h *Handlers) HandleListActiveSessions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.ActiveSessions(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list sessions: %v", err)), nil
	}

	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse sessions: %v", err)), nil
	}
	if len(ids) == 0 {
		return mcp.NewToolResultText("No sessions."), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("%d session(s):\n  %s", len(ids), strings.Join(ids, "\n  "))), nil
}

// HandleStopSession stops a session.
func (h *Handlers) HandleStopSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("session_id", "")
	if id == "" {
		return mcp.NewToolResultError("session_id is required"), nil
	}

	raw, err := h.client.StopSession(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to stop session: %v", err)), nil
	}

	var res struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &res); err != nil || res.Message == "" {
		return mcp.NewToolResultText(formatJSON(raw)), nil
	}
	return mcp.NewToolResultText(res.Message + ". Claims already in flight will still be recorded."), nil
}

// HandleGetWalletStats reports the wallet summary.
func (h *Handlers) HandleGetWalletStats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.WalletStats(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get wallet stats: %v", err)), nil
	}

	text, err := formatWalletStats(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse wallet stats: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleListClaimLogs lists recent claim attempts.
func (h *Handlers) HandleListClaimLogs(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := req.GetInt("limit", defaultListLimit)

	raw, err := h.client.ClaimLogs(ctx, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list claim logs: %v", err)), nil
	}

	text, err := formatClaimLogs(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse claim logs: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleListFaucetSites lists the catalog.
func (h *Handlers) HandleListFaucetSites(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	activeOnly := req.GetBool("active_only", false)

	raw, err := h.client.FaucetSites(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list faucet sites: %v", err)), nil
	}

	text, err := formatSites(raw, activeOnly)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse faucet sites: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleListTransactions lists recorded payouts.
func (h *Handlers) HandleListTransactions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := req.GetInt("limit", defaultListLimit)

	raw, err := h.client.Transactions(ctx, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list transactions: %v", err)), nil
	}

	text, err := formatTransactions(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse transactions: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// --- Formatting helpers ---

func formatSession(raw json.RawMessage) (string, error) {
	var s struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Config struct {
			SessionCount   int  `json:"session_count"`
			AutoWithdrawal bool `json:"auto_withdrawal"`
		} `json:"config"`
		Stats struct {
			TotalClaims      int64  `json:"total_claims"`
			SuccessfulClaims int64  `json:"successful_claims"`
			FailedClaims     int64  `json:"failed_claims"`
			TotalEarned      string `json:"total_earned"`
		} `json:"stats"`
		StartTime string `json:"start_time"`
		EndTime   string `json:"end_time"`
		Error     string `json:"error"`
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Session %s: %s\n", s.ID, s.Status)
	fmt.Fprintf(&sb, "  Passes: %d  Auto-withdrawal: %t\n", s.Config.SessionCount, s.Config.AutoWithdrawal)
	fmt.Fprintf(&sb, "  Claims: %d (%d successful, %d failed)\n",
		s.Stats.TotalClaims, s.Stats.SuccessfulClaims, s.Stats.FailedClaims)
	fmt.Fprintf(&sb, "  Earned: %s BTC\n", s.Stats.TotalEarned)
	fmt.Fprintf(&sb, "  Started: %s\n", s.StartTime)
	if s.EndTime != "" {
		fmt.Fprintf(&sb, "  Ended: %s\n", s.EndTime)
	}
	if s.Error != "" {
		fmt.Fprintf(&sb, "  Error: %s\n", s.Error)
	}
	return sb.String(), nil
}

func formatWalletStats(raw json.RawMessage) (string, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString("Wallet:\n")
	fmt.Fprintf(&sb, "  Balance: %s BTC\n", getString(m, "total_balance"))
	fmt.Fprintf(&sb, "  Claimed today: %s BTC\n", getString(m, "total_claimed_today"))
	fmt.Fprintf(&sb, "  Today's claims: %s successful, %s failed\n",
		getString(m, "successful_claims"), getString(m, "failed_claims"))
	fmt.Fprintf(&sb, "  Running sessions: %s\n", getString(m, "active_sessions"))
	return sb.String(), nil
}

func formatClaimLogs(raw json.RawMessage) (string, error) {
	var logs []map[string]any
	if err := json.Unmarshal(raw, &logs); err != nil {
		return "", err
	}
	if len(logs) == 0 {
		return "No claim attempts recorded.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d claim attempt(s):\n", len(logs))
	for _, l := range logs {
		fmt.Fprintf(&sb, "- %s  %s  %s", getString(l, "timestamp"), getString(l, "faucet_name"), getString(l, "status"))
		if getString(l, "status") == "success" {
			fmt.Fprintf(&sb, "  +%s BTC", getString(l, "amount"))
		}
		if e := getString(l, "error_message"); e != "" {
			fmt.Fprintf(&sb, "  (%s)", e)
		}
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

func formatSites(raw json.RawMessage, activeOnly bool) (string, error) {
	var sites []map[string]any
	if err := json.Unmarshal(raw, &sites); err != nil {
		return "", err
	}

	var sb strings.Builder
	n := 0
	for _, s := range sites {
		active, _ := s["active"].(bool)
		if activeOnly && !active {
			continue
		}
		n++
		fmt.Fprintf(&sb, "%d. %s  %s  every %s min, %s-%s BTC", n, getString(s, "name"), getString(s, "url"),
			getString(s, "cooldown_minutes"), getString(s, "reward_min"), getString(s, "reward_max"))
		if !active {
			sb.WriteString("  [inactive]")
		}
		sb.WriteString("\n")
	}
	if n == 0 {
		return "No faucet sites.", nil
	}
	return fmt.Sprintf("%d faucet site(s):\n%s", n, sb.String()), nil
}

func formatTransactions(raw json.RawMessage) (string, error) {
	var txs []map[string]any
	if err := json.Unmarshal(raw, &txs); err != nil {
		return "", err
	}
	if len(txs) == 0 {
		return "No payouts recorded.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d payout(s):\n", len(txs))
	for _, tx := range txs {
		fmt.Fprintf(&sb, "- %s  %s BTC -> %s  [%s, %s]\n", getString(tx, "timestamp"), getString(tx, "amount"),
			getString(tx, "to_address"), getString(tx, "kind"), getString(tx, "status"))
		fmt.Fprintf(&sb, "  tx: %s\n", getString(tx, "tx_hash"))
	}
	return sb.String(), nil
}

func formatJSON(raw json.RawMessage) string {
	var m any
	if err := json.Unmarshal(raw, &m); err != nil {
		return string(raw)
	}
	out, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return string(raw)
	}
	return string(out)
}

// getString extracts a string value from a map, trying multiple key names.
func getString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			switch t := v.(type) {
			case string:
				return t
			case float64:
				return fmt.Sprintf("%g", t)
			case bool:
				return fmt.Sprintf("%t", t)
			}
		}
	}
	return ""
}
