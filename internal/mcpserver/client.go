package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Config holds the configuration for connecting to a faucetd API.
type Config struct {
	APIURL  string        // Base URL, e.g. "http://localhost:8001"
	Timeout time.Duration // per request; zero means 30s
}

// FaucetClient is a pure HTTP client for the faucetd API.
type FaucetClient struct {
	cfg        Config
	httpClient *http.Client
}

// NewFaucetClient creates a new client for the faucetd API.
func NewFaucetClient(cfg Config) *FaucetClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &FaucetClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// apiError represents an error response from the API.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// doRequest makes an HTTP request to the API and returns the response body.
func (c *FaucetClient) doRequest(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	return json.RawMessage(respBody), nil
}

// StartSession starts a claim session. Fields absent from cfg take the
// server's defaults.
func (c *FaucetClient) StartSession(ctx context.Context, cfg map[string]any) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/api/start-session", nil, cfg)
}

// SessionStatus returns the live record of one session.
func (c *FaucetClient) SessionStatus(ctx context.Context, id string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/api/session-status/"+url.PathEscape(id), nil, nil)
}

// ActiveSessions lists every tracked session id.
func (c *FaucetClient) ActiveSessions(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/api/active-sessions", nil, nil)
}

// StopSession asks a session to stop launching claims.
func (c *FaucetClient) StopSession(ctx context.Context, id string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodDelete, "/api/stop-session/"+url.PathEscape(id), nil, nil)
}

// WalletStats returns the balance and today's claim counters.
func (c *FaucetClient) WalletStats(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/api/wallet-stats", nil, nil)
}

// ClaimLogs returns recent claim attempts, newest first.
func (c *FaucetClient) ClaimLogs(ctx context.Context, limit int) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/api/claim-logs", limitQuery(limit), nil)
}

// FaucetSites returns the catalog.
func (c *FaucetClient) FaucetSites(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/api/faucet-sites", nil, nil)
}

// Transactions returns recorded payouts, newest first.
func (c *FaucetClient) Transactions(ctx context.Context, limit int) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/api/transactions", limitQuery(limit), nil)
}

func limitQuery(limit int) url.Values {
	if limit <= 0 {
		return nil
	}
	return url.Values{"limit": {strconv.Itoa(limit)}}
}
