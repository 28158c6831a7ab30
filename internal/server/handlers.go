package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/faucetd/internal/btc"
	"github.com/mbd888/faucetd/internal/catalog"
	"github.com/mbd888/faucetd/internal/claimlog"
	"github.com/mbd888/faucetd/internal/logging"
	"github.com/mbd888/faucetd/internal/orchestrator"
	"github.com/mbd888/faucetd/internal/session"
	"github.com/mbd888/faucetd/internal/stats"
	"github.com/mbd888/faucetd/internal/validation"
	"github.com/mbd888/faucetd/internal/wallet"
	"github.com/mbd888/faucetd/internal/withdrawal"
)

// Banner is the body of GET /api/.
const Banner = "Crypto Faucet Claimer API"

// DefaultListLimit applies to claim logs and transactions.
const DefaultListLimit = 100

// Handlers serves the /api routes.
type Handlers struct {
	orch     *orchestrator.Orchestrator
	sessions *session.Registry
	catalog  *catalog.Catalog
	logs     claimlog.Store
	wallet   wallet.Store
	stats    *stats.Service
	trigger  *withdrawal.Trigger
	defaults session.Config
}

func newHandlers(s *Server) *Handlers {
	defaults := session.DefaultConfig()
	defaults.WithdrawalThreshold = s.cfg.WithdrawalThreshold
	defaults.WithdrawalAddress = s.cfg.WithdrawalAddress
	return &Handlers{
		orch:     s.orch,
		sessions: s.sessions,
		catalog:  s.catalog,
		logs:     s.logs,
		wallet:   s.wallet,
		stats:    s.stats,
		trigger:  s.trigger,
		defaults: defaults,
	}
}

// RegisterRoutes sets up the API routes
func (h *Handlers) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/", h.Banner)
	r.POST("/start-session", h.StartSession)
	r.GET("/active-sessions", h.ActiveSessions)
	r.GET("/wallet-stats", h.WalletStats)
	r.GET("/claim-logs", h.ClaimLogs)
	r.GET("/faucet-sites", h.FaucetSites)
	r.POST("/manual-withdrawal", h.ManualWithdrawal)
	r.GET("/transactions", h.Transactions)

	byID := r.Group("", validation.SessionIDParamMiddleware())
	byID.GET("/session-status/:id", h.SessionStatus)
	byID.DELETE("/stop-session/:id", h.StopSession)
}

// Banner handles GET /api/
func (h *Handlers) Banner(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": Banner})
}

// StartSession handles POST /api/start-session
func (h *Handlers) StartSession(c *gin.Context) {
	cfg := h.defaults
	if err := c.ShouldBindJSON(&cfg); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	cfg.ID = strings.TrimSpace(cfg.ID)
	cfg.WithdrawalAddress = validation.SanitizeAddress(cfg.WithdrawalAddress)
	if cfg.ID != "" && !validation.IsValidSessionID(cfg.ID) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"message": "id must be 1-128 characters of letters, digits, '-', '_', '.' or ':'",
		})
		return
	}

	res, err := h.orch.Start(c.Request.Context(), cfg)
	if err != nil {
		var verr *session.ValidationError
		switch {
		case errors.As(err, &verr):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "validation_failed",
				"message": verr.Error(),
				"details": validation.ValidationErrors{{Field: verr.Field, Message: verr.Message}},
			})
		case errors.Is(err, session.ErrAlreadyRunning):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "already_running",
				"message": "Session already running",
			})
		case errors.Is(err, orchestrator.ErrShuttingDown):
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error":   "shutting_down",
				"message": "Server is shutting down",
			})
		default:
			logging.L(c.Request.Context()).Error("start session failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "Failed to start session",
			})
		}
		return
	}

	c.JSON(http.StatusOK, res)
}

// SessionStatus handles GET /api/session-status/:id
func (h *Handlers) SessionStatus(c *gin.Context) {
	rec, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Session not found",
		})
		return
	}
	c.JSON(http.StatusOK, rec)
}

// ActiveSessions handles GET /api/active-sessions. Every tracked id is
// listed, including ended sessions not yet evicted.
func (h *Handlers) ActiveSessions(c *gin.Context) {
	c.JSON(http.StatusOK, h.sessions.ListIDs())
}

// StopSession handles DELETE /api/stop-session/:id
func (h *Handlers) StopSession(c *gin.Context) {
	id := c.Param("id")
	if err := h.sessions.Stop(id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Session not found",
		})
		return
	}
	logging.L(c.Request.Context()).Info("session stop requested", "session_id", id)
	c.JSON(http.StatusOK, gin.H{"message": fmt.Sprintf("Session %s stopped", id)})
}

// WalletStats handles GET /api/wallet-stats
func (h *Handlers) WalletStats(c *gin.Context) {
	ws, err := h.stats.WalletStats(c.Request.Context())
	if err != nil {
		logging.L(c.Request.Context()).Error("failed to get wallet stats", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, ws)
}

// ClaimLogs handles GET /api/claim-logs?limit=N, newest first.
func (h *Handlers) ClaimLogs(c *gin.Context) {
	limit := validation.ParseLimit(c.Query("limit"), DefaultListLimit, DefaultListLimit)
	logs, err := h.logs.ListRecent(c.Request.Context(), limit)
	if err != nil {
		logging.L(c.Request.Context()).Error("failed to get claim logs", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}
	if logs == nil {
		logs = []*claimlog.Log{}
	}
	c.JSON(http.StatusOK, logs)
}

// FaucetSites handles GET /api/faucet-sites
func (h *Handlers) FaucetSites(c *gin.Context) {
	c.JSON(http.StatusOK, h.catalog.Sites())
}

// withdrawalRequest is the JSON form of a manual withdrawal. The same
// fields are accepted as query parameters.
type withdrawalRequest struct {
	ToAddress string     `json:"to_address"`
	Amount    btc.Amount `json:"amount"`
}

// ManualWithdrawal handles POST /api/manual-withdrawal
func (h *Handlers) ManualWithdrawal(c *gin.Context) {
	var req withdrawalRequest
	if to, raw := c.Query("to_address"), c.Query("amount"); to != "" || raw != "" {
		req.ToAddress = to
		if raw != "" {
			if err := req.Amount.UnmarshalJSON([]byte(raw)); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{
					"error":   "validation_failed",
					"message": "amount: invalid amount format",
				})
				return
			}
		}
	} else if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	req.ToAddress = validation.SanitizeAddress(req.ToAddress)
	if errs := validation.Validate(
		validation.Required("to_address", req.ToAddress),
		validation.ValidAddress("to_address", req.ToAddress),
		validation.MaxLength("to_address", req.ToAddress, 128),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	receipt, err := h.trigger.Manual(c.Request.Context(), req.ToAddress, req.Amount)
	if err != nil {
		switch {
		case errors.Is(err, wallet.ErrInvalidAddress):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_address",
				"message": "to_address must be a valid bitcoin address",
			})
		case errors.Is(err, wallet.ErrInvalidAmount):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_amount",
				"message": "amount must be greater than zero",
			})
		default:
			logging.L(c.Request.Context()).Error("manual withdrawal failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "withdrawal_failed",
				"message": err.Error(),
			})
		}
		return
	}
	c.JSON(http.StatusOK, receipt)
}

// Transactions handles GET /api/transactions?limit=N, newest first.
func (h *Handlers) Transactions(c *gin.Context) {
	limit := validation.ParseLimit(c.Query("limit"), DefaultListLimit, wallet.DefaultTransferLimit)
	txs, err := h.wallet.ListTransfers(c.Request.Context(), limit)
	if err != nil {
		logging.L(c.Request.Context()).Error("failed to list transactions", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}
	if txs == nil {
		txs = []*wallet.TransferResult{}
	}
	c.JSON(http.StatusOK, txs)
}
