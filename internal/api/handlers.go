package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"

	"signal-pipeline/internal/database"
	"signal-pipeline/internal/settings"
	"signal-pipeline/internal/signal"
)

// handleHealth reports process and database health
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	dbStatus := "ok"
	status := http.StatusOK
	if err := s.repo.HealthCheck(ctx); err != nil {
		dbStatus = err.Error()
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, gin.H{
		"status":       statusWord(status),
		"database":     dbStatus,
		"orchestrator": s.orchestrator.State(),
		"time":         time.Now().UTC(),
	})
}

func statusWord(status int) string {
	if status == http.StatusOK {
		return "ok"
	}
	return "degraded"
}

// handleLogin exchanges the admin token for an operator session token
func (s *Server) handleLogin(c *gin.Context) {
	if !s.authEnabled {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "authentication is disabled"})
		return
	}

	var req struct {
		Operator   string `json:"operator" binding:"required"`
		AdminToken string `json:"admin_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "operator and admin_token are required"})
		return
	}

	token, err := s.authService.Login(c.Request.Context(), req.Operator, req.AdminToken)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"access_token": token,
		"token_type":   "Bearer",
		"expires_in":   s.authService.JWTManager().TokenDuration(),
	})
}

// webhookPayload is the raw signal document posted by signal sources
type webhookPayload struct {
	Symbol    string  `json:"symbol"`
	Direction string  `json:"direction"`
	Price     float64 `json:"price"`
	Source    string  `json:"source"`
	Timestamp int64   `json:"timestamp"` // Unix seconds at the source
}

// handleSignalWebhook ingests one signal. Every decision returns 200 with
// the recorded verdict; only transport-level problems return errors.
func (s *Server) handleSignalWebhook(c *gin.Context) {
	if token := s.settings.GetString(c.Request.Context(), settings.KeyWebhookToken, ""); token != "" {
		provided := c.GetHeader("X-Webhook-Token")
		if subtle.ConstantTimeCompare([]byte(provided), []byte(token)) != 1 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid webhook token"})
			return
		}
	}

	var payload webhookPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return
	}

	var sourceTS time.Time
	if payload.Timestamp > 0 {
		sourceTS = time.Unix(payload.Timestamp, 0)
	}

	sig, err := s.intake.Submit(c.Request.Context(), &signal.SubmitRequest{
		Symbol:          payload.Symbol,
		Direction:       payload.Direction,
		Price:           payload.Price,
		Source:          payload.Source,
		SourceTimestamp: sourceTS,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record signal"})
		return
	}

	resp := gin.H{"status": sig.Status}
	if sig.ID != 0 {
		resp["signal_id"] = sig.ID
	}
	if sig.RejectionReason != nil {
		resp["rejection_reason"] = *sig.RejectionReason
	}
	c.JSON(http.StatusOK, resp)
}

// handleGetSignals returns the signal audit trail, newest first
func (s *Server) handleGetSignals(c *gin.Context) {
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)

	signals, err := s.repo.GetSignalHistory(c.Request.Context(), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch signals"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"signals": signals, "count": len(signals)})
}

// handleGetRegime returns the current regime snapshot and direction set
func (s *Server) handleGetRegime(c *gin.Context) {
	snapshot := s.regimeGate.Current()
	c.JSON(http.StatusOK, gin.H{
		"snapshot":           snapshot,
		"allowed_directions": s.regimeGate.Allowed(),
	})
}

// handleGetRegimeHistory returns persisted regime snapshots, newest first
func (s *Server) handleGetRegimeHistory(c *gin.Context) {
	limit := intQuery(c, "limit", 100)

	history, err := s.repo.GetRegimeHistory(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch regime history"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"snapshots": history, "count": len(history)})
}

// handleGetPositions returns all open positions
func (s *Server) handleGetPositions(c *gin.Context) {
	positions, err := s.repo.GetOpenPositions(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch positions"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"positions": positions, "count": len(positions)})
}

// handleGetPositionHistory returns closed and cancelled positions
func (s *Server) handleGetPositionHistory(c *gin.Context) {
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)

	positions, err := s.repo.GetPositionHistory(c.Request.Context(), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch position history"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"positions": positions, "count": len(positions)})
}

// handleRequestClose flags a position for closing. The monitor performs
// the actual exit on its next sweep, under the position claim.
func (s *Server) handleRequestClose(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid position id"})
		return
	}

	flagged, err := s.repo.RequestPositionClose(c.Request.Context(), id, database.CloseReasonManual)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to request close"})
		return
	}
	if !flagged {
		c.JSON(http.StatusConflict, gin.H{"error": "position is not open"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"position_id": id, "close_requested": true})
}

// handleGetSettlement returns the settlement for a closed position
func (s *Server) handleGetSettlement(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid position id"})
		return
	}

	settlement, err := s.repo.GetSettlementByPositionID(c.Request.Context(), id)
	if errors.Is(err, pgx.ErrNoRows) {
		c.JSON(http.StatusNotFound, gin.H{"error": "position is not settled"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch settlement"})
		return
	}
	c.JSON(http.StatusOK, settlement)
}

func intQuery(c *gin.Context, name string, def int) int {
	if raw := c.Query(name); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed >= 0 {
			return parsed
		}
	}
	return def
}
