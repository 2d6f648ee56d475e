package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"

	"signal-pipeline/internal/auth"
	"signal-pipeline/internal/database"
	"signal-pipeline/internal/vault"
)

func userIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return 0, false
	}
	return id, true
}

// handleGetUser returns one user's profile
func (s *Server) handleGetUser(c *gin.Context) {
	id, ok := userIDParam(c)
	if !ok {
		return
	}

	user, err := s.repo.GetUserByID(c.Request.Context(), id)
	if errors.Is(err, pgx.ErrNoRows) {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch user"})
		return
	}
	c.JSON(http.StatusOK, user)
}

// handleGetRiskParams returns a user's risk parameters, falling back to
// the defaults for unconfigured users
func (s *Server) handleGetRiskParams(c *gin.Context) {
	id, ok := userIDParam(c)
	if !ok {
		return
	}

	params, err := s.riskService.ForUser(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch risk parameters"})
		return
	}
	c.JSON(http.StatusOK, params)
}

// handlePutRiskParams validates and saves a user's risk parameters
func (s *Server) handlePutRiskParams(c *gin.Context) {
	id, ok := userIDParam(c)
	if !ok {
		return
	}

	var params database.RiskParameters
	if err := c.ShouldBindJSON(&params); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return
	}
	params.UserID = id

	if err := s.riskService.Save(c.Request.Context(), &params); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, params)
}

// handleGetCommissionLedger returns a user's commission entries
func (s *Server) handleGetCommissionLedger(c *gin.Context) {
	id, ok := userIDParam(c)
	if !ok {
		return
	}
	limit := intQuery(c, "limit", 50)

	entries, err := s.repo.GetCommissionLedger(c.Request.Context(), id, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch ledger"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}

// handleUnblockUser re-enables execution for a user blocked after a
// credential failure
func (s *Server) handleUnblockUser(c *gin.Context) {
	id, ok := userIDParam(c)
	if !ok {
		return
	}

	if err := s.repo.SetUserExecutionBlocked(c.Request.Context(), id, false, ""); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to unblock user"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": id, "execution_blocked": false})
}

// handleStoreCredentials writes a user's exchange API keys to Vault
func (s *Server) handleStoreCredentials(c *gin.Context) {
	id, ok := userIDParam(c)
	if !ok {
		return
	}

	var req struct {
		Exchange  string `json:"exchange" binding:"required"`
		APIKey    string `json:"api_key" binding:"required"`
		SecretKey string `json:"secret_key" binding:"required"`
		IsTestnet bool   `json:"is_testnet"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "exchange, api_key and secret_key are required"})
		return
	}

	creds := vault.Credentials{
		APIKey:    req.APIKey,
		SecretKey: req.SecretKey,
		Exchange:  req.Exchange,
		IsTestnet: req.IsTestnet,
	}
	if err := s.vaultClient.StoreCredentials(c.Request.Context(), id, creds); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store credentials"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": id, "exchange": req.Exchange, "stored": true})
}

// handleDeleteCredentials removes a user's exchange API keys from Vault
func (s *Server) handleDeleteCredentials(c *gin.Context) {
	id, ok := userIDParam(c)
	if !ok {
		return
	}

	exchangeName := c.Query("exchange")
	if exchangeName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "exchange query parameter is required"})
		return
	}
	isTestnet := c.Query("environment") == database.EnvironmentTestnet

	if err := s.vaultClient.DeleteCredentials(c.Request.Context(), id, exchangeName, isTestnet); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete credentials"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": id, "exchange": exchangeName, "deleted": true})
}

// handleGetSettings returns all system settings
func (s *Server) handleGetSettings(c *gin.Context) {
	all, err := s.repo.GetAllSystemSettings(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch settings"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"settings": all, "count": len(all)})
}

// handlePutSetting upserts one system setting, recording which operator
// changed it
func (s *Server) handlePutSetting(c *gin.Context) {
	key := c.Param("key")

	var req struct {
		Value     string `json:"value" binding:"required"`
		ValueType string `json:"value_type" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "value and value_type are required"})
		return
	}

	operator := auth.OperatorFrom(c)
	if err := s.settings.Set(c.Request.Context(), key, req.Value, req.ValueType, operator); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save setting"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": key, "value": req.Value})
}
