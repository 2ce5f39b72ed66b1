package handlers

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/gin-gonic/gin"

	"ftwallet/internal/engine"
	"ftwallet/internal/models"
)

// ==============================================
// SERVICE INTERFACE (for testing)
// ==============================================

type WalletService interface {
	Deposit(ctx context.Context, req models.TransactionRequest) (*models.TransactionRecord, error)
	Withdraw(ctx context.Context, req models.TransactionRequest) (*models.TransactionRecord, error)
	GetBalance(accountID string) float64
	Mode() string
	DivergenceAlarm() bool
}

// ==============================================
// HANDLER (HTTP Layer ONLY)
// ==============================================

type WalletHandler struct {
	service WalletService
	ready   atomic.Bool
}

func NewWalletHandler(service WalletService) *WalletHandler {
	return &WalletHandler{service: service}
}

// SetReady flips /health from "initializing" to "healthy". Called by main
// once recovery and listeners are up.
func (h *WalletHandler) SetReady() {
	h.ready.Store(true)
}

// ==============================================
// ENDPOINTS
// ==============================================

// Deposit handles POST /deposit
func (h *WalletHandler) Deposit(c *gin.Context) {
	h.mutate(c, h.service.Deposit)
}

// Withdraw handles POST /withdraw
func (h *WalletHandler) Withdraw(c *gin.Context) {
	h.mutate(c, h.service.Withdraw)
}

func (h *WalletHandler) mutate(c *gin.Context, op func(context.Context, models.TransactionRequest) (*models.TransactionRecord, error)) {
	var req models.TransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "Invalid request", err)
		return
	}

	rec, err := op(c.Request.Context(), req)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	resp := models.TransactionResponse{
		Success:       rec.Success,
		Message:       rec.Message,
		NewBalance:    rec.NewBalance,
		TransactionID: rec.TransactionID,
	}

	// A committed success=false record (and its idempotent replay) keeps the
	// original 400; a rolled-back record replays the same way.
	if !rec.Success {
		c.JSON(http.StatusBadRequest, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// GetBalance handles POST /balance
func (h *WalletHandler) GetBalance(c *gin.Context) {
	var req models.BalanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "Invalid request", err)
		return
	}

	c.JSON(http.StatusOK, models.BalanceResponse{
		Success: true,
		Balance: h.service.GetBalance(req.AccountID),
		Message: "balance retrieved",
	})
}

// Health handles GET /health
func (h *WalletHandler) Health(c *gin.Context) {
	status := "initializing"
	if h.ready.Load() {
		status = "healthy"
	}
	c.JSON(http.StatusOK, gin.H{"status": status})
}

// Readiness handles GET /ready - adds replication mode and the divergence
// alarm on top of the basic health status.
func (h *WalletHandler) Readiness(c *gin.Context) {
	status := "initializing"
	if h.ready.Load() {
		status = "ready"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":           status,
		"mode":             h.service.Mode(),
		"divergence_alarm": h.service.DivergenceAlarm(),
	})
}

// ==============================================
// ROUTE REGISTRATION
// ==============================================

func (h *WalletHandler) RegisterRoutes(router *gin.Engine) {
	router.POST("/deposit", h.Deposit)
	router.POST("/withdraw", h.Withdraw)
	router.POST("/balance", h.GetBalance)
	router.GET("/health", h.Health)
	router.GET("/ready", h.Readiness)
}

// ==============================================
// HELPER FUNCTIONS
// ==============================================

// respondError sends an error JSON response
func respondError(c *gin.Context, statusCode int, message string, err error) {
	c.JSON(statusCode, gin.H{
		"error":   message,
		"message": err.Error(),
	})
}

// respondServiceError maps engine errors to HTTP status codes
func respondServiceError(c *gin.Context, err error) {
	statusCode, message := mapServiceError(err)
	c.JSON(statusCode, gin.H{
		"error":   message,
		"message": err.Error(),
	})
}

func mapServiceError(err error) (int, string) {
	switch {
	// Validation errors (400 Bad Request)
	case errors.Is(err, engine.ErrInvalidAmount):
		return http.StatusBadRequest, "Invalid amount"
	case errors.Is(err, engine.ErrMissingAccountID):
		return http.StatusBadRequest, "Account id required"
	case errors.Is(err, engine.ErrMissingTransactionID):
		return http.StatusBadRequest, "Transaction id required"

	// Durability and everything else (500 Internal Server Error)
	case errors.Is(err, engine.ErrDurability):
		return http.StatusInternalServerError, "Durability failure"
	case errors.Is(err, engine.ErrNotRecovered):
		return http.StatusInternalServerError, "Service not initialized"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}
