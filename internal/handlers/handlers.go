package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/01moynul/kidwallet-golang/internal/auth"
	"github.com/01moynul/kidwallet-golang/internal/ledger"
	"github.com/01moynul/kidwallet-golang/internal/middleware"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handlers struct holds all dependencies for our handlers.
type Handlers struct {
	Ledger *ledger.Engine
	Tokens *auth.TokenManager
	Log    *zap.Logger
}

// principal returns the caller set by the auth middleware.
func principal(c *gin.Context) (ledger.Principal, bool) {
	p, ok := middleware.PrincipalFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User ID not found in context"})
	}
	return p, ok
}

// respondError maps an engine error to its HTTP status.
func (h *Handlers) respondError(c *gin.Context, op string, err error) {
	var verr *ledger.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Message, "field": verr.Field})
	case errors.Is(err, ledger.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	case errors.Is(err, ledger.ErrInvalidState):
		c.JSON(http.StatusConflict, gin.H{"error": "Already processed"})
	case errors.Is(err, ledger.ErrInsufficientBalance):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Insufficient balance. The request stays pending."})
	case errors.Is(err, ledger.ErrVersionConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "The data changed while saving. Please try again."})
	case errors.Is(err, ledger.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid username or password"})
	case errors.Is(err, ledger.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "Access denied"})
	case errors.Is(err, ledger.ErrPartiallyApplied):
		h.Log.Error("Change partially saved", zap.String("op", op), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "The change was only partly saved. Check the affected user and run reconcile.",
		})
	case errors.Is(err, ledger.ErrStoreUnavailable), errors.Is(err, context.DeadlineExceeded):
		h.Log.Error("Store unavailable", zap.String("op", op), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Storage is unavailable, please try again later"})
	default:
		h.Log.Error("Request failed", zap.String("op", op), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

// statusFilter reads ?status=, defaulting to pending. "all" lists everything.
func statusFilter(c *gin.Context, allowed ...string) (string, bool) {
	status := c.DefaultQuery("status", "pending")
	if status == "all" {
		return "", true
	}
	for _, s := range allowed {
		if s == status {
			return status, true
		}
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown status filter: " + status})
	return "", false
}
