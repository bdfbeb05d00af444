package handlers

import (
	"net/http"

	"github.com/01moynul/kidwallet-golang/internal/ledger"
	"github.com/gin-gonic/gin"
)

//
// --- Wallet Handlers ---
//

// GetMyWallet is the handler for GET /v1/wallet
// It returns the balance, the withdrawal eligibility and the full
// withdrawal history, newest first.
func (h *Handlers) GetMyWallet(c *gin.Context) {
	// 1. --- Get User ---
	p, ok := principal(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	user, err := h.Ledger.GetUser(ctx, p.UserID)
	if err != nil {
		h.respondError(c, "wallet", err)
		return
	}

	// 2. --- Get Withdrawal History ---
	history, err := h.Ledger.UserWithdrawals(ctx, p.UserID)
	if err != nil {
		h.respondError(c, "wallet", err)
		return
	}

	// 3. --- Send Response ---
	c.JSON(http.StatusOK, gin.H{
		"balance":     user.Balance,
		"level":       user.Level,
		"nextReward":  ledger.Rate(user.VerifiedFriends + 1),
		"eligibility": ledger.CheckEligibility(*user),
		"history":     history,
	})
}
