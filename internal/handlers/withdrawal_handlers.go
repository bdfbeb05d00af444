package handlers

import (
	"net/http"

	"github.com/01moynul/kidwallet-golang/internal/ledger"
	"github.com/gin-gonic/gin"
)

// RequestWithdrawalInput defines the JSON for a withdrawal request
type RequestWithdrawalInput struct {
	Amount        int    `json:"amount" binding:"required,gt=0"`
	Method        string `json:"method" binding:"required"`
	AccountNumber string `json:"accountNumber" binding:"required"`
	AccountTitle  string `json:"accountTitle" binding:"required"`
}

// RequestWithdrawal is the handler for POST /v1/wallet/withdrawals
// The balance is only deducted when an admin approves the request.
func (h *Handlers) RequestWithdrawal(c *gin.Context) {
	// 1. --- Get User ---
	p, ok := principal(c)
	if !ok {
		return
	}

	// 2. --- Bind & Validate JSON ---
	var input RequestWithdrawalInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// 3. --- File the request ---
	req, err := h.Ledger.RequestWithdrawal(c.Request.Context(), p.UserID, ledger.WithdrawalInput{
		Amount:        input.Amount,
		Method:        input.Method,
		AccountNumber: input.AccountNumber,
		AccountTitle:  input.AccountTitle,
	})
	if err != nil {
		h.respondError(c, "request_withdrawal", err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message":    "Withdrawal request submitted successfully",
		"withdrawal": req,
	})
}
