package handlers

import (
	"net/http"

	"github.com/01moynul/kidwallet-golang/internal/models"
	"github.com/gin-gonic/gin"
)

//
// --- Admin: Users ---
//

// GetAllUsers is the handler for GET /v1/admin/users
func (h *Handlers) GetAllUsers(c *gin.Context) {
	users, err := h.Ledger.ListUsers(c.Request.Context())
	if err != nil {
		h.respondError(c, "list_users", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

// GetOverview is the handler for GET /v1/admin/overview
func (h *Handlers) GetOverview(c *gin.Context) {
	overview, err := h.Ledger.Overview(c.Request.Context())
	if err != nil {
		h.respondError(c, "overview", err)
		return
	}
	c.JSON(http.StatusOK, overview)
}

// ReconcileUser is the handler for POST /v1/admin/users/:id/reconcile
// It rebuilds the user's private data file from the global ledgers.
func (h *Handlers) ReconcileUser(c *gin.Context) {
	data, err := h.Ledger.Reconcile(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, "reconcile", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "User data rebuilt", "data": data})
}

//
// --- Admin: Friend Verification ---
//

// GetFriends is the handler for GET /v1/admin/friends?status=
func (h *Handlers) GetFriends(c *gin.Context) {
	status, ok := statusFilter(c, models.ReferralPending, models.ReferralVerified, models.ReferralDeclined)
	if !ok {
		return
	}
	friends, err := h.Ledger.ListFriends(c.Request.Context(), status)
	if err != nil {
		h.respondError(c, "list_friends", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"friends": friends})
}

// VerifyFriend is the handler for PATCH /v1/admin/friends/:id/verify
func (h *Handlers) VerifyFriend(c *gin.Context) {
	// 1. --- Get Admin ---
	admin, ok := principal(c)
	if !ok {
		return
	}

	// 2. --- Apply the transition ---
	friend, earned, err := h.Ledger.VerifyFriend(c.Request.Context(), admin, c.Param("id"))
	if err != nil {
		h.respondError(c, "verify_friend", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Friend verified",
		"friend":  friend,
		"earned":  earned,
	})
}

// DeclineFriend is the handler for PATCH /v1/admin/friends/:id/decline
func (h *Handlers) DeclineFriend(c *gin.Context) {
	admin, ok := principal(c)
	if !ok {
		return
	}

	friend, err := h.Ledger.DeclineFriend(c.Request.Context(), admin, c.Param("id"))
	if err != nil {
		h.respondError(c, "decline_friend", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Friend declined", "friend": friend})
}

//
// --- Admin: Withdrawal Processing ---
//

// GetWithdrawals is the handler for GET /v1/admin/withdrawals?status=
func (h *Handlers) GetWithdrawals(c *gin.Context) {
	status, ok := statusFilter(c, models.WithdrawalPending, models.WithdrawalApproved, models.WithdrawalDeclined)
	if !ok {
		return
	}
	withdrawals, err := h.Ledger.ListWithdrawals(c.Request.Context(), status)
	if err != nil {
		h.respondError(c, "list_withdrawals", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"withdrawals": withdrawals})
}

// ApproveWithdrawal is the handler for PATCH /v1/admin/withdrawals/:id/approve
func (h *Handlers) ApproveWithdrawal(c *gin.Context) {
	admin, ok := principal(c)
	if !ok {
		return
	}

	w, err := h.Ledger.ApproveWithdrawal(c.Request.Context(), admin, c.Param("id"))
	if err != nil {
		h.respondError(c, "approve_withdrawal", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Withdrawal approved", "withdrawal": w})
}

// DeclineWithdrawalInput carries the reason shown to the user.
type DeclineWithdrawalInput struct {
	Reason string `json:"reason" binding:"required"`
}

// DeclineWithdrawal is the handler for PATCH /v1/admin/withdrawals/:id/decline
func (h *Handlers) DeclineWithdrawal(c *gin.Context) {
	// 1. --- Get Admin ---
	admin, ok := principal(c)
	if !ok {
		return
	}

	// 2. --- Bind & Validate JSON ---
	var input DeclineWithdrawalInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "A reason is required to decline a withdrawal"})
		return
	}

	// 3. --- Apply the transition ---
	w, err := h.Ledger.DeclineWithdrawal(c.Request.Context(), admin, c.Param("id"), input.Reason)
	if err != nil {
		h.respondError(c, "decline_withdrawal", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Withdrawal declined", "withdrawal": w})
}
