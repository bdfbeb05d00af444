package handlers

import (
	"net/http"

	"github.com/01moynul/kidwallet-golang/internal/ledger"
	"github.com/gin-gonic/gin"
)

// GetMe is the handler for GET /v1/me
// It returns the caller's dashboard: profile, eligibility, level progress,
// friends, recent withdrawals and activity.
func (h *Handlers) GetMe(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	dashboard, err := h.Ledger.Dashboard(c.Request.Context(), p.UserID)
	if err != nil {
		h.respondError(c, "dashboard", err)
		return
	}
	c.JSON(http.StatusOK, dashboard)
}

// GetActivities is the handler for GET /v1/activities
func (h *Handlers) GetActivities(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	activities, err := h.Ledger.Activities(c.Request.Context(), p.UserID)
	if err != nil {
		h.respondError(c, "activities", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"activities": activities})
}

// --- Friends ---

type AddFriendInput struct {
	Name     string `json:"name" binding:"required"`
	Password string `json:"password" binding:"required"`
	Whatsapp string `json:"whatsapp"`
}

// AddFriend is the handler for POST /v1/friends
func (h *Handlers) AddFriend(c *gin.Context) {
	// 1. --- Get User ---
	p, ok := principal(c)
	if !ok {
		return
	}

	// 2. --- Bind & Validate JSON ---
	var input AddFriendInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// 3. --- Record the referral ---
	friend, err := h.Ledger.AddFriend(c.Request.Context(), p.UserID, ledger.FriendInput{
		Name:     input.Name,
		Password: input.Password,
		Whatsapp: input.Whatsapp,
	})
	if err != nil {
		h.respondError(c, "add_friend", err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "Friend added. Waiting for admin verification.",
		"friend":  friend,
	})
}

// GetMyFriends is the handler for GET /v1/friends
func (h *Handlers) GetMyFriends(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	friends, err := h.Ledger.UserFriends(c.Request.Context(), p.UserID)
	if err != nil {
		h.respondError(c, "user_friends", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"friends": friends})
}
