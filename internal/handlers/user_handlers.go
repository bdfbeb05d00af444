package handlers

import (
	"net/http"

	"github.com/01moynul/kidwallet-golang/internal/ledger"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// --- User Registration ---

// RegisterUserInput is the signup form. The engine applies the length and
// uniqueness rules.
type RegisterUserInput struct {
	FullName        string `json:"fullName" binding:"required"`
	Username        string `json:"username" binding:"required"`
	Password        string `json:"password" binding:"required"`
	ConfirmPassword string `json:"confirmPassword" binding:"required"`
	Whatsapp        string `json:"whatsapp" binding:"required"`
}

// Register is the handler for POST /v1/register
func (h *Handlers) Register(c *gin.Context) {
	// 1. --- Bind & Validate JSON ---
	var input RegisterUserInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// 2. --- Create the account ---
	user, err := h.Ledger.Register(c.Request.Context(), ledger.SignupInput{
		FullName:        input.FullName,
		Username:        input.Username,
		Password:        input.Password,
		ConfirmPassword: input.ConfirmPassword,
		Whatsapp:        input.Whatsapp,
	})
	if err != nil {
		h.respondError(c, "register", err)
		return
	}

	// 3. --- Send Success Response ---
	c.JSON(http.StatusCreated, gin.H{
		"message": "Account created successfully. Your user ID is " + user.UserID,
		"user":    user,
	})
}

// --- User Login ---

// LoginInput accepts a username or an 8-digit user id.
type LoginInput struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login is the handler for POST /v1/login
func (h *Handlers) Login(c *gin.Context) {
	// 1. --- Bind & Validate JSON ---
	var input LoginInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// 2. --- Check credentials ---
	user, err := h.Ledger.Login(c.Request.Context(), input.Username, input.Password)
	if err != nil {
		h.respondError(c, "login", err)
		return
	}

	// 3. --- Issue the token ---
	token, err := h.Tokens.GenerateToken(user.UserID, user.IsAdmin)
	if err != nil {
		h.Log.Error("Failed to generate token", zap.String("userId", user.UserID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Login successful",
		"token":   token,
		"user":    user,
	})
}
