package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/01moynul/kidwallet-golang/internal/auth"
	"github.com/01moynul/kidwallet-golang/internal/ledger"
	"github.com/01moynul/kidwallet-golang/internal/models"
	"github.com/gin-gonic/gin"
)

// Context keys set by AuthMiddleware.
const (
	ContextUserID    = "userID"
	ContextPrincipal = "principal"
)

// Authorizer re-reads the caller's user record.
type Authorizer interface {
	Authorize(ctx context.Context, p ledger.Principal) (*models.User, error)
}

// AuthMiddleware checks the Bearer token, then re-reads the user so a
// removed or demoted account is rejected at once. In maintenance mode only
// administrators pass.
func AuthMiddleware(tokens *auth.TokenManager, users Authorizer, maintenance bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		// 1. --- Get Authorization Header ---
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token format (must be Bearer)"})
			return
		}

		// 2. --- Validate Token ---
		userID, isAdmin, err := tokens.ValidateToken(parts[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		}
		principal := ledger.Principal{UserID: userID, IsAdmin: isAdmin}

		// 3. --- Re-read the user ---
		user, err := users.Authorize(c.Request.Context(), principal)
		switch {
		case errors.Is(err, ledger.ErrNotFound):
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Account no longer exists"})
			return
		case errors.Is(err, ledger.ErrForbidden):
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Access denied: admin rights revoked"})
			return
		case err != nil:
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "Could not verify account"})
			return
		}

		// 4. --- Enforce Maintenance Mode ---
		if maintenance && !user.IsAdmin {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error": "The system is currently in Maintenance Mode. Please try again later.",
			})
			return
		}

		// 5. --- Success ---
		c.Set(ContextUserID, userID)
		c.Set(ContextPrincipal, principal)
		c.Next()
	}
}

// AdminMiddleware must run after AuthMiddleware.
func AdminMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := PrincipalFrom(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "User ID not found in context (AuthMiddleware must run first)"})
			return
		}
		if !p.IsAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Access denied: Admin role required"})
			return
		}
		c.Next()
	}
}

// PrincipalFrom returns the caller stored by AuthMiddleware.
func PrincipalFrom(c *gin.Context) (ledger.Principal, bool) {
	raw, exists := c.Get(ContextPrincipal)
	if !exists {
		return ledger.Principal{}, false
	}
	p, ok := raw.(ledger.Principal)
	return p, ok
}
