package routes

import (
	"net/http"

	"github.com/01moynul/kidwallet-golang/internal/handlers"
	"github.com/01moynul/kidwallet-golang/internal/middleware"
	"github.com/gin-gonic/gin"
)

// Options are the router settings that come from configuration.
type Options struct {
	CORSOrigin  string
	Maintenance bool
}

// CORSMiddleware lets the configured browser front end call the API.
func CORSMiddleware(origin string) gin.HandlerFunc {
	return func(c *gin.Context) {
		// 1. Allow only the configured front end
		c.Writer.Header().Set("Access-Control-Allow-Origin", origin)

		// 2. Allow credentials and the headers we use ("Authorization" carries the token)
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PATCH")

		// 3. Answer the preflight request
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func SetupRouter(h *handlers.Handlers, opts Options) *gin.Engine {
	router := gin.Default()

	// --- APPLY THE CORS GUARD ---
	router.Use(CORSMiddleware(opts.CORSOrigin))

	requireAuth := middleware.AuthMiddleware(h.Tokens, h.Ledger, opts.Maintenance)

	v1 := router.Group("/v1")
	{
		// --- Ping Route (Public) ---
		v1.GET("/ping", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"message": "pong!"})
		})

		// --- Auth Routes (Public) ---
		v1.POST("/register", h.Register)
		v1.POST("/login", h.Login)

		// --- Protected Routes (Login Required) ---
		user := v1.Group("/")
		user.Use(requireAuth)
		{
			user.GET("/me", h.GetMe)
			user.GET("/activities", h.GetActivities)

			user.POST("/friends", h.AddFriend)
			user.GET("/friends", h.GetMyFriends)

			user.GET("/wallet", h.GetMyWallet)
			user.POST("/wallet/withdrawals", h.RequestWithdrawal)
		}

		// --- Admin-Only Routes ---
		admin := v1.Group("/admin")
		admin.Use(requireAuth)
		admin.Use(middleware.AdminMiddleware())
		{
			admin.GET("/users", h.GetAllUsers)
			admin.GET("/overview", h.GetOverview)
			admin.POST("/users/:id/reconcile", h.ReconcileUser)

			admin.GET("/friends", h.GetFriends)
			admin.PATCH("/friends/:id/verify", h.VerifyFriend)
			admin.PATCH("/friends/:id/decline", h.DeclineFriend)

			admin.GET("/withdrawals", h.GetWithdrawals)
			admin.PATCH("/withdrawals/:id/approve", h.ApproveWithdrawal)
			admin.PATCH("/withdrawals/:id/decline", h.DeclineWithdrawal)
		}
	}

	return router
}
