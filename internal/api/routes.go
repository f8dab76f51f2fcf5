package api

import (
	"log"

	"github.com/gin-gonic/gin"
	"github.com/triadarena/backend/internal/api/handlers"
	"github.com/triadarena/backend/internal/middleware"
)

// SetupRoutes configures all API routes
func SetupRoutes(router *gin.Engine, d *handlers.Deps) {
	d.Init()
	cfg := d.Config

	if cfg.Environment != "production" {
		router.Use(func(c *gin.Context) {
			c.Header("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
			c.Next()
		})
		log.Println("[DEV MODE] no-cache headers enabled for all routes")
	}

	router.GET("/health", handlers.HealthCheck(d))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/health", handlers.HealthCheck(d))
		v1.POST("/auth/telegram", handlers.AuthTelegram(d))
		if cfg.Environment == "development" {
			v1.POST("/auth/dev", handlers.IssueDevToken(d))
		}

		authed := v1.Group("", middleware.RequireAuth(d.Tokens))
		{
			authed.GET("/users/me", handlers.GetMe(d))

			authed.POST("/near/link", handlers.LinkNearAccount(d))
			authed.GET("/near/link", handlers.GetNearAccount(d))
			authed.GET("/nfts/my", handlers.MyAssets(d))
			authed.GET("/decks/active", handlers.GetActiveDeck(d))
			authed.PUT("/decks/active", handlers.PutActiveDeck(d))

			matches := authed.Group("/matches")
			{
				matches.POST("/create", handlers.CreateMatch(d))
				matches.GET("/:id", handlers.GetMatch(d))
				matches.POST("/:id/join", handlers.JoinMatch(d))
				matches.POST("/:id/deck", handlers.SetDeck(d))
				matches.POST("/:id/deposit", handlers.RecordDeposit(d))
				matches.POST("/:id/finish", handlers.FinishMatch(d))
				matches.POST("/:id/claim_tx", handlers.SetClaimTx(d))
				matches.GET("/:id/ws", middleware.WebSocketOriginCheck(cfg), handlers.MatchWebSocket(d))
			}

			mm := authed.Group("/matchmaking")
			{
				mm.POST("/join_queue", handlers.JoinQueue(d))
				mm.POST("/leave_queue", handlers.LeaveQueue(d))
				mm.GET("/queue_status", handlers.QueueStatus(d))
			}
		}

		internal := v1.Group("/internal", middleware.RequireOperator(cfg.OperatorKeyHash))
		{
			internal.POST("/matches/:id/deposits/:seq/verify", handlers.VerifyDeposit(d))
		}
	}
}
