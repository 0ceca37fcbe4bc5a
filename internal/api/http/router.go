package http

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func SetupRouter(sessionController *SessionController) *gin.Engine {
	router := gin.Default()
	config := cors.DefaultConfig()
	config.AllowAllOrigins = true
	config.AllowHeaders = []string{
		"Authorization",
		"Content-Type",
		"Origin",
		"Accept",
	}
	config.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"}
	router.Use(cors.New(config))
	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(200, gin.H{"status": "ok"})
	})

	api := router.Group("/api")

	sessions := api.Group("/sessions")
	sessions.POST("/create", sessionController.CreateSession)
	sessions.GET("", sessionController.ListSessions)
	sessions.POST("/claim", sessionController.ClaimSession)
	sessions.GET("/:sessionID", sessionController.GetSession)
	sessions.POST("/:sessionID/end", sessionController.EndSession)
	sessions.GET("/:sessionID/ws", sessionController.SessionFeed)

	return router
}
