package api

import (
	"github.com/ful2win/backend/internal/api/handlers"
	"github.com/ful2win/backend/internal/config"
	"github.com/ful2win/backend/internal/game"
	"github.com/ful2win/backend/internal/middleware"
	"github.com/ful2win/backend/internal/ws"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Deps are the services the HTTP surface exposes
type Deps struct {
	Config     *config.Config
	Matchmaker *game.Matchmaker
	Settlement *game.Settlement
	Hub        *ws.Hub
	Health     map[string]handlers.Pinger
	Logger     *zap.Logger
}

// SetupRoutes configures all API routes
func SetupRoutes(router *gin.Engine, d Deps) {
	router.Use(middleware.CORSMiddleware(d.Config, d.Logger))

	// No-cache in development
	if !d.Config.IsProduction() {
		router.Use(func(c *gin.Context) {
			c.Header("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
			c.Header("Pragma", "no-cache")
			c.Header("Expires", "0")
			c.Next()
		})
	}

	upgrader := ws.Upgrader(middleware.AllowedOrigin(d.Config))

	// API v1 group
	v1 := router.Group("/api/v1")
	{
		v1.GET("/health", handlers.HealthCheck(d.Health))
		v1.GET("/ws", middleware.WebSocketCORSCheck(d.Config), handlers.HandleGameWebSocket(d.Hub, upgrader))

		v1.GET("/sessions/:roomId", handlers.GetSession(d.Settlement))
		v1.GET("/queue/status", handlers.GetQueueStatus(d.Matchmaker))
	}
}
