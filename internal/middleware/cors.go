package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/ful2win/backend/internal/config"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var productionOrigins = []string{
	"https://ful2win.vercel.app",
	"https://ful-2-win.vercel.app",
	"https://fulboost.fun",
	"https://www.fulboost.fun",
}

var developmentOrigins = []string{
	"http://localhost:3000",
	"http://localhost:3001",
	"http://localhost:5173",
	"http://127.0.0.1:5173",
}

// AllowedOrigins lists the browser origins accepted in cfg's environment.
func AllowedOrigins(cfg *config.Config) []string {
	origins := append([]string{}, productionOrigins...)
	if !cfg.IsProduction() {
		origins = append(origins, developmentOrigins...)
	}
	if cfg.FrontendURL != "" {
		origins = append(origins, strings.TrimSuffix(cfg.FrontendURL, "/"))
	}
	return origins
}

func originAllowed(cfg *config.Config, origin string) bool {
	origin = strings.TrimSuffix(origin, "/")
	for _, o := range AllowedOrigins(cfg) {
		if o == origin {
			return true
		}
	}
	return false
}

// CORSMiddleware returns a CORS middleware configured for the environment
func CORSMiddleware(cfg *config.Config, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	origins := AllowedOrigins(cfg)
	logger.Info("cors configured", zap.String("env", cfg.Environment), zap.Strings("origins", origins))

	return cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Length", "Content-Type", "Accept", "Cache-Control", "X-Requested-With"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

// AllowedOrigin is the websocket upgrader origin check. Requests without an
// Origin header come from non-browser clients and are accepted.
func AllowedOrigin(cfg *config.Config) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || originAllowed(cfg, origin)
	}
}

// WebSocketCORSCheck rejects websocket upgrades from unknown browser origins
func WebSocketCORSCheck(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !strings.EqualFold(c.GetHeader("Upgrade"), "websocket") {
			c.Next()
			return
		}

		origin := c.GetHeader("Origin")
		if origin != "" && !originAllowed(cfg, origin) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "WebSocket origin not allowed"})
			return
		}

		c.Next()
	}
}
