package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ful2win/backend/internal/config"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestAllowedOriginsByEnvironment(t *testing.T) {
	dev := &config.Config{Environment: "development", FrontendURL: "https://play.example.com/"}
	prod := &config.Config{Environment: "production"}

	assert.Contains(t, AllowedOrigins(dev), "http://localhost:5173")
	assert.Contains(t, AllowedOrigins(dev), "https://play.example.com")
	assert.NotContains(t, AllowedOrigins(prod), "http://localhost:5173")
	assert.Contains(t, AllowedOrigins(prod), "https://fulboost.fun")
}

func TestWebSocketCORSCheck(t *testing.T) {
	cfg := &config.Config{Environment: "production"}
	r := gin.New()
	r.GET("/ws", WebSocketCORSCheck(cfg), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	cases := []struct {
		name   string
		origin string
		want   int
	}{
		{"allowed origin", "https://fulboost.fun", http.StatusNoContent},
		{"trailing slash", "https://fulboost.fun/", http.StatusNoContent},
		{"unknown origin", "https://evil.example", http.StatusForbidden},
		{"no origin", "", http.StatusNoContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ws", nil)
			req.Header.Set("Connection", "Upgrade")
			req.Header.Set("Upgrade", "websocket")
			if tc.origin != "" {
				req.Header.Set("Origin", tc.origin)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tc.want, w.Code)
		})
	}
}

func TestAllowedOriginForUpgrader(t *testing.T) {
	check := AllowedOrigin(&config.Config{Environment: "development"})

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.True(t, check(req))

	req.Header.Set("Origin", "http://localhost:3000")
	assert.True(t, check(req))

	req.Header.Set("Origin", "http://localhost:9999")
	assert.False(t, check(req))
}
