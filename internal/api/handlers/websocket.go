package handlers

import (
	"github.com/ful2win/backend/internal/ws"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// HandleGameWebSocket upgrades to the realtime event channel
func HandleGameWebSocket(hub *ws.Hub, upgrader *websocket.Upgrader) gin.HandlerFunc {
	return hub.HandleWebSocket(upgrader)
}
