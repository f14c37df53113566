package handlers

import (
	"net/http"

	"github.com/ful2win/backend/internal/game"
	"github.com/gin-gonic/gin"
)

// GetSession returns the session stored under :roomId
func GetSession(st *game.Settlement) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, err := st.GetSession(c.Request.Context(), c.Param("roomId"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, sess)
	}
}

// GetQueueStatus reports how many players wait for a game at an entry fee
func GetQueueStatus(mm *game.Matchmaker) gin.HandlerFunc {
	return func(c *gin.Context) {
		gameID := c.Query("game_id")
		fee, err := parseFee(c.Query("entry_fee"))
		if err != nil {
			respondError(c, err)
			return
		}

		n, err := mm.WaitingCount(c.Request.Context(), gameID, fee)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"game_id":   gameID,
			"entry_fee": fee,
			"waiting":   n,
		})
	}
}
