package handlers

import (
	"net/http"

	"github.com/ful2win/backend/internal/game"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// statusFor maps a domain error to an HTTP status code.
func statusFor(err error) int {
	switch game.ErrorCode(err) {
	case "invalid_request":
		return http.StatusBadRequest
	case "user_not_found", "session_not_found":
		return http.StatusNotFound
	case "player_not_in_session":
		return http.StatusForbidden
	case "insufficient_balance":
		return http.StatusPaymentRequired
	case "score_already_submitted", "session_full", "retryable_conflict":
		return http.StatusConflict
	}
	return http.StatusServiceUnavailable
}

func respondError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{
		"error": game.ErrorMessage(err),
		"code":  game.ErrorCode(err),
	})
}

// parseFee reads an entry fee query value; empty means zero.
func parseFee(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	fee, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, game.ErrInvalidRequest
	}
	return fee, nil
}
