package game

import (
	"errors"
	"fmt"
)

// Errors
var (
	ErrInvalidRequest        = errors.New("invalid request")
	ErrUserNotFound          = errors.New("user not found")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrSessionNotFound       = errors.New("session not found")
	ErrPlayerNotInSession    = errors.New("player not in session")
	ErrScoreAlreadySubmitted = errors.New("score already submitted")
	ErrSessionFull           = errors.New("session full")
	ErrRetryableConflict     = errors.New("seat claim conflict, retry")
	ErrStorageUnavailable    = errors.New("storage unavailable")
)

var domainErrors = []error{
	ErrInvalidRequest,
	ErrUserNotFound,
	ErrInsufficientBalance,
	ErrSessionNotFound,
	ErrPlayerNotInSession,
	ErrScoreAlreadySubmitted,
	ErrSessionFull,
	ErrRetryableConflict,
	ErrStorageUnavailable,
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}

// storageErr wraps an infrastructure failure as ErrStorageUnavailable.
// Domain errors returned by stores pass through untouched.
func storageErr(op string, err error) error {
	for _, d := range domainErrors {
		if errors.Is(err, d) {
			return err
		}
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
}

// ErrorCode maps an error to the stable code sent to clients.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, ErrUserNotFound):
		return "user_not_found"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrSessionNotFound):
		return "session_not_found"
	case errors.Is(err, ErrPlayerNotInSession):
		return "player_not_in_session"
	case errors.Is(err, ErrScoreAlreadySubmitted):
		return "score_already_submitted"
	case errors.Is(err, ErrSessionFull):
		return "session_full"
	case errors.Is(err, ErrRetryableConflict):
		return "retryable_conflict"
	}
	return "storage_unavailable"
}

// ErrorMessage returns a client-safe message for err. Infrastructure details
// stay in the logs.
func ErrorMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidRequest):
		return err.Error()
	case errors.Is(err, ErrUserNotFound):
		return "User not found"
	case errors.Is(err, ErrInsufficientBalance):
		return "Insufficient balance"
	case errors.Is(err, ErrSessionNotFound):
		return "Match not found"
	case errors.Is(err, ErrPlayerNotInSession):
		return "Player is not part of this match"
	case errors.Is(err, ErrScoreAlreadySubmitted):
		return "Score already submitted"
	case errors.Is(err, ErrSessionFull):
		return "Match is already full"
	case errors.Is(err, ErrRetryableConflict):
		return "Match could not be registered. Please try again."
	}
	return "Service temporarily unavailable, please retry"
}

// Retryable reports whether the caller may resubmit the same request.
func Retryable(err error) bool {
	return errors.Is(err, ErrRetryableConflict) || errors.Is(err, ErrStorageUnavailable)
}
