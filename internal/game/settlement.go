package game

import (
	"context"

	"github.com/ful2win/backend/internal/models"
	"go.uber.org/zap"
)

// maxScoreAttempts bounds re-evaluation after losing a CAS to a concurrent
// writer on the same session.
const maxScoreAttempts = 3

// ScoreResult is the outcome of SubmitScore.
type ScoreResult struct {
	// Completed reports whether the session has reached its terminal state.
	Completed bool
	// Settled is true for exactly one caller: the one that completed it.
	Settled bool
	Session *models.Session
}

// Settlement records per-player scores and settles finished sessions.
type Settlement struct {
	sessions SessionStore
	archiver Archiver
	logger   *zap.Logger
}

// NewSettlement creates a settlement engine. archiver may be nil.
func NewSettlement(sessions SessionStore, archiver Archiver, logger *zap.Logger) *Settlement {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Settlement{
		sessions: sessions,
		archiver: archiver,
		logger:   logger.Named("settlement"),
	}
}

// DecideWinner returns the user with the strictly higher score, or "" on a draw.
func DecideWinner(s *models.Session) string {
	p1, p2 := s.Players.Player1, s.Players.Player2
	switch {
	case p1.Score > p2.Score:
		return p1.UserID
	case p2.Score > p1.Score:
		return p2.UserID
	}
	return ""
}

// GetSession returns the session stored under roomID.
func (st *Settlement) GetSession(ctx context.Context, roomID string) (*models.Session, error) {
	if roomID == "" {
		return nil, invalidf("roomId is required")
	}
	s, err := st.sessions.Get(ctx, roomID)
	if err != nil {
		return nil, storageErr("load session", err)
	}
	return s, nil
}

// SubmitScore records userID's score in roomID and settles the session once
// both scores are in. Resubmitting the same score is a no-op.
func (st *Settlement) SubmitScore(ctx context.Context, roomID, userID string, score int) (*ScoreResult, error) {
	if roomID == "" || userID == "" {
		return nil, invalidf("roomId and userId are required")
	}
	if score < 0 {
		return nil, invalidf("score must not be negative")
	}

	for attempt := 0; attempt < maxScoreAttempts; attempt++ {
		sess, err := st.sessions.Get(ctx, roomID)
		if err != nil {
			return nil, storageErr("load session", err)
		}

		seat := sess.SeatOf(userID)
		if seat == 0 {
			return nil, ErrPlayerNotInSession
		}

		current := sess.Seat(seat)
		if current.Scored() {
			if current.Score != score {
				return nil, ErrScoreAlreadySubmitted
			}
			return st.finish(ctx, sess)
		}
		if sess.Status == StatusCompleted {
			// Terminal sessions never take a new score.
			return nil, ErrScoreAlreadySubmitted
		}

		updated, err := st.sessions.RecordScore(ctx, roomID, seat, score)
		if err != nil {
			return nil, storageErr("record score", err)
		}
		if updated == nil {
			st.logger.Debug("score write lost race, re-evaluating",
				zap.String("room_id", roomID), zap.String("user_id", userID))
			continue
		}

		st.logger.Info("score recorded",
			zap.String("room_id", roomID),
			zap.String("user_id", userID),
			zap.Int("seat", seat),
			zap.Int("score", score))
		return st.finish(ctx, updated)
	}
	return nil, ErrRetryableConflict
}

func (st *Settlement) finish(ctx context.Context, sess *models.Session) (*ScoreResult, error) {
	if sess.Status == StatusCompleted {
		return &ScoreResult{Completed: true, Session: sess}, nil
	}
	if !sess.BothScored() {
		return &ScoreResult{Session: sess}, nil
	}

	winner := DecideWinner(sess)
	done, err := st.sessions.Complete(ctx, sess.RoomID, winner)
	if err != nil {
		return nil, storageErr("complete session", err)
	}
	if done == nil {
		// Another submitter completed it first.
		fresh, err := st.sessions.Get(ctx, sess.RoomID)
		if err != nil {
			return nil, storageErr("reload session", err)
		}
		return &ScoreResult{Completed: fresh.Status == StatusCompleted, Session: fresh}, nil
	}

	st.logger.Info("session settled",
		zap.String("room_id", done.RoomID),
		zap.String("winner", done.Winner),
		zap.Int("player1_score", done.Players.Player1.Score),
		zap.Int("player2_score", done.Players.Player2.Score))

	if st.archiver != nil {
		if err := st.archiver.Archive(ctx, done); err != nil {
			st.logger.Warn("failed to archive settled session",
				zap.String("room_id", done.RoomID), zap.Error(err))
		}
	}
	return &ScoreResult{Completed: true, Settled: true, Session: done}, nil
}
