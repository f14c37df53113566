package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ful2win/backend/internal/game"
	"github.com/ful2win/backend/internal/models"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

const sessionColumns = `id, room_id, game_id, entry_fee, player1_user_id, player1_score,
	player2_user_id, player2_score, winner, status, created_at, updated_at, completed_at`

// PostgresSessions stores sessions in the game_sessions table. Every
// mutation is one conditional statement returning the updated row.
type PostgresSessions struct {
	db *sqlx.DB
}

// NewPostgresSessions creates a session store backed by db.
func NewPostgresSessions(db *sqlx.DB) *PostgresSessions {
	return &PostgresSessions{db: db}
}

// getOne runs a RETURNING query and maps "no row" to (nil, nil).
func (s *PostgresSessions) getOne(ctx context.Context, query string, args ...any) (*models.Session, error) {
	var row models.SessionRow
	if err := s.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return row.ToSession(), nil
}

// Get implements game.SessionStore.
func (s *PostgresSessions) Get(ctx context.Context, roomID string) (*models.Session, error) {
	sess, err := s.getOne(ctx, `SELECT `+sessionColumns+` FROM game_sessions WHERE room_id = $1`, roomID)
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", roomID, err)
	}
	if sess == nil {
		return nil, game.ErrSessionNotFound
	}
	return sess, nil
}

// ClaimSecondSeat implements game.SessionStore.
func (s *PostgresSessions) ClaimSecondSeat(ctx context.Context, roomID, userID string) (*models.Session, error) {
	sess, err := s.getOne(ctx, `
		UPDATE game_sessions
		SET player2_user_id = $2,
		    status = CASE WHEN player1_user_id IS NOT NULL THEN 'FULL' ELSE status END,
		    updated_at = NOW()
		WHERE room_id = $1
		  AND player2_user_id IS NULL
		  AND player1_user_id IS DISTINCT FROM $2
		  AND status <> 'COMPLETED'
		RETURNING `+sessionColumns, roomID, userID)
	if err != nil {
		return nil, fmt.Errorf("claim second seat: %w", err)
	}
	return sess, nil
}

// ClaimFirstSeat implements game.SessionStore.
func (s *PostgresSessions) ClaimFirstSeat(ctx context.Context, roomID, gameID string, fee decimal.Decimal, userID string) (*models.Session, error) {
	sess, err := s.getOne(ctx, `
		INSERT INTO game_sessions (room_id, game_id, entry_fee, player1_user_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'OPEN', NOW(), NOW())
		ON CONFLICT (room_id) DO UPDATE
		SET player1_user_id = EXCLUDED.player1_user_id,
		    status = CASE WHEN game_sessions.player2_user_id IS NOT NULL THEN 'FULL' ELSE game_sessions.status END,
		    updated_at = NOW()
		WHERE game_sessions.player1_user_id IS NULL
		  AND game_sessions.player2_user_id IS DISTINCT FROM EXCLUDED.player1_user_id
		  AND game_sessions.status <> 'COMPLETED'
		RETURNING `+sessionColumns, roomID, gameID, fee, userID)
	if err != nil {
		return nil, fmt.Errorf("claim first seat: %w", err)
	}
	return sess, nil
}

var recordScoreQueries = map[int]string{
	1: `UPDATE game_sessions SET player1_score = $2, updated_at = NOW()
		WHERE room_id = $1 AND status <> 'COMPLETED'
		  AND player1_user_id IS NOT NULL AND player1_score = -1
		RETURNING ` + sessionColumns,
	2: `UPDATE game_sessions SET player2_score = $2, updated_at = NOW()
		WHERE room_id = $1 AND status <> 'COMPLETED'
		  AND player2_user_id IS NOT NULL AND player2_score = -1
		RETURNING ` + sessionColumns,
}

// RecordScore implements game.SessionStore.
func (s *PostgresSessions) RecordScore(ctx context.Context, roomID string, seat, score int) (*models.Session, error) {
	query, ok := recordScoreQueries[seat]
	if !ok {
		return nil, fmt.Errorf("record score: invalid seat %d", seat)
	}
	sess, err := s.getOne(ctx, query, roomID, score)
	if err != nil {
		return nil, fmt.Errorf("record score: %w", err)
	}
	return sess, nil
}

// Complete implements game.SessionStore.
func (s *PostgresSessions) Complete(ctx context.Context, roomID, winner string) (*models.Session, error) {
	sess, err := s.getOne(ctx, `
		UPDATE game_sessions
		SET status = 'COMPLETED', winner = NULLIF($2, ''), completed_at = NOW(), updated_at = NOW()
		WHERE room_id = $1 AND status <> 'COMPLETED'
		  AND player1_score >= 0 AND player2_score >= 0
		RETURNING `+sessionColumns, roomID, winner)
	if err != nil {
		return nil, fmt.Errorf("complete session: %w", err)
	}
	return sess, nil
}

// ListSince implements game.SessionStore.
func (s *PostgresSessions) ListSince(ctx context.Context, since time.Time, afterRoomID string, limit int) ([]*models.Session, error) {
	var rows []models.SessionRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+sessionColumns+`
		FROM game_sessions
		WHERE (created_at, room_id) > ($1, $2)
		ORDER BY created_at, room_id
		LIMIT $3`, since, afterRoomID, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	out := make([]*models.Session, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.ToSession())
	}
	return out, nil
}
