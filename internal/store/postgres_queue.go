package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ful2win/backend/internal/models"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

const queueColumns = `id, user_id, game_id, entry_fee, connection_id, created_at`

// PostgresQueue stores waiting players in matchmaking_queue, unique on
// (user_id, game_id, entry_fee).
type PostgresQueue struct {
	db *sqlx.DB
}

// NewPostgresQueue creates a queue store backed by db.
func NewPostgresQueue(db *sqlx.DB) *PostgresQueue {
	return &PostgresQueue{db: db}
}

// FindOpponent implements game.QueueStore.
func (q *PostgresQueue) FindOpponent(ctx context.Context, gameID string, fee decimal.Decimal, userID, connectionID string) (*models.QueueEntry, error) {
	var e models.QueueEntry
	err := q.db.GetContext(ctx, &e, `
		SELECT `+queueColumns+`
		FROM matchmaking_queue
		WHERE game_id = $1 AND entry_fee = $2
		  AND user_id <> $3 AND connection_id <> $4
		ORDER BY created_at, id
		LIMIT 1`, gameID, fee, userID, connectionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find opponent: %w", err)
	}
	return &e, nil
}

// Remove implements game.QueueStore.
func (q *PostgresQueue) Remove(ctx context.Context, e models.QueueEntry) (bool, error) {
	res, err := q.db.ExecContext(ctx, `
		DELETE FROM matchmaking_queue
		WHERE user_id = $1 AND game_id = $2 AND entry_fee = $3 AND connection_id = $4`,
		e.UserID, e.GameID, e.EntryFee, e.ConnectionID)
	if err != nil {
		return false, fmt.Errorf("remove queue entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("remove queue entry: %w", err)
	}
	return n > 0, nil
}

// Enqueue implements game.QueueStore.
func (q *PostgresQueue) Enqueue(ctx context.Context, e models.QueueEntry) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO matchmaking_queue (user_id, game_id, entry_fee, connection_id, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (user_id, game_id, entry_fee) DO UPDATE
		SET connection_id = EXCLUDED.connection_id, created_at = NOW()`,
		e.UserID, e.GameID, e.EntryFee, e.ConnectionID)
	if err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	return nil
}

// RemovePair implements game.QueueStore. Both exact deletes run in one
// transaction that only commits when both rows were there.
func (q *PostgresQueue) RemovePair(ctx context.Context, a, b models.QueueEntry) (bool, error) {
	tx, err := q.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin remove pair tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		DELETE FROM matchmaking_queue
		WHERE (user_id = $1 AND game_id = $2 AND entry_fee = $3 AND connection_id = $4)
		   OR (user_id = $5 AND game_id = $6 AND entry_fee = $7 AND connection_id = $8)`,
		a.UserID, a.GameID, a.EntryFee, a.ConnectionID,
		b.UserID, b.GameID, b.EntryFee, b.ConnectionID)
	if err != nil {
		return false, fmt.Errorf("remove queue pair: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("remove queue pair: %w", err)
	}
	if n != 2 {
		return false, nil
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit remove pair: %w", err)
	}
	return true, nil
}

func (q *PostgresQueue) deleteWhere(ctx context.Context, op, query string, args ...any) (int64, error) {
	res, err := q.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return n, nil
}

// Cancel implements game.QueueStore.
func (q *PostgresQueue) Cancel(ctx context.Context, userID, gameID string, fee decimal.Decimal) (int64, error) {
	return q.deleteWhere(ctx, "cancel",
		`DELETE FROM matchmaking_queue WHERE user_id = $1 AND game_id = $2 AND entry_fee = $3`,
		userID, gameID, fee)
}

// RemoveByConnection implements game.QueueStore.
func (q *PostgresQueue) RemoveByConnection(ctx context.Context, connectionID string) (int64, error) {
	return q.deleteWhere(ctx, "remove by connection",
		`DELETE FROM matchmaking_queue WHERE connection_id = $1`, connectionID)
}

// ExpireBefore implements game.QueueStore.
func (q *PostgresQueue) ExpireBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return q.deleteWhere(ctx, "expire queue",
		`DELETE FROM matchmaking_queue WHERE created_at < $1`, cutoff)
}

// ListWaiting implements game.QueueStore.
func (q *PostgresQueue) ListWaiting(ctx context.Context, limit int) ([]models.QueueEntry, error) {
	var entries []models.QueueEntry
	err := q.db.SelectContext(ctx, &entries, `
		SELECT `+queueColumns+`
		FROM matchmaking_queue
		ORDER BY created_at, id
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list waiting: %w", err)
	}
	return entries, nil
}

// Count implements game.QueueStore.
func (q *PostgresQueue) Count(ctx context.Context, gameID string, fee decimal.Decimal) (int64, error) {
	var n int64
	err := q.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM matchmaking_queue WHERE game_id = $1 AND entry_fee = $2`, gameID, fee)
	if err != nil {
		return 0, fmt.Errorf("count waiting: %w", err)
	}
	return n, nil
}
