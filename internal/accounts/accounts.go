package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ful2win/backend/internal/game"
	"github.com/ful2win/backend/internal/models"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ledger entry types
const (
	EntryTypeEntryFee = "entry_fee"
)

// Store is the Postgres-backed ledger over the users and ledger_entries tables.
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewStore creates a ledger store backed by db.
func NewStore(db *sqlx.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, logger: logger.Named("accounts")}
}

// GetUser returns the user row or game.ErrUserNotFound.
func (s *Store) GetUser(ctx context.Context, userID string) (*models.User, error) {
	var u models.User
	err := s.db.GetContext(ctx, &u, `SELECT id, balance, total_matches, created_at, updated_at FROM users WHERE id = $1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, game.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", userID, err)
	}
	return &u, nil
}

// UpsertUser creates the user with balance, or resets the balance of an
// existing one.
func (s *Store) UpsertUser(ctx context.Context, userID string, balance decimal.Decimal) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, balance, total_matches, created_at, updated_at)
		VALUES ($1, $2, 0, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET balance = EXCLUDED.balance, updated_at = NOW()`,
		userID, balance)
	if err != nil {
		return fmt.Errorf("upsert user %s: %w", userID, err)
	}
	return nil
}

// Debit subtracts amount from the user's balance if it is covered.
func (s *Store) Debit(ctx context.Context, userID string, amount decimal.Decimal) error {
	return debit(ctx, s.db, userID, amount)
}

// IncrementMatchCount adds one to the user's played-matches counter.
func (s *Store) IncrementMatchCount(ctx context.Context, userID string) error {
	return incrementMatchCount(ctx, s.db, userID)
}

// ChargeEntryFee debits fee, counts the match and writes the ledger entry
// for (userID, roomID) in one transaction. A second call for the same pair
// changes nothing and returns false.
func (s *Store) ChargeEntryFee(ctx context.Context, userID, roomID string, fee decimal.Decimal) (bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin charge tx: %w", err)
	}
	defer tx.Rollback()

	// The ledger row is the idempotency key.
	res, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (user_id, room_id, entry_type, amount, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (user_id, room_id, entry_type) DO NOTHING`,
		userID, roomID, EntryTypeEntryFee, fee.Neg())
	if err != nil {
		return false, fmt.Errorf("insert ledger entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert ledger entry: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	if err := debit(ctx, tx, userID, fee); err != nil {
		return false, err
	}
	if err := incrementMatchCount(ctx, tx, userID); err != nil {
		return false, err
	}

	var after decimal.Decimal
	if err := tx.GetContext(ctx, &after, `SELECT balance FROM users WHERE id = $1`, userID); err != nil {
		return false, fmt.Errorf("read balance: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE ledger_entries SET balance_after = $1 WHERE user_id = $2 AND room_id = $3 AND entry_type = $4`,
		after, userID, roomID, EntryTypeEntryFee); err != nil {
		return false, fmt.Errorf("update ledger entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit charge: %w", err)
	}

	s.logger.Info("entry fee ledger entry written",
		zap.String("user_id", userID),
		zap.String("room_id", roomID),
		zap.String("amount", fee.String()),
		zap.String("balance_after", after.String()))
	return true, nil
}

// RefundEntryFee deletes the entry-fee ledger row for (userID, roomID) and
// gives the amount and the counted match back. It returns false when there
// was no charge to reverse.
func (s *Store) RefundEntryFee(ctx context.Context, userID, roomID string) (bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin refund tx: %w", err)
	}
	defer tx.Rollback()

	var amount decimal.Decimal
	err = tx.GetContext(ctx, &amount, `
		DELETE FROM ledger_entries
		WHERE user_id = $1 AND room_id = $2 AND entry_type = $3
		RETURNING amount`, userID, roomID, EntryTypeEntryFee)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("delete ledger entry: %w", err)
	}

	// amount is stored negative.
	if _, err := tx.ExecContext(ctx, `
		UPDATE users
		SET balance = balance - $2, total_matches = GREATEST(total_matches - 1, 0), updated_at = NOW()
		WHERE id = $1`, userID, amount); err != nil {
		return false, fmt.Errorf("credit user %s: %w", userID, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit refund: %w", err)
	}

	s.logger.Info("entry fee refunded",
		zap.String("user_id", userID),
		zap.String("room_id", roomID),
		zap.String("amount", amount.Neg().String()))
	return true, nil
}

func debit(ctx context.Context, ex sqlx.ExecerContext, userID string, amount decimal.Decimal) error {
	res, err := ex.ExecContext(ctx,
		`UPDATE users SET balance = balance - $2, updated_at = NOW() WHERE id = $1 AND balance >= $2`,
		userID, amount)
	if err != nil {
		return fmt.Errorf("debit user %s: %w", userID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("debit user %s: %w", userID, err)
	}
	if n == 0 {
		return game.ErrInsufficientBalance
	}
	return nil
}

func incrementMatchCount(ctx context.Context, ex sqlx.ExecerContext, userID string) error {
	res, err := ex.ExecContext(ctx,
		`UPDATE users SET total_matches = total_matches + 1, updated_at = NOW() WHERE id = $1`, userID)
	if err != nil {
		return fmt.Errorf("increment match count %s: %w", userID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return game.ErrUserNotFound
	}
	return nil
}
