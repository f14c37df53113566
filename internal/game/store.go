package game

import (
	"context"
	"time"

	"github.com/ful2win/backend/internal/models"
	"github.com/shopspring/decimal"
)

// QueueStore holds players waiting for an opponent. Implementations must make
// Remove a single atomic conditional delete: of two concurrent callers
// removing the same entry, exactly one observes true.
type QueueStore interface {
	// FindOpponent returns the oldest entry for gameID/fee whose user and
	// connection both differ from the caller's, or nil when there is none.
	FindOpponent(ctx context.Context, gameID string, fee decimal.Decimal, userID, connectionID string) (*models.QueueEntry, error)
	// Remove deletes the entry matching user, game, fee and connection exactly.
	Remove(ctx context.Context, e models.QueueEntry) (bool, error)
	// Enqueue inserts e, or refreshes connection and arrival time of the
	// user's existing entry for the same game and fee.
	Enqueue(ctx context.Context, e models.QueueEntry) error
	// RemovePair deletes a and b, each matched exactly as in Remove, in one
	// atomic step. Either both are removed and it returns true, or neither is.
	RemovePair(ctx context.Context, a, b models.QueueEntry) (bool, error)
	Cancel(ctx context.Context, userID, gameID string, fee decimal.Decimal) (int64, error)
	RemoveByConnection(ctx context.Context, connectionID string) (int64, error)
	// ListWaiting returns up to limit entries in arrival order.
	ListWaiting(ctx context.Context, limit int) ([]models.QueueEntry, error)
	ExpireBefore(ctx context.Context, cutoff time.Time) (int64, error)
	Count(ctx context.Context, gameID string, fee decimal.Decimal) (int64, error)
}

// SessionStore holds sessions keyed by unique room id. Every mutating method
// is a compare-and-set: it returns (nil, nil) when its precondition does not
// hold at write time.
type SessionStore interface {
	Get(ctx context.Context, roomID string) (*models.Session, error)
	// ClaimSecondSeat sets player2 when it is empty and player1 is someone else.
	ClaimSecondSeat(ctx context.Context, roomID, userID string) (*models.Session, error)
	// ClaimFirstSeat creates the session with userID as player1, or sets
	// player1 on an existing session whose first seat is empty.
	ClaimFirstSeat(ctx context.Context, roomID, gameID string, fee decimal.Decimal, userID string) (*models.Session, error)
	// RecordScore writes score into seat (1 or 2) if that seat is occupied,
	// unscored and the session is not completed.
	RecordScore(ctx context.Context, roomID string, seat, score int) (*models.Session, error)
	// Complete marks the session terminal with winner (empty for a draw) if
	// both scores are present and it is not completed yet.
	Complete(ctx context.Context, roomID, winner string) (*models.Session, error)
	// ListSince returns up to limit sessions ordered by (created_at, room_id)
	// that sort after (since, afterRoomID). An empty afterRoomID includes
	// every session created at since.
	ListSince(ctx context.Context, since time.Time, afterRoomID string, limit int) ([]*models.Session, error)
}

// Ledger is the accessor for user balances and match statistics.
type Ledger interface {
	GetUser(ctx context.Context, userID string) (*models.User, error)
	// ChargeEntryFee debits fee and increments the user's match count once
	// per (userID, roomID). It reports whether this call applied the charge.
	ChargeEntryFee(ctx context.Context, userID, roomID string, fee decimal.Decimal) (bool, error)
	// RefundEntryFee reverses the charge for (userID, roomID) if one exists.
	// It reports whether this call reversed it.
	RefundEntryFee(ctx context.Context, userID, roomID string) (bool, error)
}

// Notifier delivers realtime events to connected clients. Every connection
// is a member of the channel named by its own connection id.
type Notifier interface {
	JoinChannel(connectionID, channel string)
	LeaveChannel(connectionID, channel string)
	EmitToChannel(channel, event string, payload any)
	EmitToUser(userID, event string, payload any)
}

// Archiver keeps a copy of settled sessions for audit.
type Archiver interface {
	Archive(ctx context.Context, s *models.Session) error
}
