package accounts

import (
	"context"
	"sync"
	"time"

	"github.com/ful2win/backend/internal/game"
	"github.com/ful2win/backend/internal/models"
	"github.com/shopspring/decimal"
)

type chargeKey struct{ user, room string }

// MemoryLedger keeps users and charges in memory.
type MemoryLedger struct {
	mu      sync.Mutex
	users   map[string]*models.User
	charges map[chargeKey]models.LedgerEntry
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		users:   make(map[string]*models.User),
		charges: make(map[chargeKey]models.LedgerEntry),
	}
}

// UpsertUser creates the user or resets its balance.
func (l *MemoryLedger) UpsertUser(_ context.Context, userID string, balance decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now().UTC()
	if u, ok := l.users[userID]; ok {
		u.Balance = balance
		u.UpdatedAt = now
		return nil
	}
	l.users[userID] = &models.User{ID: userID, Balance: balance, CreatedAt: now, UpdatedAt: now}
	return nil
}

// GetUser returns a copy of the user or game.ErrUserNotFound.
func (l *MemoryLedger) GetUser(_ context.Context, userID string) (*models.User, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	u, ok := l.users[userID]
	if !ok {
		return nil, game.ErrUserNotFound
	}
	c := *u
	return &c, nil
}

// Debit subtracts amount if the balance covers it.
func (l *MemoryLedger) Debit(_ context.Context, userID string, amount decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.debitLocked(userID, amount)
}

// IncrementMatchCount adds one to the user's match counter.
func (l *MemoryLedger) IncrementMatchCount(_ context.Context, userID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	u, ok := l.users[userID]
	if !ok {
		return game.ErrUserNotFound
	}
	u.TotalMatches++
	return nil
}

func (l *MemoryLedger) debitLocked(userID string, amount decimal.Decimal) error {
	u, ok := l.users[userID]
	if !ok {
		return game.ErrUserNotFound
	}
	if u.Balance.LessThan(amount) {
		return game.ErrInsufficientBalance
	}
	u.Balance = u.Balance.Sub(amount)
	u.UpdatedAt = time.Now().UTC()
	return nil
}

// ChargeEntryFee applies the entry fee at most once per (userID, roomID).
func (l *MemoryLedger) ChargeEntryFee(_ context.Context, userID, roomID string, fee decimal.Decimal) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := chargeKey{userID, roomID}
	if _, done := l.charges[key]; done {
		return false, nil
	}
	if err := l.debitLocked(userID, fee); err != nil {
		return false, err
	}
	u := l.users[userID]
	u.TotalMatches++
	l.charges[key] = models.LedgerEntry{
		ID:           int64(len(l.charges) + 1),
		UserID:       userID,
		RoomID:       roomID,
		EntryType:    EntryTypeEntryFee,
		Amount:       fee.Neg(),
		BalanceAfter: u.Balance,
		CreatedAt:    time.Now().UTC(),
	}
	return true, nil
}

// RefundEntryFee reverses the charge for (userID, roomID) if there is one.
func (l *MemoryLedger) RefundEntryFee(_ context.Context, userID, roomID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := chargeKey{userID, roomID}
	entry, ok := l.charges[key]
	if !ok {
		return false, nil
	}
	delete(l.charges, key)
	if u, ok := l.users[userID]; ok {
		u.Balance = u.Balance.Sub(entry.Amount)
		if u.TotalMatches > 0 {
			u.TotalMatches--
		}
		u.UpdatedAt = time.Now().UTC()
	}
	return true, nil
}

// Charges returns how many entry fees were applied for userID.
func (l *MemoryLedger) Charges(userID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for k := range l.charges {
		if k.user == userID {
			n++
		}
	}
	return n
}
