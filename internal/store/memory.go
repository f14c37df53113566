package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ful2win/backend/internal/game"
	"github.com/ful2win/backend/internal/models"
	"github.com/shopspring/decimal"
)

// MemoryQueue is a QueueStore kept in process memory. It is meant for
// single-instance development and tests.
type MemoryQueue struct {
	mu      sync.Mutex
	seq     int64
	entries []models.QueueEntry
}

// NewMemoryQueue creates an empty in-memory queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

func sameBucket(e models.QueueEntry, gameID string, fee decimal.Decimal) bool {
	return e.GameID == gameID && e.EntryFee.Equal(fee)
}

// FindOpponent implements game.QueueStore.
func (q *MemoryQueue) FindOpponent(_ context.Context, gameID string, fee decimal.Decimal, userID, connectionID string) (*models.QueueEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, e := range q.entries {
		if sameBucket(e, gameID, fee) && e.UserID != userID && e.ConnectionID != connectionID {
			found := e
			return &found, nil
		}
	}
	return nil, nil
}

// Remove implements game.QueueStore.
func (q *MemoryQueue) Remove(_ context.Context, target models.QueueEntry) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := q.indexOf(target)
	if i < 0 {
		return false, nil
	}
	q.entries = append(q.entries[:i], q.entries[i+1:]...)
	return true, nil
}

// RemovePair implements game.QueueStore.
func (q *MemoryQueue) RemovePair(_ context.Context, a, b models.QueueEntry) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	i, j := q.indexOf(a), q.indexOf(b)
	if i < 0 || j < 0 || i == j {
		return false, nil
	}
	if i < j {
		i, j = j, i
	}
	q.entries = append(q.entries[:i], q.entries[i+1:]...)
	q.entries = append(q.entries[:j], q.entries[j+1:]...)
	return true, nil
}

// indexOf finds the entry matching user, bucket and connection exactly.
func (q *MemoryQueue) indexOf(target models.QueueEntry) int {
	for i, e := range q.entries {
		if e.UserID == target.UserID && sameBucket(e, target.GameID, target.EntryFee) && e.ConnectionID == target.ConnectionID {
			return i
		}
	}
	return -1
}

// Enqueue implements game.QueueStore.
func (q *MemoryQueue) Enqueue(_ context.Context, entry models.QueueEntry) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	for i, e := range q.entries {
		if e.UserID == entry.UserID && sameBucket(e, entry.GameID, entry.EntryFee) {
			// Refreshed entries go to the back of the line.
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			break
		}
	}
	q.seq++
	entry.ID = q.seq
	q.entries = append(q.entries, entry)
	return nil
}

// Cancel implements game.QueueStore.
func (q *MemoryQueue) Cancel(_ context.Context, userID, gameID string, fee decimal.Decimal) (int64, error) {
	return q.removeWhere(func(e models.QueueEntry) bool {
		return e.UserID == userID && sameBucket(e, gameID, fee)
	}), nil
}

// RemoveByConnection implements game.QueueStore.
func (q *MemoryQueue) RemoveByConnection(_ context.Context, connectionID string) (int64, error) {
	return q.removeWhere(func(e models.QueueEntry) bool {
		return e.ConnectionID == connectionID
	}), nil
}

// ExpireBefore implements game.QueueStore.
func (q *MemoryQueue) ExpireBefore(_ context.Context, cutoff time.Time) (int64, error) {
	return q.removeWhere(func(e models.QueueEntry) bool {
		return e.CreatedAt.Before(cutoff)
	}), nil
}

func (q *MemoryQueue) removeWhere(match func(models.QueueEntry) bool) int64 {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.entries[:0]
	var removed int64
	for _, e := range q.entries {
		if match(e) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	q.entries = kept
	return removed
}

// ListWaiting implements game.QueueStore.
func (q *MemoryQueue) ListWaiting(_ context.Context, limit int) ([]models.QueueEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.entries)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]models.QueueEntry, n)
	copy(out, q.entries[:n])
	return out, nil
}

// Count implements game.QueueStore.
func (q *MemoryQueue) Count(_ context.Context, gameID string, fee decimal.Decimal) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var n int64
	for _, e := range q.entries {
		if sameBucket(e, gameID, fee) {
			n++
		}
	}
	return n, nil
}

// MemorySessions is a SessionStore kept in process memory.
type MemorySessions struct {
	mu       sync.Mutex
	sessions map[string]*models.Session
	now      func() time.Time
}

// NewMemorySessions creates an empty in-memory session store.
func NewMemorySessions() *MemorySessions {
	return &MemorySessions{
		sessions: make(map[string]*models.Session),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Get implements game.SessionStore.
func (s *MemorySessions) Get(_ context.Context, roomID string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[roomID]
	if !ok {
		return nil, game.ErrSessionNotFound
	}
	return sess.Clone(), nil
}

// ClaimSecondSeat implements game.SessionStore.
func (s *MemorySessions) ClaimSecondSeat(_ context.Context, roomID, userID string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[roomID]
	if !ok || sess.Players.Player2.Occupied() || sess.Players.Player1.UserID == userID {
		return nil, nil
	}
	sess.Players.Player2.UserID = userID
	s.refreshStatus(sess)
	return sess.Clone(), nil
}

// ClaimFirstSeat implements game.SessionStore.
func (s *MemorySessions) ClaimFirstSeat(_ context.Context, roomID, gameID string, fee decimal.Decimal, userID string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[roomID]
	if !ok {
		now := s.now()
		sess = &models.Session{
			RoomID:   roomID,
			GameID:   gameID,
			EntryFee: fee,
			Players: models.Players{
				Player1: models.Seat{UserID: userID, Score: models.NoScore},
				Player2: models.Seat{Score: models.NoScore},
			},
			Status:    game.StatusOpen,
			CreatedAt: now,
			UpdatedAt: now,
		}
		s.sessions[roomID] = sess
		return sess.Clone(), nil
	}
	if sess.Players.Player1.Occupied() || sess.Players.Player2.UserID == userID {
		return nil, nil
	}
	sess.Players.Player1.UserID = userID
	s.refreshStatus(sess)
	return sess.Clone(), nil
}

func (s *MemorySessions) refreshStatus(sess *models.Session) {
	if sess.Status != game.StatusCompleted && sess.Players.Player1.Occupied() && sess.Players.Player2.Occupied() {
		sess.Status = game.StatusFull
	}
	sess.UpdatedAt = s.now()
}

// RecordScore implements game.SessionStore.
func (s *MemorySessions) RecordScore(_ context.Context, roomID string, seat, score int) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[roomID]
	if !ok || sess.Status == game.StatusCompleted {
		return nil, nil
	}
	target := &sess.Players.Player1
	if seat == 2 {
		target = &sess.Players.Player2
	}
	if !target.Occupied() || target.Scored() {
		return nil, nil
	}
	target.Score = score
	sess.UpdatedAt = s.now()
	return sess.Clone(), nil
}

// Complete implements game.SessionStore.
func (s *MemorySessions) Complete(_ context.Context, roomID, winner string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[roomID]
	if !ok || sess.Status == game.StatusCompleted || !sess.BothScored() {
		return nil, nil
	}
	now := s.now()
	sess.Status = game.StatusCompleted
	sess.Winner = winner
	sess.UpdatedAt = now
	sess.CompletedAt = &now
	return sess.Clone(), nil
}

// ListSince implements game.SessionStore.
func (s *MemorySessions) ListSince(_ context.Context, since time.Time, afterRoomID string, limit int) ([]*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.Session
	for _, sess := range s.sessions {
		if sess.CreatedAt.After(since) || (sess.CreatedAt.Equal(since) && sess.RoomID > afterRoomID) {
			out = append(out, sess.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].RoomID < out[j].RoomID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
