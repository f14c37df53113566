package game

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ful2win/backend/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// JoinRequest asks to be paired for a game at an entry fee.
type JoinRequest struct {
	UserID       string
	GameID       string
	EntryFee     decimal.Decimal
	ConnectionID string
}

// RegisterRequest claims a seat in a room announced by match_found.
type RegisterRequest struct {
	UserID   string
	GameID   string
	EntryFee decimal.Decimal
	RoomID   string
}

// MatchResult is the outcome of FindOrEnqueue. When Matched is false the
// requester was queued.
type MatchResult struct {
	Matched  bool
	RoomID   string
	Opponent *models.QueueEntry
}

// MatchFoundPayload is the body of the match_found event
type MatchFoundPayload struct {
	OpponentID string          `json:"opponentId"`
	GameID     string          `json:"gameId"`
	RoomID     string          `json:"roomId"`
	EntryFee   decimal.Decimal `json:"entryFee"`
}

// Matchmaker pairs waiting players and seats them into sessions.
type Matchmaker struct {
	queue    QueueStore
	sessions SessionStore
	ledger   Ledger
	notifier Notifier
	logger   *zap.Logger
}

// NewMatchmaker wires the matchmaker to its collaborators.
func NewMatchmaker(queue QueueStore, sessions SessionStore, ledger Ledger, notifier Notifier, logger *zap.Logger) *Matchmaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Matchmaker{
		queue:    queue,
		sessions: sessions,
		ledger:   ledger,
		notifier: notifier,
		logger:   logger.Named("matchmaker"),
	}
}

// NewRoomID returns a fresh room id for gameID.
func NewRoomID(gameID string) string {
	return gameID + "_" + uuid.NewString()
}

// FindOrEnqueue pairs the requester with the oldest compatible waiting
// player, or queues the requester when there is none.
func (m *Matchmaker) FindOrEnqueue(ctx context.Context, req JoinRequest) (*MatchResult, error) {
	if err := validateJoin(req); err != nil {
		return nil, err
	}

	opp, err := m.queue.FindOpponent(ctx, req.GameID, req.EntryFee, req.UserID, req.ConnectionID)
	if err != nil {
		return nil, storageErr("find opponent", err)
	}
	if opp != nil {
		claimed, err := m.queue.Remove(ctx, *opp)
		if err != nil {
			return nil, storageErr("claim opponent", err)
		}
		if claimed {
			if _, err := m.queue.Cancel(ctx, req.UserID, req.GameID, req.EntryFee); err != nil {
				m.logger.Warn("failed to drop stale queue entry",
					zap.String("user_id", req.UserID), zap.Error(err))
			}
			self := models.QueueEntry{
				UserID:       req.UserID,
				GameID:       req.GameID,
				EntryFee:     req.EntryFee,
				ConnectionID: req.ConnectionID,
			}
			roomID := m.announceMatch(*opp, self)
			return &MatchResult{Matched: true, RoomID: roomID, Opponent: opp}, nil
		}
		// Opponent was claimed by a concurrent request; wait instead.
		m.logger.Debug("opponent claimed elsewhere",
			zap.String("user_id", req.UserID),
			zap.String("opponent_id", opp.UserID))
	}

	entry := models.QueueEntry{
		UserID:       req.UserID,
		GameID:       req.GameID,
		EntryFee:     req.EntryFee,
		ConnectionID: req.ConnectionID,
		CreatedAt:    time.Now().UTC(),
	}
	if err := m.queue.Enqueue(ctx, entry); err != nil {
		return nil, storageErr("enqueue", err)
	}

	m.logger.Info("player queued",
		zap.String("user_id", req.UserID),
		zap.String("game_id", req.GameID),
		zap.String("entry_fee", req.EntryFee.String()))
	return &MatchResult{Matched: false}, nil
}

// announceMatch forms a room for two already-dequeued entries and tells both.
func (m *Matchmaker) announceMatch(a, b models.QueueEntry) string {
	roomID := NewRoomID(a.GameID)

	m.notifier.JoinChannel(a.ConnectionID, roomID)
	m.notifier.JoinChannel(b.ConnectionID, roomID)

	m.notifier.EmitToChannel(a.ConnectionID, EventMatchFound, MatchFoundPayload{
		OpponentID: b.UserID,
		GameID:     a.GameID,
		RoomID:     roomID,
		EntryFee:   a.EntryFee,
	})
	m.notifier.EmitToChannel(b.ConnectionID, EventMatchFound, MatchFoundPayload{
		OpponentID: a.UserID,
		GameID:     a.GameID,
		RoomID:     roomID,
		EntryFee:   a.EntryFee,
	})

	m.logger.Info("match found",
		zap.String("room_id", roomID),
		zap.String("player1", a.UserID),
		zap.String("player2", b.UserID),
		zap.String("entry_fee", a.EntryFee.String()))
	return roomID
}

// CancelWait removes the user's waiting entry. Cancelling twice is harmless.
func (m *Matchmaker) CancelWait(ctx context.Context, userID, gameID string, fee decimal.Decimal) error {
	if userID == "" || gameID == "" {
		return invalidf("userId and gameId are required")
	}
	if fee.IsNegative() {
		return invalidf("entryFee must not be negative")
	}
	n, err := m.queue.Cancel(ctx, userID, gameID, fee)
	if err != nil {
		return storageErr("cancel wait", err)
	}
	if n > 0 {
		m.logger.Info("wait cancelled", zap.String("user_id", userID), zap.String("game_id", gameID))
	}
	return nil
}

// DropConnection removes every queue entry bound to a closed connection.
func (m *Matchmaker) DropConnection(ctx context.Context, connectionID string) error {
	if connectionID == "" {
		return nil
	}
	n, err := m.queue.RemoveByConnection(ctx, connectionID)
	if err != nil {
		return storageErr("drop connection", err)
	}
	if n > 0 {
		m.logger.Info("dropped queue entries for closed connection",
			zap.String("connection_id", connectionID), zap.Int64("count", n))
	}
	return nil
}

// WaitingCount reports how many players wait for gameID at fee.
func (m *Matchmaker) WaitingCount(ctx context.Context, gameID string, fee decimal.Decimal) (int64, error) {
	if gameID == "" || fee.IsNegative() {
		return 0, invalidf("gameId is required and entryFee must not be negative")
	}
	n, err := m.queue.Count(ctx, gameID, fee)
	if err != nil {
		return 0, storageErr("count waiting", err)
	}
	return n, nil
}

// RegisterSession seats the user in roomID and charges the entry fee once.
// The fee is charged before the seat is claimed and refunded when no seat
// is obtained. A rejected registration holds no seat.
func (m *Matchmaker) RegisterSession(ctx context.Context, req RegisterRequest) (*models.Session, error) {
	if err := validateRegister(req); err != nil {
		return nil, err
	}

	user, err := m.ledger.GetUser(ctx, req.UserID)
	if err != nil {
		return nil, storageErr("load user", err)
	}

	existing, err := m.sessions.Get(ctx, req.RoomID)
	switch {
	case errors.Is(err, ErrSessionNotFound):
		existing = nil
	case err != nil:
		return nil, storageErr("load session", err)
	}

	if existing != nil {
		if existing.GameID != req.GameID || !existing.EntryFee.Equal(req.EntryFee) {
			return nil, invalidf("room %s does not match game or entry fee", req.RoomID)
		}
		if existing.SeatOf(req.UserID) != 0 {
			// Replay of a register that may have crashed before charging.
			if err := m.charge(ctx, req.UserID, existing.RoomID, existing.EntryFee); err != nil {
				return nil, err
			}
			return existing, nil
		}
		if bothSeated(existing) {
			return nil, ErrSessionFull
		}
	}

	if user.Balance.LessThan(req.EntryFee) {
		return nil, ErrInsufficientBalance
	}
	if err := m.charge(ctx, req.UserID, req.RoomID, req.EntryFee); err != nil {
		return nil, err
	}

	sess, err := m.claimSeat(ctx, req)
	if err != nil {
		// The claim may have landed; a replay charges nothing twice.
		return nil, err
	}
	if sess == nil || sess.SeatOf(req.UserID) == 0 {
		return nil, m.rejectSeat(ctx, req, sess)
	}

	m.logger.Info("player registered",
		zap.String("room_id", sess.RoomID),
		zap.String("user_id", req.UserID),
		zap.Int("seat", sess.SeatOf(req.UserID)),
		zap.String("status", sess.Status))
	return sess, nil
}

// claimSeat tries the second seat, then the first. When both compare-and-set
// attempts miss it returns the current session, which may be nil.
func (m *Matchmaker) claimSeat(ctx context.Context, req RegisterRequest) (*models.Session, error) {
	sess, err := m.sessions.ClaimSecondSeat(ctx, req.RoomID, req.UserID)
	if err != nil {
		return nil, storageErr("claim second seat", err)
	}
	if sess != nil {
		return sess, nil
	}
	sess, err = m.sessions.ClaimFirstSeat(ctx, req.RoomID, req.GameID, req.EntryFee, req.UserID)
	if err != nil {
		return nil, storageErr("claim first seat", err)
	}
	if sess != nil {
		return sess, nil
	}
	// A concurrent replay from the same user may have won the seat.
	fresh, err := m.sessions.Get(ctx, req.RoomID)
	if err != nil && !errors.Is(err, ErrSessionNotFound) {
		return nil, storageErr("reload session", err)
	}
	return fresh, nil
}

// rejectSeat refunds the fee of a registration that got no seat and picks
// the error to report.
func (m *Matchmaker) rejectSeat(ctx context.Context, req RegisterRequest, current *models.Session) error {
	refunded, err := m.ledger.RefundEntryFee(ctx, req.UserID, req.RoomID)
	if err != nil {
		m.logger.Error("entry fee refund failed",
			zap.String("room_id", req.RoomID),
			zap.String("user_id", req.UserID),
			zap.Error(err))
		return storageErr("refund entry fee", err)
	}
	if refunded {
		m.logger.Info("entry fee refunded",
			zap.String("room_id", req.RoomID),
			zap.String("user_id", req.UserID))
	}
	if current != nil && bothSeated(current) {
		return ErrSessionFull
	}
	m.logger.Info("seat claim lost",
		zap.String("room_id", req.RoomID), zap.String("user_id", req.UserID))
	return ErrRetryableConflict
}

func bothSeated(s *models.Session) bool {
	return s.Players.Player1.Occupied() && s.Players.Player2.Occupied()
}

func (m *Matchmaker) charge(ctx context.Context, userID, roomID string, fee decimal.Decimal) error {
	applied, err := m.ledger.ChargeEntryFee(ctx, userID, roomID, fee)
	if err != nil {
		m.logger.Warn("entry fee charge failed",
			zap.String("room_id", roomID),
			zap.String("user_id", userID),
			zap.Error(err))
		return storageErr("charge entry fee", err)
	}
	if applied {
		m.logger.Info("entry fee charged",
			zap.String("room_id", roomID),
			zap.String("user_id", userID),
			zap.String("amount", fee.String()))
	}
	return nil
}

// ReconcileCharges charges every seated player of sessions created since
// the cutoff who has no entry-fee ledger record yet. It returns the number
// of charges applied.
func (m *Matchmaker) ReconcileCharges(ctx context.Context, since time.Time) (int, error) {
	const pageSize = 200

	applied := 0
	cursor, afterRoom := since, ""
	for {
		batch, err := m.sessions.ListSince(ctx, cursor, afterRoom, pageSize)
		if err != nil {
			return applied, storageErr("list sessions", err)
		}
		for _, s := range batch {
			for _, seat := range []models.Seat{s.Players.Player1, s.Players.Player2} {
				if !seat.Occupied() {
					continue
				}
				ok, err := m.ledger.ChargeEntryFee(ctx, seat.UserID, s.RoomID, s.EntryFee)
				if err != nil {
					m.logger.Warn("reconcile charge failed",
						zap.String("room_id", s.RoomID),
						zap.String("user_id", seat.UserID),
						zap.Error(err))
					continue
				}
				if ok {
					applied++
					m.logger.Warn("reconciled missing entry fee charge",
						zap.String("room_id", s.RoomID),
						zap.String("user_id", seat.UserID))
				}
			}
		}
		if len(batch) < pageSize {
			return applied, nil
		}
		last := batch[len(batch)-1]
		cursor, afterRoom = last.CreatedAt, last.RoomID
	}
}

func validateJoin(req JoinRequest) error {
	if req.UserID == "" || req.GameID == "" || req.ConnectionID == "" {
		return invalidf("userId, gameId and connectionId are required")
	}
	if req.EntryFee.IsNegative() {
		return invalidf("entryFee must not be negative")
	}
	return nil
}

func validateRegister(req RegisterRequest) error {
	if req.UserID == "" || req.GameID == "" || req.RoomID == "" {
		return invalidf("userId, gameId and roomId are required")
	}
	if req.EntryFee.IsNegative() {
		return invalidf("entryFee must not be negative")
	}
	if !strings.HasPrefix(req.RoomID, req.GameID+"_") {
		return invalidf("roomId %s does not belong to game %s", req.RoomID, req.GameID)
	}
	return nil
}
