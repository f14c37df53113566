package models

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

// NoScore marks a seat whose player has not reported a result yet.
const NoScore = -1

// User is the platform account as seen by the ledger
type User struct {
	ID           string          `db:"id" json:"id"`
	Balance      decimal.Decimal `db:"balance" json:"balance"`
	TotalMatches int             `db:"total_matches" json:"total_matches"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
}

// QueueEntry represents a player waiting for an opponent
type QueueEntry struct {
	ID           int64           `db:"id" json:"-"`
	UserID       string          `db:"user_id" json:"user_id"`
	GameID       string          `db:"game_id" json:"game_id"`
	EntryFee     decimal.Decimal `db:"entry_fee" json:"entry_fee"`
	ConnectionID string          `db:"connection_id" json:"connection_id"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
}

// Seat is one of the two player slots of a session
type Seat struct {
	UserID string `json:"userId"`
	Score  int    `json:"score"`
}

// Occupied reports whether a player holds the seat.
func (s Seat) Occupied() bool { return s.UserID != "" }

// Scored reports whether the seat's player has submitted a score.
func (s Seat) Scored() bool { return s.Score >= 0 }

// Players holds both seats of a session
type Players struct {
	Player1 Seat `json:"player1"`
	Player2 Seat `json:"player2"`
}

// Session is a pairing of two players for one game at one entry fee
type Session struct {
	RoomID      string          `json:"roomId"`
	GameID      string          `json:"gameId"`
	EntryFee    decimal.Decimal `json:"entryFee"`
	Players     Players         `json:"players"`
	Winner      string          `json:"winner,omitempty"`
	Status      string          `json:"status"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
}

// SeatOf returns the seat number (1 or 2) held by userID, or 0.
func (s *Session) SeatOf(userID string) int {
	switch {
	case userID == "":
		return 0
	case s.Players.Player1.UserID == userID:
		return 1
	case s.Players.Player2.UserID == userID:
		return 2
	}
	return 0
}

// Seat returns a copy of seat n (1 or 2).
func (s *Session) Seat(n int) Seat {
	if n == 2 {
		return s.Players.Player2
	}
	return s.Players.Player1
}

// BothScored reports whether both players have submitted.
func (s *Session) BothScored() bool {
	return s.Players.Player1.Scored() && s.Players.Player2.Scored()
}

// Clone returns a deep copy so callers never share store-owned memory.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// SessionRow is the flat database shape of a Session
type SessionRow struct {
	ID            int64           `db:"id"`
	RoomID        string          `db:"room_id"`
	GameID        string          `db:"game_id"`
	EntryFee      decimal.Decimal `db:"entry_fee"`
	Player1UserID sql.NullString  `db:"player1_user_id"`
	Player1Score  int             `db:"player1_score"`
	Player2UserID sql.NullString  `db:"player2_user_id"`
	Player2Score  int             `db:"player2_score"`
	Winner        sql.NullString  `db:"winner"`
	Status        string          `db:"status"`
	CreatedAt     time.Time       `db:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at"`
	CompletedAt   sql.NullTime    `db:"completed_at"`
}

// ToSession converts a database row to the domain shape.
func (r SessionRow) ToSession() *Session {
	s := &Session{
		RoomID:   r.RoomID,
		GameID:   r.GameID,
		EntryFee: r.EntryFee,
		Players: Players{
			Player1: Seat{UserID: r.Player1UserID.String, Score: r.Player1Score},
			Player2: Seat{UserID: r.Player2UserID.String, Score: r.Player2Score},
		},
		Winner:    r.Winner.String,
		Status:    r.Status,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if r.CompletedAt.Valid {
		t := r.CompletedAt.Time
		s.CompletedAt = &t
	}
	return s
}

// LedgerEntry records one economic effect applied to a user for a room
type LedgerEntry struct {
	ID           int64           `db:"id" json:"id"`
	UserID       string          `db:"user_id" json:"user_id"`
	RoomID       string          `db:"room_id" json:"room_id"`
	EntryType    string          `db:"entry_type" json:"entry_type"`
	Amount       decimal.Decimal `db:"amount" json:"amount"`
	BalanceAfter decimal.Decimal `db:"balance_after" json:"balance_after"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
}
