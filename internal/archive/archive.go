// Package archive keeps an append-only copy of settled sessions outside the
// primary database.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ful2win/backend/internal/config"
	"github.com/ful2win/backend/internal/models"
	"go.uber.org/zap"
)

// Record is the archived form of a settled session
type Record struct {
	RoomID       string    `json:"roomId"`
	GameID       string    `json:"gameId"`
	EntryFee     string    `json:"entryFee"`
	Player1      string    `json:"player1"`
	Player1Score int       `json:"player1Score"`
	Player2      string    `json:"player2"`
	Player2Score int       `json:"player2Score"`
	Winner       string    `json:"winner"`
	CreatedAt    time.Time `json:"createdAt"`
	CompletedAt  time.Time `json:"completedAt"`
	ArchivedAt   time.Time `json:"archivedAt"`
}

// NewRecord flattens a session for archiving.
func NewRecord(s *models.Session) Record {
	r := Record{
		RoomID:       s.RoomID,
		GameID:       s.GameID,
		EntryFee:     s.EntryFee.String(),
		Player1:      s.Players.Player1.UserID,
		Player1Score: s.Players.Player1.Score,
		Player2:      s.Players.Player2.UserID,
		Player2Score: s.Players.Player2.Score,
		Winner:       s.Winner,
		CreatedAt:    s.CreatedAt,
		ArchivedAt:   time.Now().UTC(),
	}
	if s.CompletedAt != nil {
		r.CompletedAt = *s.CompletedAt
	}
	return r
}

func (r Record) marshal() ([]byte, error) {
	return json.Marshal(r)
}

// Nop discards everything.
type Nop struct{}

// Archive implements game.Archiver.
func (Nop) Archive(context.Context, *models.Session) error { return nil }

// Sink is a game.Archiver that can be shut down.
type Sink interface {
	Archive(ctx context.Context, s *models.Session) error
	Close() error
}

type nopSink struct{ Nop }

func (nopSink) Close() error { return nil }

// New builds the archive configured by cfg.ArchiveBackend.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Sink, error) {
	switch cfg.ArchiveBackend {
	case "", config.BackendNone:
		return nopSink{}, nil
	case config.BackendCassandra:
		return NewCassandra(cfg.Cassandra, logger)
	case config.BackendS3:
		return NewS3(ctx, cfg.ArchiveS3, logger)
	}
	return nil, fmt.Errorf("unknown archive backend %q", cfg.ArchiveBackend)
}
