package archive

import (
	"context"
	"fmt"
	"strings"

	"github.com/ful2win/backend/internal/config"
	"github.com/ful2win/backend/internal/models"
	"github.com/gocql/gocql"
	"go.uber.org/zap"
)

// Cassandra writes settled sessions to <keyspace>.settled_sessions.
type Cassandra struct {
	session  *gocql.Session
	keyspace string
	logger   *zap.Logger
}

// NewCassandra connects to the cluster and creates the keyspace and table
// if they do not exist.
func NewCassandra(cfg config.CassandraConfig, logger *zap.Logger) (*Cassandra, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cluster := gocql.NewCluster(cfg.Hosts...)
	cluster.Timeout = cfg.Timeout
	cluster.ConnectTimeout = cfg.Timeout
	cluster.Consistency = parseConsistency(cfg.Consistency)
	if cfg.Username != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: cfg.Username,
			Password: cfg.Password,
		}
	}
	cluster.NumConns = 2
	cluster.PoolConfig.HostSelectionPolicy = gocql.TokenAwareHostPolicy(gocql.RoundRobinHostPolicy())

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create Cassandra session: %w", err)
	}

	c := &Cassandra{session: session, keyspace: cfg.Keyspace, logger: logger.Named("archive")}
	if err := c.initializeSchema(); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to initialize archive schema: %w", err)
	}
	c.logger.Info("cassandra archive ready",
		zap.Strings("hosts", cfg.Hosts), zap.String("keyspace", cfg.Keyspace))
	return c, nil
}

func (c *Cassandra) initializeSchema() error {
	if err := c.session.Query(fmt.Sprintf(`
		CREATE KEYSPACE IF NOT EXISTS %s
		WITH replication = {'class': 'SimpleStrategy', 'replication_factor': 1}`, c.keyspace)).Exec(); err != nil {
		return fmt.Errorf("create keyspace: %w", err)
	}
	if err := c.session.Query(fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s.settled_sessions (
			room_id text PRIMARY KEY,
			game_id text,
			entry_fee text,
			player1 text,
			player1_score int,
			player2 text,
			player2_score int,
			winner text,
			created_at timestamp,
			completed_at timestamp,
			archived_at timestamp
		)`, c.keyspace)).Exec(); err != nil {
		return fmt.Errorf("create table: %w", err)
	}
	return nil
}

// Archive implements game.Archiver. A session is written at most once.
func (c *Cassandra) Archive(ctx context.Context, s *models.Session) error {
	r := NewRecord(s)
	query := fmt.Sprintf(`
		INSERT INTO %s.settled_sessions
			(room_id, game_id, entry_fee, player1, player1_score, player2, player2_score, winner, created_at, completed_at, archived_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		IF NOT EXISTS`, c.keyspace)

	applied, err := c.session.Query(query,
		r.RoomID, r.GameID, r.EntryFee, r.Player1, r.Player1Score,
		r.Player2, r.Player2Score, r.Winner, r.CreatedAt, r.CompletedAt, r.ArchivedAt,
	).WithContext(ctx).ScanCAS(nil)
	if err != nil {
		return fmt.Errorf("archive session %s: %w", s.RoomID, err)
	}
	if !applied {
		c.logger.Debug("session already archived", zap.String("room_id", s.RoomID))
	}
	return nil
}

// Close closes the Cassandra session.
func (c *Cassandra) Close() error {
	c.session.Close()
	return nil
}

func parseConsistency(s string) gocql.Consistency {
	switch strings.ToUpper(s) {
	case "ONE":
		return gocql.One
	case "TWO":
		return gocql.Two
	case "LOCAL_ONE":
		return gocql.LocalOne
	case "LOCAL_QUORUM":
		return gocql.LocalQuorum
	case "ALL":
		return gocql.All
	}
	return gocql.Quorum
}
