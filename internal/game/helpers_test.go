package game_test

import (
	"context"
	"sync"
	"testing"

	"github.com/ful2win/backend/internal/accounts"
	"github.com/ful2win/backend/internal/game"
	"github.com/ful2win/backend/internal/models"
	"github.com/ful2win/backend/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type emitted struct {
	channel string
	event   string
	payload any
}

// fakeNotifier records channel membership and emitted events.
type fakeNotifier struct {
	mu      sync.Mutex
	members map[string]map[string]bool
	events  []emitted
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{members: make(map[string]map[string]bool)}
}

func (n *fakeNotifier) JoinChannel(connectionID, channel string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.members[channel] == nil {
		n.members[channel] = make(map[string]bool)
	}
	n.members[channel][connectionID] = true
}

func (n *fakeNotifier) LeaveChannel(connectionID, channel string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.members[channel], connectionID)
}

func (n *fakeNotifier) EmitToChannel(channel, event string, payload any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, emitted{channel, event, payload})
}

func (n *fakeNotifier) EmitToUser(userID, event string, payload any) {
	n.EmitToChannel("user:"+userID, event, payload)
}

// matchFound returns the match_found payloads delivered to each connection.
func (n *fakeNotifier) matchFound() map[string][]game.MatchFoundPayload {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make(map[string][]game.MatchFoundPayload)
	for _, e := range n.events {
		if e.event == game.EventMatchFound {
			out[e.channel] = append(out[e.channel], e.payload.(game.MatchFoundPayload))
		}
	}
	return out
}

func (n *fakeNotifier) inChannel(connectionID, channel string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.members[channel][connectionID]
}

type fakeArchiver struct {
	mu       sync.Mutex
	archived []*models.Session
}

func (a *fakeArchiver) Archive(_ context.Context, s *models.Session) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.archived = append(a.archived, s)
	return nil
}

func (a *fakeArchiver) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.archived)
}

type harness struct {
	queue    *store.MemoryQueue
	sessions *store.MemorySessions
	ledger   *accounts.MemoryLedger
	notifier *fakeNotifier
	archiver *fakeArchiver
	mm       *game.Matchmaker
	st       *game.Settlement
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		queue:    store.NewMemoryQueue(),
		sessions: store.NewMemorySessions(),
		ledger:   accounts.NewMemoryLedger(),
		notifier: newFakeNotifier(),
		archiver: &fakeArchiver{},
	}
	h.mm = game.NewMatchmaker(h.queue, h.sessions, h.ledger, h.notifier, nil)
	h.st = game.NewSettlement(h.sessions, h.archiver, nil)
	return h
}

func (h *harness) user(t *testing.T, id string, balance int64) {
	t.Helper()
	require.NoError(t, h.ledger.UpsertUser(context.Background(), id, decimal.NewFromInt(balance)))
}

func (h *harness) balance(t *testing.T, id string) decimal.Decimal {
	t.Helper()
	u, err := h.ledger.GetUser(context.Background(), id)
	require.NoError(t, err)
	return u.Balance
}

// seat registers userID into a freshly created room.
func (h *harness) seat(t *testing.T, roomID string, fee int64, users ...string) *models.Session {
	t.Helper()
	var sess *models.Session
	for _, u := range users {
		var err error
		sess, err = h.mm.RegisterSession(context.Background(), game.RegisterRequest{
			UserID: u, GameID: "trivia", EntryFee: decimal.NewFromInt(fee), RoomID: roomID,
		})
		require.NoError(t, err)
	}
	return sess
}

var ten = decimal.NewFromInt(10)
