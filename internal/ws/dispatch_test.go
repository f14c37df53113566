package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ful2win/backend/internal/accounts"
	"github.com/ful2win/backend/internal/game"
	"github.com/ful2win/backend/internal/store"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type realtimeServer struct {
	url    string
	mm     *game.Matchmaker
	ledger *accounts.MemoryLedger
}

func newRealtimeServer(t *testing.T) *realtimeServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ledger := accounts.NewMemoryLedger()
	sessions := store.NewMemorySessions()
	hub, _ := startHub(t)
	mm := game.NewMatchmaker(store.NewMemoryQueue(), sessions, ledger, hub, nil)
	st := game.NewSettlement(sessions, nil, nil)
	NewDispatcher(hub, mm, st, 5*time.Second, nil)

	router := gin.New()
	router.GET("/ws", hub.HandleWebSocket(Upgrader(nil)))
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &realtimeServer{
		url:    "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
		mm:     mm,
		ledger: ledger,
	}
}

func (s *realtimeServer) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(s.url+"?user_id="+userID, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(WSMessage{Type: event, Data: raw}))
}

// await reads frames until one of type event arrives and decodes its data.
func await(t *testing.T, conn *websocket.Conn, event string, into any) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var msg WSMessage
		require.NoError(t, conn.ReadJSON(&msg), "waiting for %s", event)
		if msg.Type != event {
			continue
		}
		if into != nil {
			require.NoError(t, json.Unmarshal(msg.Data, into))
		}
		return
	}
}

func (s *realtimeServer) waiting(t *testing.T) int64 {
	t.Helper()
	n, err := s.mm.WaitingCount(context.Background(), "trivia", decimal.NewFromInt(10))
	require.NoError(t, err)
	return n
}

type matchFound struct {
	OpponentID string          `json:"opponentId"`
	GameID     string          `json:"gameId"`
	RoomID     string          `json:"roomId"`
	EntryFee   decimal.Decimal `json:"entryFee"`
}

func TestRealtimeMatchFlow(t *testing.T) {
	srv := newRealtimeServer(t)
	ctx := context.Background()
	require.NoError(t, srv.ledger.UpsertUser(ctx, "A", decimal.NewFromInt(100)))
	require.NoError(t, srv.ledger.UpsertUser(ctx, "B", decimal.NewFromInt(100)))

	a := srv.dial(t, "A")
	b := srv.dial(t, "B")

	send(t, a, EventJoinMatch, map[string]any{"userId": "A", "gameId": "trivia", "entryFee": 10})
	require.Eventually(t, func() bool { return srv.waiting(t) == 1 }, 2*time.Second, 10*time.Millisecond)
	send(t, b, EventJoinMatch, map[string]any{"userId": "B", "gameId": "trivia", "entryFee": "10"})

	var foundA, foundB matchFound
	await(t, a, game.EventMatchFound, &foundA)
	await(t, b, game.EventMatchFound, &foundB)
	assert.Equal(t, "B", foundA.OpponentID)
	assert.Equal(t, "A", foundB.OpponentID)
	require.Equal(t, foundA.RoomID, foundB.RoomID)
	roomID := foundA.RoomID

	for user, conn := range map[string]*websocket.Conn{"A": a, "B": b} {
		send(t, conn, EventRegister, map[string]any{
			"userId": user, "gameId": "trivia", "entryFee": foundA.EntryFee, "roomId": roomID,
		})
		var res ResultPayload
		await(t, conn, EventRegisterSuccess, &res)
		assert.Equal(t, "Match registered successfully", res.Message)
	}

	send(t, a, EventGameOver, map[string]any{"userId": "A", "roomId": roomID, "score": 7})
	var ack map[string]bool
	await(t, a, EventGameOverAck, &ack)
	assert.False(t, ack["completed"])

	send(t, b, EventGameOver, map[string]any{"userId": "B", "roomId": roomID, "score": 3})
	await(t, b, EventGameOverAck, &ack)
	assert.True(t, ack["completed"])

	for _, conn := range []*websocket.Conn{a, b} {
		var over struct {
			Message string `json:"message"`
			Result  struct {
				Winner string `json:"winner"`
				Status string `json:"status"`
			} `json:"result"`
		}
		await(t, conn, EventGameOverResponse, &over)
		assert.Equal(t, "Game over", over.Message)
		assert.Equal(t, "A", over.Result.Winner)
		assert.Equal(t, game.StatusCompleted, over.Result.Status)
	}

	u, err := srv.ledger.GetUser(ctx, "B")
	require.NoError(t, err)
	assert.True(t, u.Balance.Equal(decimal.NewFromInt(90)))
}

func TestRealtimeErrors(t *testing.T) {
	srv := newRealtimeServer(t)
	c := srv.dial(t, "")

	var e ErrorPayload
	send(t, c, "teleport", map[string]string{})
	await(t, c, EventError, &e)
	assert.Equal(t, "teleport", e.Event)
	assert.Equal(t, "invalid_request", e.Code)

	require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte("{not json")))
	await(t, c, EventError, &e)
	assert.Equal(t, "invalid_request", e.Code)

	send(t, c, EventRegister, map[string]any{"userId": "ghost", "gameId": "trivia", "entryFee": 10, "roomId": "trivia_x"})
	await(t, c, EventRegisterError, &e)
	assert.Equal(t, "user_not_found", e.Code)

	send(t, c, EventGameOver, map[string]any{"userId": "A", "roomId": "trivia_x"})
	await(t, c, EventGameOverError, &e)
	assert.Equal(t, "invalid_request", e.Code)

	send(t, c, EventGameOver, map[string]any{"userId": "A", "roomId": "trivia_x", "score": 1})
	await(t, c, EventGameOverError, &e)
	assert.Equal(t, "session_not_found", e.Code)
	assert.Equal(t, "Match not found", e.Message)

	send(t, c, EventJoinMatch, map[string]any{"gameId": "trivia", "entryFee": 10})
	await(t, c, EventError, &e)
	assert.Equal(t, EventJoinMatch, e.Event)
}

func TestRealtimeCancelAndDisconnect(t *testing.T) {
	srv := newRealtimeServer(t)

	a := srv.dial(t, "A")
	send(t, a, EventJoinMatch, map[string]any{"userId": "A", "gameId": "trivia", "entryFee": 10})
	require.Eventually(t, func() bool { return srv.waiting(t) == 1 }, 2*time.Second, 10*time.Millisecond)
	send(t, a, EventNotFound, map[string]any{"userId": "A", "gameId": "trivia", "entryFee": 10})
	require.Eventually(t, func() bool { return srv.waiting(t) == 0 }, 2*time.Second, 10*time.Millisecond)

	b := srv.dial(t, "B")
	send(t, b, EventJoinMatch, map[string]any{"userId": "B", "gameId": "trivia", "entryFee": 10})
	require.Eventually(t, func() bool { return srv.waiting(t) == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, b.Close())
	require.Eventually(t, func() bool { return srv.waiting(t) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestChannelArg(t *testing.T) {
	assert.Equal(t, "trivia_r1", channelArg(json.RawMessage(`"trivia_r1"`), "roomId"))
	assert.Equal(t, "trivia_r1", channelArg(json.RawMessage(`{"roomId":"trivia_r1"}`), "roomId"))
	assert.Empty(t, channelArg(json.RawMessage(`{"other":"x"}`), "roomId"))
	assert.Empty(t, channelArg(json.RawMessage(`42`), "roomId"))
}

func TestDispatcherRoomEvents(t *testing.T) {
	h, _ := startHub(t)
	d := NewDispatcher(h, nil, nil, time.Second, nil)
	c := connect(t, h, "")

	d.HandleMessage(c, WSMessage{Type: EventJoinRoom, Data: json.RawMessage(`"trivia_r1"`)})
	assert.Equal(t, []string{c.ID()}, h.Members("trivia_r1"))

	d.HandleMessage(c, WSMessage{Type: EventJoinUserRoom, Data: json.RawMessage(`{"userId":"A"}`)})
	assert.Equal(t, "A", c.UserID())
	assert.Equal(t, []string{c.ID()}, h.Members(UserChannel("A")))

	d.HandleMessage(c, WSMessage{Type: EventLeaveRoom, Data: json.RawMessage(`{"roomId":"trivia_r1"}`)})
	assert.Empty(t, h.Members("trivia_r1"))

	d.HandleMessage(c, WSMessage{Type: EventJoinRoom, Data: json.RawMessage(`{}`)})
	assert.Equal(t, EventError, recv(t, c).Type)
}
