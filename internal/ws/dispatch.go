package ws

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ful2win/backend/internal/game"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Inbound events
const (
	EventJoinMatch    = "join_match"
	EventNotFound     = "not_found"
	EventRegister     = "register"
	EventGameOver     = "game_over"
	EventJoinRoom     = "join_room"
	EventLeaveRoom    = "leave_room"
	EventJoinUserRoom = "join_user_room"
)

// Outbound events
const (
	EventRegisterSuccess  = "register_success"
	EventRegisterError    = "register_error"
	EventGameOverResponse = "game_over_response"
	EventGameOverAck      = "game_over_ack"
	EventGameOverError    = "game_over_error"
	EventError            = "error"
)

// ErrorPayload is the body of every *_error event
type ErrorPayload struct {
	Event   string `json:"event,omitempty"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// ResultPayload carries a message and a session snapshot
type ResultPayload struct {
	Message string `json:"message"`
	Result  any    `json:"result"`
}

type matchData struct {
	UserID   string          `json:"userId"`
	GameID   string          `json:"gameId"`
	EntryFee decimal.Decimal `json:"entryFee"`
}

type registerData struct {
	UserID   string          `json:"userId"`
	GameID   string          `json:"gameId"`
	EntryFee decimal.Decimal `json:"entryFee"`
	RoomID   string          `json:"roomId"`
}

type gameOverData struct {
	UserID string `json:"userId"`
	RoomID string `json:"roomId"`
	Score  *int   `json:"score"`
}

type handlerFunc func(ctx context.Context, c *Client, data json.RawMessage)

// Dispatcher routes inbound events to the matchmaker and settlement engine.
type Dispatcher struct {
	hub        *Hub
	matchmaker *game.Matchmaker
	settlement *game.Settlement
	timeout    time.Duration
	logger     *zap.Logger
	handlers   map[string]handlerFunc
}

// NewDispatcher builds the event table and installs itself on hub.
func NewDispatcher(hub *Hub, mm *game.Matchmaker, st *game.Settlement, timeout time.Duration, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	d := &Dispatcher{
		hub:        hub,
		matchmaker: mm,
		settlement: st,
		timeout:    timeout,
		logger:     logger.Named("dispatch"),
	}
	d.handlers = map[string]handlerFunc{
		EventJoinMatch:    d.joinMatch,
		EventNotFound:     d.notFound,
		EventRegister:     d.register,
		EventGameOver:     d.gameOver,
		EventJoinRoom:     d.joinRoom,
		EventLeaveRoom:    d.leaveRoom,
		EventJoinUserRoom: d.joinUserRoom,
	}
	hub.SetHandler(d)
	return d
}

// HandleMessage implements MessageHandler.
func (d *Dispatcher) HandleMessage(c *Client, msg WSMessage) {
	h, ok := d.handlers[msg.Type]
	if !ok {
		d.hub.Reply(c, EventError, ErrorPayload{Event: msg.Type, Message: "Unknown message type", Code: "invalid_request"})
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	h(ctx, c, msg.Data)
}

// HandleDisconnect implements MessageHandler.
func (d *Dispatcher) HandleDisconnect(c *Client) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	if err := d.matchmaker.DropConnection(ctx, c.ID()); err != nil {
		d.logger.Warn("failed to drop queue entries on disconnect",
			zap.String("connection_id", c.ID()), zap.Error(err))
	}
}

func (d *Dispatcher) fail(c *Client, event, replyEvent string, err error) {
	if game.ErrorCode(err) == "storage_unavailable" {
		d.logger.Error("request failed", zap.String("event", event), zap.String("connection_id", c.ID()), zap.Error(err))
	} else {
		d.logger.Info("request rejected", zap.String("event", event), zap.String("connection_id", c.ID()), zap.Error(err))
	}
	d.hub.Reply(c, replyEvent, ErrorPayload{Event: event, Message: game.ErrorMessage(err), Code: game.ErrorCode(err)})
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return game.ErrInvalidRequest
	}
	if err := json.Unmarshal(data, v); err != nil {
		return game.ErrInvalidRequest
	}
	return nil
}

func (d *Dispatcher) joinMatch(ctx context.Context, c *Client, data json.RawMessage) {
	var req matchData
	if err := decode(data, &req); err != nil {
		d.fail(c, EventJoinMatch, EventError, err)
		return
	}
	_, err := d.matchmaker.FindOrEnqueue(ctx, game.JoinRequest{
		UserID:       req.UserID,
		GameID:       req.GameID,
		EntryFee:     req.EntryFee,
		ConnectionID: c.ID(),
	})
	if err != nil {
		d.fail(c, EventJoinMatch, EventError, err)
	}
}

func (d *Dispatcher) notFound(ctx context.Context, c *Client, data json.RawMessage) {
	var req matchData
	if err := decode(data, &req); err != nil {
		d.fail(c, EventNotFound, EventError, err)
		return
	}
	if err := d.matchmaker.CancelWait(ctx, req.UserID, req.GameID, req.EntryFee); err != nil {
		d.fail(c, EventNotFound, EventError, err)
	}
}

func (d *Dispatcher) register(ctx context.Context, c *Client, data json.RawMessage) {
	var req registerData
	if err := decode(data, &req); err != nil {
		d.fail(c, EventRegister, EventRegisterError, err)
		return
	}
	sess, err := d.matchmaker.RegisterSession(ctx, game.RegisterRequest{
		UserID:   req.UserID,
		GameID:   req.GameID,
		EntryFee: req.EntryFee,
		RoomID:   req.RoomID,
	})
	if err != nil {
		d.fail(c, EventRegister, EventRegisterError, err)
		return
	}
	d.hub.Reply(c, EventRegisterSuccess, ResultPayload{Message: "Match registered successfully", Result: sess})
}

func (d *Dispatcher) gameOver(ctx context.Context, c *Client, data json.RawMessage) {
	var req gameOverData
	if err := decode(data, &req); err != nil {
		d.fail(c, EventGameOver, EventGameOverError, err)
		return
	}
	if req.Score == nil {
		d.fail(c, EventGameOver, EventGameOverError, game.ErrInvalidRequest)
		return
	}
	res, err := d.settlement.SubmitScore(ctx, req.RoomID, req.UserID, *req.Score)
	if err != nil {
		d.fail(c, EventGameOver, EventGameOverError, err)
		return
	}
	d.hub.Reply(c, EventGameOverAck, map[string]bool{"completed": res.Completed})
	if res.Settled {
		d.hub.EmitToChannel(res.Session.RoomID, EventGameOverResponse, ResultPayload{Message: "Game over", Result: res.Session})
	}
}

// channelArg accepts either a bare JSON string or an object with key.
func channelArg(data json.RawMessage, key string) string {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return s
	}
	var m map[string]string
	if err := json.Unmarshal(data, &m); err == nil {
		return m[key]
	}
	return ""
}

func (d *Dispatcher) joinRoom(_ context.Context, c *Client, data json.RawMessage) {
	roomID := channelArg(data, "roomId")
	if roomID == "" {
		d.fail(c, EventJoinRoom, EventError, game.ErrInvalidRequest)
		return
	}
	d.hub.JoinChannel(c.ID(), roomID)
}

func (d *Dispatcher) leaveRoom(_ context.Context, c *Client, data json.RawMessage) {
	roomID := channelArg(data, "roomId")
	if roomID == "" {
		d.fail(c, EventLeaveRoom, EventError, game.ErrInvalidRequest)
		return
	}
	d.hub.LeaveChannel(c.ID(), roomID)
}

func (d *Dispatcher) joinUserRoom(_ context.Context, c *Client, data json.RawMessage) {
	userID := channelArg(data, "userId")
	if userID == "" {
		d.fail(c, EventJoinUserRoom, EventError, game.ErrInvalidRequest)
		return
	}
	c.SetUserID(userID)
	d.hub.JoinChannel(c.ID(), UserChannel(userID))
}
