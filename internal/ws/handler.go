package ws

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

// WSMessage is the envelope for every frame in both directions
type WSMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// MessageHandler consumes inbound frames and connection teardown.
type MessageHandler interface {
	HandleMessage(c *Client, msg WSMessage)
	HandleDisconnect(c *Client)
}

// UserChannel is the channel a connection joins to receive events
// addressed to userID.
func UserChannel(userID string) string {
	return "user:" + userID
}

// Hub tracks local connections and their channel memberships. With a Bus
// attached, membership changes and emits travel through Redis so that
// every instance applies them to its own connections.
type Hub struct {
	clients    map[string]*Client            // connectionID -> Client
	channels   map[string]map[string]*Client // channel -> connectionID -> Client
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	handler    MessageHandler
	bus        *Bus
	logger     *zap.Logger
	mu         sync.RWMutex
}

// NewHub creates a Hub. Call Run to start it.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[string]*Client),
		channels:   make(map[string]map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger.Named("ws"),
	}
}

// SetHandler installs the inbound message handler.
func (h *Hub) SetHandler(handler MessageHandler) {
	h.handler = handler
}

// Run processes registrations until ctx is cancelled, then closes every
// connection.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("hub started")
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			h.logger.Info("hub stopped")
			return

		case c := <-h.register:
			h.mu.Lock()
			if old, ok := h.clients[c.id]; ok && old != c {
				for ch := range old.channels {
					h.leaveLocked(old, ch)
				}
				close(old.send)
			}
			h.clients[c.id] = c
			h.joinLocked(c, c.id)
			if uid := c.UserID(); uid != "" {
				h.joinLocked(c, UserChannel(uid))
			}
			h.mu.Unlock()
			h.logger.Debug("connection registered",
				zap.String("connection_id", c.id), zap.String("user_id", c.UserID()))

		case c := <-h.unregister:
			h.mu.Lock()
			cur, ok := h.clients[c.id]
			if ok && cur == c {
				delete(h.clients, c.id)
				for ch := range c.channels {
					h.leaveLocked(c, ch)
				}
				close(c.send)
			}
			h.mu.Unlock()
			if ok && cur == c {
				h.logger.Debug("connection unregistered", zap.String("connection_id", c.id))
				if h.handler != nil {
					go h.handler.HandleDisconnect(c)
				}
			}
		}
	}
}

func (h *Hub) shutdown() {
	close(h.done)
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		if c.conn != nil {
			c.conn.Close()
		}
		close(c.send)
		delete(h.clients, id)
	}
	h.channels = make(map[string]map[string]*Client)
}

func (h *Hub) joinLocked(c *Client, channel string) {
	room, ok := h.channels[channel]
	if !ok {
		room = make(map[string]*Client)
		h.channels[channel] = room
	}
	room[c.id] = c
	c.channels[channel] = struct{}{}
}

func (h *Hub) leaveLocked(c *Client, channel string) {
	if room, ok := h.channels[channel]; ok {
		delete(room, c.id)
		if len(room) == 0 {
			delete(h.channels, channel)
		}
	}
	delete(c.channels, channel)
}

func (h *Hub) joinLocal(connectionID, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.clients[connectionID]; ok {
		h.joinLocked(c, channel)
	}
}

func (h *Hub) leaveLocal(connectionID, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if channel == connectionID {
		return
	}
	if c, ok := h.clients[connectionID]; ok {
		h.leaveLocked(c, channel)
	}
}

// deliverLocal queues frame on every local member of channel.
func (h *Hub) deliverLocal(channel string, frame []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for _, c := range h.channels[channel] {
		select {
		case c.send <- frame:
			n++
		default:
			h.logger.Warn("send buffer full, dropping frame",
				zap.String("connection_id", c.id), zap.String("channel", channel))
		}
	}
	return n
}

// JoinChannel adds a connection to channel on whichever instance holds it.
func (h *Hub) JoinChannel(connectionID, channel string) {
	if h.bus != nil {
		if err := h.bus.publish(busMessage{Op: opJoin, Conn: connectionID, Channel: channel}); err == nil {
			return
		}
	}
	h.joinLocal(connectionID, channel)
}

// LeaveChannel removes a connection from channel. A connection never leaves
// its own channel.
func (h *Hub) LeaveChannel(connectionID, channel string) {
	if h.bus != nil {
		if err := h.bus.publish(busMessage{Op: opLeave, Conn: connectionID, Channel: channel}); err == nil {
			return
		}
	}
	h.leaveLocal(connectionID, channel)
}

// EmitToChannel sends event to every member of channel.
func (h *Hub) EmitToChannel(channel, event string, payload any) {
	frame, err := encodeFrame(event, payload)
	if err != nil {
		h.logger.Error("failed to encode frame", zap.String("event", event), zap.Error(err))
		return
	}
	if h.bus != nil {
		if err := h.bus.publish(busMessage{Op: opEmit, Channel: channel, Frame: frame}); err == nil {
			return
		}
	}
	h.deliverLocal(channel, frame)
}

// EmitToUser sends event to every connection that joined the user's channel.
func (h *Hub) EmitToUser(userID, event string, payload any) {
	h.EmitToChannel(UserChannel(userID), event, payload)
}

// Reply sends event straight to a locally held connection.
func (h *Hub) Reply(c *Client, event string, payload any) {
	frame, err := encodeFrame(event, payload)
	if err != nil {
		h.logger.Error("failed to encode frame", zap.String("event", event), zap.Error(err))
		return
	}
	h.deliverLocal(c.id, frame)
}

// ConnectionCount returns the number of local connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Members returns the local connection ids in channel.
func (h *Hub) Members(channel string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.channels[channel]))
	for id := range h.channels[channel] {
		out = append(out, id)
	}
	return out
}

func encodeFrame(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(WSMessage{Type: event, Data: data})
}
