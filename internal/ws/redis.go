package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultTopic is the Redis pub/sub channel shared by all instances.
const DefaultTopic = "realtime_events"

const (
	opJoin  = "join"
	opLeave = "leave"
	opEmit  = "emit"
)

type busMessage struct {
	Op      string          `json:"op"`
	Conn    string          `json:"conn,omitempty"`
	Channel string          `json:"channel"`
	Frame   json.RawMessage `json:"frame,omitempty"`
}

// Bus fans hub operations out to every server instance over Redis pub/sub.
type Bus struct {
	rdb    *redis.Client
	topic  string
	logger *zap.Logger
}

// NewBus creates a bus on topic (DefaultTopic when empty).
func NewBus(rdb *redis.Client, topic string, logger *zap.Logger) *Bus {
	if topic == "" {
		topic = DefaultTopic
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{rdb: rdb, topic: topic, logger: logger.Named("bus")}
}

func (b *Bus) publish(m busMessage) error {
	payload, err := json.Marshal(m)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := b.rdb.Publish(ctx, b.topic, payload).Err(); err != nil {
		b.logger.Warn("publish failed, applying locally", zap.String("op", m.Op), zap.Error(err))
		return err
	}
	return nil
}

// AttachBus subscribes the hub to b and routes all further channel
// operations through it. It returns once the subscription is active and
// must be called before the hub starts serving connections.
func (h *Hub) AttachBus(ctx context.Context, b *Bus) error {
	sub := b.rdb.Subscribe(ctx, b.topic)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return fmt.Errorf("subscribe %s: %w", b.topic, err)
	}
	h.bus = b

	ch := sub.Channel()
	go func() {
		defer sub.Close()
		b.logger.Info("subscriber started", zap.String("topic", b.topic))
		for {
			select {
			case <-ctx.Done():
				b.logger.Info("subscriber stopped")
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var m busMessage
				if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
					b.logger.Warn("invalid bus payload", zap.Error(err))
					continue
				}
				h.apply(m)
			}
		}
	}()
	return nil
}

func (h *Hub) apply(m busMessage) {
	switch m.Op {
	case opJoin:
		h.joinLocal(m.Conn, m.Channel)
	case opLeave:
		h.leaveLocal(m.Conn, m.Channel)
	case opEmit:
		h.deliverLocal(m.Channel, m.Frame)
	default:
		h.logger.Warn("unknown bus op", zap.String("op", m.Op))
	}
}
