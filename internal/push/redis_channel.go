// Package push carries packets addressed to a session channel to whichever
// node holds that session's live connection.
package push

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/Akido22/mmogamelab/internal/db/redis_tools"
	"github.com/Akido22/mmogamelab/internal/protocol"
)

type message struct {
	Channel string            `json:"channel"`
	Packets []protocol.Packet `json:"packets"`
}

// DeliverFunc hands packets to the local connections of channel.
type DeliverFunc func(channel string, packets []protocol.Packet)

// RedisChannel fans packets out to every node over redis pub/sub.
type RedisChannel struct {
	dao    *redis_tools.RedisDao
	topic  string
	logger *zap.Logger
}

func NewRedisChannel(dao *redis_tools.RedisDao, logger *zap.Logger) *RedisChannel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisChannel{
		dao:    dao,
		topic:  redis_tools.KeyPushChannel,
		logger: logger,
	}
}

func (c *RedisChannel) Notify(ctx context.Context, channel string, packets ...protocol.Packet) error {
	if len(packets) == 0 {
		return nil
	}
	data, err := json.Marshal(message{Channel: channel, Packets: packets})
	if err != nil {
		return fmt.Errorf("encode push: %w", err)
	}
	if err := c.dao.Publish(ctx, c.topic, data); err != nil {
		return fmt.Errorf("publish push %s: %w", channel, err)
	}
	return nil
}

// Subscribe delivers every pushed message until ctx is done. It returns once
// the subscription is confirmed; delivery runs in its own goroutine.
func (c *RedisChannel) Subscribe(ctx context.Context, deliver DeliverFunc) error {
	sub := c.dao.Subscribe(ctx, c.topic)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("subscribe %s: %w", c.topic, err)
	}

	go func() {
		defer sub.Close()

		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var m message
				if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
					c.logger.Warn("drop malformed push", zap.Error(err))
					continue
				}
				deliver(m.Channel, m.Packets)
			}
		}
	}()
	return nil
}
