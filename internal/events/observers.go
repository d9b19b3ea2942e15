// Package events turns character online/offline transitions into log lines
// and cluster-wide notifications.
package events

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/Akido22/mmogamelab/internal/db/redis_tools"
)

const (
	KindOnline  = "online"
	KindOffline = "offline"
)

// Event is the payload published for every marker transition.
type Event struct {
	Kind      string    `json:"kind"`
	App       string    `json:"app"`
	Character string    `json:"character"`
	At        time.Time `json:"at"`
}

// LogObserver writes marker transitions to the log.
type LogObserver struct {
	logger *zap.Logger
}

func NewLogObserver(logger *zap.Logger) *LogObserver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogObserver{logger: logger}
}

func (o *LogObserver) OnCharacterOnline(_ context.Context, app, characterID string) {
	o.logger.Info("character online",
		zap.String("app", app),
		zap.String("character", characterID),
	)
}

func (o *LogObserver) OnCharacterOffline(_ context.Context, app, characterID string) {
	o.logger.Info("character offline",
		zap.String("app", app),
		zap.String("character", characterID),
	)
}

// RedisPublisher publishes marker transitions on the presence events channel.
// Publishing is best effort.
type RedisPublisher struct {
	dao    *redis_tools.RedisDao
	logger *zap.Logger
	now    func() time.Time
}

func NewRedisPublisher(dao *redis_tools.RedisDao, logger *zap.Logger) *RedisPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisPublisher{
		dao:    dao,
		logger: logger,
		now:    time.Now,
	}
}

func (p *RedisPublisher) OnCharacterOnline(ctx context.Context, app, characterID string) {
	p.publish(ctx, Event{Kind: KindOnline, App: app, Character: characterID})
}

func (p *RedisPublisher) OnCharacterOffline(ctx context.Context, app, characterID string) {
	p.publish(ctx, Event{Kind: KindOffline, App: app, Character: characterID})
}

func (p *RedisPublisher) publish(ctx context.Context, ev Event) {
	ev.At = p.now()
	data, err := json.Marshal(ev)
	if err != nil {
		p.logger.Warn("encode presence event failed", zap.Error(err))
		return
	}
	if err := p.dao.Publish(ctx, redis_tools.KeyPresenceEvents, data); err != nil {
		p.logger.Warn("publish presence event failed",
			zap.String("kind", ev.Kind),
			zap.String("app", ev.App),
			zap.String("character", ev.Character),
			zap.Error(err),
		)
	}
}
