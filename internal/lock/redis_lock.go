// Package lock provides the named lock service shared by every presence node.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Akido22/mmogamelab/internal/db/redis_tools"
	"github.com/Akido22/mmogamelab/internal/presence"
)

var ErrNoKeys = errors.New("lock: no keys")

const (
	DefaultPatience = 20 * time.Second
	DefaultDelay    = 100 * time.Millisecond
	DefaultTTL      = 30 * time.Second
)

// 只删除仍由本持有者持有的 key
var releaseScript = redis.NewScript(`
local n = 0
for _, key in ipairs(KEYS) do
	if redis.call("get", key) == ARGV[1] then
		n = n + redis.call("del", key)
	end
end
return n
`)

// RedisLocker grants all-or-nothing locks over a set of names using SET NX PX.
// A waiter that runs out of patience takes the locks by force.
type RedisLocker struct {
	client   *redis.Client
	keys     redis_tools.AppKeys
	app      string
	patience time.Duration
	delay    time.Duration
	ttl      time.Duration
	logger   *zap.Logger
	steals   *prometheus.CounterVec
}

type Option func(*RedisLocker)

func WithPatience(d time.Duration) Option {
	return func(l *RedisLocker) {
		if d > 0 {
			l.patience = d
		}
	}
}

func WithDelay(d time.Duration) Option {
	return func(l *RedisLocker) {
		if d > 0 {
			l.delay = d
		}
	}
}

func WithTTL(d time.Duration) Option {
	return func(l *RedisLocker) {
		if d > 0 {
			l.ttl = d
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(l *RedisLocker) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithSteals counts forced acquisitions, labelled by app.
func WithSteals(steals *prometheus.CounterVec) Option {
	return func(l *RedisLocker) {
		l.steals = steals
	}
}

// NewStealCounter builds the counter shared by the lockers of one process.
func NewStealCounter(reg prometheus.Registerer) *prometheus.CounterVec {
	steals := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "presence",
			Name:      "lock_steals_total",
			Help:      "Locks taken by force after the wait ran out of patience.",
		},
		[]string{"app"},
	)
	if reg != nil {
		reg.MustRegister(steals)
	}
	return steals
}

func NewRedisLocker(client *redis.Client, app string, opts ...Option) *RedisLocker {
	l := &RedisLocker{
		client:   client,
		keys:     redis_tools.NewAppKeys(app),
		app:      app,
		patience: DefaultPatience,
		delay:    DefaultDelay,
		ttl:      DefaultTTL,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Lock takes every named lock. Names are sorted so that two callers asking for
// overlapping sets always contend on the same first key.
func (l *RedisLocker) Lock(ctx context.Context, names ...string) (presence.UnlockFunc, error) {
	keys := l.lockKeys(names)
	if len(keys) == 0 {
		return nil, ErrNoKeys
	}
	token := uuid.NewString()
	deadline := time.Now().Add(l.patience)

	for {
		ok, err := l.tryAcquire(ctx, keys, token)
		if err != nil {
			return nil, err
		}
		if ok {
			return l.unlocker(keys, token), nil
		}

		if !time.Now().Before(deadline) {
			if err := l.steal(ctx, keys, token); err != nil {
				return nil, err
			}
			return l.unlocker(keys, token), nil
		}

		timer := time.NewTimer(l.delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (l *RedisLocker) lockKeys(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	keys := make([]string, 0, len(names))
	for _, name := range names {
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		keys = append(keys, l.keys.Lock(name))
	}
	sort.Strings(keys)
	return keys
}

// tryAcquire sets the keys in order. On the first busy key the ones already
// taken are given back.
func (l *RedisLocker) tryAcquire(ctx context.Context, keys []string, token string) (bool, error) {
	for i, key := range keys {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			_ = l.release(ctx, keys[:i], token)
			return false, fmt.Errorf("acquire %s: %w", key, err)
		}
		if !ok {
			_ = l.release(ctx, keys[:i], token)
			return false, nil
		}
	}
	return true, nil
}

func (l *RedisLocker) steal(ctx context.Context, keys []string, token string) error {
	for _, key := range keys {
		prev, err := l.client.Get(ctx, key).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("inspect %s: %w", key, err)
		}
		if err := l.client.Set(ctx, key, token, l.ttl).Err(); err != nil {
			return fmt.Errorf("force %s: %w", key, err)
		}
		if prev == "" {
			continue
		}
		l.logger.Warn("lock timeout, taking it by force",
			zap.String("key", key),
			zap.String("holder", prev),
			zap.Duration("patience", l.patience),
		)
		if l.steals != nil {
			l.steals.WithLabelValues(l.app).Inc()
		}
	}
	return nil
}

func (l *RedisLocker) unlocker(keys []string, token string) presence.UnlockFunc {
	return func(ctx context.Context) error {
		return l.release(ctx, keys, token)
	}
}

func (l *RedisLocker) release(ctx context.Context, keys []string, token string) error {
	if len(keys) == 0 {
		return nil
	}
	// 调用方的 ctx 可能已取消，锁仍需释放
	ctx = context.WithoutCancel(ctx)
	n, err := releaseScript.Run(ctx, l.client, keys, token).Int()
	if err != nil {
		return fmt.Errorf("release locks: %w", err)
	}
	if n < len(keys) {
		l.logger.Debug("locks lost before release",
			zap.Strings("keys", keys),
			zap.Int("released", n),
		)
	}
	return nil
}
