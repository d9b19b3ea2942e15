package redis_tools

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
}

var (
	mu          sync.RWMutex
	redisClient *redis.Client
	redisAddr   string
)

// InitRedis dials and pings Redis, then replaces the shared client.
func InitRedis(ctx context.Context, cfg RedisConfig) error {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 200
	}
	if cfg.MinIdleConns <= 0 {
		cfg.MinIdleConns = 20
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}

	mu.Lock()
	old := redisClient
	redisClient = client
	redisAddr = cfg.Addr
	mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	return nil
}

// RDB returns the client set by InitRedis, nil before initialization.
func RDB() *redis.Client {
	mu.RLock()
	defer mu.RUnlock()
	return redisClient
}

// Close releases the shared client.
func Close() error {
	mu.Lock()
	c := redisClient
	redisClient = nil
	mu.Unlock()
	if c == nil {
		return nil
	}
	return c.Close()
}

// NewUpGauge registers presence_redis_up, set by the health check.
func NewUpGauge(reg prometheus.Registerer) prometheus.Gauge {
	up := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "presence",
		Name:      "redis_up",
		Help:      "1 when the last Redis health ping succeeded.",
	})
	if reg != nil {
		reg.MustRegister(up)
	}
	return up
}

// StartHealthCheck pings the shared client every interval and logs only when
// reachability changes. up may be nil.
// ⚠️ 只做“状态探测”，绝不 Close / 重建 client
func StartHealthCheck(
	ctx context.Context,
	logger *zap.Logger,
	interval time.Duration,
	up prometheus.Gauge,
) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		healthy := true
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			err := ping(ctx)
			if up != nil {
				if err == nil {
					up.Set(1)
				} else {
					up.Set(0)
				}
			}

			mu.RLock()
			addr := redisAddr
			mu.RUnlock()
			switch {
			case err != nil && healthy:
				logger.Warn("redis ping failed", zap.String("addr", addr), zap.Error(err))
			case err == nil && !healthy:
				logger.Info("redis reachable again", zap.String("addr", addr))
			}
			healthy = err == nil
		}
	}()
}

func ping(ctx context.Context) error {
	client := RDB()
	if client == nil {
		return fmt.Errorf("redis client not initialized")
	}
	checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return client.Ping(checkCtx).Err()
}
