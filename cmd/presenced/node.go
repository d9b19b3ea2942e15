package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Akido22/mmogamelab/internal/common/logging"
	"github.com/Akido22/mmogamelab/internal/config"
	"github.com/Akido22/mmogamelab/internal/db/redis_tools"
	"github.com/Akido22/mmogamelab/internal/events"
	"github.com/Akido22/mmogamelab/internal/lock"
	"github.com/Akido22/mmogamelab/internal/player"
	"github.com/Akido22/mmogamelab/internal/player_db"
	"github.com/Akido22/mmogamelab/internal/presence"
	"github.com/Akido22/mmogamelab/internal/push"
)

// node holds everything a command needs to act on the shared presence store:
// one machine per configured application, all routed through one registry.
type node struct {
	cfg         *config.NodeConfig
	logger      *zap.Logger
	dao         *redis_tools.RedisDao
	appSessions *player_db.AppSessionStore
	registry    *presence.Registry
	stores      map[string]*player_db.RedisStore
	directories map[string]*player.RedisDirectory
	push        *push.RedisChannel
	metrics     *prometheus.Registry
	reaper      *presence.Reaper
}

func loadNode(ctx context.Context, cmd *cobra.Command) (*node, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	logger, err := logging.NewLogger("presenced", cfg.Log.Level)
	if err != nil {
		return nil, err
	}

	if err := redis_tools.InitRedis(ctx, redis_tools.RedisConfig{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
	}); err != nil {
		return nil, fmt.Errorf("connect redis %s: %w", cfg.Redis.Addr, err)
	}

	n := &node{
		cfg:         cfg,
		logger:      logger,
		dao:         redis_tools.NewRedisDao(nil),
		registry:    presence.NewRegistry(),
		stores:      make(map[string]*player_db.RedisStore),
		directories: make(map[string]*player.RedisDirectory),
		metrics:     prometheus.NewRegistry(),
	}
	n.metrics.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	n.appSessions = player_db.NewAppSessionStore(n.dao, player_db.WithLogger(logger.Named("store")))
	n.push = push.NewRedisChannel(n.dao, logger.Named("push"))

	presenceMetrics := presence.NewMetrics(n.metrics)
	steals := lock.NewStealCounter(n.metrics)
	observer := presence.Observers{
		events.NewLogObserver(logger.Named("events")),
		events.NewRedisPublisher(n.dao, logger.Named("events")),
	}
	timing := presence.Timing{
		LoginDebounce:   cfg.Presence.LoginDebounce,
		AuthorizedGrace: cfg.Presence.AuthorizedGrace,
		OnlineTimeout:   cfg.Presence.OnlineTimeout,
	}

	for _, app := range cfg.Apps {
		policy, err := presence.ParsePolicy(app.Multicharing)
		if err != nil {
			return nil, fmt.Errorf("app %s: %w", app.Tag, err)
		}
		store := player_db.NewRedisStore(n.dao, app.Tag)
		dir := player.NewRedisDirectory(n.dao, app.Tag)
		locker := lock.NewRedisLocker(n.dao.Client(), app.Tag,
			lock.WithPatience(cfg.Lock.Patience),
			lock.WithDelay(cfg.Lock.Delay),
			lock.WithTTL(cfg.Lock.TTL),
			lock.WithLogger(logger.Named("lock")),
			lock.WithSteals(steals),
		)

		m := presence.NewMachine(presence.Backend{
			App:       app.Tag,
			Sessions:  store,
			Markers:   store,
			Directory: dir,
			Activity:  store,
			Locker:    locker,
			Policy:    policy,
		}, n.appSessions,
			presence.WithTiming(timing),
			presence.WithObserver(observer),
			presence.WithNotifier(n.push),
			presence.WithMetrics(presenceMetrics),
			presence.WithLogger(logger.Named("presence")),
			presence.WithRegistry(n.registry),
		)
		if err := n.registry.Register(m); err != nil {
			return nil, err
		}
		n.stores[app.Tag] = store
		n.directories[app.Tag] = dir
	}

	n.reaper = presence.NewReaper(n.appSessions, n.registry,
		presence.WithReaperMetrics(presenceMetrics),
		presence.WithReaperLogger(logger.Named("reaper")),
	)
	return n, nil
}

func (n *node) close() {
	_ = n.logger.Sync()
	_ = redis_tools.Close()
}

// machine returns the machine of app, defaulting to the local one.
func (n *node) machine(app string) (*presence.Machine, error) {
	if app == "" {
		app = n.cfg.App
	}
	m, ok := n.registry.Lookup(app)
	if !ok {
		return nil, fmt.Errorf("%w: %s", presence.ErrUnknownApp, app)
	}
	return m, nil
}
