package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Akido22/mmogamelab/internal/admin"
	"github.com/Akido22/mmogamelab/internal/db/redis_tools"
	"github.com/Akido22/mmogamelab/internal/gate"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve client connections and the admin API",
	Long: `Starts the gate (websocket on /ws, optional raw TCP), the idle reaper and
the admin API for the local application.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		n, err := loadNode(ctx, cmd)
		if err != nil {
			return err
		}
		defer n.close()
		return serve(ctx, n)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve(ctx context.Context, n *node) error {
	cfg := n.cfg
	logger := n.logger

	local, err := n.machine(cfg.App)
	if err != nil {
		return err
	}

	redis_tools.StartHealthCheck(ctx, logger.Named("redis"), 10*time.Second, redis_tools.NewUpGauge(n.metrics))

	g := gate.NewGate(local, n.stores[cfg.App],
		gate.WithLogger(logger.Named("gate")),
		gate.WithHeartbeat(cfg.Gate.HeartbeatInterval, cfg.Gate.HeartbeatTimeout),
		gate.WithInitTimeout(cfg.Gate.InitTimeout),
		gate.WithLoginLimit(cfg.Gate.LoginLimit, cfg.Gate.LoginLimitWindow),
		gate.WithJSON(cfg.Gate.UseJSON),
		gate.WithMetrics(gate.NewMetrics(n.metrics)),
	)
	g.Start(ctx)

	if err := n.push.Subscribe(ctx, g.Deliver); err != nil {
		return err
	}

	go n.reaper.Run(ctx, cfg.Presence.SweepInterval)

	activities := make(map[string]admin.ActivityReader, len(n.stores))
	for app, store := range n.stores {
		activities[app] = store
	}
	gin.SetMode(gin.ReleaseMode)
	router := admin.NewRouter(admin.Deps{
		Registry:    n.registry,
		AppSessions: n.appSessions,
		Activities:  activities,
		Reaper:      n.reaper,
		Gatherer:    n.metrics,
		Ping: func(ctx context.Context) error {
			return n.dao.Client().Ping(ctx).Err()
		},
		Gate:   g,
		Logger: logger.Named("admin"),
	})

	if cfg.Gate.TCPAddr != "" {
		ln, err := net.Listen("tcp", cfg.Gate.TCPAddr)
		if err != nil {
			return fmt.Errorf("listen tcp %s: %w", cfg.Gate.TCPAddr, err)
		}
		defer ln.Close()
		logger.Info("gate tcp listening", zap.String("addr", cfg.Gate.TCPAddr))
		go g.ServeTCP(ctx, ln)
	}

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("presence node listening",
			zap.String("addr", cfg.ListenAddr),
			zap.String("app", cfg.App),
			zap.Strings("apps", n.registry.Apps()),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown did not complete", zap.Error(err))
		_ = srv.Close()
	}
	return nil
}
