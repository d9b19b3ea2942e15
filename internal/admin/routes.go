// Package admin serves the operator HTTP surface of a presence node.
package admin

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Akido22/mmogamelab/internal/presence"
)

type Deps struct {
	Registry    *presence.Registry
	AppSessions SessionLister
	Activities  map[string]ActivityReader
	Reaper      Sweeper
	Gatherer    prometheus.Gatherer
	Ping        func(ctx context.Context) error
	// Gate serves GET /ws when set.
	Gate   http.Handler
	Logger *zap.Logger
}

func NewRouter(deps Deps) *gin.Engine {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	router := gin.New()
	router.Use(gin.Recovery())
	RegisterRoutes(router, deps)
	return router
}

func RegisterRoutes(router *gin.Engine, deps Deps) {
	router.GET("/healthz", Healthz(deps.Ping))
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	if deps.Gate != nil {
		router.GET("/ws", gin.WrapH(deps.Gate))
	}

	admin := router.Group("/admin")
	admin.GET("/sessions", ListSessions(deps.AppSessions, deps.Logger))
	admin.GET("/apps/:app/characters/online", CharactersOnline(deps.Registry, deps.Logger))
	admin.GET("/apps/:app/sessions/:session/log", SessionLog(deps.Activities, deps.Logger))
	admin.POST("/sweep", Sweep(deps.Reaper, deps.Logger))
}
