package admin

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Akido22/mmogamelab/internal/presence"
)

func notFound(c *gin.Context, message string) {
	c.JSON(http.StatusNotFound, ErrorResponse{Error: CodeNotFound, Message: message})
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: CodeBadRequest, Message: message})
}

func internalError(c *gin.Context, logger *zap.Logger, message string, err error) {
	logger.Error(message, zap.String("path", c.FullPath()), zap.Error(err))
	c.JSON(http.StatusInternalServerError, ErrorResponse{Error: CodeServerError, Message: message})
}

// Healthz answers 200 while ping succeeds.
func Healthz(ping func(ctx context.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if ping != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := ping(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "down", "reason": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

// ListSessions returns every AppSession, optionally filtered by ?app= and ?state=.
func ListSessions(lister SessionLister, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		app := c.Query("app")
		state := c.Query("state")

		records, err := lister.List(c.Request.Context())
		if err != nil {
			internalError(c, logger, "failed to list sessions", err)
			return
		}

		out := make([]SessionResponse, 0, len(records))
		for _, as := range records {
			if app != "" && as.App != app {
				continue
			}
			if state != "" && as.State.String() != state {
				continue
			}
			out = append(out, toSessionResponse(as))
		}
		c.JSON(http.StatusOK, out)
	}
}

func CharactersOnline(registry *presence.Registry, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		app := c.Param("app")
		m, ok := registry.Lookup(app)
		if !ok {
			notFound(c, "unknown app")
			return
		}
		ids, err := m.CharactersOnline(c.Request.Context())
		if err != nil {
			internalError(c, logger, "failed to list online characters", err)
			return
		}
		if ids == nil {
			ids = []string{}
		}
		c.JSON(http.StatusOK, CharactersOnlineResponse{App: app, Characters: ids})
	}
}

func SessionLog(readers map[string]ActivityReader, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		reader, ok := readers[c.Param("app")]
		if !ok {
			notFound(c, "unknown app")
			return
		}

		limit := int64(20)
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || n <= 0 {
				badRequest(c, "limit must be a positive integer")
				return
			}
			limit = n
		}

		entries, err := reader.Activities(c.Request.Context(), c.Param("session"), limit)
		if err != nil {
			internalError(c, logger, "failed to read session log", err)
			return
		}
		if entries == nil {
			entries = []presence.Activity{}
		}
		c.JSON(http.StatusOK, entries)
	}
}

func Sweep(sweeper Sweeper, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := sweeper.Sweep(c.Request.Context())
		if err != nil {
			internalError(c, logger, "sweep failed", err)
			return
		}
		c.JSON(http.StatusOK, stats)
	}
}
