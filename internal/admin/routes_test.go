package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Akido22/mmogamelab/internal/db/redis_tools"
	"github.com/Akido22/mmogamelab/internal/lock"
	"github.com/Akido22/mmogamelab/internal/player_db"
	"github.com/Akido22/mmogamelab/internal/presence"
)

type fixture struct {
	router  *gin.Engine
	machine *presence.Machine
	store   *player_db.RedisStore
	now     time.Time
}

func newFixture(t *testing.T, ping func(context.Context) error) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	dao := redis_tools.NewRedisDao(client)

	f := &fixture{now: time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)}
	clock := func() time.Time { return f.now }
	f.store = player_db.NewRedisStore(dao, "main")
	appSessions := player_db.NewAppSessionStore(dao)

	reg := prometheus.NewRegistry()
	metrics := presence.NewMetrics(reg)
	registry := presence.NewRegistry()
	f.machine = presence.NewMachine(presence.Backend{
		App:      "main",
		Sessions: f.store,
		Markers:  f.store,
		Activity: f.store,
		Locker:   lock.NewRedisLocker(client, "main"),
	}, appSessions, presence.WithClock(clock), presence.WithMetrics(metrics), presence.WithRegistry(registry))
	require.NoError(t, registry.Register(f.machine))

	f.router = NewRouter(Deps{
		Registry:    registry,
		AppSessions: appSessions,
		Activities:  map[string]ActivityReader{"main": f.store},
		Reaper:      presence.NewReaper(appSessions, registry, presence.WithReaperClock(clock), presence.WithReaperMetrics(metrics)),
		Gatherer:    reg,
		Ping:        ping,
	})
	return f
}

func (f *fixture) do(t *testing.T, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) login(t *testing.T, sid, character string) {
	t.Helper()
	ctx := context.Background()
	_, err := f.store.EnsureSession(ctx, sid, "", f.now)
	require.NoError(t, err)
	require.NoError(t, f.machine.Login(ctx, sid, character))
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, func(context.Context) error { return nil })
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/healthz").Code)

	down := newFixture(t, func(context.Context) error { return errors.New("redis down") })
	assert.Equal(t, http.StatusServiceUnavailable, down.do(t, http.MethodGet, "/healthz").Code)
}

func TestListSessions(t *testing.T) {
	f := newFixture(t, nil)
	f.login(t, "s1", "c1")
	f.login(t, "s2", "c2")
	_, err := f.machine.Ready(context.Background(), "s2", "")
	require.NoError(t, err)

	rec := f.do(t, http.MethodGet, "/admin/sessions")
	require.Equal(t, http.StatusOK, rec.Code)
	var all []SessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	assert.Len(t, all, 2)

	rec = f.do(t, http.MethodGet, "/admin/sessions?state=online")
	var online []SessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &online))
	require.Len(t, online, 1)
	assert.Equal(t, "s2", online[0].Session)

	rec = f.do(t, http.MethodGet, "/admin/sessions?app=other")
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestCharactersOnline(t *testing.T) {
	f := newFixture(t, nil)
	f.login(t, "s1", "c1")

	rec := f.do(t, http.MethodGet, "/admin/apps/main/characters/online")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"app":"main","characters":["c1"]}`, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/admin/apps/ghost/characters/online")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSessionLog(t *testing.T) {
	f := newFixture(t, nil)
	f.login(t, "s1", "c1")
	require.NoError(t, f.machine.Logout(context.Background(), "s1"))

	rec := f.do(t, http.MethodGet, "/admin/apps/main/sessions/s1/log?limit=1")
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []presence.Activity
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, presence.ActLogout, entries[0].Act)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/admin/apps/main/sessions/s1/log?limit=x").Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/admin/apps/ghost/sessions/s1/log").Code)
}

func TestSweepAndMetrics(t *testing.T) {
	f := newFixture(t, nil)
	f.login(t, "s1", "c1")
	f.now = f.now.Add(5 * time.Minute)

	rec := f.do(t, http.MethodPost, "/admin/sweep")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats presence.SweepStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, presence.SweepStats{Scanned: 1, Disconnected: 1}, stats)

	rec = f.do(t, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `presence_sweep_records_total{outcome="disconnected"} 1`)
}
