package redis_tools

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	t.Cleanup(func() { _ = Close() })

	require.NoError(t, InitRedis(context.Background(), RedisConfig{Addr: mr.Addr()}))
	require.NotNil(t, RDB())
	assert.Same(t, RDB(), NewRedisDao(nil).Client())

	require.NoError(t, Close())
	assert.Nil(t, RDB())
	assert.NoError(t, Close())
}

func TestInitRedis_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	err := InitRedis(context.Background(), RedisConfig{Addr: addr})
	assert.ErrorContains(t, err, addr)
}

func TestStartHealthCheck_TracksReachability(t *testing.T) {
	mr := miniredis.RunT(t)
	t.Cleanup(func() { _ = Close() })
	require.NoError(t, InitRedis(context.Background(), RedisConfig{Addr: mr.Addr()}))

	up := NewUpGauge(prometheus.NewRegistry())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	StartHealthCheck(ctx, nil, 10*time.Millisecond, up)

	assert.Eventually(t, func() bool { return testutil.ToFloat64(up) == 1 }, time.Second, 5*time.Millisecond)

	mr.Close()
	assert.Eventually(t, func() bool { return testutil.ToFloat64(up) == 0 }, 5*time.Second, 10*time.Millisecond)
}
