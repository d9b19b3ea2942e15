package gate

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Metrics exports gate connection counts. A nil *Metrics records nothing.
type Metrics struct {
	connections prometheus.Gauge
	kicks       *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gate",
			Name:      "connections",
			Help:      "Live client connections bound to a session.",
		}),
		kicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gate",
			Name:      "kicks_total",
			Help:      "Connections closed by the gate, by reason.",
		}, []string{"reason"}),
	}
	if reg != nil {
		reg.MustRegister(m.connections, m.kicks)
	}
	return m
}

func (m *Metrics) connOpened() {
	if m == nil {
		return
	}
	m.connections.Inc()
}

func (m *Metrics) connClosed() {
	if m == nil {
		return
	}
	m.connections.Dec()
}

func (m *Metrics) kick(reason string) {
	if m == nil {
		return
	}
	m.kicks.WithLabelValues(reason).Inc()
}

func (g *Gate) reportStats(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			heartbeatTimeouts := atomic.SwapUint64(&g.heartbeatTimeoutCount, 0)
			initTimeouts := atomic.SwapUint64(&g.initTimeoutCount, 0)
			loginLimited := atomic.SwapUint64(&g.loginRateLimitCounted, 0)
			unknownMsgs := atomic.SwapUint64(&g.unknownMsgCount, 0)
			connBusy := atomic.SwapUint64(&g.connBusyCount, 0)

			if heartbeatTimeouts == 0 && initTimeouts == 0 && loginLimited == 0 && unknownMsgs == 0 && connBusy == 0 {
				continue
			}
			sessions, conns := g.conns.Count()
			g.logger.Info("gate stats",
				zap.Uint64("heartbeat_timeout", heartbeatTimeouts),
				zap.Uint64("init_timeout", initTimeouts),
				zap.Uint64("login_rate_limited", loginLimited),
				zap.Uint64("unknown_msg", unknownMsgs),
				zap.Uint64("conn_busy", connBusy),
				zap.Int("sessions", sessions),
				zap.Int("conns", conns),
			)
		}
	}
}
