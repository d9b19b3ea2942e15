package gate

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/Akido22/mmogamelab/internal/protocol"
)

func (g *Gate) onHeartbeat(c *Conn) {
	g.reply(c, protocol.MsgHeartbeatRsp, map[string]any{
		"server_time": g.now().UnixMilli(),
	})
}

func (g *Gate) heartbeatLoop(ctx context.Context) {
	if g.heartbeatInterval <= 0 {
		return
	}

	ticker := time.NewTicker(g.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.checkHeartbeat()
		}
	}
}

func (g *Gate) checkHeartbeat() {
	if g.heartbeatTimeout <= 0 {
		return
	}

	now := g.now()
	for _, c := range g.conns.snapshot() {
		if c.idleSince(now) > g.heartbeatTimeout {
			atomic.AddUint64(&g.heartbeatTimeoutCount, 1)
			g.logger.Warn("heartbeat timeout", connFields(c)...)
			g.metrics.kick("heartbeat")
			c.close()
		}
	}
}
