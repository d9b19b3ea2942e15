package gate

import (
	"go.uber.org/zap"

	"github.com/Akido22/mmogamelab/internal/protocol"
)

// Deliver writes pushed packets to the local connections of the channel's
// session. A close packet drops those connections after the push is written.
func (g *Gate) Deliver(channel string, packets []protocol.Packet) {
	sessionID, ok := protocol.SessionFromChannel(channel)
	if !ok {
		g.logger.Debug("push to unknown channel", zap.String("channel", channel))
		return
	}
	conns := g.conns.Get(sessionID)
	if len(conns) == 0 {
		return
	}

	closing := false
	items := make([]any, 0, len(packets))
	for _, p := range packets {
		item := map[string]any{
			"cls":    p.Cls,
			"method": p.Method,
		}
		if len(p.Data) > 0 {
			item["data"] = p.Data
		}
		items = append(items, item)
		if p.IsClose() {
			closing = true
		}
	}

	for _, c := range conns {
		g.reply(c, protocol.MsgPush, map[string]any{"packets": items})
		if closing {
			g.logger.Info("push close", connFields(c)...)
			g.metrics.kick("push_close")
			c.closeAfterFlush()
		}
	}
}
