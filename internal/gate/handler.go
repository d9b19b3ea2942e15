// internal/gate/handler.go
package gate

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Akido22/mmogamelab/internal/protocol"
	"github.com/Akido22/mmogamelab/internal/transport"
)

func (g *Gate) OnEnvelope(ctx context.Context, c *Conn, env *transport.Envelope) {
	msgID := env.MsgID

	// =========================
	// 1️⃣ 会话绑定：未绑定的连接只接受 SessionInit
	// =========================
	if c.SessionID() == "" {
		if msgID != protocol.MsgSessionInit {
			g.logger.Warn("reject msg before session init", msgFields(c, msgID)...)
			c.close()
			return
		}
		sessionID := env.String("session")
		if sessionID == "" {
			sessionID = env.Session
		}
		if sessionID == "" {
			sessionID = uuid.NewString()
		}
		_ = g.bind(ctx, c, sessionID)
		return
	}

	// =========================
	// 2️⃣ Gate 控制消息
	// =========================
	switch msgID {
	case protocol.MsgSessionInit:
		g.logger.Debug("duplicate session init", msgFields(c, msgID)...)
		return
	case protocol.MsgHeartbeatReq:
		g.onHeartbeat(c)
		return
	}

	// =========================
	// 3️⃣ 业务处理
	// =========================
	h, ok := g.handlers.Get(msgID)
	if !ok {
		atomic.AddUint64(&g.unknownMsgCount, 1)
		g.logger.Warn("unknown msg", msgFields(c, msgID)...)
		g.replyError(c, msgID, protocol.ErrInvalidParam)
		return
	}
	h(ctx, c, env)
}

func (g *Gate) reply(c *Conn, msgID int, data map[string]any) {
	err := c.send(&transport.Envelope{
		MsgID:   msgID,
		Session: c.SessionID(),
		Data:    data,
	})
	switch err {
	case nil:
	case protocol.InternalErrConnBusy:
		atomic.AddUint64(&g.connBusyCount, 1)
		g.logger.Warn("send queue full, closing connection", msgFields(c, msgID)...)
		g.metrics.kick("busy")
		c.close()
	default:
		g.logger.Debug("reply dropped", append(msgFields(c, msgID), zap.Error(err))...)
	}
}

func (g *Gate) replyError(c *Conn, reqMsgID int, code protocol.ErrorCode) {
	g.reply(c, protocol.MsgErrorRsp, map[string]any{
		"req_msg_id": reqMsgID,
		"code":       int(code),
	})
}
