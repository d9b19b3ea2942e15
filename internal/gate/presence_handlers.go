package gate

import (
	"context"

	"go.uber.org/zap"

	"github.com/Akido22/mmogamelab/internal/protocol"
	"github.com/Akido22/mmogamelab/internal/transport"
)

func (g *Gate) registerHandlers() {
	if err := g.handlers.RegisterAll(map[int]HandlerFunc{
		protocol.MsgLoginReq:  g.handleLogin,
		protocol.MsgLogoutReq: g.handleLogout,
		protocol.MsgReadyReq:  g.handleReady,
	}); err != nil {
		panic(err)
	}
	g.logger.Debug("gate handlers registered", zap.Ints("msg_ids", g.handlers.MsgIDs()))
}

func (g *Gate) handleLogin(ctx context.Context, c *Conn, env *transport.Envelope) {
	characterID := env.String("character")
	if characterID == "" {
		g.reply(c, protocol.MsgLoginRsp, codeData(protocol.ErrInvalidParam))
		return
	}
	if !g.allowLogin(c) {
		g.logger.Warn("login rate limited", msgFields(c, env.MsgID)...)
		g.reply(c, protocol.MsgLoginRsp, codeData(protocol.ErrLoginFailed))
		return
	}

	if err := g.presence.Login(ctx, c.SessionID(), characterID); err != nil {
		g.logger.Error("login failed", append(msgFields(c, env.MsgID),
			zap.String("character", characterID),
			zap.Error(err),
		)...)
		g.reply(c, protocol.MsgLoginRsp, codeData(protocol.ErrLoginFailed))
		return
	}

	data := codeData(protocol.OK)
	data["character"] = characterID
	g.reply(c, protocol.MsgLoginRsp, data)
}

func (g *Gate) handleLogout(ctx context.Context, c *Conn, env *transport.Envelope) {
	if err := g.presence.Logout(ctx, c.SessionID()); err != nil {
		g.logger.Error("logout failed", append(msgFields(c, env.MsgID), zap.Error(err))...)
		g.reply(c, protocol.MsgLogoutRsp, codeData(protocol.ErrLogoutFailed))
		return
	}
	g.reply(c, protocol.MsgLogoutRsp, codeData(protocol.OK))
}

func (g *Gate) handleReady(ctx context.Context, c *Conn, env *transport.Envelope) {
	result, err := g.presence.Ready(ctx, c.SessionID(), c.ip)
	if err != nil {
		g.logger.Error("ready failed", append(msgFields(c, env.MsgID), zap.Error(err))...)
		g.reply(c, protocol.MsgReadyRsp, codeData(protocol.ErrReadyFailed))
		return
	}
	data := codeData(protocol.OK)
	data["result"] = result.String()
	g.reply(c, protocol.MsgReadyRsp, data)
}

func codeData(code protocol.ErrorCode) map[string]any {
	return map[string]any{"code": int(code)}
}
