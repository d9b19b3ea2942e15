// Package gate terminates client connections and turns their messages and
// lifecycle into presence transitions.
package gate

import (
	"context"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Akido22/mmogamelab/internal/handler"
	"github.com/Akido22/mmogamelab/internal/protocol"
	"github.com/Akido22/mmogamelab/internal/transport"
)

// HandlerFunc serves one client message on a bound connection.
type HandlerFunc func(ctx context.Context, c *Conn, env *transport.Envelope)

type Gate struct {
	logger   *zap.Logger
	presence Presence
	sessions SessionEnsurer
	conns    *SessionManager
	handlers *handler.Registry[HandlerFunc]
	upgrader websocket.Upgrader
	metrics  *Metrics

	useJSON           bool
	heartbeatInterval time.Duration
	heartbeatTimeout  time.Duration
	initTimeout       time.Duration
	statsInterval     time.Duration

	loginRateLimitCount  int
	loginRateLimitWindow time.Duration

	heartbeatTimeoutCount uint64
	initTimeoutCount      uint64
	loginRateLimitCounted uint64
	unknownMsgCount       uint64
	connBusyCount         uint64

	nextID int64
	now    func() time.Time
}

type Option func(*Gate)

func WithLogger(logger *zap.Logger) Option {
	return func(g *Gate) {
		if logger != nil {
			g.logger = logger
		}
	}
}

func WithHeartbeat(interval, timeout time.Duration) Option {
	return func(g *Gate) {
		g.heartbeatInterval = interval
		g.heartbeatTimeout = timeout
	}
}

// WithJSON makes the gate answer with protojson text frames.
func WithJSON(useJSON bool) Option {
	return func(g *Gate) {
		g.useJSON = useJSON
	}
}

// WithInitTimeout bounds how long a connection may stay without a session.
func WithInitTimeout(d time.Duration) Option {
	return func(g *Gate) {
		g.initTimeout = d
	}
}

func WithLoginLimit(count int, window time.Duration) Option {
	return func(g *Gate) {
		g.loginRateLimitCount = count
		g.loginRateLimitWindow = window
	}
}

func WithMetrics(metrics *Metrics) Option {
	return func(g *Gate) {
		g.metrics = metrics
	}
}

func NewGate(presence Presence, sessions SessionEnsurer, opts ...Option) *Gate {
	g := &Gate{
		logger:               zap.NewNop(),
		presence:             presence,
		sessions:             sessions,
		conns:                NewSessionManager(),
		handlers:             handler.NewRegistry[HandlerFunc](),
		heartbeatInterval:    10 * time.Second,
		heartbeatTimeout:     30 * time.Second,
		initTimeout:          10 * time.Second,
		statsInterval:        time.Minute,
		loginRateLimitCount:  5,
		loginRateLimitWindow: 10 * time.Second,
		now:                  time.Now,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(g)
	}
	g.registerHandlers()
	return g
}

func (g *Gate) Start(ctx context.Context) {
	go g.heartbeatLoop(ctx)
	go g.reportStats(ctx, g.statsInterval)
}

func (g *Gate) nextConnID() int64 {
	return atomic.AddInt64(&g.nextID, 1)
}

// Sessions exposes the local connection index.
func (g *Gate) Sessions() *SessionManager {
	return g.conns
}

// ServeHTTP upgrades GET /ws?session=<uuid>. A missing session id gets a
// fresh one.
func (g *Gate) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	g.ServeConn(r.Context(), transport.NewWSConn(ws, g.useJSON), sessionID)
}

// ServeTCP accepts raw connections until ln is closed. Those connections must
// open with a session init message.
func (g *Gate) ServeTCP(ctx context.Context, ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			g.logger.Info("tcp listener stopped", zap.Error(err))
			return
		}
		go g.ServeConn(ctx, transport.NewBufferedConn(conn), "")
	}
}

// ServeConn runs one connection until it closes. sessionID may be empty, in
// which case the first message must be a session init.
func (g *Gate) ServeConn(ctx context.Context, tc transport.Conn, sessionID string) {
	c := newConn(g.nextConnID(), uuid.NewString(), tc)
	go c.writeLoop()
	defer g.onConnClose(ctx, c)

	if sessionID != "" {
		if err := g.bind(ctx, c, sessionID); err != nil {
			return
		}
	} else {
		g.armInitTimeout(c)
	}
	g.readLoop(ctx, c)
}

func (g *Gate) readLoop(ctx context.Context, c *Conn) {
	for {
		env, err := c.tc.ReadEnvelope()
		if err != nil {
			if !c.isClosed() {
				g.logger.Debug("connection read ended", append(connFields(c), zap.Error(err))...)
			}
			return
		}
		c.touch(g.now())
		g.OnEnvelope(ctx, c, env)
		if c.isClosed() {
			return
		}
	}
}

// bind attaches c to sessionID and reports the connection to presence.
func (g *Gate) bind(ctx context.Context, c *Conn, sessionID string) error {
	if _, err := g.sessions.EnsureSession(ctx, sessionID, c.ip, g.now()); err != nil {
		g.logger.Error("ensure session failed", append(connFields(c), zap.Error(err))...)
		c.close()
		return err
	}

	c.bindSession(sessionID)
	g.conns.Add(sessionID, c)
	g.metrics.connOpened()

	if err := g.presence.Connected(ctx, sessionID); err != nil {
		g.logger.Error("presence connect failed", append(connFields(c), zap.Error(err))...)
	}
	g.reply(c, protocol.MsgSessionInit, map[string]any{"session": sessionID})
	g.logger.Info("connection bound", connFields(c)...)
	return nil
}

func (g *Gate) onConnClose(ctx context.Context, c *Conn) {
	c.close()

	sessionID := c.SessionID()
	if sessionID == "" {
		return
	}
	g.metrics.connClosed()
	if remaining := g.conns.Remove(sessionID, c); remaining > 0 {
		g.logger.Info("connection closed, session still connected",
			append(connFields(c), zap.Int("remaining", remaining))...)
		return
	}

	// 连接已断开，请求的 ctx 可能随之取消
	ctx = context.WithoutCancel(ctx)
	if err := g.presence.Disconnected(ctx, sessionID); err != nil {
		g.logger.Error("presence disconnect failed", append(connFields(c), zap.Error(err))...)
		return
	}
	g.logger.Info("connection closed", connFields(c)...)
}

// Kick closes every local connection of sessionID.
func (g *Gate) Kick(sessionID string, reason string) error {
	conns := g.conns.Get(sessionID)
	if len(conns) == 0 {
		return ErrSessionNotFound
	}
	for _, c := range conns {
		g.logger.Info("kick connection", append(connFields(c), zap.String("reason", reason))...)
		g.metrics.kick(reason)
		c.close()
	}
	return nil
}
