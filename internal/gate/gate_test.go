package gate

import (
	"context"
	"encoding/json"
	"net"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Akido22/mmogamelab/internal/presence"
	"github.com/Akido22/mmogamelab/internal/protocol"
	"github.com/Akido22/mmogamelab/internal/transport"
)

type fakePresence struct {
	mu    sync.Mutex
	calls []string
	ready presence.ReadyResult
	fail  bool
}

func (p *fakePresence) add(call string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, call)
	if p.fail {
		return assert.AnError
	}
	return nil
}

func (p *fakePresence) Connected(_ context.Context, sid string) error {
	return p.add("connect:" + sid)
}

func (p *fakePresence) Disconnected(_ context.Context, sid string) error {
	return p.add("disconnect:" + sid)
}

func (p *fakePresence) Login(_ context.Context, sid, character string) error {
	return p.add("login:" + sid + ":" + character)
}

func (p *fakePresence) Logout(_ context.Context, sid string) error {
	return p.add("logout:" + sid)
}

func (p *fakePresence) Ready(_ context.Context, sid, _ string) (presence.ReadyResult, error) {
	return p.ready, p.add("ready:" + sid)
}

func (p *fakePresence) snapshot() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

type fakeSessions struct {
	mu      sync.Mutex
	ensured []string
}

func (s *fakeSessions) EnsureSession(_ context.Context, sid, _ string, _ time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensured = append(s.ensured, sid)
	return true, nil
}

type wireEnvelope struct {
	MsgID   int            `json:"msg_id"`
	Session string         `json:"session"`
	Data    map[string]any `json:"data"`
}

func startGate(t *testing.T, p *fakePresence, opts ...Option) (*Gate, *httptest.Server) {
	t.Helper()
	g := NewGate(p, &fakeSessions{}, append([]Option{WithJSON(true)}, opts...)...)
	srv := httptest.NewServer(g)
	t.Cleanup(srv.Close)
	return g, srv
}

func dial(t *testing.T, srv *httptest.Server, session string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?session=" + session
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func send(t *testing.T, ws *websocket.Conn, msgID int, data map[string]any) {
	t.Helper()
	raw, err := json.Marshal(map[string]any{"msg_id": msgID, "data": data})
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, raw))
}

func recv(t *testing.T, ws *websocket.Conn) wireEnvelope {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := ws.ReadMessage()
	require.NoError(t, err)
	var env wireEnvelope
	require.NoError(t, json.Unmarshal(raw, &env))
	return env
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	assert.Eventually(t, cond, 2*time.Second, 10*time.Millisecond)
}

func TestGate_ConnectLoginReadyLogout(t *testing.T) {
	p := &fakePresence{ready: presence.ReadyOK}
	_, srv := startGate(t, p)
	ws := dial(t, srv, "s1")

	hello := recv(t, ws)
	assert.Equal(t, protocol.MsgSessionInit, hello.MsgID)
	assert.Equal(t, "s1", hello.Data["session"])

	send(t, ws, protocol.MsgLoginReq, map[string]any{"character": "c1"})
	rsp := recv(t, ws)
	assert.Equal(t, protocol.MsgLoginRsp, rsp.MsgID)
	assert.Equal(t, float64(protocol.OK), rsp.Data["code"])
	assert.Equal(t, "c1", rsp.Data["character"])

	send(t, ws, protocol.MsgReadyReq, nil)
	rsp = recv(t, ws)
	assert.Equal(t, protocol.MsgReadyRsp, rsp.MsgID)
	assert.Equal(t, "ok", rsp.Data["result"])

	send(t, ws, protocol.MsgHeartbeatReq, nil)
	rsp = recv(t, ws)
	assert.Equal(t, protocol.MsgHeartbeatRsp, rsp.MsgID)

	send(t, ws, protocol.MsgLogoutReq, nil)
	rsp = recv(t, ws)
	assert.Equal(t, protocol.MsgLogoutRsp, rsp.MsgID)

	require.NoError(t, ws.Close())
	waitFor(t, func() bool { return len(p.snapshot()) == 5 })
	assert.Equal(t, []string{
		"connect:s1",
		"login:s1:c1",
		"ready:s1",
		"logout:s1",
		"disconnect:s1",
	}, p.snapshot())
}

func TestGate_LoginValidationAndFailure(t *testing.T) {
	p := &fakePresence{}
	_, srv := startGate(t, p)
	ws := dial(t, srv, "s1")
	recv(t, ws)

	send(t, ws, protocol.MsgLoginReq, map[string]any{})
	rsp := recv(t, ws)
	assert.Equal(t, float64(protocol.ErrInvalidParam), rsp.Data["code"])

	p.mu.Lock()
	p.fail = true
	p.mu.Unlock()
	send(t, ws, protocol.MsgLoginReq, map[string]any{"character": "c1"})
	rsp = recv(t, ws)
	assert.Equal(t, float64(protocol.ErrLoginFailed), rsp.Data["code"])
}

func TestGate_LoginRateLimit(t *testing.T) {
	p := &fakePresence{}
	_, srv := startGate(t, p, WithLoginLimit(2, time.Minute))
	ws := dial(t, srv, "s1")
	recv(t, ws)

	var codes []float64
	for i := 0; i < 3; i++ {
		send(t, ws, protocol.MsgLoginReq, map[string]any{"character": "c1"})
		codes = append(codes, recv(t, ws).Data["code"].(float64))
	}
	assert.Equal(t, []float64{0, 0, float64(protocol.ErrLoginFailed)}, codes)
}

func TestGate_UnknownMessage(t *testing.T) {
	_, srv := startGate(t, &fakePresence{})
	ws := dial(t, srv, "s1")
	recv(t, ws)

	send(t, ws, 4242, nil)
	rsp := recv(t, ws)
	assert.Equal(t, protocol.MsgErrorRsp, rsp.MsgID)
	assert.Equal(t, float64(4242), rsp.Data["req_msg_id"])
}

func TestGate_SecondConnectionKeepsSessionConnected(t *testing.T) {
	p := &fakePresence{}
	g, srv := startGate(t, p)
	first := dial(t, srv, "s1")
	recv(t, first)
	second := dial(t, srv, "s1")
	recv(t, second)

	require.NoError(t, first.Close())
	waitFor(t, func() bool {
		_, conns := g.Sessions().Count()
		return conns == 1
	})
	assert.NotContains(t, p.snapshot(), "disconnect:s1")

	require.NoError(t, second.Close())
	waitFor(t, func() bool {
		for _, call := range p.snapshot() {
			if call == "disconnect:s1" {
				return true
			}
		}
		return false
	})
}

func TestGate_DeliverCloseDropsConnection(t *testing.T) {
	p := &fakePresence{}
	g, srv := startGate(t, p)
	ws := dial(t, srv, "s1")
	recv(t, ws)

	g.Deliver(protocol.ChannelID("s1"), []protocol.Packet{protocol.ClosePacket()})

	push := recv(t, ws)
	assert.Equal(t, protocol.MsgPush, push.MsgID)
	packets, ok := push.Data["packets"].([]any)
	require.True(t, ok)
	require.Len(t, packets, 1)
	assert.Equal(t, "close", packets[0].(map[string]any)["method"])

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := ws.ReadMessage()
	assert.Error(t, err)
	waitFor(t, func() bool {
		calls := p.snapshot()
		return len(calls) > 0 && calls[len(calls)-1] == "disconnect:s1"
	})
}

func TestGate_DeliverIgnoresOtherChannels(t *testing.T) {
	g, _ := startGate(t, &fakePresence{})
	g.Deliver("lobby", []protocol.Packet{protocol.ClosePacket()})
	g.Deliver(protocol.ChannelID("nobody"), []protocol.Packet{protocol.ClosePacket()})
	assert.ErrorIs(t, g.Kick("nobody", "test"), ErrSessionNotFound)
}

func TestGate_HeartbeatTimeoutKicks(t *testing.T) {
	p := &fakePresence{}
	g, srv := startGate(t, p, WithHeartbeat(time.Hour, 50*time.Millisecond))
	ws := dial(t, srv, "s1")
	recv(t, ws)

	time.Sleep(100 * time.Millisecond)
	g.checkHeartbeat()

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := ws.ReadMessage()
	assert.Error(t, err)
}

func TestGate_TCPSessionInit(t *testing.T) {
	p := &fakePresence{}
	g := NewGate(p, &fakeSessions{}, WithInitTimeout(time.Second))
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go g.ServeTCP(ctx, ln)
	defer ln.Close()

	raw, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	client := transport.NewBufferedConn(raw)
	defer client.Close()

	require.NoError(t, client.WriteEnvelope(&transport.Envelope{
		MsgID: protocol.MsgSessionInit,
		Data:  map[string]any{"session": "tcp-1"},
	}))
	env, err := client.ReadEnvelope()
	require.NoError(t, err)
	assert.Equal(t, protocol.MsgSessionInit, env.MsgID)
	assert.Equal(t, "tcp-1", env.Session)

	waitFor(t, func() bool {
		calls := p.snapshot()
		return len(calls) == 1 && calls[0] == "connect:tcp-1"
	})
}

func TestGate_TCPRejectsMessageBeforeInit(t *testing.T) {
	g := NewGate(&fakePresence{}, &fakeSessions{})
	server, clientRaw := net.Pipe()
	client := transport.NewBufferedConn(clientRaw)
	defer client.Close()

	done := make(chan struct{})
	go func() {
		g.ServeConn(context.Background(), transport.NewBufferedConn(server), "")
		close(done)
	}()

	require.NoError(t, client.WriteEnvelope(&transport.Envelope{MsgID: protocol.MsgLoginReq}))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("connection not closed")
	}
}

func TestGate_InitTimeout(t *testing.T) {
	g := NewGate(&fakePresence{}, &fakeSessions{}, WithInitTimeout(30*time.Millisecond))
	server, clientRaw := net.Pipe()
	defer clientRaw.Close()

	done := make(chan struct{})
	go func() {
		g.ServeConn(context.Background(), transport.NewBufferedConn(server), "")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("idle unbound connection not closed")
	}
}
