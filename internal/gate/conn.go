// internal/gate/conn.go
package gate

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/Akido22/mmogamelab/internal/protocol"
	"github.com/Akido22/mmogamelab/internal/transport"
)

const sendQueueSize = 64

// Conn is one live client connection. Reads happen on the serving goroutine,
// writes on writeLoop.
type Conn struct {
	id      int64
	traceID string
	ip      string
	tc      transport.Conn

	mu        sync.Mutex
	sessionID string

	sendCh    chan *transport.Envelope
	closed    chan struct{}
	closeOnce sync.Once
	lastSeen  atomic.Int64

	// 只在读协程中访问
	loginLimiter *rate.Limiter
}

func newConn(id int64, traceID string, tc transport.Conn) *Conn {
	c := &Conn{
		id:      id,
		traceID: traceID,
		ip:      tc.RemoteAddr(),
		tc:      tc,
		sendCh:  make(chan *transport.Envelope, sendQueueSize),
		closed:  make(chan struct{}),
	}
	c.touch(time.Now())
	return c
}

func (c *Conn) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *Conn) bindSession(sessionID string) {
	c.mu.Lock()
	c.sessionID = sessionID
	c.mu.Unlock()
}

func (c *Conn) touch(now time.Time) {
	c.lastSeen.Store(now.UnixNano())
}

func (c *Conn) idleSince(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, c.lastSeen.Load()))
}

// send queues env without blocking. A full queue means the client is not
// reading; the caller decides whether to kick it.
func (c *Conn) send(env *transport.Envelope) error {
	select {
	case <-c.closed:
		return protocol.InternalErrConnClosed
	default:
	}
	select {
	case c.sendCh <- env:
		return nil
	default:
		return protocol.InternalErrConnBusy
	}
}

// closeAfterFlush closes the connection once everything queued so far is written.
func (c *Conn) closeAfterFlush() {
	select {
	case c.sendCh <- nil:
	default:
		c.close()
	}
}

func (c *Conn) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.tc.Close()
	})
}

func (c *Conn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *Conn) writeLoop() {
	for {
		select {
		case <-c.closed:
			return
		case env := <-c.sendCh:
			if env == nil {
				c.close()
				return
			}
			if err := c.tc.WriteEnvelope(env); err != nil {
				c.close()
				return
			}
		}
	}
}
