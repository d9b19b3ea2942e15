// internal/gate/auth_timeout.go
package gate

import (
	"sync/atomic"
	"time"
)

// armInitTimeout closes c if it is still without a session after initTimeout.
func (g *Gate) armInitTimeout(c *Conn) {
	if g.initTimeout <= 0 {
		return
	}
	time.AfterFunc(g.initTimeout, func() {
		if c.SessionID() != "" || c.isClosed() {
			return
		}
		atomic.AddUint64(&g.initTimeoutCount, 1)
		g.logger.Warn("session init timeout", connFields(c)...)
		g.metrics.kick("init_timeout")
		c.close()
	})
}
