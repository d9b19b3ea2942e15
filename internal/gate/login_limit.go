package gate

import (
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// allowLogin runs on the connection's read goroutine. Each connection gets a
// token bucket of loginRateLimitCount logins refilled over loginRateLimitWindow.
func (g *Gate) allowLogin(c *Conn) bool {
	if c == nil || g.loginRateLimitCount <= 0 || g.loginRateLimitWindow <= 0 {
		return true
	}
	if c.loginLimiter == nil {
		every := g.loginRateLimitWindow / time.Duration(g.loginRateLimitCount)
		c.loginLimiter = rate.NewLimiter(rate.Every(every), g.loginRateLimitCount)
	}
	if !c.loginLimiter.AllowN(g.now(), 1) {
		atomic.AddUint64(&g.loginRateLimitCounted, 1)
		return false
	}
	return true
}
