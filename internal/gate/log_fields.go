package gate

import "go.uber.org/zap"

func connFields(c *Conn) []zap.Field {
	if c == nil {
		return []zap.Field{
			zap.Int64("conn_id", 0),
			zap.String("trace_id", ""),
		}
	}
	return []zap.Field{
		zap.Int64("conn_id", c.id),
		zap.String("trace_id", c.traceID),
		zap.String("session", c.SessionID()),
		zap.String("ip", c.ip),
	}
}

func msgFields(c *Conn, msgID int) []zap.Field {
	return append(connFields(c), zap.Int("msg_id", msgID))
}
