package transport

import (
	"bufio"
	"net"
	"sync"
)

const defaultBufferSize = 32 * 1024

// BufferedConn carries length-prefixed envelopes over a raw TCP connection.
type BufferedConn struct {
	conn    net.Conn
	reader  *bufio.Reader
	writer  *bufio.Writer
	writeMu sync.Mutex
}

func NewBufferedConn(conn net.Conn) *BufferedConn {
	return &BufferedConn{
		conn:   conn,
		reader: bufio.NewReaderSize(conn, defaultBufferSize),
		writer: bufio.NewWriterSize(conn, defaultBufferSize),
	}
}

func (c *BufferedConn) ReadEnvelope() (*Envelope, error) {
	return readEnvelope(c.reader)
}

func (c *BufferedConn) WriteEnvelope(env *Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := writeEnvelope(c.writer, env); err != nil {
		return err
	}
	return c.writer.Flush()
}

func (c *BufferedConn) RemoteAddr() string {
	return hostOf(c.conn.RemoteAddr())
}

func (c *BufferedConn) Close() error {
	return c.conn.Close()
}

func hostOf(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
