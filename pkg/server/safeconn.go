package server

import (
	"bufio"
	"net"
	"sync"
)

// SafeConn wraps a net.Conn with write synchronization. Router replies,
// broadcasts from other connections and the watchdog's teardown all write
// through the same SafeConn, so every line is written and flushed under
// one mutex and partial lines never interleave.
type SafeConn struct {
	conn net.Conn
	mu   sync.Mutex
	w    *bufio.Writer
}

// NewSafeConn wraps conn for serialized line writes.
func NewSafeConn(conn net.Conn) *SafeConn {
	return &SafeConn{
		conn: conn,
		w:    bufio.NewWriterSize(conn, 64*1024),
	}
}

// WriteLine writes one wire line plus the terminating newline and flushes.
func (c *SafeConn) WriteLine(line []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.w.Write(line); err != nil {
		return err
	}
	if err := c.w.WriteByte('\n'); err != nil {
		return err
	}
	return c.w.Flush()
}

// Close closes the underlying connection, unblocking any pending read.
func (c *SafeConn) Close() error {
	return c.conn.Close()
}

// RemoteAddr returns the remote address of the underlying connection.
func (c *SafeConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}
