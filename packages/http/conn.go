package http

import (
	"net"
	"time"
)

// deadlineConn applies a read timeout to every read, so a stalled peer fails
// the request instead of blocking forever.
type deadlineConn struct {
	net.Conn
	readTimeout time.Duration
}

func (c *deadlineConn) Read(b []byte) (int, error) {
	if err := c.Conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
		return 0, err
	}
	return c.Conn.Read(b)
}
