package main

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/kvrouter/kvrouter/internal/destination"
)

// tcpDialer builds connectivity-check transports. Each Send opens a TCP
// connection to the endpoint and closes it again; the watchdog only cares
// whether the destination accepts connections, not what it speaks.
type tcpDialer struct{}

func (tcpDialer) Dial(endpoint string, callbacks destination.StatusCallbacks) (destination.Conn, error) {
	return &tcpConn{endpoint: endpoint, callbacks: callbacks}, nil
}

type tcpConn struct {
	endpoint  string
	callbacks destination.StatusCallbacks

	mu       sync.Mutex
	up       bool
	closed   bool
	inflight int
}

func (c *tcpConn) Send(_ context.Context, _ *destination.Request, timeout time.Duration) destination.Reply {
	if timeout <= 0 {
		timeout = time.Second
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return destination.Reply{Result: destination.OutcomeConnectError}
	}
	c.inflight++
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.inflight--
		c.mu.Unlock()
	}()

	conn, err := net.DialTimeout("tcp", c.endpoint, timeout)
	if err != nil {
		c.markDown()
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return destination.Reply{Result: destination.OutcomeConnectTimeout}
		}
		return destination.Reply{Result: destination.OutcomeConnectError}
	}
	conn.Close()

	c.markUp()
	return destination.Reply{Result: destination.OutcomeOK}
}

// markUp reports the first successful connect after a failure. The reply
// classification does the failure accounting, so markDown only tracks the
// flag for edge detection.
func (c *tcpConn) markUp() {
	c.mu.Lock()
	wasUp := c.up
	c.up = true
	c.mu.Unlock()
	if !wasUp && c.callbacks.OnUp != nil {
		c.callbacks.OnUp()
	}
}

func (c *tcpConn) markDown() {
	c.mu.Lock()
	c.up = false
	c.mu.Unlock()
}

func (c *tcpConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *tcpConn) SetThrottle(int, int)        {}
func (c *tcpConn) UpdateTimeout(time.Duration) {}

func (c *tcpConn) PendingCount() int { return 0 }

func (c *tcpConn) InflightCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inflight
}
