// Copyright 2026 The Wombat Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"net"
	"sync"
)

// Dialer opens the raw connection an agent authenticates over.
type Dialer interface {
	DialContext(ctx context.Context, address string) (net.Conn, error)
}

// watchedConn records the first read failure or Close on a connection
// and closes done. HTTP/2 keeps a read outstanding for the life of the
// connection on both ends, so a failed read means the tunnel is gone.
type watchedConn struct {
	net.Conn

	once  sync.Once
	done  chan struct{}
	mu    sync.Mutex
	cause error
}

func watch(conn net.Conn) *watchedConn {
	return &watchedConn{Conn: conn, done: make(chan struct{})}
}

func (c *watchedConn) Read(p []byte) (int, error) {
	n, err := c.Conn.Read(p)
	if err != nil {
		c.finish(err)
	}
	return n, err
}

func (c *watchedConn) Close() error {
	err := c.Conn.Close()
	c.finish(net.ErrClosed)
	return err
}

func (c *watchedConn) finish(cause error) {
	c.once.Do(func() {
		c.mu.Lock()
		c.cause = cause
		c.mu.Unlock()
		close(c.done)
	})
}

// err returns the reason the connection ended, or nil while it is live.
func (c *watchedConn) err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cause
}
