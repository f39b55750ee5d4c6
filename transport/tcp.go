// Copyright 2026 The Wombat Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"net"
	"time"
)

var _ Dialer = (*TCPDialer)(nil)

// tcpKeepAlive is the OS-level keep-alive period on tunnel sockets.
// HTTP/2 pings detect dead peers sooner; this catches half-open
// connections while a handshake is stalled.
const tcpKeepAlive = 30 * time.Second

// TCPDialer dials a broker over plain TCP.
type TCPDialer struct {
	// Timeout bounds connection establishment. Zero leaves only the
	// context deadline.
	Timeout time.Duration
}

// DialContext opens a TCP connection to address (host:port).
func (d *TCPDialer) DialContext(ctx context.Context, address string) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: d.Timeout, KeepAlive: tcpKeepAlive}
	return dialer.DialContext(ctx, "tcp", address)
}

// Listen opens the broker's tunnel listener on address. Use ":0" for
// a random port.
func Listen(ctx context.Context, address string) (net.Listener, error) {
	config := net.ListenConfig{KeepAlive: tcpKeepAlive}
	return config.Listen(ctx, "tcp", address)
}
