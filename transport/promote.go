// Copyright 2026 The Wombat Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/http2"
)

// ErrPromotionFailed wraps every error returned by Promote. A
// connection that fails promotion must not be registered.
var ErrPromotionFailed = errors.New("transport: promotion failed")

// PromoteConfig tunes the broker side of a tunnel.
type PromoteConfig struct {
	// PingInterval is how long a tunnel may go without receiving a
	// frame before the broker sends a PING. Zero disables pings.
	PingInterval time.Duration

	// PingTimeout is how long to wait for a PING acknowledgement
	// before closing the tunnel. Zero selects the http2 default.
	PingTimeout time.Duration
}

// Tunnel is the broker's handle on one promoted agent connection. It is
// safe for concurrent use; each RoundTrip runs on its own HTTP/2 stream.
type Tunnel struct {
	conn   *watchedConn
	client *http2.ClientConn
}

// Promote switches an authenticated connection to HTTP/2 with the
// broker as client, and confirms the agent is serving by exchanging one
// PING before returning. ctx bounds that exchange only; the tunnel
// lives until Close or until the connection fails.
//
// Promote takes ownership of conn. On failure conn is closed.
func Promote(ctx context.Context, conn net.Conn, config PromoteConfig) (*Tunnel, error) {
	watched := watch(conn)
	transport := &http2.Transport{
		ReadIdleTimeout: config.PingInterval,
		PingTimeout:     config.PingTimeout,
	}

	client, err := transport.NewClientConn(watched)
	if err != nil {
		watched.Close()
		return nil, fmt.Errorf("%w: %w", ErrPromotionFailed, err)
	}
	if err := client.Ping(ctx); err != nil {
		client.Close()
		watched.Close()
		return nil, fmt.Errorf("%w: awaiting agent: %w", ErrPromotionFailed, err)
	}

	return &Tunnel{conn: watched, client: client}, nil
}

// RoundTrip sends one request to the agent. The request URL must carry
// a scheme and host; the agent decides where the request actually goes.
func (t *Tunnel) RoundTrip(request *http.Request) (*http.Response, error) {
	return t.client.RoundTrip(request)
}

// Done is closed once the underlying connection has failed or been
// closed. After that every RoundTrip fails.
func (t *Tunnel) Done() <-chan struct{} {
	return t.conn.done
}

// Err returns why the tunnel ended, or nil while it is live.
func (t *Tunnel) Err() error {
	return t.conn.err()
}

// RemoteAddr is the agent's address as seen by the broker.
func (t *Tunnel) RemoteAddr() net.Addr {
	return t.conn.RemoteAddr()
}

// Ping sends an HTTP/2 PING and waits for the acknowledgement.
func (t *Tunnel) Ping(ctx context.Context) error {
	return t.client.Ping(ctx)
}

// Close tears the tunnel down. In-flight requests fail.
func (t *Tunnel) Close() error {
	err := t.client.Close()
	t.conn.Close()
	return err
}
