// Copyright 2026 The Wombat Authors
// SPDX-License-Identifier: Apache-2.0

// Package agent runs the user-side end of a tunnel: it dials the
// broker, authenticates with its secret key, and serves the requests
// the broker sends over the promoted connection by proxying them to a
// local HTTP endpoint.
//
// [Agent.Run] keeps a tunnel up until its context ends. Lost
// connections are redialed with exponential backoff. Two handshake
// outcomes are final and stop Run instead: a protocol version mismatch
// (this binary is outdated) and an unknown key (a new key must be
// issued). Redialing would only repeat them.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/jpillora/backoff"

	"github.com/hazelnutcloud/wombat/handshake"
	"github.com/hazelnutcloud/wombat/lib/netutil"
	"github.com/hazelnutcloud/wombat/lib/secret"
	"github.com/hazelnutcloud/wombat/transport"
)

const defaultHandshakeTimeout = 10 * time.Second

// Agent holds one tunnel to a broker.
type Agent struct {
	// Address is the broker's tunnel address (host:port).
	Address string

	// Dialer opens connections to Address. If nil, a TCPDialer with a
	// 10s timeout is used.
	Dialer transport.Dialer

	// Key is the secret key presented during the handshake. The agent
	// borrows it and never closes it.
	Key *secret.Buffer

	// Upstream is the local endpoint relayed requests are proxied to.
	// The request path and query are preserved.
	Upstream *url.URL

	// Handler, if set, serves relayed requests instead of proxying to
	// Upstream.
	Handler http.Handler

	// HandshakeTimeout bounds the handshake on each connection. Zero
	// selects 10s.
	HandshakeTimeout time.Duration

	// Backoff spaces out redials. Zero fields take jpillora/backoff
	// defaults (100ms up to 10s, factor 2).
	Backoff Backoff

	// Serve tunes the HTTP/2 server side of the tunnel.
	Serve transport.ServeConfig

	// Logger receives connection lifecycle events. If nil,
	// slog.Default() is used.
	Logger *slog.Logger
}

// Backoff bounds the delay between redials.
type Backoff struct {
	Min    time.Duration
	Max    time.Duration
	Factor float64
}

func (a *Agent) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}

// Run connects and serves until ctx is cancelled, which returns nil.
// It returns an error wrapping handshake.ErrVersionMismatch or
// handshake.ErrUnauthorized when the broker rejects this agent for
// good.
func (a *Agent) Run(ctx context.Context) error {
	handler, err := a.handler()
	if err != nil {
		return err
	}
	if a.Key == nil {
		return fmt.Errorf("agent: Key is required")
	}
	dialer := a.Dialer
	if dialer == nil {
		dialer = &transport.TCPDialer{Timeout: 10 * time.Second}
	}

	delays := &backoff.Backoff{
		Min:    a.Backoff.Min,
		Max:    a.Backoff.Max,
		Factor: a.Backoff.Factor,
		Jitter: true,
	}

	for {
		served, err := a.connect(ctx, dialer, handler)
		if ctx.Err() != nil {
			return nil
		}
		switch {
		case errors.Is(err, handshake.ErrVersionMismatch):
			return fmt.Errorf("client is outdated, please update: %w", err)
		case errors.Is(err, handshake.ErrUnauthorized):
			return fmt.Errorf("secret key rejected, issue a new key: %w", err)
		}

		if served {
			delays.Reset()
		}
		delay := delays.Duration()
		if served && netutil.IsExpectedCloseError(err) {
			a.logger().Info("tunnel closed by broker, reconnecting", "delay", delay)
		} else {
			a.logger().Warn("tunnel unavailable, reconnecting", "error", err, "delay", delay, "attempt", delays.Attempt())
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil
		}
	}
}

// connect runs one tunnel from dial to teardown. served reports whether
// the handshake succeeded, so Run can tell a dropped tunnel from a
// broker that cannot be reached at all.
func (a *Agent) connect(ctx context.Context, dialer transport.Dialer, handler http.Handler) (served bool, err error) {
	conn, err := dialer.DialContext(ctx, a.Address)
	if err != nil {
		return false, fmt.Errorf("dialing %s: %w", a.Address, err)
	}

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	timeout := a.HandshakeTimeout
	if timeout <= 0 {
		timeout = defaultHandshakeTimeout
	}
	conn.SetDeadline(time.Now().Add(timeout))
	err = handshake.Authenticate(conn, a.Key.Bytes())
	stop()
	if err == nil {
		err = conn.SetDeadline(time.Time{})
	}
	if err != nil {
		conn.Close()
		return false, err
	}

	a.logger().Info("tunnel established", "broker", a.Address)
	return true, transport.Serve(ctx, conn, handler, a.Serve)
}

func (a *Agent) handler() (http.Handler, error) {
	if a.Handler != nil {
		return a.Handler, nil
	}
	if a.Upstream == nil {
		return nil, fmt.Errorf("agent: Upstream or Handler is required")
	}
	return NewProxy(a.Upstream, a.logger()), nil
}

// NewProxy returns a handler forwarding every request to upstream with
// its path and query preserved. An unreachable upstream is answered
// with 502 Bad Gateway, which the broker relays like any other
// response.
func NewProxy(upstream *url.URL, logger *slog.Logger) http.Handler {
	return &httputil.ReverseProxy{
		Rewrite: func(request *httputil.ProxyRequest) {
			request.SetURL(upstream)
		},
		ErrorLog: slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Warn("upstream request failed", "method", r.Method, "path", r.URL.Path, "error", err)
			w.WriteHeader(http.StatusBadGateway)
		},
	}
}
