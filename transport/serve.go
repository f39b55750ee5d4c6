// Copyright 2026 The Wombat Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"golang.org/x/net/http2"
)

// ErrTunnelClosed wraps the error Serve returns when the broker side
// goes away.
var ErrTunnelClosed = errors.New("transport: tunnel closed")

// ServeConfig tunes the agent side of a tunnel.
type ServeConfig struct {
	// MaxConcurrentStreams caps requests in flight on this tunnel.
	// Zero selects the http2 default.
	MaxConcurrentStreams uint32
}

// Serve answers HTTP/2 streams on an authenticated connection with
// handler until the connection ends or ctx is cancelled. It returns
// ctx.Err() on cancellation and an error wrapping ErrTunnelClosed
// otherwise.
//
// Serve takes ownership of conn and closes it before returning.
func Serve(ctx context.Context, conn net.Conn, handler http.Handler, config ServeConfig) error {
	watched := watch(conn)
	stop := context.AfterFunc(ctx, func() { watched.Close() })
	defer stop()

	server := &http2.Server{MaxConcurrentStreams: config.MaxConcurrentStreams}
	server.ServeConn(watched, &http2.ServeConnOpts{
		Context: ctx,
		Handler: handler,
	})
	watched.Close()

	if err := ctx.Err(); err != nil {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTunnelClosed, watched.err())
}
