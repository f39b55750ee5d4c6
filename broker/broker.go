// Copyright 2026 The Wombat Authors
// SPDX-License-Identifier: Apache-2.0

// Package broker accepts agent connections and turns each one into a
// registered tunnel.
//
// Every accepted connection gets its own goroutine that runs the
// handshake and then transport promotion; a slow or hostile peer only
// ever stalls its own goroutine, never the accept loop. Promoted
// tunnels are handed to a single registration task over a channel. That
// task is the only writer to the registry: it stores the tunnel, then
// watches the tunnel's Done channel and evicts it when the connection
// dies, unless a reconnect has already replaced it.
package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/jpillora/backoff"

	"github.com/hazelnutcloud/wombat/handshake"
	"github.com/hazelnutcloud/wombat/lib/netutil"
	"github.com/hazelnutcloud/wombat/registry"
	"github.com/hazelnutcloud/wombat/transport"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultPromoteTimeout   = 10 * time.Second

	acceptRetryMin = 5 * time.Millisecond
	acceptRetryMax = time.Second
)

// Broker listens for agents and maintains Registry.
type Broker struct {
	// ListenAddr is the TCP address agents dial (e.g. "0.0.0.0:9090").
	// Use port 0 in tests and read the bound address from Addr.
	ListenAddr string

	// Keys resolves presented keys to identities.
	Keys handshake.KeyResolver

	// Registry receives every promoted tunnel. It is shared with the
	// relay router, which only reads it.
	Registry *registry.Registry

	// HandshakeTimeout bounds version negotiation plus authentication.
	// Zero selects 10s.
	HandshakeTimeout time.Duration

	// PromoteTimeout bounds HTTP/2 promotion. Zero selects 10s.
	PromoteTimeout time.Duration

	// Promote tunes keep-alive pings on promoted tunnels.
	Promote transport.PromoteConfig

	// Logger receives lifecycle events at Info and per-connection
	// events at Debug. If nil, slog.Default() is used.
	Logger *slog.Logger

	listener      net.Listener
	cancel        context.CancelFunc
	done          chan struct{}
	registrations chan registration
	connections   sync.WaitGroup
	watchers      sync.WaitGroup
}

// registration is the event a connection goroutine sends once its
// tunnel is ready.
type registration struct {
	identity     string
	tunnel       *transport.Tunnel
	connectionID int64
}

func (b *Broker) logger() *slog.Logger {
	if b.Logger != nil {
		return b.Logger
	}
	return slog.Default()
}

// Start binds the listener and returns once the broker is accepting.
// The broker runs until Stop is called or ctx is cancelled; stopping
// closes every tunnel it registered and evicts it from Registry.
func (b *Broker) Start(ctx context.Context) error {
	if b.ListenAddr == "" {
		return fmt.Errorf("broker: ListenAddr is required")
	}
	if b.Keys == nil {
		return fmt.Errorf("broker: Keys is required")
	}
	if b.Registry == nil {
		return fmt.Errorf("broker: Registry is required")
	}

	listener, err := transport.Listen(ctx, b.ListenAddr)
	if err != nil {
		return fmt.Errorf("broker: failed to listen on %s: %w", b.ListenAddr, err)
	}
	b.listener = listener

	ctx, b.cancel = context.WithCancel(ctx)
	b.done = make(chan struct{})
	b.registrations = make(chan registration)

	registered := make(chan struct{})
	go func() {
		defer close(registered)
		b.registrationLoop(ctx)
	}()
	go func() {
		defer close(b.done)
		b.acceptLoop(ctx)
		<-registered
		b.watchers.Wait()
	}()
	context.AfterFunc(ctx, func() { listener.Close() })

	b.logger().Info("broker started", "listen_addr", listener.Addr().String())
	return nil
}

// Addr returns the bound listener address, or nil before Start.
func (b *Broker) Addr() net.Addr {
	if b.listener == nil {
		return nil
	}
	return b.listener.Addr()
}

// Stop closes the listener, aborts handshakes in progress, closes every
// registered tunnel and waits for all of it to finish.
func (b *Broker) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
	if b.listener != nil {
		b.listener.Close()
	}
	b.Wait()
}

// Wait blocks until the broker has stopped.
func (b *Broker) Wait() {
	if b.done != nil {
		<-b.done
	}
}

// acceptLoop accepts connections until ctx is cancelled, then waits for
// every connection goroutine to return. Accept failures such as EMFILE
// are retried after a growing delay.
func (b *Broker) acceptLoop(ctx context.Context) {
	var connectionCount int64
	delays := &backoff.Backoff{Min: acceptRetryMin, Max: acceptRetryMax, Factor: 2}

	for {
		connection, err := b.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				b.connections.Wait()
				return
			}
			delay := delays.Duration()
			b.logger().Error("accept failed", "error", err, "retry_in", delay)
			select {
			case <-ctx.Done():
			case <-time.After(delay):
			}
			continue
		}
		delays.Reset()

		connectionCount++
		connectionID := connectionCount
		b.connections.Add(1)
		go func() {
			defer b.connections.Done()
			b.handleConnection(ctx, connection, connectionID)
		}()
	}
}

// handleConnection authenticates and promotes one connection, then
// hands the tunnel to the registration task. On any failure the
// connection is closed and nothing is registered.
func (b *Broker) handleConnection(ctx context.Context, connection net.Conn, connectionID int64) {
	logger := b.logger().With(
		"connection_id", connectionID,
		"remote_addr", connection.RemoteAddr().String(),
	)
	logger.Debug("connection accepted")

	identity, err := b.authenticate(ctx, connection)
	if err != nil {
		connection.Close()
		logRejection(logger, err)
		return
	}
	logger = logger.With("identity", identity)

	promoteCtx, cancel := context.WithTimeout(ctx, orDefault(b.PromoteTimeout, defaultPromoteTimeout))
	tunnel, err := transport.Promote(promoteCtx, connection, b.Promote)
	cancel()
	if err != nil {
		logger.Warn("promotion failed", "error", err)
		return
	}

	select {
	case b.registrations <- registration{identity: identity, tunnel: tunnel, connectionID: connectionID}:
	case <-ctx.Done():
		tunnel.Close()
	}
}

// authenticate runs the handshake under HandshakeTimeout. Cancelling
// ctx closes the connection so a stalled peer cannot hold up Stop.
func (b *Broker) authenticate(ctx context.Context, connection net.Conn) (string, error) {
	stop := context.AfterFunc(ctx, func() { connection.Close() })
	defer stop()

	connection.SetDeadline(time.Now().Add(orDefault(b.HandshakeTimeout, defaultHandshakeTimeout)))
	identity, err := handshake.Accept(ctx, connection, b.Keys)
	if err != nil {
		return "", err
	}
	if err := connection.SetDeadline(time.Time{}); err != nil {
		return "", fmt.Errorf("clearing handshake deadline: %w", err)
	}
	return identity, nil
}

// logRejection logs a failed handshake at a level matching how
// interesting it is. Rejections are routine; resolver failures are not.
func logRejection(logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, handshake.ErrVersionMismatch):
		logger.Info("rejected agent with mismatched protocol version", "error", err)
	case errors.Is(err, handshake.ErrUnauthorized):
		logger.Info("rejected agent with unknown key")
	case errors.Is(err, handshake.ErrInvalidPacket):
		logger.Info("rejected agent sending invalid packet", "error", err)
	case netutil.IsExpectedCloseError(err):
		logger.Debug("connection closed during handshake", "error", err)
	default:
		var netError net.Error
		if errors.As(err, &netError) && netError.Timeout() {
			logger.Info("handshake timed out")
			return
		}
		logger.Warn("handshake failed", "error", err)
	}
}

// registrationLoop is the registry's only writer.
func (b *Broker) registrationLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-b.registrations:
			logger := b.logger().With("connection_id", event.connectionID, "identity", event.identity)
			entry, previous := b.Registry.Register(event.identity, event.tunnel)
			if previous != nil {
				logger.Info("tunnel replaced by reconnect")
			} else {
				logger.Info("tunnel registered", "remote_addr", event.tunnel.RemoteAddr().String())
			}
			b.watchers.Add(1)
			go func() {
				defer b.watchers.Done()
				b.watch(ctx, logger, entry, event.tunnel)
			}()
		}
	}
}

// watch evicts entry once tunnel's connection ends, or closes and
// evicts it when the broker stops.
func (b *Broker) watch(ctx context.Context, logger *slog.Logger, entry *registry.Entry, tunnel *transport.Tunnel) {
	select {
	case <-tunnel.Done():
		evicted := b.Registry.Evict(entry)
		cause := tunnel.Err()
		if netutil.IsExpectedCloseError(cause) {
			logger.Info("tunnel closed", "evicted", evicted)
		} else {
			logger.Warn("tunnel failed", "evicted", evicted, "error", cause)
		}
		tunnel.Close()
	case <-ctx.Done():
		b.Registry.Evict(entry)
		tunnel.Close()
	}
}

func orDefault(value, fallback time.Duration) time.Duration {
	if value > 0 {
		return value
	}
	return fallback
}
