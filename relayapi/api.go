// Copyright 2026 The Wombat Authors
// SPDX-License-Identifier: Apache-2.0

package relayapi

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/hazelnutcloud/wombat/lib/codec"
	"github.com/hazelnutcloud/wombat/lib/netutil"
	"github.com/hazelnutcloud/wombat/registry"
	"github.com/hazelnutcloud/wombat/relay"
)

const (
	// DefaultTimeout applies to relay requests that set no timeout.
	DefaultTimeout = 30 * time.Second

	// MaxTimeout caps the timeout a caller may ask for.
	MaxTimeout = 5 * time.Minute
)

// Outcome strings carried in RelayResponse.Outcome.
const (
	OutcomeForwarded      = "forwarded"
	OutcomeNotConnected   = "not_connected"
	OutcomeTransportError = "transport_error"
)

// RelayRequest is the "relay" action's payload.
type RelayRequest struct {
	Identity string      `cbor:"identity"`
	Method   string      `cbor:"method"`
	URL      string      `cbor:"url"`
	Header   http.Header `cbor:"header,omitempty"`
	Body     []byte      `cbor:"body,omitempty"`

	// TimeoutMS bounds the whole relay. Zero selects DefaultTimeout.
	TimeoutMS int64 `cbor:"timeout_ms,omitempty"`
}

// RelayResponse is the "relay" action's result.
type RelayResponse struct {
	Outcome string      `cbor:"outcome"`
	Status  int         `cbor:"status,omitempty"`
	Header  http.Header `cbor:"header,omitempty"`
	Body    []byte      `cbor:"body,omitempty"`
	Error   string      `cbor:"error,omitempty"`
}

// TunnelInfo describes one registered tunnel.
type TunnelInfo struct {
	Identity    string    `cbor:"identity"`
	RemoteAddr  string    `cbor:"remote_addr,omitempty"`
	ConnectedAt time.Time `cbor:"connected_at"`
}

// Submitter hands a request to the relay router. *relay.Router
// implements it.
type Submitter interface {
	Submit(ctx context.Context, identity string, request *http.Request) <-chan relay.Outcome
}

// Lister lists registered tunnels. *registry.Registry implements it.
type Lister interface {
	Snapshot() []registry.Entry
}

// allowedMethods are the methods a front end may relay.
var allowedMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodHead:   true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

// New returns a socket server for socketPath with the "relay" and
// "tunnels" actions registered.
func New(socketPath string, router Submitter, tunnels Lister, logger *slog.Logger) *SocketServer {
	server := NewSocketServer(socketPath, logger)
	handlers := &handlers{router: router, tunnels: tunnels, logger: server.logger}
	server.Handle("relay", handlers.relay)
	server.Handle("tunnels", handlers.listTunnels)
	return server
}

type handlers struct {
	router  Submitter
	tunnels Lister
	logger  *slog.Logger
}

func (h *handlers) relay(ctx context.Context, raw []byte) (any, error) {
	var request RelayRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("invalid relay request: %w", err)
	}
	httpRequest, timeout, err := request.build()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := time.Now()
	outcome := <-h.router.Submit(ctx, request.Identity, httpRequest)
	response := respond(outcome)
	h.logger.Debug("relayed request",
		"identity", request.Identity,
		"method", request.Method,
		"outcome", response.Outcome,
		"status", response.Status,
		"duration", time.Since(started),
	)
	return response, nil
}

// build validates request and turns it into an http.Request.
func (r *RelayRequest) build() (*http.Request, time.Duration, error) {
	if r.Identity == "" {
		return nil, 0, fmt.Errorf("missing required field: identity")
	}
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}
	if !allowedMethods[method] {
		return nil, 0, fmt.Errorf("method %q is not allowed", r.Method)
	}
	if int64(len(r.Body)) > netutil.MaxBodySize {
		return nil, 0, netutil.ErrBodyTooLarge
	}

	timeout := DefaultTimeout
	if r.TimeoutMS < 0 {
		return nil, 0, fmt.Errorf("timeout_ms must not be negative")
	}
	if r.TimeoutMS > 0 {
		timeout = min(time.Duration(r.TimeoutMS)*time.Millisecond, MaxTimeout)
	}

	target := r.URL
	if target == "" {
		target = "/"
	}
	request, err := http.NewRequest(method, target, bytes.NewReader(r.Body))
	if err != nil {
		return nil, 0, fmt.Errorf("invalid url %q: %w", r.URL, err)
	}
	for name, values := range r.Header {
		for _, value := range values {
			request.Header.Add(name, value)
		}
	}
	return request, timeout, nil
}

// respond flattens an Outcome into its wire form, reading and closing
// a forwarded body.
func respond(outcome relay.Outcome) RelayResponse {
	switch outcome.Kind {
	case relay.Forwarded:
		defer outcome.Response.Body.Close()
		body, err := netutil.ReadBody(outcome.Response.Body)
		if err != nil {
			return RelayResponse{
				Outcome: OutcomeTransportError,
				Error:   fmt.Sprintf("reading response body: %v", err),
			}
		}
		return RelayResponse{
			Outcome: OutcomeForwarded,
			Status:  outcome.Response.StatusCode,
			Header:  outcome.Response.Header,
			Body:    body,
		}
	case relay.NotConnected:
		return RelayResponse{Outcome: OutcomeNotConnected, Error: outcome.Err.Error()}
	default:
		return RelayResponse{Outcome: OutcomeTransportError, Error: outcome.Err.Error()}
	}
}

func (h *handlers) listTunnels(ctx context.Context, raw []byte) (any, error) {
	entries := h.tunnels.Snapshot()
	tunnels := make([]TunnelInfo, 0, len(entries))
	for _, entry := range entries {
		info := TunnelInfo{Identity: entry.Identity, ConnectedAt: entry.ConnectedAt}
		if addressed, ok := entry.Sender.(interface{ RemoteAddr() net.Addr }); ok {
			info.RemoteAddr = addressed.RemoteAddr().String()
		}
		tunnels = append(tunnels, info)
	}
	return tunnels, nil
}
