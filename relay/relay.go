// Copyright 2026 The Wombat Authors
// SPDX-License-Identifier: Apache-2.0

// Package relay forwards externally submitted HTTP requests to the
// tunnel registered for their target identity.
//
// Every submission resolves to exactly one [Outcome]: Forwarded with
// the agent's response, NotConnected when the identity has no tunnel,
// or TransportError when the tunnel existed but the request could not
// complete. Requests for different identities never wait on each
// other; requests for the same identity share that identity's HTTP/2
// tunnel, which runs them as concurrent streams.
//
// [Router.Relay] forwards on the caller's goroutine. [Router.Submit]
// hands the request to the router task started by [Router.Run] and
// returns a one-shot channel for the outcome.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/hazelnutcloud/wombat/registry"
)

var (
	// ErrNotConnected is the Err of every NotConnected outcome.
	ErrNotConnected = errors.New("relay: identity has no live tunnel")

	// ErrRouterStopped is returned for submissions made after the
	// router task has exited.
	ErrRouterStopped = errors.New("relay: router stopped")
)

// Kind classifies an Outcome.
type Kind int

const (
	// Forwarded means the agent answered. The HTTP status may still be
	// an error status; that is the upstream's business.
	Forwarded Kind = iota + 1

	// NotConnected means no tunnel was registered for the identity.
	NotConnected

	// TransportError means a tunnel was registered but the request
	// failed in flight.
	TransportError
)

func (k Kind) String() string {
	switch k {
	case Forwarded:
		return "forwarded"
	case NotConnected:
		return "not_connected"
	case TransportError:
		return "transport_error"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Outcome is the single result of one relay.
type Outcome struct {
	Kind Kind

	// Response is set for Forwarded outcomes. The receiver must close
	// its Body.
	Response *http.Response

	// Err is set for NotConnected and TransportError outcomes.
	Err error
}

// Directory is the part of the registry the router uses.
// *registry.Registry implements it.
type Directory interface {
	Entry(identity string) (*registry.Entry, bool)
	Evict(entry *registry.Entry) bool
}

// Router forwards requests to registered tunnels.
type Router struct {
	directory Directory
	logger    *slog.Logger

	requests chan submission
	stopped  chan struct{}
	inflight sync.WaitGroup
}

type submission struct {
	ctx      context.Context
	identity string
	request  *http.Request
	reply    chan<- Outcome
}

// NewRouter returns a router reading from directory. If logger is nil,
// slog.Default() is used.
func NewRouter(directory Directory, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		directory: directory,
		logger:    logger,
		requests:  make(chan submission),
		stopped:   make(chan struct{}),
	}
}

// Relay forwards request to identity's tunnel on the calling goroutine.
// request is not modified; the forwarded copy is bound to ctx.
func (r *Router) Relay(ctx context.Context, identity string, request *http.Request) Outcome {
	if request == nil {
		return Outcome{Kind: TransportError, Err: fmt.Errorf("relay: nil request")}
	}

	entry, ok := r.directory.Entry(identity)
	if !ok {
		return Outcome{Kind: NotConnected, Err: ErrNotConnected}
	}

	response, err := entry.Sender.RoundTrip(outbound(ctx, request))
	if err != nil {
		select {
		case <-entry.Sender.Done():
			if r.directory.Evict(entry) {
				r.logger.Info("evicted dead tunnel", "identity", identity)
			}
		default:
		}
		return Outcome{Kind: TransportError, Err: fmt.Errorf("relaying to %s: %w", identity, err)}
	}
	return Outcome{Kind: Forwarded, Response: response}
}

// outbound prepares a copy of request for a tunnel: bound to ctx, with
// a scheme and host, and without server-side fields.
func outbound(ctx context.Context, request *http.Request) *http.Request {
	forwarded := request.Clone(ctx)
	forwarded.RequestURI = ""
	if forwarded.URL.Scheme == "" {
		forwarded.URL.Scheme = "http"
	}
	if forwarded.URL.Host == "" {
		forwarded.URL.Host = forwarded.Host
	}
	if forwarded.URL.Host == "" {
		forwarded.URL.Host = "localhost"
	}
	return forwarded
}

// Submit hands request to the router task and returns a channel that
// receives exactly one Outcome. It does not wait for the outcome; it
// waits only until the router task accepts the submission, ctx ends,
// or the router has stopped.
func (r *Router) Submit(ctx context.Context, identity string, request *http.Request) <-chan Outcome {
	reply := make(chan Outcome, 1)
	select {
	case r.requests <- submission{ctx: ctx, identity: identity, request: request, reply: reply}:
	case <-r.stopped:
		reply <- Outcome{Kind: TransportError, Err: ErrRouterStopped}
	case <-ctx.Done():
		reply <- Outcome{Kind: TransportError, Err: ctx.Err()}
	}
	return reply
}

// Run is the router task. It accepts submissions until ctx is
// cancelled, serving each on its own goroutine, then waits for
// in-flight relays to deliver their outcomes. Call Run once.
func (r *Router) Run(ctx context.Context) error {
	defer close(r.stopped)
	for {
		select {
		case <-ctx.Done():
			r.inflight.Wait()
			return nil
		case pending := <-r.requests:
			r.inflight.Add(1)
			go func() {
				defer r.inflight.Done()
				pending.reply <- r.Relay(pending.ctx, pending.identity, pending.request)
			}()
		}
	}
}
