// Copyright 2026 The Wombat Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport carries relayed HTTP requests over an authenticated
// tunnel connection.
//
// After the handshake, both ends switch the same TCP stream to HTTP/2
// (prior knowledge, no TLS, no upgrade dance). The broker is the HTTP/2
// client: [Promote] wraps the socket in a [Tunnel], an
// http.RoundTripper that multiplexes any number of concurrent requests
// as independent streams whose responses may complete in any order.
// The agent is the HTTP/2 server: [Serve] answers those streams with a
// local http.Handler until the connection ends.
//
// A Tunnel exposes [Tunnel.Done], closed as soon as the underlying
// socket fails or is closed, so owners can evict it without waiting for
// a request to fail. Idle tunnels are probed with HTTP/2 PING frames;
// an unanswered ping tears the connection down, which closes Done.
//
// Promotion failures ([ErrPromotionFailed]) are distinct from later
// per-request failures returned by RoundTrip on a healthy tunnel.
package transport
