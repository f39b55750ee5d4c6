// Copyright 2026 The Wombat Authors
// SPDX-License-Identifier: Apache-2.0

// Package relayapi is the broker's local submission API: the way a
// front end (a chat-bot command, wombat-fetch) asks the broker to relay
// an HTTP request to an identity's agent.
//
// The API is CBOR over a Unix socket, one request and one response per
// connection. Every request is a map with an "action" field; every
// response is a [Response] envelope. Two actions exist:
//
//   - "relay" takes a [RelayRequest] and answers with a [RelayResponse]
//     whose Outcome is "forwarded", "not_connected" or
//     "transport_error". A routing failure is a successful call with a
//     non-forwarded outcome, not a call error.
//   - "tunnels" answers with the live tunnels as []TunnelInfo.
package relayapi
