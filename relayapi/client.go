// Copyright 2026 The Wombat Authors
// SPDX-License-Identifier: Apache-2.0

package relayapi

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/hazelnutcloud/wombat/lib/codec"
)

// dialTimeout covers only connecting to the socket.
const dialTimeout = 5 * time.Second

// CallError is returned when the server answers ok=false.
type CallError struct {
	Action  string
	Message string
}

func (e *CallError) Error() string {
	return fmt.Sprintf("relay socket error on %q: %s", e.Action, e.Message)
}

// Client calls a relay socket. Each call uses a fresh connection.
type Client struct {
	socketPath string
}

// NewClient returns a client for the socket at socketPath.
func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath}
}

// Relay submits request and returns the outcome. A not_connected or
// transport_error outcome is not a Go error; check Outcome.
func (c *Client) Relay(ctx context.Context, request RelayRequest) (*RelayResponse, error) {
	fields := map[string]any{
		"identity": request.Identity,
		"method":   request.Method,
		"url":      request.URL,
	}
	if len(request.Header) > 0 {
		fields["header"] = request.Header
	}
	if len(request.Body) > 0 {
		fields["body"] = request.Body
	}
	if request.TimeoutMS != 0 {
		fields["timeout_ms"] = request.TimeoutMS
	}

	var response RelayResponse
	if err := c.Call(ctx, "relay", fields, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// Tunnels lists the broker's live tunnels.
func (c *Client) Tunnels(ctx context.Context) ([]TunnelInfo, error) {
	var tunnels []TunnelInfo
	if err := c.Call(ctx, "tunnels", nil, &tunnels); err != nil {
		return nil, err
	}
	return tunnels, nil
}

// Call sends action with fields and decodes the response data into
// result. fields must not contain "action".
func (c *Client) Call(ctx context.Context, action string, fields map[string]any, result any) error {
	request := make(map[string]any, len(fields)+1)
	for key, value := range fields {
		request[key] = value
	}
	request["action"] = action

	response, err := c.send(ctx, request)
	if err != nil {
		return fmt.Errorf("calling %q on %s: %w", action, c.socketPath, err)
	}
	if !response.OK {
		return &CallError{Action: action, Message: response.Error}
	}
	if result != nil && len(response.Data) > 0 {
		if err := codec.Unmarshal(response.Data, result); err != nil {
			return fmt.Errorf("decoding response data for %q: %w", action, err)
		}
	}
	return nil
}

func (c *Client) send(ctx context.Context, request any) (*Response, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting: %w", err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := codec.NewEncoder(conn).Encode(request); err != nil {
		return nil, fmt.Errorf("writing request: %w", err)
	}
	if unixConn, ok := conn.(*net.UnixConn); ok {
		unixConn.CloseWrite()
	}

	// The relay action waits for the agent, so the read is bounded by
	// ctx and by the server's cap on relay timeouts.
	conn.SetReadDeadline(time.Now().Add(MaxTimeout + writeTimeout))
	var response Response
	if err := codec.NewDecoder(io.LimitReader(conn, maxMessageSize)).Decode(&response); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return &response, nil
}
