// Copyright 2026 The Wombat Authors
// SPDX-License-Identifier: Apache-2.0

package relayapi

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hazelnutcloud/wombat/lib/testutil"
	"github.com/hazelnutcloud/wombat/registry"
	"github.com/hazelnutcloud/wombat/relay"
)

var discard = slog.New(slog.DiscardHandler)

// sender is a registry.Sender backed by a function.
type sender struct {
	roundTrip func(*http.Request) (*http.Response, error)
	done      chan struct{}
}

func newSender(roundTrip func(*http.Request) (*http.Response, error)) *sender {
	return &sender{roundTrip: roundTrip, done: make(chan struct{})}
}

func (s *sender) RoundTrip(request *http.Request) (*http.Response, error) {
	return s.roundTrip(request)
}

func (s *sender) Done() <-chan struct{} { return s.done }

func (s *sender) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(192, 0, 2, 7), Port: 40000}
}

// startServer runs a relay socket over a real router and registry.
func startServer(t *testing.T) (*Client, *registry.Registry) {
	t.Helper()
	directory := registry.New()
	router := relay.NewRouter(directory, discard)

	ctx, cancel := context.WithCancel(context.Background())
	routerDone := make(chan error, 1)
	go func() { routerDone <- router.Run(ctx) }()

	socketPath := filepath.Join(testutil.SocketDir(t), "relay.sock")
	server := New(socketPath, router, directory, discard)
	served := make(chan error, 1)
	go func() { served <- server.Serve(ctx) }()

	t.Cleanup(func() {
		cancel()
		testutil.RequireReceive(t, served, 5*time.Second, "socket server to stop")
		testutil.RequireReceive(t, routerDone, 5*time.Second, "router to stop")
	})

	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := os.Stat(socketPath); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("socket %s never appeared", socketPath)
		}
		time.Sleep(5 * time.Millisecond)
	}
	return NewClient(socketPath), directory
}

func call(t *testing.T, client *Client, request RelayRequest) *RelayResponse {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	response, err := client.Relay(ctx, request)
	if err != nil {
		t.Fatalf("Relay() error: %v", err)
	}
	return response
}

func TestRelay_Forwarded(t *testing.T) {
	client, directory := startServer(t)

	received := make(chan *http.Request, 1)
	var receivedBody string
	directory.Register("u1", newSender(func(request *http.Request) (*http.Response, error) {
		body, _ := io.ReadAll(request.Body)
		receivedBody = string(body)
		received <- request
		return &http.Response{
			StatusCode: http.StatusCreated,
			Header:     http.Header{"X-Agent": {"yes"}},
			Body:       io.NopCloser(strings.NewReader("made it")),
		}, nil
	}))

	response := call(t, client, RelayRequest{
		Identity: "u1",
		Method:   http.MethodPost,
		URL:      "http://service.local/items?sort=asc",
		Header:   http.Header{"Content-Type": {"application/json"}},
		Body:     []byte(`{"name":"wombat"}`),
	})

	if response.Outcome != OutcomeForwarded {
		t.Fatalf("Outcome = %q (%s), want forwarded", response.Outcome, response.Error)
	}
	if response.Status != http.StatusCreated {
		t.Errorf("Status = %d, want 201", response.Status)
	}
	if string(response.Body) != "made it" {
		t.Errorf("Body = %q", response.Body)
	}
	if response.Header.Get("X-Agent") != "yes" {
		t.Errorf("Header = %v", response.Header)
	}

	request := testutil.RequireReceive(t, received, time.Second, "request at sender")
	if request.Method != http.MethodPost || request.URL.RequestURI() != "/items?sort=asc" {
		t.Errorf("sender saw %s %s", request.Method, request.URL.RequestURI())
	}
	if request.Header.Get("Content-Type") != "application/json" {
		t.Errorf("sender saw headers %v", request.Header)
	}
	if receivedBody != `{"name":"wombat"}` {
		t.Errorf("sender saw body %q", receivedBody)
	}
}

func TestRelay_NotConnected(t *testing.T) {
	client, _ := startServer(t)

	response := call(t, client, RelayRequest{Identity: "u2", URL: "/ping"})
	if response.Outcome != OutcomeNotConnected {
		t.Fatalf("Outcome = %q, want not_connected", response.Outcome)
	}
	if response.Error == "" {
		t.Error("not_connected outcome carries no error message")
	}
}

func TestRelay_TransportError(t *testing.T) {
	client, directory := startServer(t)
	directory.Register("u1", newSender(func(*http.Request) (*http.Response, error) {
		return nil, errors.New("stream reset")
	}))

	response := call(t, client, RelayRequest{Identity: "u1", URL: "/ping"})
	if response.Outcome != OutcomeTransportError {
		t.Fatalf("Outcome = %q, want transport_error", response.Outcome)
	}
	if !strings.Contains(response.Error, "stream reset") {
		t.Errorf("Error = %q, want the transport failure", response.Error)
	}
}

func TestRelay_Timeout(t *testing.T) {
	client, directory := startServer(t)
	directory.Register("u1", newSender(func(request *http.Request) (*http.Response, error) {
		<-request.Context().Done()
		return nil, request.Context().Err()
	}))

	response := call(t, client, RelayRequest{Identity: "u1", URL: "/slow", TimeoutMS: 50})
	if response.Outcome != OutcomeTransportError {
		t.Fatalf("Outcome = %q, want transport_error", response.Outcome)
	}
}

func TestRelay_InvalidRequests(t *testing.T) {
	client, _ := startServer(t)

	tests := []struct {
		name    string
		request RelayRequest
	}{
		{"missing identity", RelayRequest{URL: "/"}},
		{"bad method", RelayRequest{Identity: "u1", Method: "TRACE", URL: "/"}},
		{"bad url", RelayRequest{Identity: "u1", URL: "http://[::1"}},
		{"negative timeout", RelayRequest{Identity: "u1", URL: "/", TimeoutMS: -1}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := client.Relay(context.Background(), test.request)
			var callError *CallError
			if !errors.As(err, &callError) {
				t.Fatalf("Relay() error = %v, want *CallError", err)
			}
			if callError.Action != "relay" {
				t.Errorf("Action = %q, want relay", callError.Action)
			}
		})
	}
}

func TestTunnels(t *testing.T) {
	client, directory := startServer(t)
	directory.Register("bob", newSender(nil))
	directory.Register("alice", newSender(nil))

	tunnels, err := client.Tunnels(context.Background())
	if err != nil {
		t.Fatalf("Tunnels() error: %v", err)
	}
	if len(tunnels) != 2 {
		t.Fatalf("Tunnels() returned %d entries, want 2", len(tunnels))
	}
	if tunnels[0].Identity != "alice" || tunnels[1].Identity != "bob" {
		t.Errorf("Tunnels() order = %s, %s", tunnels[0].Identity, tunnels[1].Identity)
	}
	if tunnels[0].RemoteAddr != "192.0.2.7:40000" {
		t.Errorf("RemoteAddr = %q", tunnels[0].RemoteAddr)
	}
	if tunnels[0].ConnectedAt.IsZero() {
		t.Error("ConnectedAt is zero")
	}
}

func TestUnknownAction(t *testing.T) {
	client, _ := startServer(t)

	err := client.Call(context.Background(), "reboot", nil, nil)
	var callError *CallError
	if !errors.As(err, &callError) || !strings.Contains(callError.Message, "unknown action") {
		t.Fatalf("Call() error = %v, want unknown action", err)
	}
}

func TestHandle_DuplicatePanics(t *testing.T) {
	server := NewSocketServer("/unused", discard)
	server.Handle("relay", func(context.Context, []byte) (any, error) { return nil, nil })

	defer func() {
		if recover() == nil {
			t.Error("duplicate Handle did not panic")
		}
	}()
	server.Handle("relay", func(context.Context, []byte) (any, error) { return nil, nil })
}
