// Copyright 2026 The Wombat Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/hazelnutcloud/wombat/lib/testutil"
)

// tcpPair returns two ends of a loopback TCP connection: broker first,
// agent second.
func tcpPair(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	listener, err := Listen(context.Background(), "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error: %v", err)
	}
	defer listener.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := listener.Accept()
		if err != nil {
			close(accepted)
			return
		}
		accepted <- conn
	}()

	dialer := &TCPDialer{Timeout: 5 * time.Second}
	agentConn, err := dialer.DialContext(context.Background(), listener.Addr().String())
	if err != nil {
		t.Fatalf("DialContext() error: %v", err)
	}
	brokerConn := testutil.RequireReceive(t, accepted, 5*time.Second, "waiting for accept")
	t.Cleanup(func() {
		brokerConn.Close()
		agentConn.Close()
	})
	return brokerConn, agentConn
}

// startServe runs Serve on the agent end and returns its result.
func startServe(t *testing.T, ctx context.Context, conn net.Conn, handler http.Handler) <-chan error {
	t.Helper()
	result := make(chan error, 1)
	go func() { result <- Serve(ctx, conn, handler, ServeConfig{}) }()
	return result
}

func promote(t *testing.T, conn net.Conn) *Tunnel {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	tunnel, err := Promote(ctx, conn, PromoteConfig{})
	if err != nil {
		t.Fatalf("Promote() error: %v", err)
	}
	t.Cleanup(func() { tunnel.Close() })
	return tunnel
}

func newRequest(t *testing.T, path string) *http.Request {
	t.Helper()
	request, err := http.NewRequest(http.MethodGet, "http://agent"+path, nil)
	if err != nil {
		t.Fatalf("NewRequest() error: %v", err)
	}
	return request
}

func TestPromoteAndServe(t *testing.T) {
	brokerConn, agentConn := tcpPair(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	served := startServe(t, ctx, agentConn, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "%s %s", r.Method, r.URL.Path)
	}))
	tunnel := promote(t, brokerConn)

	response, err := tunnel.RoundTrip(newRequest(t, "/ping"))
	if err != nil {
		t.Fatalf("RoundTrip() error: %v", err)
	}
	body, _ := io.ReadAll(response.Body)
	response.Body.Close()
	if string(body) != "GET /ping" {
		t.Errorf("body = %q, want %q", body, "GET /ping")
	}

	cancel()
	err = testutil.RequireReceive(t, served, 5*time.Second, "waiting for Serve to return")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Serve() error = %v, want context.Canceled", err)
	}
	testutil.RequireClosed(t, tunnel.Done(), 5*time.Second, "tunnel Done after agent stops")
	if tunnel.Err() == nil {
		t.Error("Err() is nil after Done closed")
	}
}

func TestConcurrentRequestsCompleteOutOfOrder(t *testing.T) {
	brokerConn, agentConn := tcpPair(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	const requestCount = 8

	// Every handler blocks until all requests have arrived, then
	// responds in reverse arrival order.
	var arrived sync.WaitGroup
	arrived.Add(requestCount)
	release := make(map[int]chan struct{})
	for index := range requestCount {
		release[index] = make(chan struct{})
	}
	startServe(t, ctx, agentConn, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		index, _ := strconv.Atoi(r.URL.Query().Get("n"))
		arrived.Done()
		<-release[index]
		fmt.Fprintf(w, "response-%d", index)
	}))
	tunnel := promote(t, brokerConn)

	type result struct {
		index int
		body  string
		err   error
	}
	results := make(chan result, requestCount)
	for index := range requestCount {
		request := newRequest(t, fmt.Sprintf("/work?n=%d", index))
		go func() {
			response, err := tunnel.RoundTrip(request)
			if err != nil {
				results <- result{index: index, err: err}
				return
			}
			defer response.Body.Close()
			body, err := io.ReadAll(response.Body)
			results <- result{index: index, body: string(body), err: err}
		}()
	}

	allArrived := make(chan struct{})
	go func() {
		arrived.Wait()
		close(allArrived)
	}()
	testutil.RequireClosed(t, allArrived, 5*time.Second, "all requests in flight at once")

	var order []int
	for index := requestCount - 1; index >= 0; index-- {
		close(release[index])
		got := testutil.RequireReceive(t, results, 5*time.Second, "waiting for response %d", index)
		if got.err != nil {
			t.Fatalf("request %d error: %v", got.index, got.err)
		}
		if want := fmt.Sprintf("response-%d", got.index); got.body != want {
			t.Errorf("request %d got body %q, want %q", got.index, got.body, want)
		}
		order = append(order, got.index)
	}
	if order[0] != requestCount-1 {
		t.Errorf("completion order = %v, want the last request first", order)
	}
}

func TestDoneOnAgentDisconnect(t *testing.T) {
	brokerConn, agentConn := tcpPair(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	startServe(t, ctx, agentConn, http.NotFoundHandler())
	tunnel := promote(t, brokerConn)

	select {
	case <-tunnel.Done():
		t.Fatal("Done closed on a healthy tunnel")
	default:
	}

	agentConn.Close()
	testutil.RequireClosed(t, tunnel.Done(), 5*time.Second, "tunnel Done after disconnect")

	if _, err := tunnel.RoundTrip(newRequest(t, "/")); err == nil {
		t.Error("RoundTrip() succeeded on a dead tunnel")
	}
}

func TestPromote_AgentNotServing(t *testing.T) {
	brokerConn, agentConn := tcpPair(t)

	// The agent end never speaks HTTP/2.
	go io.Copy(io.Discard, agentConn)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err := Promote(ctx, brokerConn, PromoteConfig{})
	if !errors.Is(err, ErrPromotionFailed) {
		t.Fatalf("Promote() error = %v, want ErrPromotionFailed", err)
	}
}

func TestPromote_AgentHangsUp(t *testing.T) {
	brokerConn, agentConn := tcpPair(t)
	agentConn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := Promote(ctx, brokerConn, PromoteConfig{})
	if !errors.Is(err, ErrPromotionFailed) {
		t.Fatalf("Promote() error = %v, want ErrPromotionFailed", err)
	}
}

func TestServe_BrokerDisconnect(t *testing.T) {
	brokerConn, agentConn := tcpPair(t)
	served := startServe(t, context.Background(), agentConn, http.NotFoundHandler())

	tunnel := promote(t, brokerConn)
	tunnel.Close()

	err := testutil.RequireReceive(t, served, 5*time.Second, "waiting for Serve to return")
	if !errors.Is(err, ErrTunnelClosed) {
		t.Errorf("Serve() error = %v, want ErrTunnelClosed", err)
	}
}

func TestTunnelPing(t *testing.T) {
	brokerConn, agentConn := tcpPair(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	startServe(t, ctx, agentConn, http.NotFoundHandler())
	tunnel := promote(t, brokerConn)

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer pingCancel()
	if err := tunnel.Ping(pingCtx); err != nil {
		t.Fatalf("Ping() error: %v", err)
	}
	if tunnel.RemoteAddr() == nil {
		t.Error("RemoteAddr() is nil")
	}
}
