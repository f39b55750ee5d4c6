// Copyright 2026 The Wombat Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hazelnutcloud/wombat/lib/testutil"
	"github.com/hazelnutcloud/wombat/registry"
	"github.com/hazelnutcloud/wombat/relay"
	"github.com/hazelnutcloud/wombat/relayapi"
)

func TestBuild_StripsJSONComments(t *testing.T) {
	opts := options{
		identity: "alice",
		method:   "post",
		headers:  []string{"X-Trace: 1"},
		data:     "{\n  \"n\": 1, // one\n}",
		timeout:  time.Second,
	}
	request, err := opts.build("http://localhost/items")
	if err != nil {
		t.Fatalf("build() error: %v", err)
	}
	if request.Method != http.MethodPost {
		t.Errorf("Method = %q", request.Method)
	}
	if request.Header.Get("X-Trace") != "1" || request.Header.Get("Content-Type") != "application/json" {
		t.Errorf("Header = %v", request.Header)
	}
	if !bytes.Contains(request.Body, []byte(`"n": 1`)) || bytes.Contains(request.Body, []byte("//")) {
		t.Errorf("Body = %q", request.Body)
	}
	if request.TimeoutMS != 1000 {
		t.Errorf("TimeoutMS = %d", request.TimeoutMS)
	}
}

func TestBuild_Rejects(t *testing.T) {
	tests := []struct {
		name string
		opts options
	}{
		{"no identity", options{method: "GET"}},
		{"bad method", options{identity: "a", method: "TRACE"}},
		{"bad header", options{identity: "a", method: "GET", headers: []string{"no-colon"}}},
		{"bad body", options{identity: "a", method: "POST", data: "{not json"}},
		{"both bodies", options{identity: "a", method: "POST", data: "{}", dataFile: "body.json"}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if _, err := test.opts.build("/"); err == nil {
				t.Error("build() succeeded")
			}
		})
	}
}

type stubSender struct {
	status int
	body   string
}

func (s stubSender) RoundTrip(request *http.Request) (*http.Response, error) {
	return &http.Response{
		StatusCode: s.status,
		Header:     http.Header{"Content-Type": {"text/plain"}},
		Body:       io.NopCloser(strings.NewReader(s.body + " " + request.URL.Path)),
	}, nil
}

func (stubSender) Done() <-chan struct{} { return nil }

func startSocket(t *testing.T, directory *registry.Registry) string {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	router := relay.NewRouter(directory, logger)
	socketPath := filepath.Join(testutil.SocketDir(t), "relay.sock")

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan error, 2)
	go func() { stopped <- router.Run(ctx) }()
	go func() { stopped <- relayapi.New(socketPath, router, directory, logger).Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		testutil.RequireReceive(t, stopped, 5*time.Second, "shutdown")
		testutil.RequireReceive(t, stopped, 5*time.Second, "shutdown")
	})

	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := os.Stat(socketPath); err == nil {
			return socketPath
		}
		if time.Now().After(deadline) {
			t.Fatalf("socket %s never appeared", socketPath)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRun_Fetch(t *testing.T) {
	directory := registry.New()
	directory.Register("alice", stubSender{status: http.StatusOK, body: "Hello, World!"})
	socketPath := startSocket(t, directory)

	var stdout, stderr bytes.Buffer
	err := run([]string{"--socket", socketPath, "--identity", "alice", "-i", "http://localhost:3000/greet"}, &stdout, &stderr)
	if err != nil {
		t.Fatalf("run() error: %v (stderr %q)", err, stderr.String())
	}
	output := stdout.String()
	if !strings.HasPrefix(output, "200 OK\n") || !strings.HasSuffix(output, "Hello, World! /greet") {
		t.Errorf("output = %q", output)
	}
}

func TestRun_Unsuccessful(t *testing.T) {
	directory := registry.New()
	directory.Register("alice", stubSender{status: http.StatusNotFound, body: "missing"})
	socketPath := startSocket(t, directory)

	var stdout, stderr bytes.Buffer
	err := run([]string{"--socket", socketPath, "--identity", "alice", "/nope"}, &stdout, &stderr)
	if err == nil || !strings.Contains(err.Error(), "received code 404") {
		t.Fatalf("run() error = %v, want received code 404", err)
	}
}

func TestRun_NotConnected(t *testing.T) {
	socketPath := startSocket(t, registry.New())

	var stdout, stderr bytes.Buffer
	err := run([]string{"--socket", socketPath, "--identity", "bob", "/"}, &stdout, &stderr)
	if err == nil || !strings.Contains(err.Error(), "bob is not connected") {
		t.Fatalf("run() error = %v, want not connected", err)
	}
}

func TestRun_Tunnels(t *testing.T) {
	directory := registry.New()
	directory.Register("alice", stubSender{})
	socketPath := startSocket(t, directory)

	var stdout, stderr bytes.Buffer
	if err := run([]string{"--socket", socketPath, "--tunnels"}, &stdout, &stderr); err != nil {
		t.Fatalf("run() error: %v", err)
	}
	if !strings.Contains(stdout.String(), "alice") {
		t.Errorf("output = %q", stdout.String())
	}
}
