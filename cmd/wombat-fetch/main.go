// Copyright 2026 The Wombat Authors
// SPDX-License-Identifier: Apache-2.0

// Wombat-fetch submits one request through a broker's relay socket and
// prints the agent's response, the way a chat-bot front end would. A
// request body must be JSON; comments and trailing commas are accepted
// and stripped before sending.
//
//	wombat-fetch --identity alice http://localhost:3000/status
//	wombat-fetch --identity alice -X POST -H 'X-Trace: 1' -d '{"n": 1, // one
//	}' http://localhost/items
//	wombat-fetch --tunnels
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"
	"github.com/tidwall/jsonc"

	"github.com/hazelnutcloud/wombat/lib/config"
	"github.com/hazelnutcloud/wombat/lib/process"
	"github.com/hazelnutcloud/wombat/lib/version"
	"github.com/hazelnutcloud/wombat/relayapi"
)

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		process.Fatal(err)
	}
}

type options struct {
	socket      string
	identity    string
	method      string
	headers     []string
	data        string
	dataFile    string
	timeout     time.Duration
	include     bool
	listTunnels bool
}

func run(args []string, stdout, stderr io.Writer) error {
	var opts options
	var showVersion bool

	flagSet := pflag.NewFlagSet("wombat-fetch", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVar(&opts.socket, "socket", config.DefaultBroker().RelaySocket, "broker relay socket")
	flagSet.StringVarP(&opts.identity, "identity", "u", "", "identity whose agent receives the request")
	flagSet.StringVarP(&opts.method, "request", "X", http.MethodGet, "GET, POST, PUT, DELETE or PATCH")
	flagSet.StringArrayVarP(&opts.headers, "header", "H", nil, "request header as 'Name: value' (repeatable)")
	flagSet.StringVarP(&opts.data, "data", "d", "", "JSON request body")
	flagSet.StringVar(&opts.dataFile, "data-file", "", "read the JSON request body from a file")
	flagSet.DurationVar(&opts.timeout, "timeout", relayapi.DefaultTimeout, "give up after this long")
	flagSet.BoolVarP(&opts.include, "include", "i", false, "print the response status and headers")
	flagSet.BoolVar(&opts.listTunnels, "tunnels", false, "list connected agents instead of fetching")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if showVersion {
		fmt.Fprintf(stdout, "wombat-fetch %s\n", version.Info())
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout+5*time.Second)
	defer cancel()
	client := relayapi.NewClient(opts.socket)

	if opts.listTunnels {
		return printTunnels(ctx, client, stdout)
	}

	if flagSet.NArg() != 1 {
		return fmt.Errorf("exactly one URL is required")
	}
	request, err := opts.build(flagSet.Arg(0))
	if err != nil {
		return err
	}

	response, err := client.Relay(ctx, *request)
	if err != nil {
		return err
	}
	switch response.Outcome {
	case relayapi.OutcomeForwarded:
	case relayapi.OutcomeNotConnected:
		return fmt.Errorf("%s is not connected", opts.identity)
	default:
		return fmt.Errorf("relay failed: %s", response.Error)
	}

	if opts.include {
		fmt.Fprintf(stdout, "%d %s\n", response.Status, http.StatusText(response.Status))
		response.Header.Write(stdout)
		fmt.Fprintln(stdout)
	}
	stdout.Write(response.Body)

	if response.Status < 200 || response.Status > 299 {
		return fmt.Errorf("fetch unsuccessful, received code %d", response.Status)
	}
	return nil
}

var allowedMethods = []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch}

// build validates the options into a relay request for target.
func (o *options) build(target string) (*relayapi.RelayRequest, error) {
	if o.identity == "" {
		return nil, fmt.Errorf("--identity is required")
	}
	method := strings.ToUpper(o.method)
	if !slices.Contains(allowedMethods, method) {
		return nil, fmt.Errorf("method %q is not one of %s", o.method, strings.Join(allowedMethods, ", "))
	}

	header := make(http.Header)
	for _, line := range o.headers {
		name, value, found := strings.Cut(line, ":")
		if !found || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("header %q is not 'Name: value'", line)
		}
		header.Add(strings.TrimSpace(name), strings.TrimSpace(value))
	}

	body, err := o.body()
	if err != nil {
		return nil, err
	}
	if len(body) > 0 && header.Get("Content-Type") == "" {
		header.Set("Content-Type", "application/json")
	}

	return &relayapi.RelayRequest{
		Identity:  o.identity,
		Method:    method,
		URL:       target,
		Header:    header,
		Body:      body,
		TimeoutMS: o.timeout.Milliseconds(),
	}, nil
}

// body returns the request body as plain JSON, or nil when none was
// given.
func (o *options) body() ([]byte, error) {
	raw := []byte(o.data)
	if o.dataFile != "" {
		if o.data != "" {
			return nil, fmt.Errorf("--data and --data-file are mutually exclusive")
		}
		var err error
		raw, err = os.ReadFile(o.dataFile)
		if err != nil {
			return nil, err
		}
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil, nil
	}

	body := jsonc.ToJSON(raw)
	if !json.Valid(body) {
		var probe any
		err := json.Unmarshal(body, &probe)
		return nil, fmt.Errorf("invalid body: %v", err)
	}
	return body, nil
}

func printTunnels(ctx context.Context, client *relayapi.Client, stdout io.Writer) error {
	tunnels, err := client.Tunnels(ctx)
	if err != nil {
		return err
	}
	writer := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "IDENTITY\tREMOTE\tCONNECTED")
	for _, tunnel := range tunnels {
		fmt.Fprintf(writer, "%s\t%s\t%s\n", tunnel.Identity, tunnel.RemoteAddr, tunnel.ConnectedAt.UTC().Format(time.RFC3339))
	}
	return writer.Flush()
}
