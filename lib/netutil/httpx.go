// Copyright 2026 The Wombat Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil has small network helpers shared by the broker, the
// agent and the relay socket: classifying teardown errors and reading
// HTTP bodies with a size bound.
package netutil

import (
	"fmt"
	"io"
)

// MaxBodySize bounds relayed request and response bodies buffered in
// memory: 64 MiB.
const MaxBodySize int64 = 64 << 20

// ErrBodyTooLarge is returned by ReadBody when the body exceeds its limit.
var ErrBodyTooLarge = fmt.Errorf("body exceeds %d bytes", MaxBodySize)

// ReadBody reads body fully, failing with ErrBodyTooLarge rather than
// silently truncating past MaxBodySize.
func ReadBody(body io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(body, MaxBodySize+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > MaxBodySize {
		return nil, ErrBodyTooLarge
	}
	return data, nil
}

// ErrorBody reads up to 4 KiB of an error response for use in a
// diagnostic message. Read errors are ignored.
func ErrorBody(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, 4<<10))
	return string(data)
}
