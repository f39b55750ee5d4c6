// Copyright 2026 The Wombat Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHandler(t *testing.T) {
	handler := newHandler(slog.New(slog.DiscardHandler))

	for _, path := range []string{"/", "/anything/at/all?x=1"} {
		recorder := httptest.NewRecorder()
		handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, path, nil))

		if recorder.Code != http.StatusOK {
			t.Errorf("%s: status = %d", path, recorder.Code)
		}
		if body := recorder.Body.String(); body != "Hello, World!" {
			t.Errorf("%s: body = %q", path, body)
		}
	}
}
