// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"context canceled", context.Canceled, false},
		{"deadline exceeded", context.DeadlineExceeded, true},
		{"wrapped transient sentinel", fmt.Errorf("%w: backend busy", ErrTransient), true},
		{"status 500", &StatusError{Code: 500}, true},
		{"status 503", &StatusError{Code: 503}, true},
		{"status 429", &StatusError{Code: 429}, true},
		{"status 404", &StatusError{Code: 404}, false},
		{"status 400", &StatusError{Code: 400}, false},
		{"status 403", &StatusError{Code: 403, Message: "forbidden"}, false},
		{"wrapped status 502", fmt.Errorf("turn failed: %w", &StatusError{Code: 502}), true},
		{"dns failure", &net.DNSError{Err: "lookup failed", Name: "api.example.com"}, true},
		{"dial refused message", errors.New("dial tcp 127.0.0.1:8080: connect: connection refused"), true},
		{"connection reset message", errors.New("read: connection reset by peer"), true},
		{"io timeout message", errors.New("read tcp 10.0.0.2:443: i/o timeout"), true},
		{"no such host message", errors.New("lookup api.invalid: no such host"), true},
		{"logical error", errors.New("note does not exist"), false},
		{"validation error", errors.New("missing required parameter: path"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestStatusError_Message(t *testing.T) {
	err := &StatusError{Code: 429, Message: "rate limit exceeded"}
	if got := err.Error(); got != "upstream status 429: rate limit exceeded" {
		t.Errorf("Error() = %q", got)
	}

	bare := &StatusError{Code: 503}
	if got := bare.Error(); got != "upstream status 503 Service Unavailable" {
		t.Errorf("Error() = %q", got)
	}
}
