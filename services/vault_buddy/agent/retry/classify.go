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
	"net/http"
	"os"
	"strings"
)

// ===== Errors =====

var (
	// ErrInvalidConfig indicates a retry configuration that cannot be honored.
	ErrInvalidConfig = errors.New("invalid retry config")

	// ErrTransient marks an error as retryable regardless of its message.
	// Wrap with fmt.Errorf("%w: ...", retry.ErrTransient) at the call site.
	ErrTransient = errors.New("transient failure")
)

// StatusError carries an upstream HTTP status through the error chain so
// the classifier can apply status-based retry rules.
type StatusError struct {
	// Code is the upstream HTTP status code.
	Code int

	// Message is the upstream error text.
	Message string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("upstream status %d %s", e.Code, http.StatusText(e.Code))
	}
	return fmt.Sprintf("upstream status %d: %s", e.Code, e.Message)
}

// HTTPStatusCode returns the carried status code.
func (e *StatusError) HTTPStatusCode() int {
	return e.Code
}

// statusCarrier is satisfied by errors that expose an HTTP status code,
// including *StatusError and the OpenAI client's APIError via adapters.
type statusCarrier interface {
	HTTPStatusCode() int
}

// transientPatterns match network-level failures that surface only as
// message text once wrapped by client libraries.
var transientPatterns = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"no such host",
	"dial tcp",
	"i/o timeout",
	"tls handshake timeout",
	"unexpected eof",
	"socket",
	"temporary failure in name resolution",
}

// IsTransient reports whether err is worth retrying.
//
// Rules, in order:
//  1. nil and context cancellation are never retryable.
//  2. Errors wrapping ErrTransient are retryable.
//  3. HTTP statuses: 5xx and 429 retryable, any other 4xx not.
//  4. Timeouts (net.Error, os.IsTimeout, context.DeadlineExceeded) and
//     DNS failures are retryable.
//  5. Known network failure message patterns are retryable.
//
// Everything else is treated as a logical error and fails immediately.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrTransient) {
		return true
	}

	var sc statusCarrier
	if errors.As(err, &sc) {
		code := sc.HTTPStatusCode()
		if code >= 500 || code == 429 {
			return true
		}
		if code >= 400 {
			return false
		}
	}

	if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range transientPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
