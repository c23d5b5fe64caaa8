// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extensions

import (
	"context"
	"errors"
)

// ErrContentBlocked is returned when outbound content is rejected
// outright instead of redacted. Enterprise implementations should wrap
// this error with the reason; the turn fails rather than leak.
var ErrContentBlocked = errors.New("content blocked by redaction policy")

// ContentRedactor rewrites content before it leaves the process toward
// a model backend.
//
// A vault holds private notes. When the backend is a remote API, every
// note body, transcript record, and user message crosses the network;
// the redactor is the single choke point on that path.
//
// Implementations must be safe for concurrent use. Redact runs once
// per outbound message, so heavy scanners should precompile their
// patterns.
//
// # Open Source Behavior
//
// The default NopRedactor passes content through unchanged. Local
// model backends never leave the machine, so nothing needs masking.
//
// # Enterprise Implementation
//
// Enterprise versions mask PII and secrets, or refuse the send:
//
//	func (r *PIIRedactor) Redact(ctx context.Context, content string) (string, error) {
//	    masked, hits := r.scanner.Mask(content)
//	    if hits.Contains(pii.ClassRestricted) {
//	        return "", fmt.Errorf("restricted class detected: %w", ErrContentBlocked)
//	    }
//	    return masked, nil
//	}
type ContentRedactor interface {
	// Redact returns the content safe to transmit. Returning an error
	// that wraps ErrContentBlocked aborts the turn.
	Redact(ctx context.Context, content string) (string, error)
}

// NopRedactor is the default redactor for open source.
//
// It passes all content through unchanged.
//
// Thread-safe: this implementation has no mutable state.
type NopRedactor struct{}

// Redact returns the content unchanged.
func (r *NopRedactor) Redact(ctx context.Context, content string) (string, error) {
	return content, nil
}

// Compile-time interface compliance check.
var _ ContentRedactor = (*NopRedactor)(nil)
