// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package vault_buddy

import (
	"context"
	"fmt"

	"github.com/AleutianAI/AleutianVault/pkg/extensions"
	"github.com/AleutianAI/AleutianVault/services/vault_buddy/llm"
)

// redactingBackend runs every outbound message through the configured
// ContentRedactor before it reaches the real backend. Note bodies,
// transcript history, and tool output all pass through here, so an
// enterprise redaction policy covers the whole model conversation.
type redactingBackend struct {
	inner    llm.Backend
	redactor extensions.ContentRedactor
}

// newRedactingBackend wraps a backend with outbound redaction. The
// open source NopRedactor makes this a pass-through.
func newRedactingBackend(inner llm.Backend, redactor extensions.ContentRedactor) llm.Backend {
	if _, nop := redactor.(*extensions.NopRedactor); nop {
		return inner
	}
	return &redactingBackend{inner: inner, redactor: redactor}
}

// SendTurn redacts each message body, then delegates. A blocked
// message fails the turn; nothing is sent.
func (b *redactingBackend) SendTurn(ctx context.Context, req llm.TurnRequest) (*llm.TurnResponse, error) {
	redacted := make([]llm.Message, len(req.Messages))
	for i, msg := range req.Messages {
		content, err := b.redactor.Redact(ctx, msg.Content)
		if err != nil {
			return nil, fmt.Errorf("redact outbound message: %w", err)
		}
		msg.Content = content
		redacted[i] = msg
	}
	req.Messages = redacted
	return b.inner.SendTurn(ctx, req)
}

// Name identifies the wrapped backend.
func (b *redactingBackend) Name() string {
	return b.inner.Name()
}
