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
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianVault/services/vault_buddy/vault"
)

// NoteEvent is one vault change as delivered to event subscribers.
type NoteEvent struct {
	// Path is the vault-relative note path.
	Path string `json:"path"`

	// Op is the change kind: "create", "write", "remove", "rename".
	Op string `json:"op"`

	// Time is when the watcher observed the change.
	Time time.Time `json:"time"`
}

// subscriberBuffer is each subscriber's pending-batch capacity. A
// subscriber that falls further behind loses batches, not the stream.
const subscriberBuffer = 16

// EventHub fans vault change batches out to live subscribers. The
// watcher publishes, WebSocket connections subscribe.
//
// Thread Safety: safe for concurrent use.
type EventHub struct {
	logger *slog.Logger

	mu     sync.RWMutex
	subs   map[string]chan []NoteEvent
	closed bool
}

// NewEventHub creates an empty hub.
func NewEventHub(logger *slog.Logger) *EventHub {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventHub{
		logger: logger,
		subs:   make(map[string]chan []NoteEvent),
	}
}

// Subscribe registers a new subscriber.
//
// Outputs:
//   - string: the subscription ID, for Unsubscribe.
//   - <-chan []NoteEvent: batches arrive here. Closed when the hub
//     closes or the subscription is removed.
func (h *EventHub) Subscribe() (string, <-chan []NoteEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan []NoteEvent, subscriberBuffer)
	if h.closed {
		close(ch)
		return "", ch
	}
	id := uuid.NewString()
	h.subs[id] = ch
	return id, ch
}

// Unsubscribe removes a subscription and closes its channel.
func (h *EventHub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ch, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(ch)
	}
}

// Publish delivers one change batch to every subscriber. Delivery is
// non-blocking: a subscriber whose buffer is full misses this batch.
func (h *EventHub) Publish(changes []vault.NoteChange) {
	if len(changes) == 0 {
		return
	}
	batch := make([]NoteEvent, len(changes))
	for i, ch := range changes {
		batch[i] = NoteEvent{
			Path: ch.Path,
			Op:   ch.Op.String(),
			Time: ch.Time,
		}
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	for id, sub := range h.subs {
		select {
		case sub <- batch:
		default:
			h.logger.Warn("event subscriber lagging, dropping batch",
				"subscription", id,
				"batch_size", len(batch),
			)
		}
	}
}

// SubscriberCount returns the number of live subscriptions.
func (h *EventHub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close shuts the hub down and closes every subscriber channel.
// Publish and Subscribe become no-ops afterwards.
func (h *EventHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
