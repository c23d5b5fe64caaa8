// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package persistence owns everything that touches session storage:
// the serialized write queue, the history stream store, and the
// checksum-gated export/import path.
//
// All session writes flow through the Queue. Nothing else in the
// process writes session files, which is what makes the file-level
// invariants (append-only streams, injective paths) enforceable.
package persistence

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ===== Errors =====

var (
	// ErrQueueClosed is returned for enqueues after Close.
	ErrQueueClosed = errors.New("persistence queue is closed")

	// ErrStreamMissing is returned when a history stream does not exist.
	ErrStreamMissing = errors.New("history stream not found")

	// ErrSchemaVersion is returned when an archive's schema major
	// version is unsupported.
	ErrSchemaVersion = errors.New("unsupported archive schema version")

	// ErrClearFailed marks an import aborted because the target could
	// not be cleared first.
	ErrClearFailed = errors.New("clear before import failed")
)

// Operation is a unit of persistence work. The queue supplies its own
// context: enqueued work is never cancelled by the submitter going away.
type Operation func(ctx context.Context) error

// Pending settles when its operation has run.
//
// Thread Safety: safe for concurrent use.
type Pending struct {
	name       string
	enqueuedAt time.Time
	done       chan struct{}
	err        error
}

// Name returns the operation's diagnostic name.
func (p *Pending) Name() string { return p.name }

// Done is closed once the operation has run (successfully or not).
func (p *Pending) Done() <-chan struct{} { return p.done }

// Err returns the operation's error. Valid only after Done is closed;
// before that it reports nil.
func (p *Pending) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

// Wait blocks until the operation settles or ctx expires. Cancelling
// the wait does not cancel the queued operation.
func (p *Pending) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return p.err
	}
}

func settledPending(name string, err error) *Pending {
	p := &Pending{name: name, enqueuedAt: time.Now(), done: make(chan struct{}), err: err}
	close(p.done)
	return p
}

// QueueConfig tunes the write queue.
type QueueConfig struct {
	// WatchdogTimeout is how long a drain pass may sit on one operation
	// before a new enqueue is allowed to restart draining. The stuck
	// operation is not cancelled; its Pending settles when it returns.
	// Default: 5s
	WatchdogTimeout time.Duration `json:"watchdog_timeout" yaml:"watchdog_timeout"`
}

// DefaultQueueConfig returns production defaults.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{WatchdogTimeout: 5 * time.Second}
}

// QueueStats is a snapshot of queue counters.
type QueueStats struct {
	Enqueued  uint64 `json:"enqueued"`
	Completed uint64 `json:"completed"`
	Failed    uint64 `json:"failed"`
	Watchdog  uint64 `json:"watchdog_resets"`
	Depth     int    `json:"depth"`
}

// Queue serializes persistence operations: strict FIFO, at most one
// operation in flight no matter how many goroutines submit.
//
// The queue moves between two states, idle and draining. An enqueue on
// an idle queue starts a drain goroutine; the drain runs operations in
// order and returns the queue to idle when the buffer empties.
//
// Thread Safety: safe for concurrent use.
type Queue struct {
	mu         sync.Mutex
	config     QueueConfig
	logger     *slog.Logger
	buf        []*queuedOp
	draining   bool
	opStarted  time.Time
	generation uint64
	closed     bool

	enqueued  atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
	watchdog  atomic.Uint64
}

type queuedOp struct {
	op      Operation
	pending *Pending
}

// NewQueue creates a Queue. Zero-value config falls back to defaults.
func NewQueue(config QueueConfig, logger *slog.Logger) *Queue {
	if config.WatchdogTimeout <= 0 {
		config.WatchdogTimeout = DefaultQueueConfig().WatchdogTimeout
	}
	return &Queue{config: config, logger: logger}
}

// Enqueue submits an operation and returns its Pending. Operations run
// in submission order. The returned Pending settles even when the
// operation fails; failures are logged and isolated, never fatal to
// the queue.
func (q *Queue) Enqueue(name string, op Operation) *Pending {
	if name == "" {
		name = "unnamed"
	}
	p := &Pending{name: name, enqueuedAt: time.Now(), done: make(chan struct{})}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return settledPending(name, ErrQueueClosed)
	}
	q.buf = append(q.buf, &queuedOp{op: op, pending: p})
	q.enqueued.Add(1)

	// Watchdog: a drain stuck on one operation past the timeout stops
	// blocking the queue. The stuck operation keeps running and settles
	// its own Pending; a fresh drain takes over the buffer.
	if q.draining && time.Since(q.opStarted) > q.config.WatchdogTimeout {
		q.watchdog.Add(1)
		q.generation++
		q.draining = false
		q.logger.Warn("persistence queue watchdog reset",
			slog.String("pending_op", name),
			slog.Duration("stuck_for", time.Since(q.opStarted)),
		)
	}

	start := false
	var gen uint64
	if !q.draining {
		q.draining = true
		q.opStarted = time.Now()
		q.generation++
		gen = q.generation
		start = true
	}
	q.mu.Unlock()

	if start {
		go q.drain(gen)
	}
	return p
}

// drain runs operations until the buffer empties or the drain is
// superseded by a watchdog reset.
func (q *Queue) drain(gen uint64) {
	for {
		q.mu.Lock()
		if q.generation != gen {
			// Superseded: a newer drain owns the queue state now.
			q.mu.Unlock()
			return
		}
		if len(q.buf) == 0 {
			q.draining = false
			q.mu.Unlock()
			return
		}
		item := q.buf[0]
		q.buf = q.buf[1:]
		q.opStarted = time.Now()
		q.mu.Unlock()

		err := q.run(item)

		item.pending.err = err
		close(item.pending.done)
		if err != nil {
			q.failed.Add(1)
			q.logger.Error("persistence operation failed",
				slog.String("operation", item.pending.name),
				slog.String("error", err.Error()),
			)
		} else {
			q.completed.Add(1)
		}

		q.mu.Lock()
		stale := q.generation != gen
		q.mu.Unlock()
		if stale {
			return
		}
	}
}

// run executes one operation, converting panics into errors so a bad
// operation cannot kill the drain goroutine.
func (q *Queue) run(item *queuedOp) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errorFromPanic(item.pending.name, r)
		}
	}()
	return item.op(context.Background())
}

// Flush blocks until every operation enqueued before the call has
// settled, or ctx expires.
func (q *Queue) Flush(ctx context.Context) error {
	return q.Enqueue("flush-barrier", func(context.Context) error { return nil }).Wait(ctx)
}

// Close drains outstanding work and rejects further enqueues.
func (q *Queue) Close(ctx context.Context) error {
	if err := q.Flush(ctx); err != nil {
		return err
	}
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	return nil
}

// Depth returns the number of buffered (not yet started) operations.
//
// Thread Safety: This method is safe for concurrent use.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}

// State reports "idle" or "draining".
//
// Thread Safety: This method is safe for concurrent use.
func (q *Queue) State() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.draining {
		return "draining"
	}
	return "idle"
}

// Stats returns a snapshot of queue counters.
func (q *Queue) Stats() QueueStats {
	return QueueStats{
		Enqueued:  q.enqueued.Load(),
		Completed: q.completed.Load(),
		Failed:    q.failed.Load(),
		Watchdog:  q.watchdog.Load(),
		Depth:     q.Depth(),
	}
}

func errorFromPanic(name string, r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return errors.New("panic in persistence operation " + name)
}
