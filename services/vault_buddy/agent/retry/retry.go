// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package retry executes operations with bounded exponential backoff.
//
// The Executor is the single component in the agent pipeline that is
// allowed to sleep. Callers classify failures through a retryable
// predicate; anything the predicate rejects fails on the first attempt
// with no wait.
package retry

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// jitterFraction is the maximum additive jitter as a fraction of the
// computed delay. The delay for retry n is min(initial*2^n, max) plus
// a uniform random amount in [0, jitterFraction*delay).
const jitterFraction = 0.10

// Config configures retry behavior with exponential backoff.
type Config struct {
	// MaxRetries is the number of retries after the initial attempt.
	// MaxRetries=3 yields at most 4 invocations. Default: 3
	MaxRetries int `json:"max_retries" yaml:"max_retries"`

	// InitialDelay is the wait before the first retry. Default: 1s
	InitialDelay time.Duration `json:"initial_delay" yaml:"initial_delay"`

	// MaxDelay caps the exponential backoff. Default: 30s
	MaxDelay time.Duration `json:"max_delay" yaml:"max_delay"`

	// Jitter adds up to 10% uniform jitter to each delay to avoid
	// thundering herd on shared backends. Default: true
	Jitter bool `json:"jitter" yaml:"jitter"`
}

// DefaultConfig returns sensible defaults for production use.
func DefaultConfig() Config {
	return Config{
		MaxRetries:   3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Jitter:       true,
	}
}

// Validate checks the configuration for internal consistency.
func (c Config) Validate() error {
	if c.MaxRetries < 0 {
		return ErrInvalidConfig
	}
	if c.InitialDelay <= 0 {
		return ErrInvalidConfig
	}
	if c.MaxDelay < c.InitialDelay {
		return ErrInvalidConfig
	}
	return nil
}

// Func is an operation that can be retried. attempt is 0-based and
// counts invocations, not waits. Results are captured by closure.
type Func func(ctx context.Context, attempt int) error

// Result contains the outcome statistics of a retried operation.
type Result struct {
	// Attempts is the number of invocations made.
	Attempts int

	// TotalDelay is the cumulative time spent waiting between attempts.
	TotalDelay time.Duration

	// LastErr is the error from the final attempt (nil on success).
	LastErr error
}

// Executor runs operations under a retry budget.
//
// Thread Safety: Executor is immutable after construction and safe for
// concurrent use.
type Executor struct {
	config    Config
	retryable func(error) bool
	logger    *slog.Logger
	rand      *rand.Rand
	randMu    sync.Mutex
}

// Option customizes an Executor.
type Option func(*Executor)

// WithRetryable overrides the default transient-error predicate.
func WithRetryable(pred func(error) bool) Option {
	return func(e *Executor) {
		if pred != nil {
			e.retryable = pred
		}
	}
}

// WithSeed fixes the jitter source for deterministic tests.
func WithSeed(seed int64) Option {
	return func(e *Executor) {
		e.rand = rand.New(rand.NewSource(seed))
	}
}

// NewExecutor creates an Executor.
//
// Inputs:
//   - config: Retry budget. Zero-value fields fall back to DefaultConfig.
//   - logger: Structured logger for retry events. Must not be nil; pass
//     a discard logger in tests that do not assert on output.
//   - opts: Optional overrides.
func NewExecutor(config Config, logger *slog.Logger, opts ...Option) *Executor {
	def := DefaultConfig()
	if config.MaxRetries == 0 && config.InitialDelay == 0 && config.MaxDelay == 0 {
		config = def
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = def.InitialDelay
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = def.MaxDelay
	}
	e := &Executor{
		config:    config,
		retryable: IsTransient,
		logger:    logger,
		rand:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the executor's retry budget.
func (e *Executor) Config() Config {
	return e.config
}

// Execute runs fn until it succeeds, exhausts the retry budget, fails
// with a non-retryable error, or the context is cancelled.
//
// Inputs:
//   - ctx: Context for cancellation. Waits select against ctx.Done().
//   - op: Short operation name used in retry log records.
//   - fn: The operation. Invoked with a 0-based attempt counter.
//
// Outputs:
//   - Result: Attempt statistics.
//   - error: nil on success, otherwise the last attempt's error.
//
// Each retry is logged at warn level with the attempt number, the delay
// that preceded it, and the triggering error. Successful attempts are
// never logged here; that is the caller's concern.
func (e *Executor) Execute(ctx context.Context, op string, fn Func) (Result, error) {
	result := Result{}
	waited := time.Duration(0)

	for attempt := 0; attempt <= e.config.MaxRetries; attempt++ {
		result.Attempts = attempt + 1

		if err := ctx.Err(); err != nil {
			result.LastErr = err
			result.TotalDelay = waited
			return result, err
		}

		err := fn(ctx, attempt)
		if err == nil {
			result.TotalDelay = waited
			recordAttempts(ctx, op, result.Attempts, true)
			return result, nil
		}
		result.LastErr = err

		if !e.retryable(err) {
			result.TotalDelay = waited
			recordAttempts(ctx, op, result.Attempts, false)
			return result, err
		}

		// No wait after the final attempt.
		if attempt == e.config.MaxRetries {
			break
		}

		delay := e.delayFor(attempt)
		e.logger.Warn("retrying operation",
			slog.String("operation", op),
			slog.Int("attempt", attempt+1),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)

		select {
		case <-ctx.Done():
			result.LastErr = ctx.Err()
			result.TotalDelay = waited
			return result, ctx.Err()
		case <-time.After(delay):
			waited += delay
		}
	}

	result.TotalDelay = waited
	recordAttempts(ctx, op, result.Attempts, false)
	return result, result.LastErr
}

// delayFor computes the wait before retry n (0-based):
// min(InitialDelay*2^n, MaxDelay) plus up to 10% uniform jitter.
func (e *Executor) delayFor(attempt int) time.Duration {
	delay := e.config.InitialDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= e.config.MaxDelay {
			delay = e.config.MaxDelay
			break
		}
	}
	if delay > e.config.MaxDelay {
		delay = e.config.MaxDelay
	}
	if e.config.Jitter {
		e.randMu.Lock()
		j := e.rand.Float64()
		e.randMu.Unlock()
		delay += time.Duration(j * jitterFraction * float64(delay))
	}
	return delay
}

// ===== Metrics =====

var (
	meterOnce       sync.Once
	attemptsCounter metric.Int64Counter
)

func initMeter() {
	meter := otel.Meter("vault_buddy/agent/retry")
	var err error
	attemptsCounter, err = meter.Int64Counter("vaultbuddy.retry.attempts",
		metric.WithDescription("Invocations per retried operation"),
	)
	if err != nil {
		attemptsCounter = nil
	}
}

func recordAttempts(ctx context.Context, op string, attempts int, success bool) {
	meterOnce.Do(initMeter)
	if attemptsCounter == nil {
		return
	}
	attemptsCounter.Add(ctx, int64(attempts),
		metric.WithAttributes(
			attribute.String("operation", op),
			attribute.Bool("success", success),
		),
	)
}
