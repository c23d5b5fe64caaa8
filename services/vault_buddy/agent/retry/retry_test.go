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
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastConfig(maxRetries int) Config {
	return Config{
		MaxRetries:   maxRetries,
		InitialDelay: 1 * time.Millisecond,
		MaxDelay:     8 * time.Millisecond,
		Jitter:       false,
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", cfg.MaxRetries)
	}
	if cfg.InitialDelay != 1*time.Second {
		t.Errorf("InitialDelay = %v, want 1s", cfg.InitialDelay)
	}
	if cfg.MaxDelay != 30*time.Second {
		t.Errorf("MaxDelay = %v, want 30s", cfg.MaxDelay)
	}
	if !cfg.Jitter {
		t.Error("Jitter should default to true")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"defaults", DefaultConfig(), false},
		{"zero retries allowed", Config{MaxRetries: 0, InitialDelay: time.Second, MaxDelay: time.Second}, false},
		{"negative retries", Config{MaxRetries: -1, InitialDelay: time.Second, MaxDelay: time.Second}, true},
		{"zero initial delay", Config{MaxRetries: 1, InitialDelay: 0, MaxDelay: time.Second}, true},
		{"max below initial", Config{MaxRetries: 1, InitialDelay: time.Second, MaxDelay: time.Millisecond}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("error should wrap ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestExecute_SuccessFirstAttempt(t *testing.T) {
	exec := NewExecutor(fastConfig(3), discardLogger())

	calls := 0
	result, err := exec.Execute(context.Background(), "noop", func(ctx context.Context, attempt int) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Execute() error = %v, want nil", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if result.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", result.Attempts)
	}
	if result.TotalDelay != 0 {
		t.Errorf("TotalDelay = %v, want 0", result.TotalDelay)
	}
}

func TestExecute_ExhaustsBudget(t *testing.T) {
	// MaxRetries=3 must produce exactly 4 invocations.
	exec := NewExecutor(fastConfig(3), discardLogger())

	calls := 0
	transient := fmt.Errorf("%w: backend flaking", ErrTransient)
	result, err := exec.Execute(context.Background(), "flaky", func(ctx context.Context, attempt int) error {
		if attempt != calls {
			t.Errorf("attempt = %d, want %d", attempt, calls)
		}
		calls++
		return transient
	})
	if err == nil {
		t.Fatal("Execute() should fail after exhausting retries")
	}
	if !errors.Is(err, ErrTransient) {
		t.Errorf("final error should be the last attempt's error, got %v", err)
	}
	if calls != 4 {
		t.Errorf("calls = %d, want 4", calls)
	}
	if result.Attempts != 4 {
		t.Errorf("Attempts = %d, want 4", result.Attempts)
	}
}

func TestExecute_RecoversMidway(t *testing.T) {
	exec := NewExecutor(fastConfig(3), discardLogger())

	calls := 0
	result, err := exec.Execute(context.Background(), "recovering", func(ctx context.Context, attempt int) error {
		calls++
		if calls < 3 {
			return &StatusError{Code: 503}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Execute() error = %v, want nil", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if result.LastErr == nil {
		t.Error("LastErr should record the last failing attempt")
	}
}

func TestExecute_NonRetryableFailsImmediately(t *testing.T) {
	exec := NewExecutor(fastConfig(3), discardLogger())

	calls := 0
	logical := errors.New("note does not exist")
	_, err := exec.Execute(context.Background(), "lookup", func(ctx context.Context, attempt int) error {
		calls++
		return logical
	})
	if !errors.Is(err, logical) {
		t.Fatalf("Execute() error = %v, want the logical error", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retries for logical errors)", calls)
	}
}

func TestExecute_CustomPredicate(t *testing.T) {
	exec := NewExecutor(fastConfig(2), discardLogger(),
		WithRetryable(func(err error) bool { return false }))

	calls := 0
	_, err := exec.Execute(context.Background(), "gated", func(ctx context.Context, attempt int) error {
		calls++
		return &StatusError{Code: 503}
	})
	if err == nil {
		t.Fatal("Execute() should fail")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (predicate rejected retry)", calls)
	}
}

func TestExecute_ContextCancelledDuringWait(t *testing.T) {
	cfg := Config{MaxRetries: 3, InitialDelay: 500 * time.Millisecond, MaxDelay: time.Second}
	exec := NewExecutor(cfg, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	done := make(chan error, 1)
	go func() {
		_, err := exec.Execute(ctx, "cancelled", func(ctx context.Context, attempt int) error {
			calls++
			return fmt.Errorf("%w: still down", ErrTransient)
		})
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Execute() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Execute() did not return after cancellation")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (cancelled during first wait)", calls)
	}
}

func TestExecute_LogsEachRetryNeverSuccess(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	exec := NewExecutor(fastConfig(2), logger)

	calls := 0
	_, err := exec.Execute(context.Background(), "logged", func(ctx context.Context, attempt int) error {
		calls++
		if calls < 3 {
			return fmt.Errorf("%w: blip", ErrTransient)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	out := buf.String()
	if got := strings.Count(out, "retrying operation"); got != 2 {
		t.Errorf("retry log records = %d, want 2\nlog output:\n%s", got, out)
	}
	if strings.Contains(out, "succeeded") || strings.Contains(out, "success") {
		t.Errorf("executor must not log successes, got:\n%s", out)
	}
	if !strings.Contains(out, "operation=logged") {
		t.Errorf("log should carry the operation name, got:\n%s", out)
	}
	if !strings.Contains(out, "attempt=1") {
		t.Errorf("log should carry the attempt number, got:\n%s", out)
	}
}

func TestDelayFor_ExponentialWithCap(t *testing.T) {
	cfg := Config{MaxRetries: 10, InitialDelay: 1 * time.Second, MaxDelay: 30 * time.Second, Jitter: false}
	exec := NewExecutor(cfg, discardLogger())

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second}, // capped
		{9, 30 * time.Second},
	}
	for _, tt := range tests {
		if got := exec.delayFor(tt.attempt); got != tt.want {
			t.Errorf("delayFor(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestDelayFor_JitterBounds(t *testing.T) {
	cfg := Config{MaxRetries: 3, InitialDelay: 1 * time.Second, MaxDelay: 30 * time.Second, Jitter: true}
	exec := NewExecutor(cfg, discardLogger(), WithSeed(42))

	base := 2 * time.Second
	for i := 0; i < 100; i++ {
		got := exec.delayFor(1)
		if got < base || got > base+time.Duration(0.1*float64(base)) {
			t.Fatalf("delayFor(1) = %v, want within [%v, %v]", got, base, base+200*time.Millisecond)
		}
	}
}
