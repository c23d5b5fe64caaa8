// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tools

import (
	"sync"
	"time"
)

// LoopDetectorConfig tunes repeated-call detection.
type LoopDetectorConfig struct {
	// Window is the sliding window over which identical calls count
	// toward a loop. Default: 60s
	Window time.Duration `json:"window" yaml:"window"`

	// Threshold is the number of identical calls inside the window that
	// constitutes a loop. Default: 3
	Threshold int `json:"threshold" yaml:"threshold"`
}

// DefaultLoopDetectorConfig returns the production defaults.
func DefaultLoopDetectorConfig() LoopDetectorConfig {
	return LoopDetectorConfig{
		Window:    60 * time.Second,
		Threshold: 3,
	}
}

// LoopDetector tracks identical tool calls per session over a sliding
// window. Detection is purely statistical: it counts signatures, it
// never inspects argument content.
//
// Thread Safety: safe for concurrent use.
type LoopDetector struct {
	mu       sync.Mutex
	config   LoopDetectorConfig
	now      func() time.Time
	sessions map[string]map[Signature][]time.Time
}

// LoopDetectorOption customizes a LoopDetector.
type LoopDetectorOption func(*LoopDetector)

// WithClock fixes the detector's time source for deterministic tests.
func WithClock(now func() time.Time) LoopDetectorOption {
	return func(d *LoopDetector) {
		if now != nil {
			d.now = now
		}
	}
}

// NewLoopDetector creates a LoopDetector. Zero-value config fields fall
// back to defaults.
func NewLoopDetector(config LoopDetectorConfig, opts ...LoopDetectorOption) *LoopDetector {
	def := DefaultLoopDetectorConfig()
	if config.Window <= 0 {
		config.Window = def.Window
	}
	if config.Threshold <= 0 {
		config.Threshold = def.Threshold
	}
	d := &LoopDetector{
		config:   config,
		now:      time.Now,
		sessions: make(map[string]map[Signature][]time.Time),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// RecordAndCheck appends the call to the session's history for this
// signature, prunes entries older than the window, and reports whether
// the call completes a loop (post-prune count >= threshold).
//
// The triggering call itself is counted, so with the default threshold
// of 3 the third identical call inside the window reports true.
func (d *LoopDetector) RecordAndCheck(sessionID string, sig Signature) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	cutoff := now.Add(-d.config.Window)

	bySig, ok := d.sessions[sessionID]
	if !ok {
		bySig = make(map[Signature][]time.Time)
		d.sessions[sessionID] = bySig
	}

	stamps := append(bySig[sig], now)
	kept := stamps[:0]
	for _, ts := range stamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	bySig[sig] = kept

	return len(kept) >= d.config.Threshold
}

// Forget drops all state for a session, for use when the session ends.
func (d *LoopDetector) Forget(sessionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.sessions, sessionID)
}

// Sweep prunes expired timestamps everywhere and drops sessions whose
// signature maps have gone empty. Callers run this on a timer so idle
// sessions do not pin memory.
func (d *LoopDetector) Sweep() {
	d.mu.Lock()
	defer d.mu.Unlock()

	cutoff := d.now().Add(-d.config.Window)
	for sessionID, bySig := range d.sessions {
		for sig, stamps := range bySig {
			kept := stamps[:0]
			for _, ts := range stamps {
				if ts.After(cutoff) {
					kept = append(kept, ts)
				}
			}
			if len(kept) == 0 {
				delete(bySig, sig)
			} else {
				bySig[sig] = kept
			}
		}
		if len(bySig) == 0 {
			delete(d.sessions, sessionID)
		}
	}
}

// SessionCount returns the number of sessions with tracked state.
//
// Thread Safety: This method is safe for concurrent use.
func (d *LoopDetector) SessionCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sessions)
}
