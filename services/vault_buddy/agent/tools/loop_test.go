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
	"fmt"
	"testing"
	"time"
)

// fakeClock steps time manually for deterministic window tests.
type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time {
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.t = c.t.Add(d)
}

func TestLoopDetector_TripsOnThirdCallInWindow(t *testing.T) {
	clock := newFakeClock()
	d := NewLoopDetector(LoopDetectorConfig{Window: 60 * time.Second, Threshold: 3}, WithClock(clock.now))

	sig := ComputeSignature("read_note", map[string]any{"path": "daily/today.md"})

	if d.RecordAndCheck("s1", sig) {
		t.Error("first call should not trip")
	}
	clock.advance(5 * time.Second)
	if d.RecordAndCheck("s1", sig) {
		t.Error("second call should not trip")
	}
	clock.advance(5 * time.Second)
	if !d.RecordAndCheck("s1", sig) {
		t.Error("third call within 10s must trip")
	}
}

func TestLoopDetector_SlowRepeatsNeverTrip(t *testing.T) {
	clock := newFakeClock()
	d := NewLoopDetector(LoopDetectorConfig{Window: 60 * time.Second, Threshold: 3}, WithClock(clock.now))

	sig := ComputeSignature("read_note", map[string]any{"path": "daily/today.md"})

	for i := 0; i < 10; i++ {
		if d.RecordAndCheck("s1", sig) {
			t.Fatalf("call %d tripped despite 70s spacing", i+1)
		}
		clock.advance(70 * time.Second)
	}
}

func TestLoopDetector_DifferentSignaturesIndependent(t *testing.T) {
	clock := newFakeClock()
	d := NewLoopDetector(LoopDetectorConfig{}, WithClock(clock.now))

	for i := 0; i < 5; i++ {
		sig := ComputeSignature("read_note", map[string]any{"path": fmt.Sprintf("note-%d.md", i)})
		if d.RecordAndCheck("s1", sig) {
			t.Errorf("distinct call %d should not trip", i)
		}
	}
}

func TestLoopDetector_SessionsIsolated(t *testing.T) {
	clock := newFakeClock()
	d := NewLoopDetector(LoopDetectorConfig{}, WithClock(clock.now))

	sig := ComputeSignature("list_notes", map[string]any{"folder": "inbox"})

	d.RecordAndCheck("s1", sig)
	d.RecordAndCheck("s1", sig)
	if d.RecordAndCheck("s2", sig) {
		t.Error("session s2 should not inherit s1's history")
	}
}

func TestLoopDetector_SweepDropsIdleSessions(t *testing.T) {
	clock := newFakeClock()
	d := NewLoopDetector(LoopDetectorConfig{Window: 60 * time.Second}, WithClock(clock.now))

	sig := ComputeSignature("read_note", map[string]any{"path": "a.md"})
	d.RecordAndCheck("s1", sig)
	d.RecordAndCheck("s2", sig)
	if got := d.SessionCount(); got != 2 {
		t.Fatalf("SessionCount() = %d, want 2", got)
	}

	clock.advance(2 * time.Minute)
	d.Sweep()

	if got := d.SessionCount(); got != 0 {
		t.Errorf("SessionCount() after sweep = %d, want 0", got)
	}
}

func TestLoopDetector_Forget(t *testing.T) {
	d := NewLoopDetector(LoopDetectorConfig{})
	sig := ComputeSignature("read_note", map[string]any{"path": "a.md"})

	d.RecordAndCheck("s1", sig)
	d.Forget("s1")
	if got := d.SessionCount(); got != 0 {
		t.Errorf("SessionCount() = %d, want 0 after Forget", got)
	}
}

func TestLoopDetector_WindowSlides(t *testing.T) {
	clock := newFakeClock()
	d := NewLoopDetector(LoopDetectorConfig{Window: 10 * time.Second, Threshold: 3}, WithClock(clock.now))

	sig := ComputeSignature("read_note", map[string]any{"path": "a.md"})

	d.RecordAndCheck("s1", sig) // t=0
	clock.advance(9 * time.Second)
	d.RecordAndCheck("s1", sig) // t=9, count 2
	clock.advance(9 * time.Second)
	// t=18: the t=0 entry has aged out, so this is count 2, not 3.
	if d.RecordAndCheck("s1", sig) {
		t.Error("pruned entries must not count toward the threshold")
	}
	clock.advance(1 * time.Second)
	// t=19: entries at 9, 18, 19 are all inside the window.
	if !d.RecordAndCheck("s1", sig) {
		t.Error("three entries inside the window must trip")
	}
}
