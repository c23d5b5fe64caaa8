// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// Metrics contains pre-defined metrics for the Vault Buddy service.
//
// Description:
//
//	Provides standard counters, histograms, and gauges for HTTP requests,
//	session lifecycle, persistence operations, and vault change events.
//	All metrics use the "vaultbuddy_" prefix for consistent naming.
//
// Thread Safety: Safe for concurrent use after creation.
type Metrics struct {
	// --- HTTP Metrics ---

	// HTTPRequestsTotal counts total HTTP requests by method, path, and status.
	HTTPRequestsTotal metric.Int64Counter

	// HTTPRequestDuration records HTTP request duration in seconds.
	HTTPRequestDuration metric.Float64Histogram

	// HTTPActiveRequests tracks currently active HTTP requests.
	HTTPActiveRequests metric.Int64UpDownCounter

	// --- Session Metrics ---

	// SessionsCreatedTotal counts sessions created by kind (agent, note_chat).
	SessionsCreatedTotal metric.Int64Counter

	// SessionsArchivedTotal counts sessions moved to the archive.
	SessionsArchivedTotal metric.Int64Counter

	// --- Persistence Metrics ---

	// PersistOpsTotal counts persistence queue operations by name and status.
	PersistOpsTotal metric.Int64Counter

	// PersistOpDuration records persistence operation duration in seconds.
	PersistOpDuration metric.Float64Histogram

	// PersistQueueDepth tracks the current persistence queue depth.
	PersistQueueDepth metric.Int64ObservableGauge

	// --- Export Metrics ---

	// ExportFilesTotal counts export dispositions (written, skipped).
	ExportFilesTotal metric.Int64Counter

	// --- Vault Metrics ---

	// NoteEventsTotal counts vault change notifications by operation.
	NoteEventsTotal metric.Int64Counter

	// --- Error Metrics ---

	// ErrorsTotal counts total errors by component.
	ErrorsTotal metric.Int64Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
//
// Description:
//
//	Registers all pre-defined metrics with the provided meter.
//	Returns an error if any metric registration fails.
//
// Inputs:
//
//	meter - The OTel meter to use for metric registration.
//
// Outputs:
//
//	*Metrics - The metrics instance with all counters and histograms initialized.
//	error - Non-nil if metric registration fails.
//
// Example:
//
//	meter := otel.Meter("vault_buddy")
//	metrics, err := telemetry.NewMetrics(meter)
//	if err != nil {
//	    return fmt.Errorf("create metrics: %w", err)
//	}
//	metrics.HTTPRequestsTotal.Add(ctx, 1, ...)
//
// Thread Safety: Safe for concurrent use after creation.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	// --- HTTP Metrics ---
	m.HTTPRequestsTotal, err = meter.Int64Counter(
		"vaultbuddy_http_requests_total",
		metric.WithDescription("Total HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create http_requests_total: %w", err)
	}

	m.HTTPRequestDuration, err = meter.Float64Histogram(
		"vaultbuddy_http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, fmt.Errorf("create http_request_duration: %w", err)
	}

	m.HTTPActiveRequests, err = meter.Int64UpDownCounter(
		"vaultbuddy_http_active_requests",
		metric.WithDescription("Currently active HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create http_active_requests: %w", err)
	}

	// --- Session Metrics ---
	m.SessionsCreatedTotal, err = meter.Int64Counter(
		"vaultbuddy_sessions_created_total",
		metric.WithDescription("Total sessions created"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create sessions_created_total: %w", err)
	}

	m.SessionsArchivedTotal, err = meter.Int64Counter(
		"vaultbuddy_sessions_archived_total",
		metric.WithDescription("Total sessions archived"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create sessions_archived_total: %w", err)
	}

	// --- Persistence Metrics ---
	m.PersistOpsTotal, err = meter.Int64Counter(
		"vaultbuddy_persist_ops_total",
		metric.WithDescription("Total persistence queue operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create persist_ops_total: %w", err)
	}

	m.PersistOpDuration, err = meter.Float64Histogram(
		"vaultbuddy_persist_op_duration_seconds",
		metric.WithDescription("Persistence operation duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5),
	)
	if err != nil {
		return nil, fmt.Errorf("create persist_op_duration: %w", err)
	}

	// Note: PersistQueueDepth requires a callback registration, handled separately

	// --- Export Metrics ---
	m.ExportFilesTotal, err = meter.Int64Counter(
		"vaultbuddy_export_files_total",
		metric.WithDescription("Total export file dispositions"),
		metric.WithUnit("{file}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create export_files_total: %w", err)
	}

	// --- Vault Metrics ---
	m.NoteEventsTotal, err = meter.Int64Counter(
		"vaultbuddy_note_events_total",
		metric.WithDescription("Total vault change notifications"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create note_events_total: %w", err)
	}

	// --- Error Metrics ---
	m.ErrorsTotal, err = meter.Int64Counter(
		"vaultbuddy_errors_total",
		metric.WithDescription("Total errors by component"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create errors_total: %w", err)
	}

	return m, nil
}

// RegisterQueueDepth registers a callback for the persistence queue depth gauge.
//
// Description:
//
//	Sets up an observable gauge that reports the current number of queued
//	persistence operations. The callback is invoked each time metrics are
//	scraped.
//
// Inputs:
//
//	meter - The OTel meter to use for registration.
//	depthFunc - A function that returns the current queue depth.
//
// Outputs:
//
//	metric.Registration - Registration handle for cleanup.
//	error - Non-nil if registration fails.
func (m *Metrics) RegisterQueueDepth(meter metric.Meter, depthFunc func() int64) (metric.Registration, error) {
	var err error
	m.PersistQueueDepth, err = meter.Int64ObservableGauge(
		"vaultbuddy_persist_queue_depth",
		metric.WithDescription("Current persistence queue depth"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create persist_queue_depth: %w", err)
	}

	return meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(m.PersistQueueDepth, depthFunc())
		return nil
	}, m.PersistQueueDepth)
}
